// Package model holds the persisted record shapes shared by the
// orchestrator, frame hub, and detection workers.
package model

import "time"

// CameraStatus mirrors the status column on the cameras table.
type CameraStatus string

const (
	CameraActive   CameraStatus = "active"
	CameraInactive CameraStatus = "inactive"
)

// Camera is the canonical record consumed from the persistence layer.
// Field names follow spec §6's document-store layout.
type Camera struct {
	ID          string       `gorm:"column:id;primaryKey" json:"id"`
	OwnerUserID string       `gorm:"column:owner_user_id" json:"owner_user_id"`
	Name        string       `gorm:"column:name" json:"name"`
	StreamURL   string       `gorm:"column:stream_url" json:"stream_url"`
	DeviceID    string       `gorm:"column:device_id" json:"device_id,omitempty"`
	Status      CameraStatus `gorm:"column:status" json:"status"`
	CreatedAt   time.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"column:updated_at" json:"updated_at"`
}

func (Camera) TableName() string { return "cameras" }

// IsActive reports whether the orchestrator should maintain a live
// FrameHub ingester for this camera.
func (c Camera) IsActive() bool { return c.Status == CameraActive }
