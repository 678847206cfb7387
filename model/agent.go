package model

import "time"

// AgentStatus mirrors spec §3's Agent.status lifecycle.
type AgentStatus string

const (
	AgentPending   AgentStatus = "PENDING"
	AgentRunning   AgentStatus = "RUNNING"
	AgentCompleted AgentStatus = "COMPLETED"
	AgentCancelled AgentStatus = "CANCELLED"
)

// RunMode selects continuous vs patrol scheduling for a DetectionWorker.
type RunMode string

const (
	RunContinuous RunMode = "continuous"
	RunPatrol     RunMode = "patrol"
)

// Agent is the canonical record consumed from the persistence layer.
// RulesJSON holds the raw ordered rule list; use Rules() to decode it
// into the tagged-variant Rule slice.
type Agent struct {
	ID                    string      `gorm:"column:id;primaryKey" json:"id"`
	Name                  string      `gorm:"column:name" json:"name"`
	CameraID              string      `gorm:"column:camera_id" json:"camera_id"`
	Model                 string      `gorm:"column:model" json:"model"`
	FPS                   int         `gorm:"column:fps" json:"fps"`
	RulesJSON             string      `gorm:"column:rules" json:"rules"`
	RunMode               RunMode     `gorm:"column:run_mode" json:"run_mode"`
	PatrolIntervalSeconds int         `gorm:"column:interval_minutes" json:"interval_minutes"`
	PatrolWindowSeconds   int         `gorm:"column:check_duration_seconds" json:"check_duration_seconds"`
	StartTime             time.Time   `gorm:"column:start_time" json:"start_time"`
	EndTime               time.Time   `gorm:"column:end_time" json:"end_time"`
	Zone                  string      `gorm:"column:zone" json:"zone,omitempty"`
	RequiresZone          bool        `gorm:"column:requires_zone" json:"requires_zone"`
	Status                AgentStatus `gorm:"column:status" json:"status"`
	OwnerUserID           string      `gorm:"column:owner_user_id" json:"owner_user_id"`
	LastHeartbeat         time.Time   `gorm:"column:last_heartbeat" json:"last_heartbeat,omitempty"`
	CreatedAt             time.Time   `gorm:"column:created_at" json:"created_at"`
	UpdatedAt             time.Time   `gorm:"column:updated_at" json:"updated_at"`
}

func (Agent) TableName() string { return "agents" }

// IsEligible reports whether now falls within the agent's run window
// and its status is one the orchestrator should keep running.
func (a Agent) IsEligible(now time.Time) bool {
	switch a.Status {
	case AgentPending, AgentRunning:
	default:
		return false
	}
	if now.Before(a.StartTime) {
		return false
	}
	return now.Before(a.EndTime)
}

// Expired reports whether the agent's window has closed.
func (a Agent) Expired(now time.Time) bool {
	return !now.Before(a.EndTime)
}

// NotYetStarted reports whether the agent's window has not opened.
func (a Agent) NotYetStarted(now time.Time) bool {
	return now.Before(a.StartTime)
}

// Rules decodes the stored rules JSON into the tagged-variant slice.
func (a Agent) Rules() ([]Rule, error) {
	return ParseRules(a.RulesJSON)
}
