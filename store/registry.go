package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"edgevision/model"
)

// Registry is the read/heartbeat surface the Orchestrator and
// DetectionWorker need. It never does more than spec §6 promises: the
// core reads Camera/Agent records and writes back status + heartbeat.
type Registry interface {
	ActiveCameras(ctx context.Context) ([]model.Camera, error)
	EligibleAgents(ctx context.Context, now time.Time) ([]model.Agent, error)
	SetAgentStatus(ctx context.Context, agentID string, status model.AgentStatus) error
	Heartbeat(ctx context.Context, agentID string, at time.Time) error
}

// GormRegistry implements Registry over a *gorm.DB.
type GormRegistry struct {
	db *gorm.DB
}

func NewGormRegistry(db *gorm.DB) *GormRegistry {
	return &GormRegistry{db: db}
}

func (r *GormRegistry) ActiveCameras(ctx context.Context) ([]model.Camera, error) {
	var cams []model.Camera
	err := r.db.WithContext(ctx).
		Where("status = ?", model.CameraActive).
		Find(&cams).Error
	return cams, err
}

// EligibleAgents returns agents whose status is PENDING or RUNNING and
// whose window contains now. It also performs the two bookkeeping
// writes spec §4.3 step 2 calls for: mark expired agents COMPLETED,
// leave not-yet-started agents PENDING untouched.
func (r *GormRegistry) EligibleAgents(ctx context.Context, now time.Time) ([]model.Agent, error) {
	var agents []model.Agent
	err := r.db.WithContext(ctx).
		Where("status IN ?", []model.AgentStatus{model.AgentPending, model.AgentRunning}).
		Find(&agents).Error
	if err != nil {
		return nil, err
	}

	eligible := agents[:0]
	for _, a := range agents {
		if a.Expired(now) {
			if err := r.SetAgentStatus(ctx, a.ID, model.AgentCompleted); err != nil {
				return nil, err
			}
			continue
		}
		if a.NotYetStarted(now) {
			continue // stays PENDING, not yet eligible
		}
		eligible = append(eligible, a)
	}
	return eligible, nil
}

func (r *GormRegistry) SetAgentStatus(ctx context.Context, agentID string, status model.AgentStatus) error {
	return r.db.WithContext(ctx).
		Model(&model.Agent{}).
		Where("id = ?", agentID).
		Update("status", status).Error
}

func (r *GormRegistry) Heartbeat(ctx context.Context, agentID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.Agent{}).
		Where("id = ?", agentID).
		Update("last_heartbeat", at).Error
}
