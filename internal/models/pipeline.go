package models

import (
	"time"
)

// Pipeline run statuses. A run is terminal once it leaves "started".
const (
	RunStatusStarted   = "started"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// PipelineRun is one ledgered execution of a named pipeline.
// (workspace_id, pipeline_name, idempotency_key) is unique; the row is the
// at-most-once guarantee for the run's external side effects. Rows are never
// deleted, they are the audit trail.
type PipelineRun struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	WorkspaceID    string     `gorm:"not null;size:36;index;uniqueIndex:uq_pipeline_runs_workspace_name_idem,priority:1" json:"workspace_id"`
	PipelineName   string     `gorm:"not null;size:64;uniqueIndex:uq_pipeline_runs_workspace_name_idem,priority:2" json:"pipeline_name"`
	Status         string     `gorm:"not null;size:24;default:'started'" json:"status"`
	DryRun         bool       `gorm:"default:false" json:"dry_run"`
	RequestID      string     `gorm:"size:64" json:"request_id"`
	IdempotencyKey *string    `gorm:"size:80;uniqueIndex:uq_pipeline_runs_workspace_name_idem,priority:3" json:"idempotency_key"`
	OwnerToken     string     `gorm:"not null;size:36" json:"-"`
	ActorUserID    string     `gorm:"size:36" json:"actor_user_id"`
	ResultJSON     string     `gorm:"type:text;default:'{}'" json:"result_json"`
	ErrorMessage   string     `gorm:"size:255" json:"error_message"`
	StartedAt      time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// Terminal reports whether the run already finished.
func (r *PipelineRun) Terminal() bool {
	return r.Status != RunStatusStarted
}

// AdminAction is an append-only audit record of one control-plane command.
type AdminAction struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	WorkspaceID    string    `gorm:"not null;size:36;index;uniqueIndex:uq_admin_actions_workspace_idem,priority:1" json:"workspace_id"`
	ActorUserID    string    `gorm:"size:36" json:"actor_user_id"`
	TelegramUserID string    `gorm:"size:32" json:"telegram_user_id"`
	Command        string    `gorm:"not null;size:80" json:"command"`
	PayloadJSON    string    `gorm:"type:text;default:'{}'" json:"payload_json"`
	Status         string    `gorm:"not null;size:24;default:'pending'" json:"status"`
	ResultSummary  string    `gorm:"type:text" json:"result_summary"`
	ErrorMessage   string    `gorm:"size:255" json:"error_message"`
	DurationMs     *int      `json:"duration_ms"`
	RequestID      string    `gorm:"size:64" json:"request_id"`
	IdempotencyKey *string   `gorm:"size:80;uniqueIndex:uq_admin_actions_workspace_idem,priority:2" json:"idempotency_key"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}
