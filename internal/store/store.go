package store

import (
	"context"
	"errors"
	"time"

	"github.com/gbpufscar/revfirst-social-sub001/internal/models"
)

var (
	// ErrNotFound is returned when a scoped lookup matches nothing.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert violates a uniqueness
	// constraint (idempotency keys, cooldown keys).
	ErrDuplicate = errors.New("duplicate record")
	// ErrWorkspaceMismatch is returned when a write carries a workspace id
	// that disagrees with the caller's scope.
	ErrWorkspaceMismatch = errors.New("workspace id does not match scope")
)

// Store is the tenant-scoped persistence boundary. Every method takes a
// Scope and must restrict reads and writes to that workspace; cross-tenant
// access through this interface is impossible by construction.
type Store interface {
	GetWorkspace(ctx context.Context, scope Scope) (*models.Workspace, error)

	// Approval queue
	CreateQueueItem(ctx context.Context, scope Scope, item *models.ApprovalQueueItem) (*models.ApprovalQueueItem, bool, error)
	GetQueueItem(ctx context.Context, scope Scope, id string) (*models.ApprovalQueueItem, error)
	ListQueueItems(ctx context.Context, scope Scope, status string, limit int) ([]models.ApprovalQueueItem, error)
	ListDueQueueItems(ctx context.Context, scope Scope, now time.Time, limit int) ([]models.ApprovalQueueItem, error)
	UpdateQueueItem(ctx context.Context, scope Scope, item *models.ApprovalQueueItem, expectStatus string) (bool, error)

	// Cooldowns
	GetCooldown(ctx context.Context, scope Scope, cooldownScope, scopeKey string) (*models.PublishCooldown, error)
	UpsertCooldown(ctx context.Context, scope Scope, cooldownScope, scopeKey string, until time.Time, action string, now time.Time) error

	// Pipeline runs
	InsertPipelineRun(ctx context.Context, scope Scope, run *models.PipelineRun) error
	FindPipelineRun(ctx context.Context, scope Scope, pipelineName, idempotencyKey string) (*models.PipelineRun, error)
	ReclaimPipelineRun(ctx context.Context, scope Scope, runID, ownerToken string, staleBefore, now time.Time) (bool, error)
	FinishPipelineRun(ctx context.Context, scope Scope, runID, ownerToken, status, resultJSON, errorMessage string, finishedAt time.Time) (bool, error)
	LatestPipelineRuns(ctx context.Context, scope Scope, limit int) ([]models.PipelineRun, error)

	// Admin actions
	InsertAdminAction(ctx context.Context, scope Scope, action *models.AdminAction) error
	FindAdminAction(ctx context.Context, scope Scope, idempotencyKey string) (*models.AdminAction, error)

	// Control settings
	GetControlSettings(ctx context.Context, scope Scope) (*models.WorkspaceControlSettings, error)
	SaveControlSettings(ctx context.Context, scope Scope, settings *models.WorkspaceControlSettings) error

	// Media
	CreateMediaJob(ctx context.Context, scope Scope, job *models.MediaJob) (*models.MediaJob, bool, error)
	UpdateMediaJob(ctx context.Context, scope Scope, job *models.MediaJob) error
	GetMediaJob(ctx context.Context, scope Scope, id string) (*models.MediaJob, error)
	CreateMediaAsset(ctx context.Context, scope Scope, asset *models.MediaAsset) error
}

// Admin covers the few cross-tenant operations the scheduler and CLI need.
// Kept separate from Store so scoped call sites never see it.
type Admin interface {
	CreateWorkspace(ctx context.Context, workspace *models.Workspace, settings *models.WorkspaceControlSettings) error
	ListActiveWorkspaceIDs(ctx context.Context) ([]string, error)
}
