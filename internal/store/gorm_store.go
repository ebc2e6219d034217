package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gbpufscar/revfirst-social-sub001/internal/models"
)

// GormStore implements Store and Admin on top of GORM + Postgres. Every
// query carries a workspace_id predicate derived from the caller's scope,
// mirroring row-level security enforced in the database itself.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) scoped(ctx context.Context, scope Scope) *gorm.DB {
	return s.db.WithContext(ctx).Where("workspace_id = ?", scope.WorkspaceID())
}

// checkWrite stamps the scope's workspace onto a row about to be written and
// rejects rows that name a different workspace.
func checkWrite(scope Scope, workspaceID *string) error {
	if !scope.Valid() {
		return ErrEmptyWorkspace
	}
	if *workspaceID == "" {
		*workspaceID = scope.WorkspaceID()
		return nil
	}
	if *workspaceID != scope.WorkspaceID() {
		return ErrWorkspaceMismatch
	}
	return nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return err
	}
}

func (s *GormStore) GetWorkspace(ctx context.Context, scope Scope) (*models.Workspace, error) {
	if !scope.Valid() {
		return nil, ErrEmptyWorkspace
	}
	var workspace models.Workspace
	err := s.db.WithContext(ctx).Where("id = ?", scope.WorkspaceID()).First(&workspace).Error
	if err != nil {
		return nil, translate(err)
	}
	return &workspace, nil
}

func (s *GormStore) CreateQueueItem(ctx context.Context, scope Scope, item *models.ApprovalQueueItem) (*models.ApprovalQueueItem, bool, error) {
	if err := checkWrite(scope, &item.WorkspaceID); err != nil {
		return nil, false, err
	}
	err := s.db.WithContext(ctx).Create(item).Error
	if err == nil {
		return item, true, nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) && item.IdempotencyKey != nil {
		var existing models.ApprovalQueueItem
		lookupErr := s.scoped(ctx, scope).
			Where("idempotency_key = ?", *item.IdempotencyKey).
			First(&existing).Error
		if lookupErr != nil {
			return nil, false, translate(lookupErr)
		}
		return &existing, false, nil
	}
	return nil, false, translate(err)
}

func (s *GormStore) GetQueueItem(ctx context.Context, scope Scope, id string) (*models.ApprovalQueueItem, error) {
	var item models.ApprovalQueueItem
	err := s.scoped(ctx, scope).Where("id = ?", id).First(&item).Error
	if err != nil {
		return nil, translate(err)
	}
	return &item, nil
}

func (s *GormStore) ListQueueItems(ctx context.Context, scope Scope, status string, limit int) ([]models.ApprovalQueueItem, error) {
	query := s.scoped(ctx, scope).Order("created_at DESC").Limit(clampLimit(limit))
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var items []models.ApprovalQueueItem
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *GormStore) ListDueQueueItems(ctx context.Context, scope Scope, now time.Time, limit int) ([]models.ApprovalQueueItem, error) {
	var items []models.ApprovalQueueItem
	err := s.scoped(ctx, scope).
		Where("status = ?", "approved_scheduled").
		Where("scheduled_for IS NOT NULL AND scheduled_for <= ?", now.UTC()).
		Order("editorial_priority DESC, scheduled_for ASC").
		Limit(clampLimit(limit)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateQueueItem persists a transition. The expected source status is part
// of the predicate, so a concurrent writer that already moved the row makes
// this a no-op and the caller sees a state conflict.
func (s *GormStore) UpdateQueueItem(ctx context.Context, scope Scope, item *models.ApprovalQueueItem, expectStatus string) (bool, error) {
	if err := checkWrite(scope, &item.WorkspaceID); err != nil {
		return false, err
	}
	updates := map[string]interface{}{
		"status":              item.Status,
		"scheduled_for":       item.ScheduledFor,
		"publish_window_key":  item.PublishWindowKey,
		"editorial_priority":  item.EditorialPriority,
		"approved_by_user_id": item.ApprovedByUserID,
		"approved_at":         item.ApprovedAt,
		"rejected_by_user_id": item.RejectedByUserID,
		"rejected_at":         item.RejectedAt,
		"published_post_id":   item.PublishedPostID,
		"error_message":       item.ErrorMessage,
		"updated_at":          time.Now().UTC(),
	}
	result := s.db.WithContext(ctx).
		Model(&models.ApprovalQueueItem{}).
		Where("id = ? AND workspace_id = ? AND status = ?", item.ID, scope.WorkspaceID(), expectStatus).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) GetCooldown(ctx context.Context, scope Scope, cooldownScope, scopeKey string) (*models.PublishCooldown, error) {
	var record models.PublishCooldown
	err := s.scoped(ctx, scope).
		Where("scope = ? AND scope_key = ?", cooldownScope, scopeKey).
		First(&record).Error
	if err != nil {
		return nil, translate(err)
	}
	return &record, nil
}

// UpsertCooldown records an action for a scope key. While a cooldown is
// still active the stored cooldown_until can only move forward; a late or
// duplicate writer cannot shorten it.
func (s *GormStore) UpsertCooldown(ctx context.Context, scope Scope, cooldownScope, scopeKey string, until time.Time, action string, now time.Time) error {
	if !scope.Valid() {
		return ErrEmptyWorkspace
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.PublishCooldown
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("workspace_id = ? AND scope = ? AND scope_key = ?", scope.WorkspaceID(), cooldownScope, scopeKey).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			record := models.PublishCooldown{
				ID:            newID(),
				WorkspaceID:   scope.WorkspaceID(),
				Scope:         cooldownScope,
				ScopeKey:      scopeKey,
				CooldownUntil: until.UTC(),
				LastAction:    action,
			}
			return tx.Create(&record).Error
		}
		if err != nil {
			return err
		}
		next := until.UTC()
		if existing.CooldownUntil.After(now.UTC()) && next.Before(existing.CooldownUntil) {
			next = existing.CooldownUntil
		}
		return tx.Model(&existing).Updates(map[string]interface{}{
			"cooldown_until": next,
			"last_action":    action,
			"updated_at":     now.UTC(),
		}).Error
	})
}

func (s *GormStore) InsertPipelineRun(ctx context.Context, scope Scope, run *models.PipelineRun) error {
	if err := checkWrite(scope, &run.WorkspaceID); err != nil {
		return err
	}
	return translate(s.db.WithContext(ctx).Create(run).Error)
}

func (s *GormStore) FindPipelineRun(ctx context.Context, scope Scope, pipelineName, idempotencyKey string) (*models.PipelineRun, error) {
	var run models.PipelineRun
	err := s.scoped(ctx, scope).
		Where("pipeline_name = ? AND idempotency_key = ?", pipelineName, idempotencyKey).
		First(&run).Error
	if err != nil {
		return nil, translate(err)
	}
	return &run, nil
}

// ReclaimPipelineRun takes over a run abandoned by a crashed instance. The
// compare-and-swap on status + started_at guarantees only one claimer wins.
func (s *GormStore) ReclaimPipelineRun(ctx context.Context, scope Scope, runID, ownerToken string, staleBefore, now time.Time) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&models.PipelineRun{}).
		Where("id = ? AND workspace_id = ? AND status = ? AND started_at < ?",
			runID, scope.WorkspaceID(), models.RunStatusStarted, staleBefore.UTC()).
		Updates(map[string]interface{}{
			"owner_token": ownerToken,
			"started_at":  now.UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// FinishPipelineRun completes a run. The owner token predicate means only
// the principal that holds the Started row can write the terminal state.
func (s *GormStore) FinishPipelineRun(ctx context.Context, scope Scope, runID, ownerToken, status, resultJSON, errorMessage string, finishedAt time.Time) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&models.PipelineRun{}).
		Where("id = ? AND workspace_id = ? AND owner_token = ? AND status = ?",
			runID, scope.WorkspaceID(), ownerToken, models.RunStatusStarted).
		Updates(map[string]interface{}{
			"status":        status,
			"result_json":   resultJSON,
			"error_message": errorMessage,
			"finished_at":   finishedAt.UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) LatestPipelineRuns(ctx context.Context, scope Scope, limit int) ([]models.PipelineRun, error) {
	var runs []models.PipelineRun
	err := s.scoped(ctx, scope).
		Order("started_at DESC").
		Limit(clampLimit(limit)).
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *GormStore) InsertAdminAction(ctx context.Context, scope Scope, action *models.AdminAction) error {
	if err := checkWrite(scope, &action.WorkspaceID); err != nil {
		return err
	}
	return translate(s.db.WithContext(ctx).Create(action).Error)
}

func (s *GormStore) FindAdminAction(ctx context.Context, scope Scope, idempotencyKey string) (*models.AdminAction, error) {
	var action models.AdminAction
	err := s.scoped(ctx, scope).
		Where("idempotency_key = ?", idempotencyKey).
		First(&action).Error
	if err != nil {
		return nil, translate(err)
	}
	return &action, nil
}

func (s *GormStore) GetControlSettings(ctx context.Context, scope Scope) (*models.WorkspaceControlSettings, error) {
	var settings models.WorkspaceControlSettings
	err := s.scoped(ctx, scope).First(&settings).Error
	if err != nil {
		return nil, translate(err)
	}
	return &settings, nil
}

func (s *GormStore) SaveControlSettings(ctx context.Context, scope Scope, settings *models.WorkspaceControlSettings) error {
	if err := checkWrite(scope, &settings.WorkspaceID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "workspace_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"is_paused", "channels_json", "reply_limit_override", "post_limit_override",
			"limit_override_expires_at", "operational_mode", "last_mode_change_at", "updated_at",
		}),
	}).Create(settings).Error
}

func (s *GormStore) CreateMediaJob(ctx context.Context, scope Scope, job *models.MediaJob) (*models.MediaJob, bool, error) {
	if err := checkWrite(scope, &job.WorkspaceID); err != nil {
		return nil, false, err
	}
	err := s.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job, true, nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) && job.IdempotencyKey != nil {
		var existing models.MediaJob
		lookupErr := s.scoped(ctx, scope).
			Where("idempotency_key = ?", *job.IdempotencyKey).
			First(&existing).Error
		if lookupErr != nil {
			return nil, false, translate(lookupErr)
		}
		return &existing, false, nil
	}
	return nil, false, translate(err)
}

func (s *GormStore) UpdateMediaJob(ctx context.Context, scope Scope, job *models.MediaJob) error {
	if err := checkWrite(scope, &job.WorkspaceID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Model(&models.MediaJob{}).
		Where("id = ? AND workspace_id = ?", job.ID, scope.WorkspaceID()).
		Updates(map[string]interface{}{
			"status":          job.Status,
			"result_asset_id": job.ResultAssetID,
			"error_message":   job.ErrorMessage,
			"updated_at":      time.Now().UTC(),
		}).Error
}

func (s *GormStore) GetMediaJob(ctx context.Context, scope Scope, id string) (*models.MediaJob, error) {
	var job models.MediaJob
	err := s.scoped(ctx, scope).Where("id = ?", id).First(&job).Error
	if err != nil {
		return nil, translate(err)
	}
	return &job, nil
}

func (s *GormStore) CreateMediaAsset(ctx context.Context, scope Scope, asset *models.MediaAsset) error {
	if err := checkWrite(scope, &asset.WorkspaceID); err != nil {
		return err
	}
	return translate(s.db.WithContext(ctx).Create(asset).Error)
}

// Admin interface

func (s *GormStore) CreateWorkspace(ctx context.Context, workspace *models.Workspace, settings *models.WorkspaceControlSettings) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(workspace).Error; err != nil {
			return translate(err)
		}
		settings.WorkspaceID = workspace.ID
		return translate(tx.Create(settings).Error)
	})
}

func (s *GormStore) ListActiveWorkspaceIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.Workspace{}).
		Where("subscription_status = ?", "active").
		Order("created_at ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
