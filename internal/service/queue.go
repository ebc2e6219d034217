package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gbpufscar/revfirst-social-sub001/internal/editorial"
	"github.com/gbpufscar/revfirst-social-sub001/internal/models"
	"github.com/gbpufscar/revfirst-social-sub001/internal/store"
	"github.com/gbpufscar/revfirst-social-sub001/pkg/ratelimit"
	"github.com/gbpufscar/revfirst-social-sub001/pkg/util"
)

const executeOperation = "execute_queue_item"

// Candidate is what ingestion/generation collaborators hand to the queue.
type Candidate struct {
	ItemType          string                 `json:"item_type"`
	ContentText       string                 `json:"content_text"`
	SourceKind        string                 `json:"source_kind"`
	SourceRefID       string                 `json:"source_ref_id"`
	Intent            string                 `json:"intent"`
	OpportunityScore  *int                   `json:"opportunity_score"`
	EditorialPriority int                    `json:"editorial_priority"`
	Metadata          map[string]interface{} `json:"metadata"`
	IdempotencyKey    string                 `json:"idempotency_key"`
}

// ExecuteReport summarizes one pass over due queue items. Admission denials
// are skip counters, not errors; the next tick retries them.
type ExecuteReport struct {
	Scanned          int `json:"scanned"`
	Published        int `json:"published"`
	Failed           int `json:"failed"`
	SkippedCooldown  int `json:"skipped_cooldown"`
	SkippedRateLimit int `json:"skipped_rate_limit"`
	SkippedConflict  int `json:"skipped_conflict"`
	Reconciled       int `json:"reconciled"`
}

// QueueService drives approval queue items from ingestion to a terminal
// state. External publish calls are serialized through the ledger, so two
// instances executing the same tick cannot double-publish.
type QueueService struct {
	store      store.Store
	cooldowns  *CooldownGate
	ledger     *Ledger
	publishers *PublisherRegistry
	buckets    *ratelimit.Registry
	windows    []editorial.Window
	cooldown   time.Duration
	logger     *zap.Logger
}

func NewQueueService(
	st store.Store,
	cooldowns *CooldownGate,
	ledger *Ledger,
	publishers *PublisherRegistry,
	buckets *ratelimit.Registry,
	windows []editorial.Window,
	cooldown time.Duration,
	logger *zap.Logger,
) *QueueService {
	return &QueueService{
		store:      st,
		cooldowns:  cooldowns,
		ledger:     ledger,
		publishers: publishers,
		buckets:    buckets,
		windows:    windows,
		cooldown:   cooldown,
		logger:     logger,
	}
}

// Enqueue creates a pending_review item. A candidate retried with the same
// idempotency key returns the original row.
func (q *QueueService) Enqueue(ctx context.Context, scope store.Scope, candidate Candidate) (*models.ApprovalQueueItem, error) {
	if candidate.ContentText == "" {
		return nil, fmt.Errorf("content_text is required")
	}
	if candidate.ItemType == "" {
		return nil, fmt.Errorf("item_type is required")
	}

	item := &models.ApprovalQueueItem{
		ID:                uuid.NewString(),
		WorkspaceID:       scope.WorkspaceID(),
		ItemType:          candidate.ItemType,
		Status:            editorial.StatusPendingReview,
		ContentText:       candidate.ContentText,
		SourceKind:        candidate.SourceKind,
		SourceRefID:       candidate.SourceRefID,
		Intent:            candidate.Intent,
		OpportunityScore:  candidate.OpportunityScore,
		EditorialPriority: candidate.EditorialPriority,
		MetadataJSON:      util.CanonicalJSON(candidate.Metadata),
	}
	if candidate.IdempotencyKey != "" {
		key := candidate.IdempotencyKey
		item.IdempotencyKey = &key
	}

	created, fresh, err := q.store.CreateQueueItem(ctx, scope, item)
	if err != nil {
		return nil, err
	}
	if !fresh {
		q.logger.Debug("Queue item deduplicated",
			zap.String("workspace_id", scope.WorkspaceID()),
			zap.String("idempotency_key", candidate.IdempotencyKey))
	}
	return created, nil
}

// Approve moves a pending_review item to approved_scheduled and assigns
// the next publish window. Any other source state is a conflict and the
// row is left untouched.
func (q *QueueService) Approve(ctx context.Context, scope store.Scope, itemID, reviewerID string, now time.Time) (*models.ApprovalQueueItem, error) {
	item, err := q.store.GetQueueItem(ctx, scope, itemID)
	if err != nil {
		return nil, err
	}
	if !editorial.CanTransition(item.Status, editorial.StatusApprovedScheduled) {
		return nil, fmt.Errorf("cannot approve item in status %s: %w", item.Status, ErrStateConflict)
	}

	scheduledFor, windowKey := editorial.NextPublishWindow(now, q.windows)
	approvedAt := now.UTC()
	previous := item.Status
	item.Status = editorial.StatusApprovedScheduled
	item.ScheduledFor = &scheduledFor
	item.PublishWindowKey = windowKey
	item.ApprovedByUserID = reviewerID
	item.ApprovedAt = &approvedAt

	updated, err := q.store.UpdateQueueItem(ctx, scope, item, previous)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, fmt.Errorf("item %s moved concurrently: %w", itemID, ErrStateConflict)
	}

	q.logger.Info("Queue item approved",
		zap.String("workspace_id", scope.WorkspaceID()),
		zap.String("item_id", itemID),
		zap.Time("scheduled_for", scheduledFor),
		zap.String("publish_window_key", windowKey))
	return item, nil
}

// Reject moves a pending_review item to the terminal rejected state.
func (q *QueueService) Reject(ctx context.Context, scope store.Scope, itemID, reviewerID string, now time.Time) (*models.ApprovalQueueItem, error) {
	item, err := q.store.GetQueueItem(ctx, scope, itemID)
	if err != nil {
		return nil, err
	}
	if !editorial.CanTransition(item.Status, editorial.StatusRejected) {
		return nil, fmt.Errorf("cannot reject item in status %s: %w", item.Status, ErrStateConflict)
	}

	rejectedAt := now.UTC()
	previous := item.Status
	item.Status = editorial.StatusRejected
	item.RejectedByUserID = reviewerID
	item.RejectedAt = &rejectedAt

	updated, err := q.store.UpdateQueueItem(ctx, scope, item, previous)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, fmt.Errorf("item %s moved concurrently: %w", itemID, ErrStateConflict)
	}
	return item, nil
}

// ApprovePending approves every pending_review item in one pass; used by
// the approve_queue pipeline when the workspace runs in autopilot mode.
func (q *QueueService) ApprovePending(ctx context.Context, scope store.Scope, reviewerID string, now time.Time, limit int) (int, error) {
	items, err := q.store.ListQueueItems(ctx, scope, editorial.StatusPendingReview, limit)
	if err != nil {
		return 0, err
	}
	approved := 0
	for i := range items {
		if _, err := q.Approve(ctx, scope, items[i].ID, reviewerID, now); err != nil {
			if errors.Is(err, ErrStateConflict) {
				continue
			}
			return approved, err
		}
		approved++
	}
	return approved, nil
}

// ExecuteDueItems publishes every approved_scheduled item whose window has
// arrived, honoring the pause flag, cooldown gate, and token bucket.
func (q *QueueService) ExecuteDueItems(ctx context.Context, scope store.Scope, now time.Time, limit int) (ExecuteReport, error) {
	report := ExecuteReport{}

	settings, err := q.store.GetControlSettings(ctx, scope)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return report, err
	}
	if settings != nil && settings.IsPaused {
		return report, ErrWorkspacePaused
	}

	items, err := q.store.ListDueQueueItems(ctx, scope, now.UTC(), limit)
	if err != nil {
		return report, err
	}
	report.Scanned = len(items)

	for i := range items {
		q.executeOne(ctx, scope, &items[i], now, &report)
	}
	return report, nil
}

// ExecuteItem publishes one item on demand. It is only legal for an
// approved_scheduled item whose window has arrived, and it passes through
// the same cooldown, rate limit, and ledger gates as the scheduled pass.
func (q *QueueService) ExecuteItem(ctx context.Context, scope store.Scope, itemID string, now time.Time) (*models.ApprovalQueueItem, error) {
	settings, err := q.store.GetControlSettings(ctx, scope)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if settings != nil && settings.IsPaused {
		return nil, ErrWorkspacePaused
	}

	item, err := q.store.GetQueueItem(ctx, scope, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != editorial.StatusApprovedScheduled {
		return nil, fmt.Errorf("cannot execute item in status %s: %w", item.Status, ErrStateConflict)
	}
	if item.ScheduledFor == nil || now.UTC().Before(*item.ScheduledFor) {
		return nil, ErrNotDue
	}

	report := ExecuteReport{}
	q.executeOne(ctx, scope, item, now, &report)
	switch {
	case report.SkippedCooldown > 0:
		return nil, ErrCooldownActive
	case report.SkippedRateLimit > 0:
		return nil, ErrRateLimited
	case report.SkippedConflict > 0:
		return nil, fmt.Errorf("item %s has an execution in flight: %w", itemID, ErrStateConflict)
	}
	return q.store.GetQueueItem(ctx, scope, itemID)
}

func (q *QueueService) executeOne(ctx context.Context, scope store.Scope, item *models.ApprovalQueueItem, now time.Time, report *ExecuteReport) {
	metadata := util.ParseJSONMap(item.MetadataJSON)

	blocked, err := q.replyCooldownsActive(ctx, scope, item.ItemType, metadata, now)
	if err != nil {
		q.logger.Error("Cooldown check failed", zap.String("item_id", item.ID), zap.Error(err))
		return
	}
	if blocked {
		report.SkippedCooldown++
		return
	}

	ledgerKey := "queue_item:" + item.ID
	if item.IdempotencyKey != nil && *item.IdempotencyKey != "" {
		ledgerKey = *item.IdempotencyKey
	}

	// Resolve completed and in-flight runs before spending a token; only
	// an attempt that will reach the external call debits the bucket.
	prior, err := q.ledger.Peek(ctx, scope, executeOperation, ledgerKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		q.logger.Error("Ledger lookup failed", zap.String("item_id", item.ID), zap.Error(err))
		return
	}
	if prior != nil {
		if prior.Terminal() {
			q.reconcile(ctx, scope, item, prior, report)
			return
		}
		if !q.ledger.Reclaimable(prior) {
			report.SkippedConflict++
			return
		}
	}

	bucket := q.buckets.Get(scope.WorkspaceID() + ":" + item.ItemType)
	if !bucket.Allow(1) {
		report.SkippedRateLimit++
		return
	}

	// A racing instance can still win Begin between the peek and here.
	begin, err := q.ledger.Begin(ctx, scope, executeOperation, ledgerKey, false)
	if err != nil {
		q.logger.Error("Ledger begin failed", zap.String("item_id", item.ID), zap.Error(err))
		return
	}
	switch begin.Outcome {
	case BeginConflict:
		report.SkippedConflict++
		return
	case BeginAlreadyCompleted:
		// A previous instance published this item but crashed before the
		// row transition; reconcile from the stored ledger result.
		q.reconcile(ctx, scope, item, begin.Run, report)
		return
	}

	externalID, publishErr := q.publish(ctx, scope, item, metadata)
	if publishErr != nil {
		item.Status = editorial.StatusFailed
		item.ErrorMessage = util.Truncate(publishErr.Error(), 255)
		if _, err := q.store.UpdateQueueItem(ctx, scope, item, editorial.StatusApprovedScheduled); err != nil {
			q.logger.Error("Failed to mark item failed", zap.String("item_id", item.ID), zap.Error(err))
		}
		if err := q.ledger.Complete(ctx, scope, begin.Run, begin.OwnerToken, models.RunStatusFailed, nil, publishErr); err != nil {
			q.logger.Error("Ledger complete failed", zap.String("item_id", item.ID), zap.Error(err))
		}
		report.Failed++
		q.logger.Warn("Queue item publish failed",
			zap.String("workspace_id", scope.WorkspaceID()),
			zap.String("item_id", item.ID),
			zap.Error(publishErr))
		return
	}

	item.Status = editorial.StatusPublished
	item.PublishedPostID = externalID
	item.ErrorMessage = ""
	if _, err := q.store.UpdateQueueItem(ctx, scope, item, editorial.StatusApprovedScheduled); err != nil {
		q.logger.Error("Failed to mark item published", zap.String("item_id", item.ID), zap.Error(err))
	}
	q.recordReplyCooldowns(ctx, scope, item.ItemType, metadata, now)
	if err := q.ledger.Complete(ctx, scope, begin.Run, begin.OwnerToken, models.RunStatusSucceeded,
		map[string]interface{}{"external_post_id": externalID, "item_id": item.ID}, nil); err != nil {
		q.logger.Error("Ledger complete failed", zap.String("item_id", item.ID), zap.Error(err))
	}
	report.Published++

	q.logger.Info("Queue item published",
		zap.String("workspace_id", scope.WorkspaceID()),
		zap.String("item_id", item.ID),
		zap.String("external_post_id", externalID))
}

func (q *QueueService) publish(ctx context.Context, scope store.Scope, item *models.ApprovalQueueItem, metadata map[string]interface{}) (string, error) {
	publisher, err := q.publishers.Get(item.ItemType)
	if err != nil {
		return "", err
	}
	return publisher.Publish(ctx, PublishContent{
		ItemID:      item.ID,
		WorkspaceID: scope.WorkspaceID(),
		ItemType:    item.ItemType,
		Text:        item.ContentText,
		Metadata:    metadata,
	})
}

// reconcile finishes an item whose external call already happened in a
// prior run. No external call is made here.
func (q *QueueService) reconcile(ctx context.Context, scope store.Scope, item *models.ApprovalQueueItem, run *models.PipelineRun, report *ExecuteReport) {
	result := util.ParseJSONMap(run.ResultJSON)
	if run.Status == models.RunStatusSucceeded {
		item.Status = editorial.StatusPublished
		if externalID, ok := result["external_post_id"].(string); ok {
			item.PublishedPostID = externalID
		}
		item.ErrorMessage = ""
	} else {
		item.Status = editorial.StatusFailed
		item.ErrorMessage = util.Truncate(run.ErrorMessage, 255)
	}
	updated, err := q.store.UpdateQueueItem(ctx, scope, item, editorial.StatusApprovedScheduled)
	if err != nil {
		q.logger.Error("Reconcile update failed", zap.String("item_id", item.ID), zap.Error(err))
		return
	}
	if updated {
		report.Reconciled++
	}
}

func (q *QueueService) replyCooldownsActive(ctx context.Context, scope store.Scope, itemType string, metadata map[string]interface{}, now time.Time) (bool, error) {
	if itemType != "reply" {
		return false, nil
	}
	if author, ok := metadata["target_author_id"].(string); ok && author != "" {
		cooling, err := q.cooldowns.IsCoolingDown(ctx, scope, models.CooldownScopeReplyTarget, author, now)
		if err != nil || cooling {
			return cooling, err
		}
	}
	if thread, ok := metadata["thread_id"].(string); ok && thread != "" {
		cooling, err := q.cooldowns.IsCoolingDown(ctx, scope, models.CooldownScopeThread, thread, now)
		if err != nil || cooling {
			return cooling, err
		}
	}
	return false, nil
}

func (q *QueueService) recordReplyCooldowns(ctx context.Context, scope store.Scope, itemType string, metadata map[string]interface{}, now time.Time) {
	if itemType != "reply" {
		return
	}
	until := now.UTC().Add(q.cooldown)
	if author, ok := metadata["target_author_id"].(string); ok && author != "" {
		if err := q.cooldowns.RecordAction(ctx, scope, models.CooldownScopeReplyTarget, author, until, "reply"); err != nil {
			q.logger.Error("Failed to record author cooldown", zap.Error(err))
		}
	}
	if thread, ok := metadata["thread_id"].(string); ok && thread != "" {
		if err := q.cooldowns.RecordAction(ctx, scope, models.CooldownScopeThread, thread, until, "reply"); err != nil {
			q.logger.Error("Failed to record thread cooldown", zap.Error(err))
		}
	}
}
