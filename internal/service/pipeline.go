package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gbpufscar/revfirst-social-sub001/internal/editorial"
	"github.com/gbpufscar/revfirst-social-sub001/internal/models"
	"github.com/gbpufscar/revfirst-social-sub001/internal/store"
	"github.com/gbpufscar/revfirst-social-sub001/pkg/util"
)

// DailySequence is the fixed pipeline order for one scheduler pass. Each
// step is an independently retryable unit; a failing step never aborts the
// ones after it.
var DailySequence = []string{
	"ingest_open_calls",
	"ingest_trends",
	"rank_candidates",
	"propose_replies",
	"approve_queue",
	"execute_posts",
}

// PipelineHandler executes one named pipeline for one workspace.
type PipelineHandler func(ctx context.Context, scope store.Scope, now time.Time) (map[string]interface{}, error)

// CandidateSource is the boundary to an ingestion/generation collaborator.
// The heuristics behind it are out of scope here; the router only enqueues
// whatever it returns.
type CandidateSource interface {
	Fetch(ctx context.Context, workspaceID string, limit int) ([]Candidate, error)
}

// RunOptions parameterizes a single pipeline invocation.
type RunOptions struct {
	IdempotencyKey string
	DryRun         bool
	RequestID      string
	ActorUserID    string
}

// Router maps pipeline names to handlers. It is built once at process
// start and passed by reference, so the mapping is testable in isolation
// and carries no hidden global state.
type Router struct {
	handlers map[string]PipelineHandler
	ledger   *Ledger
	logger   *zap.Logger
}

func NewRouter(ledger *Ledger, logger *zap.Logger) *Router {
	return &Router{
		handlers: make(map[string]PipelineHandler),
		ledger:   ledger,
		logger:   logger,
	}
}

func (r *Router) Register(name string, handler PipelineHandler) error {
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("pipeline %s already registered", name)
	}
	r.handlers[name] = handler
	return nil
}

func (r *Router) Known(name string) bool {
	_, ok := r.handlers[name]
	return ok
}

// Run executes one pipeline through the ledger. The returned map always
// carries "status" and "pipeline"; unknown names report unknown_pipeline
// without invoking anything.
func (r *Router) Run(ctx context.Context, scope store.Scope, name string, now time.Time, opts RunOptions) (map[string]interface{}, error) {
	handler, ok := r.handlers[name]
	if !ok {
		return map[string]interface{}{
			"status":   "error",
			"pipeline": name,
			"reason":   "unknown_pipeline",
		}, ErrUnknownPipeline
	}

	key := opts.IdempotencyKey
	if key == "" {
		// Default key buckets on-demand runs by minute so an accidental
		// double submit collapses, while later runs stay distinct.
		key = "manual:" + editorial.WindowKey(now)
	}

	begin, err := r.ledger.Begin(ctx, scope, name, key, opts.DryRun)
	if err != nil {
		return nil, err
	}
	switch begin.Outcome {
	case BeginAlreadyCompleted:
		result := util.ParseJSONMap(begin.Run.ResultJSON)
		result["status"] = "already_completed"
		result["pipeline"] = name
		return result, nil
	case BeginConflict:
		return map[string]interface{}{
			"status":   "conflict",
			"pipeline": name,
		}, ErrStateConflict
	}

	if opts.DryRun {
		result := map[string]interface{}{"dry_run": true}
		if err := r.ledger.Complete(ctx, scope, begin.Run, begin.OwnerToken, models.RunStatusSucceeded, result, nil); err != nil {
			return nil, err
		}
		result["status"] = "skipped_dry_run"
		result["pipeline"] = name
		return result, nil
	}

	result, handlerErr := handler(ctx, scope, now)
	if result == nil {
		result = map[string]interface{}{}
	}

	status := models.RunStatusSucceeded
	if handlerErr != nil {
		status = models.RunStatusFailed
	}
	if err := r.ledger.Complete(ctx, scope, begin.Run, begin.OwnerToken, status, result, handlerErr); err != nil {
		r.logger.Error("Failed to finish pipeline run",
			zap.String("pipeline", name),
			zap.String("workspace_id", scope.WorkspaceID()),
			zap.Error(err))
	}

	result["pipeline"] = name
	if handlerErr != nil {
		result["status"] = "failed"
		result["error"] = handlerErr.Error()
		return result, handlerErr
	}
	if _, ok := result["status"]; !ok {
		result["status"] = "executed"
	}
	return result, nil
}

// RunDailySequence runs every pipeline of DailySequence in order for one
// workspace. The tick key makes concurrent instances of the same tick
// collapse onto single executions.
func (r *Router) RunDailySequence(ctx context.Context, scope store.Scope, now time.Time, tickKey string) map[string]interface{} {
	results := make(map[string]interface{}, len(DailySequence))
	for _, name := range DailySequence {
		result, err := r.Run(ctx, scope, name, now, RunOptions{IdempotencyKey: "tick:" + tickKey})
		if err != nil && !errors.Is(err, ErrStateConflict) {
			r.logger.Warn("Pipeline step failed",
				zap.String("pipeline", name),
				zap.String("workspace_id", scope.WorkspaceID()),
				zap.Error(err))
		}
		results[name] = result
	}
	return results
}

// Pipelines wires the default handler set for the daily sequence.
type Pipelines struct {
	store     store.Store
	queue     *QueueService
	openCalls CandidateSource
	trends    CandidateSource
	replies   CandidateSource
	logger    *zap.Logger
}

func NewPipelines(st store.Store, queue *QueueService, openCalls, trends, replies CandidateSource, logger *zap.Logger) *Pipelines {
	return &Pipelines{
		store:     st,
		queue:     queue,
		openCalls: openCalls,
		trends:    trends,
		replies:   replies,
		logger:    logger,
	}
}

// RegisterAll installs the daily pipelines on a router.
func (p *Pipelines) RegisterAll(router *Router) error {
	handlers := map[string]PipelineHandler{
		"ingest_open_calls": p.ingestFrom(p.openCalls, "open_call"),
		"ingest_trends":     p.ingestFrom(p.trends, "trend"),
		"rank_candidates":   p.rankCandidates,
		"propose_replies":   p.ingestFrom(p.replies, "reply_draft"),
		"approve_queue":     p.approveQueue,
		"execute_posts":     p.executePosts,
	}
	for name, handler := range handlers {
		if err := router.Register(name, handler); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipelines) ingestFrom(source CandidateSource, kind string) PipelineHandler {
	return func(ctx context.Context, scope store.Scope, now time.Time) (map[string]interface{}, error) {
		if source == nil {
			return map[string]interface{}{"status": "disabled", "queued": 0}, nil
		}
		candidates, err := source.Fetch(ctx, scope.WorkspaceID(), 20)
		if err != nil {
			return nil, fmt.Errorf("fetch %s candidates: %w", kind, err)
		}
		queued := 0
		for _, candidate := range candidates {
			if candidate.SourceKind == "" {
				candidate.SourceKind = kind
			}
			if _, err := p.queue.Enqueue(ctx, scope, candidate); err != nil {
				p.logger.Warn("Failed to enqueue candidate",
					zap.String("workspace_id", scope.WorkspaceID()),
					zap.String("source_kind", kind),
					zap.Error(err))
				continue
			}
			queued++
		}
		return map[string]interface{}{"fetched": len(candidates), "queued": queued}, nil
	}
}

// rankCandidates folds opportunity scores into editorial priority so the
// executor drains high-value items first.
func (p *Pipelines) rankCandidates(ctx context.Context, scope store.Scope, now time.Time) (map[string]interface{}, error) {
	items, err := p.store.ListQueueItems(ctx, scope, editorial.StatusPendingReview, 100)
	if err != nil {
		return nil, err
	}
	ranked := 0
	for i := range items {
		item := items[i]
		if item.OpportunityScore == nil {
			continue
		}
		priority := *item.OpportunityScore / 10
		if priority == item.EditorialPriority {
			continue
		}
		item.EditorialPriority = priority
		updated, err := p.store.UpdateQueueItem(ctx, scope, &item, item.Status)
		if err != nil {
			return nil, err
		}
		if updated {
			ranked++
		}
	}
	return map[string]interface{}{"evaluated": len(items), "ranked": ranked}, nil
}

func (p *Pipelines) approveQueue(ctx context.Context, scope store.Scope, now time.Time) (map[string]interface{}, error) {
	settings, err := p.store.GetControlSettings(ctx, scope)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if settings == nil || settings.OperationalMode != models.OperationalModeAutopilot {
		return map[string]interface{}{"status": "skipped_review_mode", "approved": 0}, nil
	}
	approved, err := p.queue.ApprovePending(ctx, scope, "autopilot", now, 50)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"approved": approved}, nil
}

func (p *Pipelines) executePosts(ctx context.Context, scope store.Scope, now time.Time) (map[string]interface{}, error) {
	report, err := p.queue.ExecuteDueItems(ctx, scope, now, 20)
	if errors.Is(err, ErrWorkspacePaused) {
		return map[string]interface{}{"status": "skipped_paused"}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"scanned":            report.Scanned,
		"published":          report.Published,
		"failed":             report.Failed,
		"skipped_cooldown":   report.SkippedCooldown,
		"skipped_rate_limit": report.SkippedRateLimit,
		"skipped_conflict":   report.SkippedConflict,
		"reconciled":         report.Reconciled,
	}, nil
}
