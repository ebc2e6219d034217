package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gbpufscar/revfirst-social-sub001/internal/models"
	"github.com/gbpufscar/revfirst-social-sub001/internal/store"
	"github.com/gbpufscar/revfirst-social-sub001/pkg/util"
)

// BeginOutcome classifies the result of Ledger.Begin.
type BeginOutcome int

const (
	// BeginStarted means the caller owns a fresh run and must execute it.
	BeginStarted BeginOutcome = iota
	// BeginAlreadyCompleted means a terminal run exists; its stored result
	// is returned and the operation must not execute again.
	BeginAlreadyCompleted
	// BeginConflict means another principal holds a live started row.
	BeginConflict
)

// BeginResult carries the run row and, for BeginStarted, the owner token
// required to complete it.
type BeginResult struct {
	Outcome    BeginOutcome
	Run        *models.PipelineRun
	OwnerToken string
}

// Ledger guarantees at-most-once execution for named operations. All
// cross-instance serialization happens through the unique index on
// (workspace_id, pipeline_name, idempotency_key); the ledger itself holds
// no in-process locks.
type Ledger struct {
	store      store.Store
	logger     *zap.Logger
	staleAfter time.Duration
	now        func() time.Time
}

func NewLedger(st store.Store, logger *zap.Logger, staleAfter time.Duration) *Ledger {
	return &Ledger{
		store:      st,
		logger:     logger,
		staleAfter: staleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Begin claims the (workspace, operation, idempotency key) tuple.
//
// Insert-first: the happy path is a plain insert that either wins the
// unique index or collides with an existing row. A colliding terminal row
// resolves to AlreadyCompleted with the stored result; a live started row
// is a Conflict; a started row older than the stale cutoff is reclaimed by
// rotating its owner token with a compare-and-swap.
func (l *Ledger) Begin(ctx context.Context, scope store.Scope, operation, idempotencyKey string, dryRun bool) (BeginResult, error) {
	ownerToken := uuid.NewString()
	now := l.now()

	key := idempotencyKey
	run := &models.PipelineRun{
		ID:             uuid.NewString(),
		WorkspaceID:    scope.WorkspaceID(),
		PipelineName:   operation,
		Status:         models.RunStatusStarted,
		DryRun:         dryRun,
		IdempotencyKey: &key,
		OwnerToken:     ownerToken,
		ResultJSON:     "{}",
		StartedAt:      now,
	}

	err := l.store.InsertPipelineRun(ctx, scope, run)
	if err == nil {
		return BeginResult{Outcome: BeginStarted, Run: run, OwnerToken: ownerToken}, nil
	}
	if !errors.Is(err, store.ErrDuplicate) {
		return BeginResult{}, err
	}

	existing, findErr := l.store.FindPipelineRun(ctx, scope, operation, idempotencyKey)
	if findErr != nil {
		// Lost the race and the row vanished; treat as conflict rather
		// than risking a second execution.
		if errors.Is(findErr, store.ErrNotFound) {
			return BeginResult{Outcome: BeginConflict}, nil
		}
		return BeginResult{}, findErr
	}

	if existing.Terminal() {
		return BeginResult{Outcome: BeginAlreadyCompleted, Run: existing}, nil
	}

	staleBefore := now.Add(-l.staleAfter)
	if existing.StartedAt.Before(staleBefore) {
		claimed, claimErr := l.store.ReclaimPipelineRun(ctx, scope, existing.ID, ownerToken, staleBefore, now)
		if claimErr != nil {
			return BeginResult{}, claimErr
		}
		if claimed {
			l.logger.Warn("Reclaimed abandoned run",
				zap.String("workspace_id", scope.WorkspaceID()),
				zap.String("operation", operation),
				zap.String("idempotency_key", idempotencyKey))
			existing.OwnerToken = ownerToken
			existing.StartedAt = now
			return BeginResult{Outcome: BeginStarted, Run: existing, OwnerToken: ownerToken}, nil
		}
	}

	return BeginResult{Outcome: BeginConflict, Run: existing}, nil
}

// Peek returns the existing run for the tuple without claiming it, or
// store.ErrNotFound when no run exists. Only Begin grants ownership.
func (l *Ledger) Peek(ctx context.Context, scope store.Scope, operation, idempotencyKey string) (*models.PipelineRun, error) {
	return l.store.FindPipelineRun(ctx, scope, operation, idempotencyKey)
}

// Reclaimable reports whether a started run is old enough for Begin to
// take it over.
func (l *Ledger) Reclaimable(run *models.PipelineRun) bool {
	return run.Status == models.RunStatusStarted && run.StartedAt.Before(l.now().Add(-l.staleAfter))
}

// Complete writes the terminal state for a run started by this principal.
// The store only applies the update when the owner token still matches.
func (l *Ledger) Complete(ctx context.Context, scope store.Scope, run *models.PipelineRun, ownerToken, status string, result map[string]interface{}, runErr error) error {
	errorMessage := ""
	if runErr != nil {
		errorMessage = util.Truncate(runErr.Error(), 255)
	}
	finished, err := l.store.FinishPipelineRun(ctx, scope, run.ID, ownerToken, status,
		util.CanonicalJSON(result), errorMessage, l.now())
	if err != nil {
		return err
	}
	if !finished {
		return ErrStateConflict
	}
	return nil
}

// RecordAdminAction appends one control-plane command to the audit trail.
// A repeated idempotency key returns the original action unchanged.
func (l *Ledger) RecordAdminAction(ctx context.Context, scope store.Scope, action *models.AdminAction) (*models.AdminAction, error) {
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	err := l.store.InsertAdminAction(ctx, scope, action)
	if err == nil {
		return action, nil
	}
	if errors.Is(err, store.ErrDuplicate) && action.IdempotencyKey != nil {
		return l.store.FindAdminAction(ctx, scope, *action.IdempotencyKey)
	}
	return nil, err
}
