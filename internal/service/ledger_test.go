package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gbpufscar/revfirst-social-sub001/internal/models"
	"github.com/gbpufscar/revfirst-social-sub001/internal/store"
)

func testScope(t *testing.T, workspaceID string) store.Scope {
	t.Helper()
	scope, err := store.NewScope(workspaceID)
	require.NoError(t, err)
	return scope
}

func TestLedgerBeginStartsFreshRun(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(store.NewMemoryStore(), zap.NewNop(), 30*time.Minute)
	scope := testScope(t, "ws-a")

	result, err := ledger.Begin(ctx, scope, "execute_posts", "tick:20260221-0730", false)
	require.NoError(t, err)
	assert.Equal(t, BeginStarted, result.Outcome)
	assert.NotEmpty(t, result.OwnerToken)
	assert.Equal(t, models.RunStatusStarted, result.Run.Status)
}

func TestLedgerSecondBeginConflictsWhileRunIsLive(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(store.NewMemoryStore(), zap.NewNop(), 30*time.Minute)
	scope := testScope(t, "ws-a")

	first, err := ledger.Begin(ctx, scope, "execute_posts", "tick:20260221-0730", false)
	require.NoError(t, err)
	require.Equal(t, BeginStarted, first.Outcome)

	second, err := ledger.Begin(ctx, scope, "execute_posts", "tick:20260221-0730", false)
	require.NoError(t, err)
	assert.Equal(t, BeginConflict, second.Outcome)
}

func TestLedgerBeginReturnsStoredResultAfterCompletion(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(store.NewMemoryStore(), zap.NewNop(), 30*time.Minute)
	scope := testScope(t, "ws-a")

	executions := 0
	runOnce := func() {
		begin, err := ledger.Begin(ctx, scope, "execute_posts", "tick:20260221-0730", false)
		require.NoError(t, err)
		if begin.Outcome != BeginStarted {
			return
		}
		executions++
		require.NoError(t, ledger.Complete(ctx, scope, begin.Run, begin.OwnerToken,
			models.RunStatusSucceeded, map[string]interface{}{"external_post_id": "ext-1"}, nil))
	}

	runOnce()
	runOnce()
	runOnce()
	assert.Equal(t, 1, executions)

	begin, err := ledger.Begin(ctx, scope, "execute_posts", "tick:20260221-0730", false)
	require.NoError(t, err)
	assert.Equal(t, BeginAlreadyCompleted, begin.Outcome)
	assert.Contains(t, begin.Run.ResultJSON, "ext-1")
}

func TestLedgerSameKeyIsIndependentPerWorkspace(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(store.NewMemoryStore(), zap.NewNop(), 30*time.Minute)

	first, err := ledger.Begin(ctx, testScope(t, "ws-a"), "execute_posts", "tick:20260221-0730", false)
	require.NoError(t, err)
	assert.Equal(t, BeginStarted, first.Outcome)

	second, err := ledger.Begin(ctx, testScope(t, "ws-b"), "execute_posts", "tick:20260221-0730", false)
	require.NoError(t, err)
	assert.Equal(t, BeginStarted, second.Outcome)
}

func TestLedgerReclaimsStaleStartedRun(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(store.NewMemoryStore(), zap.NewNop(), 30*time.Minute)
	scope := testScope(t, "ws-a")

	start := time.Date(2026, 2, 21, 7, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return start }

	first, err := ledger.Begin(ctx, scope, "execute_posts", "tick:20260221-0730", false)
	require.NoError(t, err)
	require.Equal(t, BeginStarted, first.Outcome)

	// Within the stale window the row is still owned.
	ledger.now = func() time.Time { return start.Add(10 * time.Minute) }
	second, err := ledger.Begin(ctx, scope, "execute_posts", "tick:20260221-0730", false)
	require.NoError(t, err)
	assert.Equal(t, BeginConflict, second.Outcome)

	// Past it, a new principal takes over with a fresh owner token.
	ledger.now = func() time.Time { return start.Add(45 * time.Minute) }
	third, err := ledger.Begin(ctx, scope, "execute_posts", "tick:20260221-0730", false)
	require.NoError(t, err)
	assert.Equal(t, BeginStarted, third.Outcome)
	assert.NotEqual(t, first.OwnerToken, third.OwnerToken)

	// The original owner's completion is now rejected.
	err = ledger.Complete(ctx, scope, first.Run, first.OwnerToken, models.RunStatusSucceeded, nil, nil)
	assert.ErrorIs(t, err, ErrStateConflict)

	// The reclaiming owner's completion lands.
	require.NoError(t, ledger.Complete(ctx, scope, third.Run, third.OwnerToken, models.RunStatusSucceeded, nil, nil))
}

func TestLedgerCompleteRecordsFailure(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	ledger := NewLedger(st, zap.NewNop(), 30*time.Minute)
	scope := testScope(t, "ws-a")

	begin, err := ledger.Begin(ctx, scope, "execute_posts", "tick:20260221-0730", false)
	require.NoError(t, err)
	require.NoError(t, ledger.Complete(ctx, scope, begin.Run, begin.OwnerToken,
		models.RunStatusFailed, nil, errors.New("publish exploded")))

	run, err := st.FindPipelineRun(ctx, scope, "execute_posts", "tick:20260221-0730")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, "publish exploded", run.ErrorMessage)
	require.NotNil(t, run.FinishedAt)
}

func TestRecordAdminActionDedups(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(store.NewMemoryStore(), zap.NewNop(), 30*time.Minute)
	scope := testScope(t, "ws-a")
	key := "cmd-1"

	first, err := ledger.RecordAdminAction(ctx, scope, &models.AdminAction{
		Command: "pause", Status: "ok", IdempotencyKey: &key,
	})
	require.NoError(t, err)

	second, err := ledger.RecordAdminAction(ctx, scope, &models.AdminAction{
		Command: "pause", Status: "ok", IdempotencyKey: &key,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}
