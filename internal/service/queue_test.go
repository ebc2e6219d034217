package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gbpufscar/revfirst-social-sub001/internal/editorial"
	"github.com/gbpufscar/revfirst-social-sub001/internal/models"
	"github.com/gbpufscar/revfirst-social-sub001/internal/store"
	"github.com/gbpufscar/revfirst-social-sub001/pkg/ratelimit"
)

type fakePublisher struct {
	channel string
	calls   int
	fail    bool
}

func (f *fakePublisher) ChannelName() string { return f.channel }

func (f *fakePublisher) Publish(ctx context.Context, content PublishContent) (string, error) {
	f.calls++
	if f.fail {
		return "", errors.New("channel rejected the post")
	}
	return fmt.Sprintf("ext-%d", f.calls), nil
}

type queueFixture struct {
	store  *store.MemoryStore
	queue  *QueueService
	ledger *Ledger
	post   *fakePublisher
	reply  *fakePublisher
}

func newQueueFixture(t *testing.T, capacity int) *queueFixture {
	t.Helper()
	windows, err := editorial.ParseDailyWindows(editorial.DefaultDailyWindows)
	require.NoError(t, err)

	st := store.NewMemoryStore()
	ledger := NewLedger(st, zap.NewNop(), 30*time.Minute)
	registry := NewPublisherRegistry(zap.NewNop())
	post := &fakePublisher{channel: "post"}
	reply := &fakePublisher{channel: "reply"}
	require.NoError(t, registry.Register(post))
	require.NoError(t, registry.Register(reply))

	queue := NewQueueService(
		st,
		NewCooldownGate(st),
		ledger,
		registry,
		ratelimit.NewRegistry(capacity, 0),
		windows,
		2*time.Hour,
		zap.NewNop(),
	)
	return &queueFixture{store: st, queue: queue, ledger: ledger, post: post, reply: reply}
}

func TestEnqueueDedupsOnIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	fx := newQueueFixture(t, 10)
	scope := testScope(t, "ws-a")

	first, err := fx.queue.Enqueue(ctx, scope, Candidate{
		ItemType: "post", ContentText: "hello", IdempotencyKey: "cand-1",
	})
	require.NoError(t, err)

	second, err := fx.queue.Enqueue(ctx, scope, Candidate{
		ItemType: "post", ContentText: "hello again", IdempotencyKey: "cand-1",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "hello", second.ContentText)
}

func TestApproveSchedulesIntoNextWindow(t *testing.T) {
	ctx := context.Background()
	fx := newQueueFixture(t, 10)
	scope := testScope(t, "ws-a")
	now := time.Date(2026, 2, 21, 7, 0, 0, 0, time.UTC)

	item, err := fx.queue.Enqueue(ctx, scope, Candidate{ItemType: "post", ContentText: "hello"})
	require.NoError(t, err)

	approved, err := fx.queue.Approve(ctx, scope, item.ID, "rev-1", now)
	require.NoError(t, err)
	assert.Equal(t, editorial.StatusApprovedScheduled, approved.Status)
	require.NotNil(t, approved.ScheduledFor)
	assert.Equal(t, time.Date(2026, 2, 21, 7, 30, 0, 0, time.UTC), *approved.ScheduledFor)
	assert.Equal(t, "20260221-0730", approved.PublishWindowKey)
	assert.Equal(t, "rev-1", approved.ApprovedByUserID)

	// Approving a non-pending item is a conflict and changes nothing.
	_, err = fx.queue.Approve(ctx, scope, item.ID, "rev-2", now)
	assert.ErrorIs(t, err, ErrStateConflict)
	current, err := fx.store.GetQueueItem(ctx, scope, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "rev-1", current.ApprovedByUserID)
}

func TestRejectOnlyFromPendingReview(t *testing.T) {
	ctx := context.Background()
	fx := newQueueFixture(t, 10)
	scope := testScope(t, "ws-a")
	now := time.Date(2026, 2, 21, 7, 0, 0, 0, time.UTC)

	item, err := fx.queue.Enqueue(ctx, scope, Candidate{ItemType: "post", ContentText: "hello"})
	require.NoError(t, err)

	rejected, err := fx.queue.Reject(ctx, scope, item.ID, "rev-1", now)
	require.NoError(t, err)
	assert.Equal(t, editorial.StatusRejected, rejected.Status)

	_, err = fx.queue.Reject(ctx, scope, item.ID, "rev-1", now)
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestExecuteDueItemsPublishesOnce(t *testing.T) {
	ctx := context.Background()
	fx := newQueueFixture(t, 10)
	scope := testScope(t, "ws-a")
	now := time.Date(2026, 2, 21, 7, 0, 0, 0, time.UTC)

	item, err := fx.queue.Enqueue(ctx, scope, Candidate{ItemType: "post", ContentText: "hello"})
	require.NoError(t, err)
	_, err = fx.queue.Approve(ctx, scope, item.ID, "rev-1", now)
	require.NoError(t, err)

	report, err := fx.queue.ExecuteDueItems(ctx, scope, now.Add(31*time.Minute), 20)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Published)
	assert.Equal(t, 1, fx.post.calls)

	published, err := fx.store.GetQueueItem(ctx, scope, item.ID)
	require.NoError(t, err)
	assert.Equal(t, editorial.StatusPublished, published.Status)
	assert.Equal(t, "ext-1", published.PublishedPostID)

	// The item is terminal, the next pass finds nothing.
	report, err = fx.queue.ExecuteDueItems(ctx, scope, now.Add(time.Hour), 20)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
	assert.Equal(t, 1, fx.post.calls)
}

func TestExecuteSkipsItemsStillInTheFuture(t *testing.T) {
	ctx := context.Background()
	fx := newQueueFixture(t, 10)
	scope := testScope(t, "ws-a")
	now := time.Date(2026, 2, 21, 7, 0, 0, 0, time.UTC)

	item, err := fx.queue.Enqueue(ctx, scope, Candidate{ItemType: "post", ContentText: "hello"})
	require.NoError(t, err)
	_, err = fx.queue.Approve(ctx, scope, item.ID, "rev-1", now)
	require.NoError(t, err)

	report, err := fx.queue.ExecuteDueItems(ctx, scope, now.Add(10*time.Minute), 20)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
	assert.Equal(t, 0, fx.post.calls)
}

func TestExecuteNeverTouchesUnapprovedItems(t *testing.T) {
	ctx := context.Background()
	fx := newQueueFixture(t, 10)
	scope := testScope(t, "ws-a")

	_, err := fx.queue.Enqueue(ctx, scope, Candidate{ItemType: "post", ContentText: "hello"})
	require.NoError(t, err)

	report, err := fx.queue.ExecuteDueItems(ctx, scope, time.Now().UTC().Add(48*time.Hour), 20)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
	assert.Equal(t, 0, fx.post.calls)
}

func TestExecuteRefusesWhenWorkspacePaused(t *testing.T) {
	ctx := context.Background()
	fx := newQueueFixture(t, 10)
	scope := testScope(t, "ws-a")
	now := time.Date(2026, 2, 21, 7, 0, 0, 0, time.UTC)

	item, err := fx.queue.Enqueue(ctx, scope, Candidate{ItemType: "post", ContentText: "hello"})
	require.NoError(t, err)
	_, err = fx.queue.Approve(ctx, scope, item.ID, "rev-1", now)
	require.NoError(t, err)

	require.NoError(t, fx.store.SaveControlSettings(ctx, scope, &models.WorkspaceControlSettings{
		ID: "cs-1", WorkspaceID: "ws-a", IsPaused: true,
	}))

	_, err = fx.queue.ExecuteDueItems(ctx, scope, now.Add(time.Hour), 20)
	assert.ErrorIs(t, err, ErrWorkspacePaused)
	assert.Equal(t, 0, fx.post.calls)
}

func TestExecuteReconcilesAlreadyPublishedItem(t *testing.T) {
	ctx := context.Background()
	fx := newQueueFixture(t, 10)
	scope := testScope(t, "ws-a")
	now := time.Date(2026, 2, 21, 7, 0, 0, 0, time.UTC)

	item, err := fx.queue.Enqueue(ctx, scope, Candidate{ItemType: "post", ContentText: "hello"})
	require.NoError(t, err)
	_, err = fx.queue.Approve(ctx, scope, item.ID, "rev-1", now)
	require.NoError(t, err)

	// A prior instance published the item and finished its ledger run, but
	// crashed before flipping the row.
	begin, err := fx.ledger.Begin(ctx, scope, "execute_queue_item", "queue_item:"+item.ID, false)
	require.NoError(t, err)
	require.Equal(t, BeginStarted, begin.Outcome)
	require.NoError(t, fx.ledger.Complete(ctx, scope, begin.Run, begin.OwnerToken,
		models.RunStatusSucceeded, map[string]interface{}{"external_post_id": "ext-prior"}, nil))

	report, err := fx.queue.ExecuteDueItems(ctx, scope, now.Add(time.Hour), 20)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reconciled)
	assert.Equal(t, 0, report.Published)
	assert.Equal(t, 0, fx.post.calls)

	published, err := fx.store.GetQueueItem(ctx, scope, item.ID)
	require.NoError(t, err)
	assert.Equal(t, editorial.StatusPublished, published.Status)
	assert.Equal(t, "ext-prior", published.PublishedPostID)
}

func TestExecuteHonorsRateLimit(t *testing.T) {
	ctx := context.Background()
	fx := newQueueFixture(t, 1)
	scope := testScope(t, "ws-a")
	now := time.Date(2026, 2, 21, 7, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		item, err := fx.queue.Enqueue(ctx, scope, Candidate{
			ItemType: "post", ContentText: fmt.Sprintf("hello %d", i),
		})
		require.NoError(t, err)
		_, err = fx.queue.Approve(ctx, scope, item.ID, "rev-1", now)
		require.NoError(t, err)
	}

	report, err := fx.queue.ExecuteDueItems(ctx, scope, now.Add(time.Hour), 20)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Published)
	assert.Equal(t, 1, report.SkippedRateLimit)
	assert.Equal(t, 1, fx.post.calls)
}

func TestExecuteHonorsReplyCooldowns(t *testing.T) {
	ctx := context.Background()
	fx := newQueueFixture(t, 10)
	scope := testScope(t, "ws-a")
	now := time.Date(2026, 2, 21, 7, 0, 0, 0, time.UTC)

	item, err := fx.queue.Enqueue(ctx, scope, Candidate{
		ItemType:    "reply",
		ContentText: "nice thread",
		Metadata:    map[string]interface{}{"target_author_id": "auth-1", "thread_id": "thr-1"},
	})
	require.NoError(t, err)
	_, err = fx.queue.Approve(ctx, scope, item.ID, "rev-1", now)
	require.NoError(t, err)

	execAt := now.Add(time.Hour)
	require.NoError(t, fx.store.UpsertCooldown(ctx, scope, models.CooldownScopeReplyTarget,
		"auth-1", execAt.Add(time.Hour), "reply", now))

	report, err := fx.queue.ExecuteDueItems(ctx, scope, execAt, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SkippedCooldown)
	assert.Equal(t, 0, fx.reply.calls)

	// Once the cooldown lapses the reply publishes and refreshes both gates.
	lateExec := execAt.Add(2 * time.Hour)
	report, err = fx.queue.ExecuteDueItems(ctx, scope, lateExec, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Published)
	assert.Equal(t, 1, fx.reply.calls)

	author, err := fx.store.GetCooldown(ctx, scope, models.CooldownScopeReplyTarget, "auth-1")
	require.NoError(t, err)
	assert.Equal(t, lateExec.Add(2*time.Hour), author.CooldownUntil)
	thread, err := fx.store.GetCooldown(ctx, scope, models.CooldownScopeThread, "thr-1")
	require.NoError(t, err)
	assert.Equal(t, lateExec.Add(2*time.Hour), thread.CooldownUntil)
}

func TestExecuteMarksItemFailedWhenPublishFails(t *testing.T) {
	ctx := context.Background()
	fx := newQueueFixture(t, 10)
	fx.post.fail = true
	scope := testScope(t, "ws-a")
	now := time.Date(2026, 2, 21, 7, 0, 0, 0, time.UTC)

	item, err := fx.queue.Enqueue(ctx, scope, Candidate{ItemType: "post", ContentText: "hello"})
	require.NoError(t, err)
	_, err = fx.queue.Approve(ctx, scope, item.ID, "rev-1", now)
	require.NoError(t, err)

	report, err := fx.queue.ExecuteDueItems(ctx, scope, now.Add(time.Hour), 20)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, fx.post.calls)

	failed, err := fx.store.GetQueueItem(ctx, scope, item.ID)
	require.NoError(t, err)
	assert.Equal(t, editorial.StatusFailed, failed.Status)
	assert.Contains(t, failed.ErrorMessage, "channel rejected")

	// Failed is terminal: the next pass does not retry the external call.
	report, err = fx.queue.ExecuteDueItems(ctx, scope, now.Add(2*time.Hour), 20)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
	assert.Equal(t, 1, fx.post.calls)
}

func TestExecuteItemEnforcesDueTime(t *testing.T) {
	ctx := context.Background()
	fx := newQueueFixture(t, 10)
	scope := testScope(t, "ws-a")
	now := time.Date(2026, 2, 21, 7, 0, 0, 0, time.UTC)

	item, err := fx.queue.Enqueue(ctx, scope, Candidate{ItemType: "post", ContentText: "hello"})
	require.NoError(t, err)

	// Pending items cannot execute at all.
	_, err = fx.queue.ExecuteItem(ctx, scope, item.ID, now)
	assert.ErrorIs(t, err, ErrStateConflict)

	_, err = fx.queue.Approve(ctx, scope, item.ID, "rev-1", now)
	require.NoError(t, err)

	// Before the assigned window it is not due.
	_, err = fx.queue.ExecuteItem(ctx, scope, item.ID, now.Add(10*time.Minute))
	assert.ErrorIs(t, err, ErrNotDue)
	assert.Equal(t, 0, fx.post.calls)

	published, err := fx.queue.ExecuteItem(ctx, scope, item.ID, now.Add(31*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, editorial.StatusPublished, published.Status)
	assert.Equal(t, 1, fx.post.calls)
}

func TestExecuteItemSurfacesCooldownDenial(t *testing.T) {
	ctx := context.Background()
	fx := newQueueFixture(t, 10)
	scope := testScope(t, "ws-a")
	now := time.Date(2026, 2, 21, 7, 0, 0, 0, time.UTC)

	item, err := fx.queue.Enqueue(ctx, scope, Candidate{
		ItemType:    "reply",
		ContentText: "nice thread",
		Metadata:    map[string]interface{}{"target_author_id": "auth-1"},
	})
	require.NoError(t, err)
	_, err = fx.queue.Approve(ctx, scope, item.ID, "rev-1", now)
	require.NoError(t, err)

	execAt := now.Add(time.Hour)
	require.NoError(t, fx.store.UpsertCooldown(ctx, scope, models.CooldownScopeReplyTarget,
		"auth-1", execAt.Add(time.Hour), "reply", now))

	_, err = fx.queue.ExecuteItem(ctx, scope, item.ID, execAt)
	assert.ErrorIs(t, err, ErrCooldownActive)
	assert.Equal(t, 0, fx.reply.calls)

	current, err := fx.store.GetQueueItem(ctx, scope, item.ID)
	require.NoError(t, err)
	assert.Equal(t, editorial.StatusApprovedScheduled, current.Status)
}

func TestExecuteItemSurfacesRateLimitDenial(t *testing.T) {
	ctx := context.Background()
	fx := newQueueFixture(t, 1)
	scope := testScope(t, "ws-a")
	now := time.Date(2026, 2, 21, 7, 0, 0, 0, time.UTC)

	first, err := fx.queue.Enqueue(ctx, scope, Candidate{ItemType: "post", ContentText: "hello 1"})
	require.NoError(t, err)
	second, err := fx.queue.Enqueue(ctx, scope, Candidate{ItemType: "post", ContentText: "hello 2"})
	require.NoError(t, err)
	_, err = fx.queue.Approve(ctx, scope, first.ID, "rev-1", now)
	require.NoError(t, err)
	_, err = fx.queue.Approve(ctx, scope, second.ID, "rev-1", now)
	require.NoError(t, err)

	execAt := now.Add(time.Hour)
	published, err := fx.queue.ExecuteItem(ctx, scope, first.ID, execAt)
	require.NoError(t, err)
	assert.Equal(t, editorial.StatusPublished, published.Status)

	// The bucket is empty; the denial is reported, not swallowed.
	_, err = fx.queue.ExecuteItem(ctx, scope, second.ID, execAt)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1, fx.post.calls)

	current, err := fx.store.GetQueueItem(ctx, scope, second.ID)
	require.NoError(t, err)
	assert.Equal(t, editorial.StatusApprovedScheduled, current.Status)
}

func TestExecuteItemSurfacesLedgerConflict(t *testing.T) {
	ctx := context.Background()
	fx := newQueueFixture(t, 10)
	scope := testScope(t, "ws-a")
	now := time.Date(2026, 2, 21, 7, 0, 0, 0, time.UTC)

	item, err := fx.queue.Enqueue(ctx, scope, Candidate{ItemType: "post", ContentText: "hello"})
	require.NoError(t, err)
	_, err = fx.queue.Approve(ctx, scope, item.ID, "rev-1", now)
	require.NoError(t, err)

	// Another instance holds a live started run for this item.
	begin, err := fx.ledger.Begin(ctx, scope, "execute_queue_item", "queue_item:"+item.ID, false)
	require.NoError(t, err)
	require.Equal(t, BeginStarted, begin.Outcome)

	_, err = fx.queue.ExecuteItem(ctx, scope, item.ID, now.Add(time.Hour))
	assert.ErrorIs(t, err, ErrStateConflict)
	assert.Equal(t, 0, fx.post.calls)
}

func TestExecuteSkipsDoNotSpendRateLimitTokens(t *testing.T) {
	ctx := context.Background()
	fx := newQueueFixture(t, 1)
	scope := testScope(t, "ws-a")
	now := time.Date(2026, 2, 21, 7, 0, 0, 0, time.UTC)

	reconciled, err := fx.queue.Enqueue(ctx, scope, Candidate{ItemType: "post", ContentText: "done before"})
	require.NoError(t, err)
	inflight, err := fx.queue.Enqueue(ctx, scope, Candidate{ItemType: "post", ContentText: "held elsewhere"})
	require.NoError(t, err)
	fresh, err := fx.queue.Enqueue(ctx, scope, Candidate{ItemType: "post", ContentText: "hello"})
	require.NoError(t, err)
	for _, id := range []string{reconciled.ID, inflight.ID, fresh.ID} {
		_, err = fx.queue.Approve(ctx, scope, id, "rev-1", now)
		require.NoError(t, err)
	}

	// One item already published by a prior instance, one held by a live run.
	// Neither reaches the external call, so neither may consume the single
	// available token.
	prior, err := fx.ledger.Begin(ctx, scope, "execute_queue_item", "queue_item:"+reconciled.ID, false)
	require.NoError(t, err)
	require.NoError(t, fx.ledger.Complete(ctx, scope, prior.Run, prior.OwnerToken,
		models.RunStatusSucceeded, map[string]interface{}{"external_post_id": "ext-prior"}, nil))
	held, err := fx.ledger.Begin(ctx, scope, "execute_queue_item", "queue_item:"+inflight.ID, false)
	require.NoError(t, err)
	require.Equal(t, BeginStarted, held.Outcome)

	report, err := fx.queue.ExecuteDueItems(ctx, scope, now.Add(time.Hour), 20)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reconciled)
	assert.Equal(t, 1, report.SkippedConflict)
	assert.Equal(t, 1, report.Published)
	assert.Equal(t, 0, report.SkippedRateLimit)
	assert.Equal(t, 1, fx.post.calls)
}

func TestApprovePendingApprovesBatch(t *testing.T) {
	ctx := context.Background()
	fx := newQueueFixture(t, 10)
	scope := testScope(t, "ws-a")
	now := time.Date(2026, 2, 21, 7, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := fx.queue.Enqueue(ctx, scope, Candidate{
			ItemType: "post", ContentText: fmt.Sprintf("hello %d", i),
		})
		require.NoError(t, err)
	}

	approved, err := fx.queue.ApprovePending(ctx, scope, "autopilot", now, 50)
	require.NoError(t, err)
	assert.Equal(t, 3, approved)

	items, err := fx.store.ListQueueItems(ctx, scope, editorial.StatusApprovedScheduled, 50)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}
