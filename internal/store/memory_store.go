package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gbpufscar/revfirst-social-sub001/internal/models"
)

// MemoryStore keeps everything in-process. It enforces the same uniqueness
// and tenant-scoping rules as the Postgres store, which makes it the fixture
// for state machine and ledger tests.
type MemoryStore struct {
	mu         sync.RWMutex
	workspaces map[string]models.Workspace
	settings   map[string]models.WorkspaceControlSettings
	queue      map[string]models.ApprovalQueueItem
	queueIdem  map[string]string
	cooldowns  map[string]models.PublishCooldown
	runs       map[string]models.PipelineRun
	runIdem    map[string]string
	actions    map[string]models.AdminAction
	actionIdem map[string]string
	mediaJobs  map[string]models.MediaJob
	mediaIdem  map[string]string
	assets     map[string]models.MediaAsset
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workspaces: make(map[string]models.Workspace),
		settings:   make(map[string]models.WorkspaceControlSettings),
		queue:      make(map[string]models.ApprovalQueueItem),
		queueIdem:  make(map[string]string),
		cooldowns:  make(map[string]models.PublishCooldown),
		runs:       make(map[string]models.PipelineRun),
		runIdem:    make(map[string]string),
		actions:    make(map[string]models.AdminAction),
		actionIdem: make(map[string]string),
		mediaJobs:  make(map[string]models.MediaJob),
		mediaIdem:  make(map[string]string),
		assets:     make(map[string]models.MediaAsset),
	}
}

func idemKey(workspaceID string, parts ...string) string {
	key := workspaceID
	for _, part := range parts {
		key += "\x00" + part
	}
	return key
}

func (m *MemoryStore) GetWorkspace(ctx context.Context, scope Scope) (*models.Workspace, error) {
	if !scope.Valid() {
		return nil, ErrEmptyWorkspace
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	workspace, ok := m.workspaces[scope.WorkspaceID()]
	if !ok {
		return nil, ErrNotFound
	}
	copied := workspace
	return &copied, nil
}

func (m *MemoryStore) CreateQueueItem(ctx context.Context, scope Scope, item *models.ApprovalQueueItem) (*models.ApprovalQueueItem, bool, error) {
	if err := checkWrite(scope, &item.WorkspaceID); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.IdempotencyKey != nil {
		key := idemKey(scope.WorkspaceID(), *item.IdempotencyKey)
		if existingID, ok := m.queueIdem[key]; ok {
			existing := m.queue[existingID]
			return &existing, false, nil
		}
		m.queueIdem[key] = item.ID
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.UpdatedAt = item.CreatedAt
	m.queue[item.ID] = *item
	copied := *item
	return &copied, true, nil
}

func (m *MemoryStore) GetQueueItem(ctx context.Context, scope Scope, id string) (*models.ApprovalQueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.queue[id]
	if !ok || item.WorkspaceID != scope.WorkspaceID() {
		return nil, ErrNotFound
	}
	copied := item
	return &copied, nil
}

func (m *MemoryStore) ListQueueItems(ctx context.Context, scope Scope, status string, limit int) ([]models.ApprovalQueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var items []models.ApprovalQueueItem
	for _, item := range m.queue {
		if item.WorkspaceID != scope.WorkspaceID() {
			continue
		}
		if status != "" && item.Status != status {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	if len(items) > clampLimit(limit) {
		items = items[:clampLimit(limit)]
	}
	return items, nil
}

func (m *MemoryStore) ListDueQueueItems(ctx context.Context, scope Scope, now time.Time, limit int) ([]models.ApprovalQueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var items []models.ApprovalQueueItem
	for _, item := range m.queue {
		if item.WorkspaceID != scope.WorkspaceID() || item.Status != "approved_scheduled" {
			continue
		}
		if item.ScheduledFor == nil || item.ScheduledFor.After(now) {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].EditorialPriority != items[j].EditorialPriority {
			return items[i].EditorialPriority > items[j].EditorialPriority
		}
		return items[i].ScheduledFor.Before(*items[j].ScheduledFor)
	})
	if len(items) > clampLimit(limit) {
		items = items[:clampLimit(limit)]
	}
	return items, nil
}

func (m *MemoryStore) UpdateQueueItem(ctx context.Context, scope Scope, item *models.ApprovalQueueItem, expectStatus string) (bool, error) {
	if err := checkWrite(scope, &item.WorkspaceID); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.queue[item.ID]
	if !ok || current.WorkspaceID != scope.WorkspaceID() || current.Status != expectStatus {
		return false, nil
	}
	item.UpdatedAt = time.Now().UTC()
	m.queue[item.ID] = *item
	return true, nil
}

func (m *MemoryStore) GetCooldown(ctx context.Context, scope Scope, cooldownScope, scopeKey string) (*models.PublishCooldown, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.cooldowns[idemKey(scope.WorkspaceID(), cooldownScope, scopeKey)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := record
	return &copied, nil
}

func (m *MemoryStore) UpsertCooldown(ctx context.Context, scope Scope, cooldownScope, scopeKey string, until time.Time, action string, now time.Time) error {
	if !scope.Valid() {
		return ErrEmptyWorkspace
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := idemKey(scope.WorkspaceID(), cooldownScope, scopeKey)
	existing, ok := m.cooldowns[key]
	if !ok {
		m.cooldowns[key] = models.PublishCooldown{
			ID:            newID(),
			WorkspaceID:   scope.WorkspaceID(),
			Scope:         cooldownScope,
			ScopeKey:      scopeKey,
			CooldownUntil: until.UTC(),
			LastAction:    action,
			CreatedAt:     now.UTC(),
			UpdatedAt:     now.UTC(),
		}
		return nil
	}
	next := until.UTC()
	if existing.CooldownUntil.After(now.UTC()) && next.Before(existing.CooldownUntil) {
		next = existing.CooldownUntil
	}
	existing.CooldownUntil = next
	existing.LastAction = action
	existing.UpdatedAt = now.UTC()
	m.cooldowns[key] = existing
	return nil
}

func (m *MemoryStore) InsertPipelineRun(ctx context.Context, scope Scope, run *models.PipelineRun) error {
	if err := checkWrite(scope, &run.WorkspaceID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.IdempotencyKey != nil {
		key := idemKey(scope.WorkspaceID(), run.PipelineName, *run.IdempotencyKey)
		if _, exists := m.runIdem[key]; exists {
			return ErrDuplicate
		}
		m.runIdem[key] = run.ID
	}
	m.runs[run.ID] = *run
	return nil
}

func (m *MemoryStore) FindPipelineRun(ctx context.Context, scope Scope, pipelineName, idempotencyKey string) (*models.PipelineRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.runIdem[idemKey(scope.WorkspaceID(), pipelineName, idempotencyKey)]
	if !ok {
		return nil, ErrNotFound
	}
	run := m.runs[id]
	copied := run
	return &copied, nil
}

func (m *MemoryStore) ReclaimPipelineRun(ctx context.Context, scope Scope, runID, ownerToken string, staleBefore, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok || run.WorkspaceID != scope.WorkspaceID() {
		return false, nil
	}
	if run.Status != models.RunStatusStarted || !run.StartedAt.Before(staleBefore) {
		return false, nil
	}
	run.OwnerToken = ownerToken
	run.StartedAt = now.UTC()
	m.runs[runID] = run
	return true, nil
}

func (m *MemoryStore) FinishPipelineRun(ctx context.Context, scope Scope, runID, ownerToken, status, resultJSON, errorMessage string, finishedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok || run.WorkspaceID != scope.WorkspaceID() {
		return false, nil
	}
	if run.OwnerToken != ownerToken || run.Status != models.RunStatusStarted {
		return false, nil
	}
	finished := finishedAt.UTC()
	run.Status = status
	run.ResultJSON = resultJSON
	run.ErrorMessage = errorMessage
	run.FinishedAt = &finished
	m.runs[runID] = run
	return true, nil
}

func (m *MemoryStore) LatestPipelineRuns(ctx context.Context, scope Scope, limit int) ([]models.PipelineRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var runs []models.PipelineRun
	for _, run := range m.runs {
		if run.WorkspaceID == scope.WorkspaceID() {
			runs = append(runs, run)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if len(runs) > clampLimit(limit) {
		runs = runs[:clampLimit(limit)]
	}
	return runs, nil
}

func (m *MemoryStore) InsertAdminAction(ctx context.Context, scope Scope, action *models.AdminAction) error {
	if err := checkWrite(scope, &action.WorkspaceID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if action.IdempotencyKey != nil {
		key := idemKey(scope.WorkspaceID(), *action.IdempotencyKey)
		if _, exists := m.actionIdem[key]; exists {
			return ErrDuplicate
		}
		m.actionIdem[key] = action.ID
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	m.actions[action.ID] = *action
	return nil
}

func (m *MemoryStore) FindAdminAction(ctx context.Context, scope Scope, idempotencyKey string) (*models.AdminAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.actionIdem[idemKey(scope.WorkspaceID(), idempotencyKey)]
	if !ok {
		return nil, ErrNotFound
	}
	action := m.actions[id]
	copied := action
	return &copied, nil
}

func (m *MemoryStore) GetControlSettings(ctx context.Context, scope Scope) (*models.WorkspaceControlSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	settings, ok := m.settings[scope.WorkspaceID()]
	if !ok {
		return nil, ErrNotFound
	}
	copied := settings
	return &copied, nil
}

func (m *MemoryStore) SaveControlSettings(ctx context.Context, scope Scope, settings *models.WorkspaceControlSettings) error {
	if err := checkWrite(scope, &settings.WorkspaceID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	settings.UpdatedAt = time.Now().UTC()
	m.settings[scope.WorkspaceID()] = *settings
	return nil
}

func (m *MemoryStore) CreateMediaJob(ctx context.Context, scope Scope, job *models.MediaJob) (*models.MediaJob, bool, error) {
	if err := checkWrite(scope, &job.WorkspaceID); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.IdempotencyKey != nil {
		key := idemKey(scope.WorkspaceID(), *job.IdempotencyKey)
		if existingID, ok := m.mediaIdem[key]; ok {
			existing := m.mediaJobs[existingID]
			return &existing, false, nil
		}
		m.mediaIdem[key] = job.ID
	}
	m.mediaJobs[job.ID] = *job
	copied := *job
	return &copied, true, nil
}

func (m *MemoryStore) UpdateMediaJob(ctx context.Context, scope Scope, job *models.MediaJob) error {
	if err := checkWrite(scope, &job.WorkspaceID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.mediaJobs[job.ID]
	if !ok || current.WorkspaceID != scope.WorkspaceID() {
		return ErrNotFound
	}
	job.UpdatedAt = time.Now().UTC()
	m.mediaJobs[job.ID] = *job
	return nil
}

func (m *MemoryStore) GetMediaJob(ctx context.Context, scope Scope, id string) (*models.MediaJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.mediaJobs[id]
	if !ok || job.WorkspaceID != scope.WorkspaceID() {
		return nil, ErrNotFound
	}
	copied := job
	return &copied, nil
}

func (m *MemoryStore) CreateMediaAsset(ctx context.Context, scope Scope, asset *models.MediaAsset) error {
	if err := checkWrite(scope, &asset.WorkspaceID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[asset.ID] = *asset
	return nil
}

func (m *MemoryStore) CreateWorkspace(ctx context.Context, workspace *models.Workspace, settings *models.WorkspaceControlSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.workspaces {
		if existing.Name == workspace.Name {
			return ErrDuplicate
		}
	}
	m.workspaces[workspace.ID] = *workspace
	settings.WorkspaceID = workspace.ID
	m.settings[workspace.ID] = *settings
	return nil
}

func (m *MemoryStore) ListActiveWorkspaceIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type entry struct {
		id      string
		created time.Time
	}
	var entries []entry
	for _, workspace := range m.workspaces {
		if workspace.SubscriptionStatus == "active" {
			entries = append(entries, entry{id: workspace.ID, created: workspace.CreatedAt})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].created.Before(entries[j].created) })
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.id)
	}
	return ids, nil
}
