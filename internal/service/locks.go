package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const releaseLockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0
`

// WorkspaceLockManager hands out one short-lived lock per workspace using
// redis SET NX EX. It keeps concurrent scheduler instances from walking
// the same workspace in the same tick; correctness does not depend on it,
// the ledger does that, it just avoids wasted conflicting work.
type WorkspaceLockManager struct {
	client *redis.Client
	ttl    time.Duration
}

// WorkspaceLockHandle releases one held lock. Release only deletes the key
// when the stored token still matches, so an expired lock grabbed by
// another instance is never released from here.
type WorkspaceLockHandle struct {
	manager     *WorkspaceLockManager
	workspaceID string
	token       string
}

func NewWorkspaceLockManager(client *redis.Client, ttl time.Duration) (*WorkspaceLockManager, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive")
	}
	return &WorkspaceLockManager{client: client, ttl: ttl}, nil
}

func lockKey(workspaceID string) string {
	return fmt.Sprintf("revfirst:%s:scheduler:lock", workspaceID)
}

// Acquire returns a handle when the workspace lock was free, nil when it
// is held elsewhere.
func (m *WorkspaceLockManager) Acquire(ctx context.Context, workspaceID string) (*WorkspaceLockHandle, error) {
	token := uuid.NewString()
	acquired, err := m.client.SetNX(ctx, lockKey(workspaceID), token, m.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, nil
	}
	return &WorkspaceLockHandle{manager: m, workspaceID: workspaceID, token: token}, nil
}

func (h *WorkspaceLockHandle) Release(ctx context.Context) (bool, error) {
	released, err := h.manager.client.Eval(ctx, releaseLockScript,
		[]string{lockKey(h.workspaceID)}, h.token).Int()
	if err != nil {
		return false, err
	}
	return released == 1, nil
}
