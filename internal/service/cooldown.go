package service

import (
	"context"
	"errors"
	"time"

	"github.com/gbpufscar/revfirst-social-sub001/internal/store"
)

// CooldownGate stores and enforces per-(scope, scope_key) cooldown
// timestamps. Policy (how long a cooldown lasts) lives with the caller;
// the gate only keeps the stored window honest.
type CooldownGate struct {
	store store.Store
}

func NewCooldownGate(st store.Store) *CooldownGate {
	return &CooldownGate{store: st}
}

// IsCoolingDown reports whether the scope key is still blocked at now.
func (g *CooldownGate) IsCoolingDown(ctx context.Context, scope store.Scope, cooldownScope, scopeKey string, now time.Time) (bool, error) {
	record, err := g.store.GetCooldown(ctx, scope, cooldownScope, scopeKey)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return record.CooldownUntil.After(now.UTC()), nil
}

// RecordAction upserts the cooldown row for a scope key. The store refuses
// to shorten a still-active window, so duplicate or late writers cannot
// re-open a gate early.
func (g *CooldownGate) RecordAction(ctx context.Context, scope store.Scope, cooldownScope, scopeKey string, until time.Time, action string) error {
	return g.store.UpsertCooldown(ctx, scope, cooldownScope, scopeKey, until, action, time.Now().UTC())
}
