package models

import (
	"time"
)

// Cooldown scopes written by the queue executor.
const (
	CooldownScopeReplyTarget = "reply_target"
	CooldownScopeThread      = "thread"
	CooldownScopeChannel     = "channel"
)

// PublishCooldown blocks a (scope, scope_key) pair from repeating an action
// until cooldown_until passes. One row per (workspace, scope, scope_key),
// upserted on each action; cooldown_until never moves backwards while the
// previous cooldown is still active.
type PublishCooldown struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	WorkspaceID   string    `gorm:"not null;size:36;index;uniqueIndex:uq_publish_cooldowns_workspace_scope_key,priority:1" json:"workspace_id"`
	Scope         string    `gorm:"not null;size:20;uniqueIndex:uq_publish_cooldowns_workspace_scope_key,priority:2" json:"scope"`
	ScopeKey      string    `gorm:"not null;size:128;uniqueIndex:uq_publish_cooldowns_workspace_scope_key,priority:3" json:"scope_key"`
	CooldownUntil time.Time `gorm:"not null" json:"cooldown_until"`
	LastAction    string    `gorm:"not null;size:20" json:"last_action"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
