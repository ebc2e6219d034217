package models

import (
	"time"

	"gorm.io/gorm"
)

// Workspace is the tenant boundary. Every scoped entity belongs to exactly
// one workspace and becomes unreachable when the workspace is deleted.
type Workspace struct {
	ID                 string         `gorm:"primaryKey;size:36" json:"id"`
	Name               string         `gorm:"uniqueIndex;not null;size:120" json:"name"`
	Plan               string         `gorm:"size:40;default:'free'" json:"plan"`
	SubscriptionStatus string         `gorm:"size:40;default:'active'" json:"subscription_status"`
	CreatedAt          time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"deleted_at"`
}

// WorkspaceControlSettings holds the operator toggles for one workspace.
// Exactly one row per workspace.
type WorkspaceControlSettings struct {
	ID                     string     `gorm:"primaryKey;size:36" json:"id"`
	WorkspaceID            string     `gorm:"uniqueIndex;not null;size:36" json:"workspace_id"`
	IsPaused               bool       `gorm:"default:false" json:"is_paused"`
	ChannelsJSON           string     `gorm:"type:text;default:'{}'" json:"channels_json"`
	ReplyLimitOverride     *int       `json:"reply_limit_override"`
	PostLimitOverride      *int       `json:"post_limit_override"`
	LimitOverrideExpiresAt *time.Time `json:"limit_override_expires_at"`
	OperationalMode        string     `gorm:"size:24;default:'review'" json:"operational_mode"`
	LastModeChangeAt       *time.Time `json:"last_mode_change_at"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

const (
	OperationalModeReview    = "review"
	OperationalModeAutopilot = "autopilot"
)
