package models

import (
	"time"
)

// Media job statuses.
const (
	MediaJobStatusQueued    = "queued"
	MediaJobStatusSucceeded = "succeeded"
	MediaJobStatusFailed    = "failed"
)

// MediaJob tracks one image-generation request. Jobs dedup on
// (workspace_id, idempotency_key) so retried pipeline ticks reuse the
// already generated asset instead of rendering again.
type MediaJob struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	WorkspaceID    string    `gorm:"not null;size:36;index;uniqueIndex:uq_media_jobs_workspace_idem,priority:1" json:"workspace_id"`
	Channel        string    `gorm:"not null;size:24" json:"channel"`
	Prompt         string    `gorm:"type:text;not null" json:"prompt"`
	SourceKind     string    `gorm:"size:40" json:"source_kind"`
	SourceRefID    string    `gorm:"size:64" json:"source_ref_id"`
	Status         string    `gorm:"not null;size:24;default:'queued'" json:"status"`
	IdempotencyKey *string   `gorm:"size:80;uniqueIndex:uq_media_jobs_workspace_idem,priority:2" json:"idempotency_key"`
	ResultAssetID  string    `gorm:"size:36" json:"result_asset_id"`
	ErrorMessage   string    `gorm:"size:255" json:"error_message"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// MediaAsset is a stored object produced by a succeeded media job.
type MediaAsset struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	WorkspaceID string    `gorm:"not null;size:36;index" json:"workspace_id"`
	Channel     string    `gorm:"not null;size:24" json:"channel"`
	ObjectKey   string    `gorm:"not null;size:255" json:"object_key"`
	PublicURL   string    `gorm:"size:512" json:"public_url"`
	ContentType string    `gorm:"size:64" json:"content_type"`
	SizeBytes   int64     `gorm:"default:0" json:"size_bytes"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
