package models

import (
	"time"
)

// ApprovalQueueItem is one piece of candidate content moving through the
// editorial approval lifecycle. (workspace_id, idempotency_key) is unique
// whenever a key is present, which makes ingestion retries collapse onto
// the same row.
type ApprovalQueueItem struct {
	ID                string     `gorm:"primaryKey;size:36" json:"id"`
	WorkspaceID       string     `gorm:"not null;size:36;index;uniqueIndex:uq_approval_queue_workspace_idem,priority:1" json:"workspace_id"`
	ItemType          string     `gorm:"not null;size:24" json:"item_type"`
	Status            string     `gorm:"not null;size:24;default:'pending_review';index" json:"status"`
	ContentText       string     `gorm:"type:text;not null" json:"content_text"`
	SourceKind        string     `gorm:"size:40" json:"source_kind"`
	SourceRefID       string     `gorm:"size:64" json:"source_ref_id"`
	Intent            string     `gorm:"size:32" json:"intent"`
	OpportunityScore  *int       `json:"opportunity_score"`
	MetadataJSON      string     `gorm:"type:text;default:'{}'" json:"metadata_json"`
	ScheduledFor      *time.Time `gorm:"index" json:"scheduled_for"`
	PublishWindowKey  string     `gorm:"size:16;index" json:"publish_window_key"`
	EditorialPriority int        `gorm:"default:0" json:"editorial_priority"`
	ApprovedByUserID  string     `gorm:"size:36" json:"approved_by_user_id"`
	ApprovedAt        *time.Time `json:"approved_at"`
	RejectedByUserID  string     `gorm:"size:36" json:"rejected_by_user_id"`
	RejectedAt        *time.Time `json:"rejected_at"`
	PublishedPostID   string     `gorm:"size:64" json:"published_post_id"`
	ErrorMessage      string     `gorm:"size:255" json:"error_message"`
	IdempotencyKey    *string    `gorm:"size:80;uniqueIndex:uq_approval_queue_workspace_idem,priority:2" json:"idempotency_key"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Workspace Workspace `gorm:"foreignKey:WorkspaceID;constraint:OnDelete:CASCADE" json:"-"`
}
