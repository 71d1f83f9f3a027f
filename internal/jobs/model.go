package jobs

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type ItemStatus string

const (
	ItemPending ItemStatus = "pending"
	ItemSent    ItemStatus = "sent"
	ItemFailed  ItemStatus = "failed"
)

func (s ItemStatus) IsValid() bool {
	return s == ItemPending || s == ItemSent || s == ItemFailed
}

// Type selects how Data is turned into a message for each recipient.
type Type string

const (
	TypeSendText         Type = "send-text"
	TypeSendPersonalized Type = "send-personalized"
	TypeSendMedia        Type = "send-media"
)

// Progress is a cache over job_items; see Repo.ReconcileProgress.
type Progress struct {
	Total  int `gorm:"not null;default:0" json:"total"`
	Sent   int `gorm:"not null;default:0" json:"sent"`
	Failed int `gorm:"not null;default:0" json:"failed"`
}

type Job struct {
	ID string `gorm:"primaryKey;size:26" json:"id"` // ULID

	UserID   uint64 `gorm:"index;not null;uniqueIndex:uq_jobs_user_idem,priority:1" json:"userId"`
	DeviceID string `gorm:"size:64;index;not null" json:"deviceId"`

	Type   Type           `gorm:"size:32;not null" json:"type"`
	Status Status         `gorm:"size:16;index;not null" json:"status"`
	Data   datatypes.JSON `json:"data"`

	Progress Progress `gorm:"embedded;embeddedPrefix:progress_" json:"progress"`

	Error   *string `gorm:"type:text" json:"error"`
	RetryOf *string `gorm:"size:26;index" json:"retryOf,omitempty"`

	// IdempotencyKey makes POST /jobs safe to repeat; unique per owner.
	IdempotencyKey *string `gorm:"size:128;uniqueIndex:uq_jobs_user_idem,priority:2" json:"idempotencyKey,omitempty"`

	CreatedAt   time.Time  `gorm:"index" json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	StartedAt   *time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
}

type JobItem struct {
	ID    uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID string `gorm:"size:26;not null;index:idx_job_items_job_status,priority:1;uniqueIndex:uq_job_items_job_recipient,priority:1" json:"jobId"`

	Recipient string     `gorm:"size:128;not null;uniqueIndex:uq_job_items_job_recipient,priority:2" json:"recipient"`
	Status    ItemStatus `gorm:"size:16;not null;index:idx_job_items_job_status,priority:2" json:"status"`

	MessageID   *string    `gorm:"size:128" json:"messageId"`
	Error       *string    `gorm:"type:text" json:"error"`
	ProcessedAt *time.Time `json:"processedAt"`

	CreatedAt time.Time `json:"createdAt"`
}
