// Package events publishes job lifecycle changes for outside consumers
// (dashboards, notification services). Publishing is best-effort: the job
// tables stay the source of truth.
package events

import (
	"context"
	"time"
)

type Event struct {
	Type     string    `json:"type"` // job.<status>
	JobID    string    `json:"job_id"`
	UserID   uint64    `json:"user_id"`
	DeviceID string    `json:"device_id"`
	Status   string    `json:"status"`
	Total    int       `json:"total"`
	Sent     int       `json:"sent"`
	Failed   int       `json:"failed"`
	Error    *string   `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
