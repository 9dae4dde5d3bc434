// Package notify fans triage flag transitions out to external sinks. All
// notifiers are best-effort: a delivery failure is logged by the caller and
// never fails a sync pass.
package notify

import (
	"context"
	"time"
)

// Event describes an item that just entered the attention pool.
type Event struct {
	WorkItemID int       `json:"id"`
	Title      string    `json:"title"`
	Assignee   string    `json:"assignee,omitempty"`
	Reason     string    `json:"reason"`
	URL        string    `json:"url,omitempty"`
	FlaggedAt  time.Time `json:"flaggedAt"`
}

// Notifier delivers one flag-transition event.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, ev Event) error
}
