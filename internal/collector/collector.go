// Package collector drives the incremental synchronization of Azure DevOps
// work items into the local store: watermark-based polling, revision
// reconciliation, metrics derivation and triage evaluation.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MertK96/azure-boardmetrics/internal/azdo"
	"github.com/MertK96/azure-boardmetrics/internal/config"
	"github.com/MertK96/azure-boardmetrics/internal/metrics"
	"github.com/MertK96/azure-boardmetrics/internal/notify"
	"github.com/MertK96/azure-boardmetrics/internal/store"
)

// Source is the narrow interface onto the external tracker. *azdo.Client
// implements it; tests substitute fakes.
type Source interface {
	QueryChangedIDs(ctx context.Context, since time.Time) ([]int, error)
	FetchBatch(ctx context.Context, ids []int) ([]azdo.WorkItem, error)
	ListRevisions(ctx context.Context, id int) ([]azdo.Revision, error)
}

// Result summarizes one sync pass.
type Result struct {
	Queried   int           `json:"queried"`
	Processed int           `json:"processed"`
	Flagged   int           `json:"newlyFlagged"`
	Watermark time.Time     `json:"watermark"`
	Duration  time.Duration `json:"duration"`
}

// Collector runs sync passes against the store. One pass at a time: the
// interval loop and manual refreshes serialize on an internal mutex.
type Collector struct {
	cfg       *config.Config
	store     *store.Store
	source    Source
	notifiers []notify.Notifier

	// now is a test seam; defaults to time.Now.
	now func() time.Time

	mu sync.Mutex
}

func New(cfg *config.Config, st *store.Store, src Source, notifiers []notify.Notifier) *Collector {
	return &Collector{
		cfg:       cfg,
		store:     st,
		source:    src,
		notifiers: notifiers,
		now:       time.Now,
	}
}

// Run blocks until ctx is cancelled, executing one pass per configured
// interval. Pass failures are logged and the timer re-arms; nothing here is
// fatal.
func (c *Collector) Run(ctx context.Context) error {
	slog.Info("collector started", "interval", c.cfg.Sync.Interval)

	if delay := c.cfg.Sync.StartupDelay; delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	for {
		if _, err := c.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				slog.Info("collector stopped")
				return ctx.Err()
			}
			slog.Error("collector pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			slog.Info("collector stopped")
			return ctx.Err()
		case <-time.After(c.cfg.Sync.Interval):
		}
	}
}

// RunOnce executes a single sync pass. On any error the pass is abandoned
// and the watermark keeps its pre-pass value, so the same window is retried
// on the next tick. Item upserts from earlier chunks may already be durable;
// the deriver is idempotent, so reprocessing them is a no-op.
func (c *Collector) RunOnce(ctx context.Context) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.now().UTC()
	since := c.store.Watermark(start, c.cfg.Sync.Lookback)
	slog.Info("collecting work items", "since", since)

	ids, err := c.source.QueryChangedIDs(ctx, since)
	if err != nil {
		return Result{}, fmt.Errorf("query changed ids: %w", err)
	}

	allowed := c.cfg.Azdo.AllowedUsers()
	maxChanged := since
	res := Result{Queried: len(ids), Watermark: since}

	chunkSize := c.cfg.Sync.ChunkSize
	for off := 0; off < len(ids); off += chunkSize {
		end := off + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		items, err := c.source.FetchBatch(ctx, ids[off:end])
		if err != nil {
			return Result{}, fmt.Errorf("fetch batch: %w", err)
		}

		for _, wi := range items {
			if len(allowed) > 0 && !allowedAssignee(wi, allowed) {
				continue
			}
			changed, flagged, err := c.processItem(ctx, wi, start)
			if err != nil {
				return Result{}, fmt.Errorf("process item %d: %w", wi.ID, err)
			}
			if changed.After(maxChanged) {
				maxChanged = changed
			}
			if flagged {
				res.Flagged++
			}
			res.Processed++
		}
	}

	if res.Processed > 0 {
		// Small overlap so edits landing in the same instant as the newest
		// processed change are not missed; never regress below the old value.
		newSince := maxChanged.Add(-c.cfg.Sync.Overlap)
		if newSince.Before(since) {
			newSince = since
		}
		if err := c.store.SetWatermark(newSince); err != nil {
			return Result{}, err
		}
		res.Watermark = newSince
		slog.Info("collector pass done", "processed", res.Processed, "flagged", res.Flagged, "watermark", newSince)
	} else {
		slog.Info("collector pass done, no items after watermark", "since", since)
	}

	res.Duration = c.now().UTC().Sub(start)
	return res, nil
}

// allowedAssignee resolves the snapshot's assignee and checks it against the
// normalized allow-list. Unassigned items are skipped when a list is set.
func allowedAssignee(wi azdo.WorkItem, allowed map[string]bool) bool {
	ident := wi.GetIdentity("System.AssignedTo")
	if ident == nil {
		return false
	}
	key := ident.UniqueName
	if key == "" {
		key = ident.DisplayName
	}
	key = normalizeUser(key)
	return key != "" && allowed[key]
}

func normalizeUser(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// processItem reconciles one item's revisions, derives its metrics, runs the
// triage rules and upserts the row. Returns the item's change timestamp and
// whether the attention flag transitioned on this pass.
func (c *Collector) processItem(ctx context.Context, wi azdo.WorkItem, passStart time.Time) (time.Time, bool, error) {
	prev, err := c.store.GetItem(wi.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return time.Time{}, false, err
	}

	item := c.buildItem(wi, prev)

	storedRevs, err := c.store.RevisionsByItem(wi.ID)
	if err != nil {
		return time.Time{}, false, err
	}

	merged := storedRevs
	if needsRefresh(storedRevs, item.ChangedDate) {
		fetched, err := c.source.ListRevisions(ctx, wi.ID)
		if err != nil {
			return time.Time{}, false, err
		}
		var dirty []store.Revision
		merged, dirty = mergeRevisions(wi.ID, storedRevs, fetched)
		for _, r := range dirty {
			if err := c.store.UpsertRevision(r); err != nil {
				return time.Time{}, false, err
			}
		}
	}

	derived := metrics.Derive(item.Effort, item.DueDate, merged, c.cfg.Metrics)
	applyDerived(item, derived)

	verdict := metrics.Evaluate(derived, c.cfg.Rules)
	item.NeedsAttention = verdict.Flagged
	item.AttentionReason = verdict.Reason

	newlyFlagged := verdict.Flagged && (prev == nil || !prev.NeedsAttention)
	if prev != nil {
		item.LastFlaggedAt = prev.LastFlaggedAt
	}
	if newlyFlagged {
		t := passStart
		item.LastFlaggedAt = &t
	}

	item.UpdatedAt = passStart
	if err := c.store.UpsertItem(item); err != nil {
		return time.Time{}, false, err
	}

	if newlyFlagged {
		c.fanOut(ctx, item)
	}
	return item.ChangedDate, newlyFlagged, nil
}

// buildItem maps a snapshot onto a store row, keeping the previous row's
// values where the snapshot is missing a field.
func (c *Collector) buildItem(wi azdo.WorkItem, prev *store.WorkItem) *store.WorkItem {
	item := &store.WorkItem{ID: wi.ID, URL: wi.URL}
	item.Title = wi.GetString("System.Title")
	item.Type = wi.GetString("System.WorkItemType")
	item.State = wi.GetString("System.State")
	item.IterationPath = wi.GetString("System.IterationPath")
	item.Tags = wi.GetString("System.Tags")

	if ident := wi.GetIdentity("System.AssignedTo"); ident != nil {
		item.AssignedToDisplayName = ident.DisplayName
		item.AssignedToUniqueName = ident.UniqueName
	}

	if t := wi.GetDate("System.CreatedDate"); t != nil {
		item.CreatedDate = *t
	} else if prev != nil {
		item.CreatedDate = prev.CreatedDate
	}
	if t := wi.GetDate("System.ChangedDate"); t != nil {
		item.ChangedDate = *t
	} else if prev != nil {
		item.ChangedDate = prev.ChangedDate
	}

	item.Effort = wi.GetFloat(c.cfg.Azdo.EffortField)
	item.DueDate = wi.GetDate(c.cfg.Azdo.DueDateField)
	return item
}

func applyDerived(item *store.WorkItem, d metrics.Derived) {
	item.StartDate = d.StartDate
	item.InProgressDate = d.InProgressDate
	item.DoneDate = d.DoneDate
	item.DueDateSetDate = d.DueDateSetDate
	item.EffectiveDueDate = d.EffectiveDueDate
	item.EffectiveDueDateSource = d.EffectiveDueDateSource
	item.ExpectedDays = d.ExpectedDays
	item.ForecastDueDate = d.ForecastDueDate
	item.CommitmentVarianceDays = d.CommitmentVarianceDays
	item.ForecastVarianceDays = d.ForecastVarianceDays
	item.SlackDays = d.SlackDays
	item.PlanningLagDays = d.PlanningLagDays
	item.DueDateChangedCount = d.DueDateChangedCount
	item.TotalSlipDays = d.TotalSlipDays
}

// fanOut delivers the flag transition to every configured notifier.
// Best-effort: failures are logged, never returned.
func (c *Collector) fanOut(ctx context.Context, item *store.WorkItem) {
	if len(c.notifiers) == 0 {
		return
	}
	ev := notify.Event{
		WorkItemID: item.ID,
		Title:      item.Title,
		Assignee:   item.AssignedToUniqueName,
		Reason:     item.AttentionReason,
		URL:        item.URL,
	}
	if item.LastFlaggedAt != nil {
		ev.FlaggedAt = *item.LastFlaggedAt
	}
	for _, n := range c.notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			slog.Warn("triage notification failed", "notifier", n.Name(), "item", item.ID, "error", err)
		}
	}
}
