package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MertK96/azure-boardmetrics/internal/azdo"
	"github.com/MertK96/azure-boardmetrics/internal/config"
	"github.com/MertK96/azure-boardmetrics/internal/notify"
	"github.com/MertK96/azure-boardmetrics/internal/store"
)

type fakeSource struct {
	mu        sync.Mutex
	items     map[int]azdo.WorkItem
	revisions map[int][]azdo.Revision

	queryErr error
	batchErr error

	queries []time.Time
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		items:     map[int]azdo.WorkItem{},
		revisions: map[int][]azdo.Revision{},
	}
}

func (f *fakeSource) QueryChangedIDs(ctx context.Context, since time.Time) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, since)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	ids := make([]int, 0, len(f.items))
	for id := range f.items {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeSource) FetchBatch(ctx context.Context, ids []int) ([]azdo.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := make([]azdo.WorkItem, 0, len(ids))
	for _, id := range ids {
		if wi, ok := f.items[id]; ok {
			out = append(out, wi)
		}
	}
	return out, nil
}

func (f *fakeSource) ListRevisions(ctx context.Context, id int) ([]azdo.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revisions[id], nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (n *fakeNotifier) Name() string { return "fake" }

func (n *fakeNotifier) Notify(ctx context.Context, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Sync.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	cfg.Sync.ChunkSize = 2
	cfg.Metrics.UseBusinessDays = false
	return cfg
}

func openTestStore(t *testing.T, cfg *config.Config) *store.Store {
	t.Helper()
	st, err := store.Open(cfg.Sync.DatabasePath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func rawField(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func snapshot(id int, title, state, assignee, changed string, effort *float64, due *time.Time) azdo.WorkItem {
	fields := map[string]json.RawMessage{
		"System.Title":        rawField(title),
		"System.WorkItemType": rawField("Task"),
		"System.State":        rawField(state),
		"System.CreatedDate":  rawField("2020-01-01T00:00:00Z"),
		"System.ChangedDate":  rawField(changed),
	}
	if assignee != "" {
		fields["System.AssignedTo"] = rawField(map[string]string{
			"displayName": "Test User",
			"uniqueName":  assignee,
		})
	}
	if effort != nil {
		fields["Microsoft.VSTS.Scheduling.Effort"] = rawField(*effort)
	}
	if due != nil {
		fields["Microsoft.VSTS.Scheduling.TargetDate"] = rawField(due.Format(time.RFC3339))
	}
	return azdo.WorkItem{ID: id, URL: fmt.Sprintf("https://dev.azure.com/org/_wi/%d", id), Fields: fields}
}

func TestRunOnceStoresItemsAndRevisions(t *testing.T) {
	cfg := testConfig(t)
	st := openTestStore(t, cfg)
	src := newFakeSource()

	src.items[1] = snapshot(1, "Implement parser", "In Progress", "dev@example.com", "2020-01-06T12:00:00Z", fp(8), nil)
	src.revisions[1] = []azdo.Revision{
		{Rev: 1, ChangedDate: ts("2020-01-02T09:00:00Z"), State: "New"},
		{Rev: 2, ChangedDate: ts("2020-01-06T12:00:00Z"), State: "In Progress", Effort: fp(8)},
	}

	c := New(cfg, st, src, nil)
	c.now = func() time.Time { return ts("2020-01-07T00:00:00Z") }

	res, err := c.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Processed != 1 {
		t.Fatalf("Processed = %d, want 1", res.Processed)
	}

	item, err := st.GetItem(1)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if item.Title != "Implement parser" || item.State != "In Progress" {
		t.Errorf("stored item = %+v", item)
	}
	if item.InProgressDate == nil || !item.InProgressDate.Equal(ts("2020-01-06T12:00:00Z")) {
		t.Errorf("InProgressDate = %v", item.InProgressDate)
	}
	if item.ForecastDueDate == nil {
		t.Error("ForecastDueDate = nil, want derived forecast")
	}

	revs, err := st.RevisionsByItem(1)
	if err != nil {
		t.Fatalf("RevisionsByItem: %v", err)
	}
	if len(revs) != 2 {
		t.Errorf("stored %d revisions, want 2", len(revs))
	}
}

func TestRunOnceAdvancesWatermarkMonotonically(t *testing.T) {
	cfg := testConfig(t)
	st := openTestStore(t, cfg)
	src := newFakeSource()

	src.items[1] = snapshot(1, "A", "In Progress", "", "2020-01-06T12:00:00Z", nil, nil)
	src.revisions[1] = []azdo.Revision{{Rev: 1, ChangedDate: ts("2020-01-06T12:00:00Z"), State: "In Progress"}}

	c := New(cfg, st, src, nil)
	c.now = func() time.Time { return ts("2020-01-07T00:00:00Z") }

	res, err := c.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	want := ts("2020-01-06T12:00:00Z").Add(-cfg.Sync.Overlap)
	if !res.Watermark.Equal(want) {
		t.Errorf("Watermark = %v, want max changed minus overlap %v", res.Watermark, want)
	}

	// Second pass sees the same item with an older changed date; the
	// watermark must not regress.
	res2, err := c.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if res2.Watermark.Before(res.Watermark) {
		t.Errorf("watermark regressed: %v -> %v", res.Watermark, res2.Watermark)
	}
}

func TestRunOnceEmptyPassKeepsWatermark(t *testing.T) {
	cfg := testConfig(t)
	st := openTestStore(t, cfg)
	src := newFakeSource()

	c := New(cfg, st, src, nil)
	now := ts("2020-01-07T00:00:00Z")
	c.now = func() time.Time { return now }

	res, err := c.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Processed != 0 {
		t.Fatalf("Processed = %d, want 0", res.Processed)
	}
	// No stored watermark yet: the next pass still derives it from lookback.
	got := st.Watermark(now, cfg.Sync.Lookback)
	if want := now.Add(-cfg.Sync.Lookback); !got.Equal(want) {
		t.Errorf("watermark = %v, want lookback default %v", got, want)
	}
}

func TestRunOnceAbortLeavesWatermarkUntouched(t *testing.T) {
	cfg := testConfig(t)
	st := openTestStore(t, cfg)
	src := newFakeSource()

	src.items[1] = snapshot(1, "A", "In Progress", "", "2020-01-06T12:00:00Z", nil, nil)
	src.revisions[1] = []azdo.Revision{{Rev: 1, ChangedDate: ts("2020-01-06T12:00:00Z"), State: "In Progress"}}

	c := New(cfg, st, src, nil)
	now := ts("2020-01-07T00:00:00Z")
	c.now = func() time.Time { return now }

	if _, err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("seed pass: %v", err)
	}
	before := st.Watermark(now, cfg.Sync.Lookback)

	src.mu.Lock()
	src.batchErr = errors.New("boom")
	src.mu.Unlock()

	if _, err := c.RunOnce(context.Background()); err == nil {
		t.Fatal("want error from failing batch")
	}
	after := st.Watermark(now, cfg.Sync.Lookback)
	if !after.Equal(before) {
		t.Errorf("watermark moved on aborted pass: %v -> %v", before, after)
	}
}

func TestRunOnceFiltersByAllowedUsers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Azdo.Users = []string{"Dev@Example.com"}
	st := openTestStore(t, cfg)
	src := newFakeSource()

	src.items[1] = snapshot(1, "Mine", "In Progress", "dev@example.com", "2020-01-06T12:00:00Z", nil, nil)
	src.items[2] = snapshot(2, "Theirs", "In Progress", "other@example.com", "2020-01-06T13:00:00Z", nil, nil)
	src.items[3] = snapshot(3, "Unassigned", "In Progress", "", "2020-01-06T14:00:00Z", nil, nil)
	src.revisions[1] = []azdo.Revision{{Rev: 1, ChangedDate: ts("2020-01-06T12:00:00Z"), State: "In Progress"}}

	c := New(cfg, st, src, nil)
	c.now = func() time.Time { return ts("2020-01-07T00:00:00Z") }

	res, err := c.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Processed != 1 {
		t.Errorf("Processed = %d, want only the allow-listed item", res.Processed)
	}
	if _, err := st.GetItem(2); !errors.Is(err, store.ErrNotFound) {
		t.Error("filtered item was stored")
	}
}

func TestRunOnceNotifiesOnFlagTransition(t *testing.T) {
	cfg := testConfig(t)
	st := openTestStore(t, cfg)
	src := newFakeSource()
	fn := &fakeNotifier{}

	// Due date slipped twice: the slip rule fires.
	src.items[1] = snapshot(1, "Slipping", "In Progress", "dev@example.com", "2020-01-06T12:00:00Z", nil, tp("2020-01-20T00:00:00Z"))
	src.revisions[1] = []azdo.Revision{
		{Rev: 1, ChangedDate: ts("2020-01-02T09:00:00Z"), State: "In Progress", DueDate: tp("2020-01-10T00:00:00Z")},
		{Rev: 2, ChangedDate: ts("2020-01-06T12:00:00Z"), State: "In Progress", DueDate: tp("2020-01-20T00:00:00Z")},
	}

	c := New(cfg, st, src, []notify.Notifier{fn})
	passStart := ts("2020-01-07T00:00:00Z")
	c.now = func() time.Time { return passStart }

	res, err := c.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Flagged != 1 {
		t.Fatalf("Flagged = %d, want 1", res.Flagged)
	}

	fn.mu.Lock()
	events := append([]notify.Event(nil), fn.events...)
	fn.mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("got %d notifications, want 1", len(events))
	}
	if events[0].WorkItemID != 1 || events[0].Reason == "" {
		t.Errorf("event = %+v", events[0])
	}

	item, err := st.GetItem(1)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if item.LastFlaggedAt == nil || !item.LastFlaggedAt.Equal(passStart) {
		t.Errorf("LastFlaggedAt = %v, want pass start", item.LastFlaggedAt)
	}

	// Still flagged on the next pass: no second notification.
	if _, err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	fn.mu.Lock()
	n := len(fn.events)
	fn.mu.Unlock()
	if n != 1 {
		t.Errorf("got %d notifications after second pass, want still 1", n)
	}
}

func TestRunOnceNotifierFailureDoesNotFailPass(t *testing.T) {
	cfg := testConfig(t)
	st := openTestStore(t, cfg)
	src := newFakeSource()
	fn := &fakeNotifier{err: errors.New("slack down")}

	src.items[1] = snapshot(1, "Slipping", "In Progress", "", "2020-01-06T12:00:00Z", nil, tp("2020-01-20T00:00:00Z"))
	src.revisions[1] = []azdo.Revision{
		{Rev: 1, ChangedDate: ts("2020-01-02T09:00:00Z"), State: "In Progress", DueDate: tp("2020-01-10T00:00:00Z")},
		{Rev: 2, ChangedDate: ts("2020-01-06T12:00:00Z"), State: "In Progress", DueDate: tp("2020-01-20T00:00:00Z")},
	}

	c := New(cfg, st, src, []notify.Notifier{fn})
	c.now = func() time.Time { return ts("2020-01-07T00:00:00Z") }

	if _, err := c.RunOnce(context.Background()); err != nil {
		t.Errorf("pass failed on notifier error: %v", err)
	}
}

func TestRunOnceSkipsRevisionFetchWhenUpToDate(t *testing.T) {
	cfg := testConfig(t)
	st := openTestStore(t, cfg)
	src := newFakeSource()

	src.items[1] = snapshot(1, "Stable", "In Progress", "", "2020-01-06T12:00:00Z", nil, nil)
	src.revisions[1] = []azdo.Revision{{Rev: 1, ChangedDate: ts("2020-01-06T12:00:00Z"), State: "In Progress"}}

	c := New(cfg, st, src, nil)
	c.now = func() time.Time { return ts("2020-01-07T00:00:00Z") }

	if _, err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	// Poison the revision endpoint; the second pass must not touch it.
	src.mu.Lock()
	src.revisions[1] = []azdo.Revision{{Rev: 99, ChangedDate: ts("2030-01-01T00:00:00Z"), State: "Broken"}}
	src.mu.Unlock()

	if _, err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	revs, err := st.RevisionsByItem(1)
	if err != nil {
		t.Fatalf("RevisionsByItem: %v", err)
	}
	if len(revs) != 1 || revs[0].Rev != 1 {
		t.Errorf("revisions refetched for up-to-date item: %+v", revs)
	}
}
