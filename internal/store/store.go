// Package store persists mirrored work items, their revision history, triage
// notes and the sync watermark in a local sqlite database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// watermarkKey is the single well-known kv key holding the sync cursor.
const watermarkKey = "sinceUtc"

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for shared access.
func (s *Store) DB() *sql.DB { return s.db }

// --- time encoding ---

const timeLayout = time.RFC3339Nano

func encodeTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func decodeTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := decodeTime(ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func intArg(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

func floatArg(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

// --- watermark ---

// Watermark returns the sync cursor, or now minus lookback if unset.
func (s *Store) Watermark(now time.Time, lookback time.Duration) time.Time {
	var val string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, watermarkKey).Scan(&val)
	if err != nil {
		return now.UTC().Add(-lookback)
	}
	t, err := decodeTime(val)
	if err != nil {
		return now.UTC().Add(-lookback)
	}
	return t
}

// SetWatermark overwrites the sync cursor.
func (s *Store) SetWatermark(t time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, watermarkKey, encodeTime(t))
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}

// --- work items ---

const itemColumns = `id, url, title, item_type, state, iteration_path, tags,
	assigned_display, assigned_unique, effort, due_date, created_date, changed_date,
	start_date, in_progress_date, done_date, due_date_set_date,
	effective_due_date, effective_due_source, expected_days, forecast_due_date,
	commitment_variance_days, forecast_variance_days, slack_days, planning_lag_days,
	due_date_changed_count, total_slip_days,
	needs_attention, attention_reason, last_flagged_at, updated_at`

// UpsertItem inserts or fully overwrites a work item row. Idempotent: the
// same item written twice leaves an identical row.
func (s *Store) UpsertItem(wi *WorkItem) error {
	_, err := s.db.Exec(`
		INSERT INTO work_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			title = excluded.title,
			item_type = excluded.item_type,
			state = excluded.state,
			iteration_path = excluded.iteration_path,
			tags = excluded.tags,
			assigned_display = excluded.assigned_display,
			assigned_unique = excluded.assigned_unique,
			effort = excluded.effort,
			due_date = excluded.due_date,
			created_date = excluded.created_date,
			changed_date = excluded.changed_date,
			start_date = excluded.start_date,
			in_progress_date = excluded.in_progress_date,
			done_date = excluded.done_date,
			due_date_set_date = excluded.due_date_set_date,
			effective_due_date = excluded.effective_due_date,
			effective_due_source = excluded.effective_due_source,
			expected_days = excluded.expected_days,
			forecast_due_date = excluded.forecast_due_date,
			commitment_variance_days = excluded.commitment_variance_days,
			forecast_variance_days = excluded.forecast_variance_days,
			slack_days = excluded.slack_days,
			planning_lag_days = excluded.planning_lag_days,
			due_date_changed_count = excluded.due_date_changed_count,
			total_slip_days = excluded.total_slip_days,
			needs_attention = excluded.needs_attention,
			attention_reason = excluded.attention_reason,
			last_flagged_at = excluded.last_flagged_at,
			updated_at = excluded.updated_at
	`,
		wi.ID, wi.URL, wi.Title, wi.Type, wi.State, wi.IterationPath, wi.Tags,
		wi.AssignedToDisplayName, wi.AssignedToUniqueName,
		floatArg(wi.Effort), encodeTimePtr(wi.DueDate),
		encodeTime(wi.CreatedDate), encodeTime(wi.ChangedDate),
		encodeTimePtr(wi.StartDate), encodeTimePtr(wi.InProgressDate),
		encodeTimePtr(wi.DoneDate), encodeTimePtr(wi.DueDateSetDate),
		encodeTimePtr(wi.EffectiveDueDate), wi.EffectiveDueDateSource,
		intArg(wi.ExpectedDays), encodeTimePtr(wi.ForecastDueDate),
		intArg(wi.CommitmentVarianceDays), intArg(wi.ForecastVarianceDays),
		intArg(wi.SlackDays), intArg(wi.PlanningLagDays),
		wi.DueDateChangedCount, wi.TotalSlipDays,
		wi.NeedsAttention, wi.AttentionReason, encodeTimePtr(wi.LastFlaggedAt),
		encodeTime(wi.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert item %d: %w", wi.ID, err)
	}
	return nil
}

func scanItem(row interface{ Scan(...any) error }) (*WorkItem, error) {
	var wi WorkItem
	var effort sql.NullFloat64
	var dueDate, startDate, inProgressDate, doneDate, dueDateSetDate sql.NullString
	var effectiveDueDate, forecastDueDate, lastFlaggedAt sql.NullString
	var createdDate, changedDate, updatedAt string
	var expected, commitVar, forecastVar, slack, planLag sql.NullInt64

	err := row.Scan(
		&wi.ID, &wi.URL, &wi.Title, &wi.Type, &wi.State, &wi.IterationPath, &wi.Tags,
		&wi.AssignedToDisplayName, &wi.AssignedToUniqueName,
		&effort, &dueDate, &createdDate, &changedDate,
		&startDate, &inProgressDate, &doneDate, &dueDateSetDate,
		&effectiveDueDate, &wi.EffectiveDueDateSource, &expected, &forecastDueDate,
		&commitVar, &forecastVar, &slack, &planLag,
		&wi.DueDateChangedCount, &wi.TotalSlipDays,
		&wi.NeedsAttention, &wi.AttentionReason, &lastFlaggedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	wi.Effort = floatPtr(effort)
	wi.DueDate = decodeTimePtr(dueDate)
	if t, err := decodeTime(createdDate); err == nil {
		wi.CreatedDate = t
	}
	if t, err := decodeTime(changedDate); err == nil {
		wi.ChangedDate = t
	}
	wi.StartDate = decodeTimePtr(startDate)
	wi.InProgressDate = decodeTimePtr(inProgressDate)
	wi.DoneDate = decodeTimePtr(doneDate)
	wi.DueDateSetDate = decodeTimePtr(dueDateSetDate)
	wi.EffectiveDueDate = decodeTimePtr(effectiveDueDate)
	wi.ExpectedDays = intPtr(expected)
	wi.ForecastDueDate = decodeTimePtr(forecastDueDate)
	wi.CommitmentVarianceDays = intPtr(commitVar)
	wi.ForecastVarianceDays = intPtr(forecastVar)
	wi.SlackDays = intPtr(slack)
	wi.PlanningLagDays = intPtr(planLag)
	wi.LastFlaggedAt = decodeTimePtr(lastFlaggedAt)
	if t, err := decodeTime(updatedAt); err == nil {
		wi.UpdatedAt = t
	}
	return &wi, nil
}

// GetItem returns one work item, or ErrNotFound.
func (s *Store) GetItem(id int) (*WorkItem, error) {
	row := s.db.QueryRow(`SELECT `+itemColumns+` FROM work_items WHERE id = ?`, id)
	wi, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item %d: %w", id, err)
	}
	return wi, nil
}

// ListItems returns items matching the filter, most recently changed first.
func (s *Store) ListItems(f ItemFilter) ([]WorkItem, error) {
	query := `SELECT ` + itemColumns + ` FROM work_items WHERE 1=1`
	args := []any{}

	if f.State != "" {
		query += " AND state = ?"
		args = append(args, f.State)
	}
	if f.Assignee != "" {
		query += " AND assigned_unique = ?"
		args = append(args, f.Assignee)
	}
	if f.FlaggedOnly {
		query += " AND needs_attention = 1"
	}
	query += " ORDER BY changed_date DESC"
	if f.Top > 0 {
		query += " LIMIT ?"
		args = append(args, f.Top)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []WorkItem
	for rows.Next() {
		wi, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *wi)
	}
	return items, rows.Err()
}

// CountItems returns total and flagged item counts.
func (s *Store) CountItems() (total, flagged int, err error) {
	err = s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(needs_attention), 0) FROM work_items`).Scan(&total, &flagged)
	return total, flagged, err
}

// --- revisions ---

// UpsertRevision inserts a revision, or overwrites the stored fields in place
// when the same (work item, rev) pair arrives with corrected values.
func (s *Store) UpsertRevision(r Revision) error {
	_, err := s.db.Exec(`
		INSERT INTO work_item_revisions (work_item_id, rev, changed_date, state, due_date, effort)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(work_item_id, rev) DO UPDATE SET
			changed_date = excluded.changed_date,
			state = excluded.state,
			due_date = excluded.due_date,
			effort = excluded.effort
	`, r.WorkItemID, r.Rev, encodeTime(r.ChangedDate), r.State, encodeTimePtr(r.DueDate), floatArg(r.Effort))
	if err != nil {
		return fmt.Errorf("upsert revision %d/%d: %w", r.WorkItemID, r.Rev, err)
	}
	return nil
}

// RevisionsByItem returns the stored history for one item ordered by
// revision number.
func (s *Store) RevisionsByItem(id int) ([]Revision, error) {
	rows, err := s.db.Query(`
		SELECT work_item_id, rev, changed_date, state, due_date, effort
		FROM work_item_revisions WHERE work_item_id = ? ORDER BY rev ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("revisions for %d: %w", id, err)
	}
	defer rows.Close()

	var revs []Revision
	for rows.Next() {
		var r Revision
		var changed string
		var dueDate sql.NullString
		var effort sql.NullFloat64
		if err := rows.Scan(&r.WorkItemID, &r.Rev, &changed, &r.State, &dueDate, &effort); err != nil {
			return nil, err
		}
		if t, err := decodeTime(changed); err == nil {
			r.ChangedDate = t
		}
		r.DueDate = decodeTimePtr(dueDate)
		r.Effort = floatPtr(effort)
		revs = append(revs, r)
	}
	return revs, rows.Err()
}

// --- notes ---

// AddNote inserts a note. ID is generated if empty.
func (s *Store) AddNote(n *Note) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO notes (id, work_item_id, note, created_by, created_at, resolved, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.WorkItemID, n.Note, n.CreatedBy, encodeTime(n.CreatedAt), n.Resolved, encodeTimePtr(n.ResolvedAt))
	if err != nil {
		return fmt.Errorf("add note: %w", err)
	}
	return nil
}

// NotesByItem returns the notes for one item, newest first.
func (s *Store) NotesByItem(id int) ([]Note, error) {
	rows, err := s.db.Query(`
		SELECT id, work_item_id, note, created_by, created_at, resolved, resolved_at
		FROM notes WHERE work_item_id = ? ORDER BY created_at DESC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("notes for %d: %w", id, err)
	}
	defer rows.Close()
	return scanNotes(rows)
}

func scanNotes(rows *sql.Rows) ([]Note, error) {
	var notes []Note
	for rows.Next() {
		var n Note
		var created string
		var resolvedAt sql.NullString
		if err := rows.Scan(&n.ID, &n.WorkItemID, &n.Note, &n.CreatedBy, &created, &n.Resolved, &resolvedAt); err != nil {
			return nil, err
		}
		if t, err := decodeTime(created); err == nil {
			n.CreatedAt = t
		}
		n.ResolvedAt = decodeTimePtr(resolvedAt)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// ListNotes returns note rows joined with their work items, newest first.
func (s *Store) ListNotes(f NoteFilter) ([]NoteRow, error) {
	query := `
		SELECT n.id, n.work_item_id, n.note, n.created_by, n.created_at, n.resolved, n.resolved_at,
			w.title, CASE WHEN w.assigned_unique != '' THEN w.assigned_unique ELSE w.assigned_display END
		FROM notes n JOIN work_items w ON w.id = n.work_item_id
		WHERE 1=1`
	args := []any{}

	if f.Assignee != "" {
		query += " AND w.assigned_unique = ?"
		args = append(args, f.Assignee)
	}
	if f.Resolved != nil {
		query += " AND n.resolved = ?"
		args = append(args, *f.Resolved)
	}
	query += " ORDER BY n.created_at DESC"
	if f.Top > 0 {
		query += " LIMIT ?"
		args = append(args, f.Top)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var out []NoteRow
	for rows.Next() {
		var r NoteRow
		var created string
		var resolvedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.WorkItemID, &r.Note.Note, &r.CreatedBy, &created, &r.Resolved, &resolvedAt,
			&r.Title, &r.Assignee); err != nil {
			return nil, err
		}
		if t, err := decodeTime(created); err == nil {
			r.CreatedAt = t
		}
		r.ResolvedAt = decodeTimePtr(resolvedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResolveNote sets or clears a note's resolved flag.
func (s *Store) ResolveNote(id string, resolved bool, at time.Time) error {
	var resolvedAt any
	if resolved {
		resolvedAt = encodeTime(at)
	}
	res, err := s.db.Exec(`UPDATE notes SET resolved = ?, resolved_at = ? WHERE id = ?`, resolved, resolvedAt, id)
	if err != nil {
		return fmt.Errorf("resolve note %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Assignees returns the distinct assignees that currently have items,
// preferring the unique name over the display name.
func (s *Store) Assignees() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT CASE WHEN assigned_unique != '' THEN assigned_unique ELSE assigned_display END AS who
		FROM work_items WHERE who != '' ORDER BY who
	`)
	if err != nil {
		return nil, fmt.Errorf("list assignees: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var who string
		if err := rows.Scan(&who); err != nil {
			return nil, err
		}
		out = append(out, who)
	}
	return out, rows.Err()
}

// SetAttention flags or unflags an item manually, outside the rule engine.
// The next sync pass re-evaluates the rules and may overwrite it.
func (s *Store) SetAttention(id int, flagged bool, reason string, at time.Time) error {
	var flaggedAt any
	if flagged {
		flaggedAt = encodeTime(at)
	}
	res, err := s.db.Exec(`
		UPDATE work_items SET needs_attention = ?, attention_reason = ?, last_flagged_at = COALESCE(?, last_flagged_at), updated_at = ?
		WHERE id = ?
	`, flagged, reason, flaggedAt, encodeTime(at), id)
	if err != nil {
		return fmt.Errorf("set attention on %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
