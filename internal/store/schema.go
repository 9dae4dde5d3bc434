package store

// Schema is applied on every open; all statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS work_items (
	id INTEGER PRIMARY KEY,
	url TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	item_type TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT '',
	iteration_path TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '',
	assigned_display TEXT NOT NULL DEFAULT '',
	assigned_unique TEXT NOT NULL DEFAULT '',
	effort REAL,
	due_date TEXT,
	created_date TEXT NOT NULL DEFAULT '',
	changed_date TEXT NOT NULL DEFAULT '',
	start_date TEXT,
	in_progress_date TEXT,
	done_date TEXT,
	due_date_set_date TEXT,
	effective_due_date TEXT,
	effective_due_source TEXT NOT NULL DEFAULT '',
	expected_days INTEGER,
	forecast_due_date TEXT,
	commitment_variance_days INTEGER,
	forecast_variance_days INTEGER,
	slack_days INTEGER,
	planning_lag_days INTEGER,
	due_date_changed_count INTEGER NOT NULL DEFAULT 0,
	total_slip_days INTEGER NOT NULL DEFAULT 0,
	needs_attention INTEGER NOT NULL DEFAULT 0,
	attention_reason TEXT NOT NULL DEFAULT '',
	last_flagged_at TEXT,
	updated_at TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_work_items_state ON work_items(state);
CREATE INDEX IF NOT EXISTS idx_work_items_assignee ON work_items(assigned_unique);
CREATE INDEX IF NOT EXISTS idx_work_items_flagged ON work_items(needs_attention);

CREATE TABLE IF NOT EXISTS work_item_revisions (
	work_item_id INTEGER NOT NULL,
	rev INTEGER NOT NULL,
	changed_date TEXT NOT NULL,
	state TEXT NOT NULL DEFAULT '',
	due_date TEXT,
	effort REAL,
	PRIMARY KEY (work_item_id, rev)
);

CREATE TABLE IF NOT EXISTS notes (
	id TEXT PRIMARY KEY,
	work_item_id INTEGER NOT NULL,
	note TEXT NOT NULL,
	created_by TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	resolved INTEGER NOT NULL DEFAULT 0,
	resolved_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_notes_item ON notes(work_item_id);

CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
