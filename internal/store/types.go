package store

import "time"

// WorkItem is one mirrored Azure DevOps work item plus its derived scheduling
// fields. Derived fields are written only by the collector after running the
// metrics deriver; no other path mutates them.
type WorkItem struct {
	ID  int    `json:"id"`
	URL string `json:"url,omitempty"`

	Title         string `json:"title"`
	Type          string `json:"workItemType"`
	State         string `json:"state"`
	IterationPath string `json:"iterationPath,omitempty"`
	Tags          string `json:"tags,omitempty"`

	AssignedToDisplayName string `json:"assignedToDisplayName,omitempty"`
	AssignedToUniqueName  string `json:"assignedToUniqueName,omitempty"`

	Effort  *float64   `json:"effort,omitempty"`
	DueDate *time.Time `json:"dueDate,omitempty"`

	CreatedDate time.Time `json:"createdDate"`
	ChangedDate time.Time `json:"changedDate"`

	// Derived timeline.
	StartDate      *time.Time `json:"startDate,omitempty"`
	InProgressDate *time.Time `json:"inProgressDate,omitempty"`
	DoneDate       *time.Time `json:"doneDate,omitempty"`
	DueDateSetDate *time.Time `json:"dueDateSetDate,omitempty"`

	// EffectiveDueDate is the explicit due date if set, else the forecast.
	EffectiveDueDate *time.Time `json:"effectiveDueDate,omitempty"`
	// EffectiveDueDateSource is "due", "forecast" or "".
	EffectiveDueDateSource string `json:"effectiveDueDateSource,omitempty"`

	ExpectedDays           *int       `json:"expectedDays,omitempty"`
	ForecastDueDate        *time.Time `json:"forecastDueDate,omitempty"`
	CommitmentVarianceDays *int       `json:"commitmentVarianceDays,omitempty"`
	ForecastVarianceDays   *int       `json:"forecastVarianceDays,omitempty"`
	SlackDays              *int       `json:"slackDays,omitempty"`
	PlanningLagDays        *int       `json:"planningLagDays,omitempty"`

	DueDateChangedCount int `json:"dueDateChangedCount"`
	TotalSlipDays       int `json:"totalSlipDays"`

	NeedsAttention  bool       `json:"needsAttention"`
	AttentionReason string     `json:"attentionReason,omitempty"`
	LastFlaggedAt   *time.Time `json:"lastFlaggedAt,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Revision is one historical snapshot of a work item's tracked fields,
// numbered by the source system. (WorkItemID, Rev) is unique; Rev is the
// only ordering key.
type Revision struct {
	WorkItemID  int        `json:"workItemId"`
	Rev         int        `json:"rev"`
	ChangedDate time.Time  `json:"changedDate"`
	State       string     `json:"state,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Effort      *float64   `json:"effort,omitempty"`
}

// Note is a human triage note attached to a work item.
type Note struct {
	ID         string     `json:"id"`
	WorkItemID int        `json:"workItemId"`
	Note       string     `json:"note"`
	CreatedBy  string     `json:"createdBy,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// NoteRow is a note joined with its work item for list views.
type NoteRow struct {
	Note
	Title    string `json:"title"`
	Assignee string `json:"assignee,omitempty"`
}

// ItemFilter narrows ListItems.
type ItemFilter struct {
	State       string
	Assignee    string
	FlaggedOnly bool
	Top         int
}

// / NoteFilter narrows ListNotes. Resolved: nil = all.
type NoteFilter struct {
	Assignee string
	Resolved *bool
	Top      int
}
