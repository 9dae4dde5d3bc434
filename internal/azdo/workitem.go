package azdo

import (
	"encoding/json"
	"strconv"
	"time"
)

// Identity is the resolved assignee of a work item.
type Identity struct {
	DisplayName string `json:"displayName"`
	UniqueName  string `json:"uniqueName"`
}

// WorkItem is one snapshot from the workitemsbatch API. Fields holds the raw
// field map; the typed accessors degrade to the zero value / nil when a field
// is missing or malformed, so a sparse snapshot never fails an item.
type WorkItem struct {
	ID     int
	URL    string
	Fields map[string]json.RawMessage
}

func parseWorkItem(raw json.RawMessage) (WorkItem, error) {
	var envelope struct {
		ID     int                        `json:"id"`
		URL    string                     `json:"url"`
		Fields map[string]json.RawMessage `json:"fields"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return WorkItem{}, err
	}
	return WorkItem{ID: envelope.ID, URL: envelope.URL, Fields: envelope.Fields}, nil
}

// GetString returns the field as a string, or "".
func (wi WorkItem) GetString(field string) string {
	raw, ok := wi.Fields[field]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	// Non-string scalars (priorities arrive as numbers) fall back to their
	// JSON text.
	return string(raw)
}

// GetFloat returns the field as a float, or nil.
func (wi WorkItem) GetFloat(field string) *float64 {
	raw, ok := wi.Fields[field]
	if !ok {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return &v
		}
	}
	return nil
}

// GetDate returns the field as a timestamp, or nil.
func (wi WorkItem) GetDate(field string) *time.Time {
	raw, ok := wi.Fields[field]
	if !ok {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

// GetIdentity returns the field as an identity object, or nil.
func (wi WorkItem) GetIdentity(field string) *Identity {
	raw, ok := wi.Fields[field]
	if !ok {
		return nil
	}
	var ident Identity
	if err := json.Unmarshal(raw, &ident); err != nil {
		return nil
	}
	if ident.DisplayName == "" && ident.UniqueName == "" {
		return nil
	}
	return &ident
}

// Revision is one entry of an item's revision history. Rev numbers are
// assigned by the server and strictly ordered; ChangedDate may not be.
type Revision struct {
	Rev         int
	ChangedDate time.Time
	State       string
	DueDate     *time.Time
	Effort      *float64
}

func parseRevision(raw json.RawMessage, effortField, dueDateField string) Revision {
	var envelope struct {
		Rev    int                        `json:"rev"`
		Fields map[string]json.RawMessage `json:"fields"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Revision{}
	}

	wi := WorkItem{Fields: envelope.Fields}
	r := Revision{
		Rev:     envelope.Rev,
		State:   wi.GetString("System.State"),
		DueDate: wi.GetDate(dueDateField),
		Effort:  wi.GetFloat(effortField),
	}
	if t := wi.GetDate("System.ChangedDate"); t != nil {
		r.ChangedDate = *t
	}
	return r
}
