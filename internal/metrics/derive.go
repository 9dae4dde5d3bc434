// Package metrics derives scheduling fields from a work item's revision
// history and evaluates the triage rules over them. Everything here is a pure
// function of its inputs: revision history supplies every timestamp, ordering
// is by revision number only, and the wall clock is never read.
package metrics

import (
	"math"
	"strings"
	"time"

	"github.com/MertK96/azure-boardmetrics/internal/config"
	"github.com/MertK96/azure-boardmetrics/internal/store"
)

// Derived holds the metrics computed from one item's snapshot and history.
// Nil means the metric is undefined for this item.
type Derived struct {
	StartDate      *time.Time
	InProgressDate *time.Time
	DoneDate       *time.Time
	DueDateSetDate *time.Time

	ExpectedDays    *int
	ForecastDueDate *time.Time

	EffectiveDueDate *time.Time
	// EffectiveDueDateSource is "due", "forecast" or "".
	EffectiveDueDateSource string

	CommitmentVarianceDays *int
	ForecastVarianceDays   *int
	SlackDays              *int
	PlanningLagDays        *int

	DueDateChangedCount int
	TotalSlipDays       int
}

// Derive computes the scheduling metrics for one item. revs must be ordered
// by revision number ascending.
func Derive(effort *float64, dueDate *time.Time, revs []store.Revision, cfg config.MetricsConfig) Derived {
	var d Derived

	d.StartDate = firstStateEntry(revs, cfg.StartStates)
	d.InProgressDate = firstStateEntry(revs, cfg.InProgressStates)
	d.DoneDate = firstStateEntry(revs, cfg.DoneStates)
	d.DueDateSetDate = dueDateSetDate(revs)
	d.DueDateChangedCount, d.TotalSlipDays = dueDateChurn(revs)

	if effort != nil {
		v := expectedDays(*effort, cfg.EffortPerDay, cfg.Rounding)
		d.ExpectedDays = &v
	}

	// Forecast base: StartDate, falling back to InProgressDate (Bugs often
	// never pass through a start state).
	base := d.StartDate
	if base == nil {
		base = d.InProgressDate
	}
	if base != nil && d.ExpectedDays != nil {
		start := dateOnly(*base)
		var forecast time.Time
		if cfg.UseBusinessDays {
			forecast = addBusinessDays(start, *d.ExpectedDays)
		} else {
			forecast = start.AddDate(0, 0, *d.ExpectedDays)
		}
		d.ForecastDueDate = &forecast
	}

	switch {
	case dueDate != nil:
		d.EffectiveDueDate = dueDate
		d.EffectiveDueDateSource = "due"
	case d.ForecastDueDate != nil:
		d.EffectiveDueDate = d.ForecastDueDate
		d.EffectiveDueDateSource = "forecast"
	}

	if d.DoneDate != nil {
		done := dateOnly(*d.DoneDate)
		if d.EffectiveDueDate != nil {
			v := daysBetween(dateOnly(*d.EffectiveDueDate), done)
			d.CommitmentVarianceDays = &v
		}
		if d.ForecastDueDate != nil {
			v := daysBetween(dateOnly(*d.ForecastDueDate), done)
			d.ForecastVarianceDays = &v
		}
		if d.EffectiveDueDate != nil && d.ForecastDueDate != nil {
			v := daysBetween(dateOnly(*d.ForecastDueDate), dateOnly(*d.EffectiveDueDate))
			d.SlackDays = &v
		}
	}

	if d.DueDateSetDate != nil && d.StartDate != nil {
		v := daysBetween(dateOnly(*d.StartDate), dateOnly(*d.DueDateSetDate))
		d.PlanningLagDays = &v
	}

	return d
}

// firstStateEntry returns the timestamp of the first revision entering one of
// the target states: either the first revision with a non-empty state already
// in the set, or the first revision whose state is in the set while the
// previous revision's was not.
func firstStateEntry(revs []store.Revision, targetStates []string) *time.Time {
	set := make(map[string]bool, len(targetStates))
	for _, s := range targetStates {
		set[strings.ToLower(s)] = true
	}

	prev := ""
	for _, r := range revs {
		if r.State == "" {
			continue
		}
		cur := strings.ToLower(r.State)
		if prev == "" {
			if set[cur] {
				t := r.ChangedDate
				return &t
			}
		} else if !set[prev] && set[cur] {
			t := r.ChangedDate
			return &t
		}
		prev = cur
	}
	return nil
}

// dueDateSetDate returns the timestamp of the first revision where a
// previously absent due date became set. Later clear/set cycles don't count.
func dueDateSetDate(revs []store.Revision) *time.Time {
	var prev *time.Time
	for _, r := range revs {
		if prev == nil && r.DueDate != nil {
			t := r.ChangedDate
			return &t
		}
		prev = r.DueDate
	}
	return nil
}

// dueDateChurn counts day-granularity due date changes and sums the days the
// date moved later. Pull-ins count as changes but never subtract from slip.
// A revision clearing the due date resets tracking, so the next set date is
// a fresh baseline rather than a change.
func dueDateChurn(revs []store.Revision) (changed, slip int) {
	var prev *time.Time
	for _, r := range revs {
		cur := r.DueDate
		if cur == nil || prev == nil {
			prev = cur
			continue
		}
		curDay := dateOnly(*cur)
		prevDay := dateOnly(*prev)
		if !curDay.Equal(prevDay) {
			changed++
			if delta := daysBetween(prevDay, curDay); delta > 0 {
				slip += delta
			}
		}
		prev = cur
	}
	return changed, slip
}

// expectedDays converts effort to a whole day count per the rounding mode.
func expectedDays(effort, effortPerDay float64, rounding string) int {
	if effortPerDay <= 0 {
		effortPerDay = 4.0
	}
	raw := effort / effortPerDay

	switch rounding {
	case "floor":
		return int(math.Floor(raw))
	case "round":
		// Half away from zero.
		return int(math.Round(raw))
	default:
		return int(math.Ceil(raw))
	}
}

// addBusinessDays advances start by days, skipping Saturdays and Sundays.
func addBusinessDays(start time.Time, days int) time.Time {
	if days <= 0 {
		return start
	}
	d := start
	added := 0
	for added < days {
		d = d.AddDate(0, 0, 1)
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		added++
	}
	return d
}

// dateOnly strips the time of day, yielding midnight UTC of the timestamp's
// UTC calendar date.
func dateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// daysBetween returns the signed whole-day difference end - start. Both
// arguments must already be date-only.
func daysBetween(start, end time.Time) int {
	return int(end.Sub(start).Hours() / 24)
}
