package metrics

import (
	"fmt"

	"github.com/MertK96/azure-boardmetrics/internal/config"
)

// Verdict is the outcome of the triage rule evaluation.
type Verdict struct {
	Flagged bool
	Reason  string
}

// triageRule is one (predicate, outcome) pair. Match returns the reason
// string when the rule fires.
type triageRule struct {
	name  string
	match func(d Derived, cfg config.RulesConfig) (string, bool)
}

// triageRules is evaluated in order; the first match wins and no further
// rule is considered.
var triageRules = []triageRule{
	{
		name: "commitment-late",
		match: func(d Derived, cfg config.RulesConfig) (string, bool) {
			if d.DoneDate == nil || d.CommitmentVarianceDays == nil {
				return "", false
			}
			if *d.CommitmentVarianceDays < cfg.CommitmentLateDays {
				return "", false
			}
			return fmt.Sprintf("Commitment late (+%dd)", *d.CommitmentVarianceDays), true
		},
	},
	{
		name: "forecast-late",
		match: func(d Derived, cfg config.RulesConfig) (string, bool) {
			if d.DoneDate == nil || d.ForecastVarianceDays == nil {
				return "", false
			}
			if *d.ForecastVarianceDays < cfg.ForecastLateDays {
				return "", false
			}
			return fmt.Sprintf("Forecast late (+%dd)", *d.ForecastVarianceDays), true
		},
	},
	{
		name: "planning-lag",
		match: func(d Derived, cfg config.RulesConfig) (string, bool) {
			if d.PlanningLagDays == nil || *d.PlanningLagDays <= cfg.MaxPlanningLagDays {
				return "", false
			}
			return fmt.Sprintf("Due date set late (+%dd after start)", *d.PlanningLagDays), true
		},
	},
	{
		name: "due-date-slip",
		match: func(d Derived, cfg config.RulesConfig) (string, bool) {
			if d.DueDateChangedCount < 1 || d.TotalSlipDays < 1 {
				return "", false
			}
			return fmt.Sprintf("Due date slipped (+%dd over %d changes)", d.TotalSlipDays, d.DueDateChangedCount), true
		},
	},
}

// Evaluate runs the ordered triage rules over the derived metrics.
func Evaluate(d Derived, cfg config.RulesConfig) Verdict {
	for _, rule := range triageRules {
		if reason, ok := rule.match(d, cfg); ok {
			return Verdict{Flagged: true, Reason: reason}
		}
	}
	return Verdict{}
}
