package healthcheck

import (
	"context"
	"sort"
)

// Report aggregates the checks of every registered checker.
type Report struct {
	Status string        `json:"status"`
	Checks []CheckResult `json:"checks"`
}

// Ready reports whether no check is in error. Warnings do not block readiness.
func (r Report) Ready() bool {
	return r.Status != StatusError
}

// Aggregator runs a fixed set of checkers.
type Aggregator struct {
	checkers []Checker
}

// NewAggregator ignores nil checkers.
func NewAggregator(checkers ...Checker) *Aggregator {
	a := &Aggregator{}
	for _, c := range checkers {
		if c != nil {
			a.checkers = append(a.checkers, c)
		}
	}
	return a
}

// Evaluate runs every checker and derives the overall status: error if any
// check errored, warn if any warned, ok otherwise.
func (a *Aggregator) Evaluate(ctx context.Context) Report {
	report := Report{Status: StatusOK, Checks: []CheckResult{}}
	if a == nil {
		return report
	}
	for _, c := range a.checkers {
		report.Checks = append(report.Checks, c.ListChecks(ctx)...)
	}
	sort.SliceStable(report.Checks, func(i, j int) bool {
		return report.Checks[i].ID < report.Checks[j].ID
	})
	for _, item := range report.Checks {
		switch item.Status {
		case StatusError:
			report.Status = StatusError
		case StatusWarn, StatusUnknown:
			if report.Status == StatusOK {
				report.Status = StatusWarn
			}
		}
	}
	return report
}
