// Package period classifies transaction dates against a statement's billing
// period. It recognizes exactly one repairable failure mode: an exporter
// stamping the wrong calendar year near year boundaries.
package period

import (
	"time"

	"github.com/rumor-ml/commons.systems/reconcile/internal/domain"
)

// Classification is the outcome of validating one date.
type Classification int

const (
	// Accepted: the date falls inside the tolerance-widened period window.
	Accepted Classification = iota
	// SuspiciousYear: the date falls outside the window, but substituting
	// only the year component would place it inside. Month/day drift is
	// never repaired.
	SuspiciousYear
	// Rejected: outside the window and no year substitution helps.
	Rejected
)

// String returns the classification name for diagnostics.
func (c Classification) String() string {
	switch c {
	case Accepted:
		return "accepted"
	case SuspiciousYear:
		return "suspicious_year"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// Result carries the classification and, for SuspiciousYear, the corrected
// date that would fall inside the window.
type Result struct {
	Class     Classification
	Corrected time.Time
}

// Validate classifies date against the period window widened by
// toleranceDays. Stateless and deterministic: equal inputs always yield the
// equal classification.
func Validate(date time.Time, p domain.BillingPeriod, toleranceDays int) Result {
	start, end := p.Window(toleranceDays)
	day := truncate(date)

	if inWindow(day, start, end) {
		return Result{Class: Accepted}
	}

	// The window spans at most two calendar years, so those are the only
	// candidate years a substitution could land in. Candidates are tried in
	// ascending order for determinism.
	for year := start.Year(); year <= end.Year(); year++ {
		if year == day.Year() {
			continue
		}
		candidate, ok := withYear(day, year)
		if !ok {
			// Feb 29 with no counterpart in the candidate year. Not repaired.
			continue
		}
		if inWindow(candidate, start, end) {
			return Result{Class: SuspiciousYear, Corrected: candidate}
		}
	}

	return Result{Class: Rejected}
}

func truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

// withYear rebuilds t with the given year, holding month and day fixed.
// Returns false when the month/day combination does not exist in that year.
func withYear(t time.Time, year int) (time.Time, bool) {
	candidate := time.Date(year, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if candidate.Month() != t.Month() || candidate.Day() != t.Day() {
		return time.Time{}, false
	}
	return candidate, true
}
