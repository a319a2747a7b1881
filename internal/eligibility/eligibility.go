// Package eligibility computes birthday benefit windows.
//
// Window policy, all calendar math in the evaluator's location:
//   - day:   the birthday itself, [00:00, next day 00:00)
//   - week:  seven calendar days starting on the birthday
//   - month: the calendar month containing the birthday
//
// A Feb 29 birthday anchors to Feb 28 in non-leap years.
package eligibility

import (
	"errors"
	"strings"
	"time"

	"github.com/fairyhunter13/birthday-coupon-engine/internal/model"
)

// ErrUnknownScope is returned for a scope outside the closed enum.
var ErrUnknownScope = errors.New("unknown validity scope")

// expiryPrecision matches PostgreSQL timestamptz resolution so that ExpiresAt
// survives a database round trip unchanged.
const expiryPrecision = time.Microsecond

// Result is the outcome of an eligibility evaluation.
// When Eligible is false, WindowStart and ExpiresAt describe the next window.
type Result struct {
	Eligible    bool
	WindowStart time.Time
	ExpiresAt   time.Time
}

// Evaluator evaluates windows in a fixed location.
type Evaluator struct {
	loc *time.Location
}

// NewEvaluator returns an Evaluator for loc. A nil loc means UTC.
func NewEvaluator(loc *time.Location) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{loc: loc}
}

// Location returns the evaluator's calendar location.
func (e *Evaluator) Location() *time.Location {
	return e.loc
}

// Evaluate maps (birthDate, scope, now) to an eligibility window.
// Only the month and day of birthDate are used.
func (e *Evaluator) Evaluate(birthDate time.Time, scope model.ValidityScope, now time.Time) (Result, error) {
	if !scope.Valid() {
		return Result{}, ErrUnknownScope
	}
	local := now.In(e.loc)
	year := local.Year()

	// Week windows can spill into January, so last year's anniversary may
	// still be open.
	for _, y := range []int{year, year - 1} {
		start, end := e.window(birthDate, scope, y)
		if !local.Before(start) && local.Before(end) {
			return Result{Eligible: true, WindowStart: start, ExpiresAt: end.Add(-expiryPrecision)}, nil
		}
	}

	start, end := e.window(birthDate, scope, year)
	if !local.Before(start) {
		start, end = e.window(birthDate, scope, year+1)
	}
	return Result{Eligible: false, WindowStart: start, ExpiresAt: end.Add(-expiryPrecision)}, nil
}

// window returns the half-open interval [start, end) for the anniversary in year.
func (e *Evaluator) window(birthDate time.Time, scope model.ValidityScope, year int) (time.Time, time.Time) {
	anchor := e.anniversary(birthDate, year)
	switch scope {
	case model.ScopeWeek:
		return anchor, anchor.AddDate(0, 0, 7)
	case model.ScopeMonth:
		start := time.Date(year, anchor.Month(), 1, 0, 0, 0, 0, e.loc)
		return start, start.AddDate(0, 1, 0)
	default:
		return anchor, anchor.AddDate(0, 0, 1)
	}
}

func (e *Evaluator) anniversary(birthDate time.Time, year int) time.Time {
	month, day := birthDate.Month(), birthDate.Day()
	if month == time.February && day == 29 && !isLeap(year) {
		day = 28
	}
	return time.Date(year, month, day, 0, 0, 0, 0, e.loc)
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// ParseScope parses a stored or configured scope name.
func ParseScope(s string) (model.ValidityScope, error) {
	scope := model.ValidityScope(strings.ToLower(strings.TrimSpace(s)))
	if !scope.Valid() {
		return "", ErrUnknownScope
	}
	return scope, nil
}
