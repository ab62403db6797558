// Package rulexpand implements the Rule Expander (C2): given one
// Recurrence and a UTC query window, it yields the UTC instants the
// recurrence produces inside that window, honoring DST, UNTIL, and the
// monthly out-of-bounds-day policy. RFC 5545 enumeration itself is
// delegated to github.com/teambition/rrule-go; this package owns which
// instants survive and how they map to UTC.
package rulexpand

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/example/calendarengine/internal/calendarmodel"
	"github.com/example/calendarengine/internal/tzmodel"
)

// Expand returns the UTC instants Recurrence r produces within
// [qStart, min(qEnd, r.EndTime)], in non-decreasing order. A Recurrence
// whose TimeZone no longer resolves yields no instants and no error,
// per the design: expansion presumes a recurrence already passed
// creation-time validation.
func Expand(r calendarmodel.Recurrence, qStart, qEnd time.Time) ([]time.Time, error) {
	if err := tzmodel.ValidateZone(r.TimeZone); err != nil {
		return nil, nil
	}

	effectiveEnd := qEnd
	if r.EndTime.Before(effectiveEnd) {
		effectiveEnd = r.EndTime
	}
	if effectiveEnd.Before(qStart) {
		return nil, nil
	}

	localAnchor, err := tzmodel.ToLocal(r.StartTime, r.TimeZone)
	if err != nil {
		return nil, nil
	}

	opts, err := parseOptions(r.RRule, floatingWallClock(localAnchor))
	if err != nil {
		return nil, fmt.Errorf("rulexpand: parse rrule for recurrence %s: %w", r.Id, err)
	}
	if !opts.Until.IsZero() {
		opts.Until = floatingWallClock(opts.Until.In(localAnchor.Location()))
	}

	if opts.Freq == rrule.MONTHLY && len(opts.Bymonthday) == 1 {
		day := opts.Bymonthday[0]
		if day >= 29 {
			return expandMonthlyWithPolicy(r, localAnchor, day, intervalOrDefault(opts.Interval), qStart, effectiveEnd), nil
		}
	}

	rule, err := rrule.NewRRule(opts)
	if err != nil {
		return nil, fmt.Errorf("rulexpand: build rrule for recurrence %s: %w", r.Id, err)
	}

	localWindowStart, err := tzmodel.ToLocal(qStart, r.TimeZone)
	if err != nil {
		return nil, nil
	}
	localWindowEnd, err := tzmodel.ToLocal(effectiveEnd, r.TimeZone)
	if err != nil {
		return nil, nil
	}
	localWindowStart = startOfDay(localWindowStart)
	localWindowEnd = endOfDay(localWindowEnd)

	candidates := rule.Between(floatingWallClock(localWindowStart), floatingWallClock(localWindowEnd), true)
	out := make([]time.Time, 0, len(candidates))
	for _, w := range candidates {
		u, err := tzmodel.ToUTC(w, r.TimeZone)
		if err != nil {
			continue
		}
		if inRange(u, qStart, effectiveEnd) {
			out = append(out, u)
		}
	}
	return out, nil
}

// parseOptions parses the RFC 5545 RRULE text (the bare "FREQ=...;..."
// value, as stored in Recurrence.RRule) and anchors it at localAnchor.
func parseOptions(rruleText string, localAnchor time.Time) (rrule.ROption, error) {
	parsed, err := rrule.StrToRRule(rruleText)
	if err != nil {
		return rrule.ROption{}, err
	}
	opts := parsed.OrigOptions
	opts.Dtstart = localAnchor
	return opts, nil
}

// floatingWallClock re-tags t's local wall-clock fields as UTC, so the
// enumerator steps through wall-clock times that no DST gap can
// normalize; ToUTC then resolves each one against the recurrence zone.
func floatingWallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func intervalOrDefault(interval int) int {
	if interval <= 0 {
		return 1
	}
	return interval
}

// expandMonthlyWithPolicy handles FREQ=MONTHLY;BYMONTHDAY=d patterns
// where d in {29,30,31} may not exist in every month, applying Skip or
// Clamp as configured on r.DayBehavior (default Skip).
func expandMonthlyWithPolicy(r calendarmodel.Recurrence, localAnchor time.Time, day, interval int, qStart, effectiveEnd time.Time) []time.Time {
	behavior := calendarmodel.MonthDaySkip
	if r.DayBehavior != nil {
		behavior = *r.DayBehavior
	}

	loc := localAnchor.Location()
	var out []time.Time

	effectiveEndLocal := effectiveEnd.In(loc)
	monthBound := time.Date(effectiveEndLocal.Year(), effectiveEndLocal.Month(), 1, 0, 0, 0, 0, loc)

	cursor := time.Date(localAnchor.Year(), localAnchor.Month(), 1, localAnchor.Hour(), localAnchor.Minute(), localAnchor.Second(), 0, loc)
	for !cursor.After(monthBound) {
		dim := DaysInMonth(cursor.Year(), cursor.Month())

		var candidateLocal time.Time
		haveCandidate := true
		switch {
		case day <= dim:
			candidateLocal = time.Date(cursor.Year(), cursor.Month(), day, localAnchor.Hour(), localAnchor.Minute(), localAnchor.Second(), 0, loc)
		case behavior == calendarmodel.MonthDayClamp:
			candidateLocal = time.Date(cursor.Year(), cursor.Month(), dim, localAnchor.Hour(), localAnchor.Minute(), localAnchor.Second(), 0, loc)
		default: // Skip: this month contributes nothing
			haveCandidate = false
		}

		if haveCandidate {
			u, err := tzmodel.ToUTC(candidateLocal, r.TimeZone)
			if err == nil && !u.Before(r.StartTime) && inRange(u, qStart, effectiveEnd) {
				out = append(out, u)
			}
		}

		cursor = cursor.AddDate(0, interval, 0)
	}
	return out
}

func inRange(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}

// DaysInMonth reports the number of calendar days in month/year,
// accounting for leap years.
func DaysInMonth(year int, month time.Month) int {
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	lastOfThis := firstOfNext.AddDate(0, 0, -1)
	return lastOfThis.Day()
}
