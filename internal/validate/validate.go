// Package validate implements the Creation Validator (C5):
// field-level validation for CreateRecurrence/CreateOccurrence inputs,
// RRULE parsing, and monthly out-of-bounds-day analysis.
package validate

import (
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/example/calendarengine/internal/calendarmodel"
	"github.com/example/calendarengine/internal/engineerrors"
	"github.com/example/calendarengine/internal/rulexpand"
	"github.com/example/calendarengine/internal/tzmodel"
)

const (
	maxTypeLen        = 100
	maxTenantFieldLen = 100
	maxRRuleLen       = 2000
	maxExtKeyLen      = 100
	maxExtValueLen    = 1024
)

// CreateRecurrenceInput carries the raw fields for CreateRecurrence,
// mirroring §4.5 step 1-7.
type CreateRecurrenceInput struct {
	Tenant      calendarmodel.Tenant
	Type        string
	StartTime   tzmodel.TaggedTime
	Duration    time.Duration
	RRule       string
	TimeZone    string
	DayBehavior *calendarmodel.MonthDayBehavior
	Extensions  calendarmodel.Extensions
}

// CreateOccurrenceInput carries the raw fields for CreateOccurrence.
type CreateOccurrenceInput struct {
	Tenant     calendarmodel.Tenant
	Type       string
	StartTime  tzmodel.TaggedTime
	Duration   time.Duration
	TimeZone   string
	Extensions calendarmodel.Extensions
}

func validateCommon(v *engineerrors.ValidationError, tenant calendarmodel.Tenant, typ string, duration time.Duration, timeZone string, ext calendarmodel.Extensions) {
	if len(typ) < 1 {
		v.Add("type", "must be at least 1 character")
	}
	if len(typ) > maxTypeLen {
		v.Add("type", "must be at most 100 characters")
	}
	if len(tenant.Organization) > maxTenantFieldLen {
		v.Add("organization", "must be at most 100 characters")
	}
	if len(tenant.ResourcePath) > maxTenantFieldLen {
		v.Add("resourcePath", "must be at most 100 characters")
	}
	if duration <= 0 {
		v.Add("duration", "must be greater than zero")
	}
	if err := tzmodel.ValidateZone(timeZone); err != nil {
		v.Add("timeZone", "must be a known IANA zone id")
	}
	validateExtensions(v, ext)
}

func validateExtensions(v *engineerrors.ValidationError, ext calendarmodel.Extensions) {
	for k, val := range ext {
		if len(k) < 1 || len(k) > maxExtKeyLen {
			v.Add("extensions", "keys must be 1-100 characters: "+k)
		}
		if len(val) > maxExtValueLen {
			v.Add("extensions", "values must be at most 1024 characters: key "+k)
		}
	}
}

// CreateRecurrence validates input and returns a Recurrence ready to
// persist, following §4.5's seven steps. RecurrenceEndTime is derived
// from RRule's UNTIL clause; StartTime is converted to UTC before
// UNTIL is checked against it.
func CreateRecurrence(input CreateRecurrenceInput, idGen func() string) (calendarmodel.Recurrence, error) {
	v := &engineerrors.ValidationError{}
	validateCommon(v, input.Tenant, input.Type, input.Duration, input.TimeZone, input.Extensions)

	if len(input.RRule) > maxRRuleLen {
		v.Add("rrule", "must be at most 2000 characters")
	}
	if strings.Contains(input.RRule, "COUNT") {
		v.Add("rrule", "must not contain COUNT")
	}
	until, hasUntil := extractUntil(input.RRule)
	if !hasUntil {
		v.Add("rrule", "must contain UNTIL")
	} else if !strings.HasSuffix(until, "Z") {
		v.Add("rrule", "UNTIL must be UTC (end in Z)")
	}

	if v.HasErrors() {
		return calendarmodel.Recurrence{}, v
	}

	parsedUntil, err := time.Parse("20060102T150405Z", until)
	if err != nil {
		v.Add("rrule", "UNTIL is not a valid RFC 5545 UTC timestamp")
		return calendarmodel.Recurrence{}, v
	}

	startUtc, err := tzmodel.Resolve(input.StartTime, input.TimeZone)
	if err != nil {
		v.Add("startTime", "must be a UTC or local time, not unspecified")
		return calendarmodel.Recurrence{}, v
	}

	if parsedUntil.Before(startUtc) {
		v.Add("rrule", "UNTIL must not be before StartTime")
		return calendarmodel.Recurrence{}, v
	}

	freq, monthDay, err := parseFreqAndMonthDay(input.RRule)
	if err != nil {
		v.Add("rrule", "could not be parsed: "+err.Error())
		return calendarmodel.Recurrence{}, v
	}

	if freq == rrule.MONTHLY && monthDay >= 29 {
		behavior := calendarmodel.MonthDaySkip
		if input.DayBehavior != nil {
			behavior = *input.DayBehavior
		}
		if behavior == calendarmodel.MonthDayThrow {
			affected := affectedMonths(startUtc, parsedUntil, monthDay)
			if len(affected) > 0 {
				return calendarmodel.Recurrence{}, &engineerrors.MonthDayOutOfBoundsError{
					DayOfMonth:     monthDay,
					AffectedMonths: affected,
				}
			}
		}
	}

	return calendarmodel.Recurrence{
		Id:          idGen(),
		Tenant:      input.Tenant,
		Type:        input.Type,
		StartTime:   startUtc,
		Duration:    input.Duration,
		RRule:       input.RRule,
		TimeZone:    input.TimeZone,
		EndTime:     parsedUntil,
		DayBehavior: input.DayBehavior,
		Extensions:  input.Extensions.Clone(),
	}, nil
}

// CreateOccurrence validates input and returns a standalone Occurrence
// ready to persist. EndTime is always derived, never stored.
func CreateOccurrence(input CreateOccurrenceInput, idGen func() string) (calendarmodel.Occurrence, error) {
	v := &engineerrors.ValidationError{}
	validateCommon(v, input.Tenant, input.Type, input.Duration, input.TimeZone, input.Extensions)
	if v.HasErrors() {
		return calendarmodel.Occurrence{}, v
	}

	startUtc, err := tzmodel.Resolve(input.StartTime, input.TimeZone)
	if err != nil {
		v.Add("startTime", "must be a UTC or local time, not unspecified")
		return calendarmodel.Occurrence{}, v
	}

	return calendarmodel.Occurrence{
		Id:         idGen(),
		Tenant:     input.Tenant,
		Type:       input.Type,
		StartTime:  startUtc,
		Duration:   input.Duration,
		TimeZone:   input.TimeZone,
		Extensions: input.Extensions.Clone(),
	}, nil
}

// extractUntil pulls the raw UNTIL=... value (without the trailing
// ";" or end of string) out of an RFC 5545 RRULE text, preserving the
// exact stored representation elsewhere.
func extractUntil(rruleText string) (string, bool) {
	for _, part := range strings.Split(rruleText, ";") {
		if strings.HasPrefix(part, "UNTIL=") {
			return strings.TrimPrefix(part, "UNTIL="), true
		}
	}
	return "", false
}

func parseFreqAndMonthDay(rruleText string) (rrule.Frequency, int, error) {
	parsed, err := rrule.StrToRRule(rruleText)
	if err != nil {
		return 0, 0, err
	}
	opts := parsed.OrigOptions
	if len(opts.Bymonthday) == 1 {
		return opts.Freq, opts.Bymonthday[0], nil
	}
	return opts.Freq, 0, nil
}

// affectedMonths returns, for a monthly BYMONTHDAY=day pattern spanning
// [start, until], the calendar months (1-12) in which day does not
// exist in at least one spanned year.
func affectedMonths(start, until time.Time, day int) []int {
	var months []int
	seen := make(map[int]bool)
	cursor := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	bound := time.Date(until.Year(), until.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cursor.After(bound) {
		if day > rulexpand.DaysInMonth(cursor.Year(), cursor.Month()) {
			m := int(cursor.Month())
			if !seen[m] {
				seen[m] = true
				months = append(months, m)
			}
		}
		cursor = cursor.AddDate(0, 1, 0)
	}
	return months
}
