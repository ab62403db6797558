// Package calendarmodel defines the five persisted/surface entities of
// the calendar occurrence virtualization engine: Recurrence,
// Occurrence, OccurrenceException, OccurrenceOverride, and the
// CalendarEntry surface type that unifies them for callers.
package calendarmodel

import "time"

// MonthDayBehavior governs what happens when a monthly recurrence's
// anchor day (29, 30, or 31) does not exist in a given month.
type MonthDayBehavior string

const (
	// MonthDayThrow rejects the recurrence at creation time if any
	// spanned month lacks the anchor day.
	MonthDayThrow MonthDayBehavior = "throw"
	// MonthDaySkip produces no instant for months lacking the anchor day.
	MonthDaySkip MonthDayBehavior = "skip"
	// MonthDayClamp emits the last calendar day of months lacking the
	// anchor day.
	MonthDayClamp MonthDayBehavior = "clamp"
)

// Tenant is the (Organization, ResourcePath) scoping pair that every
// entity in this package is visible under.
type Tenant struct {
	Organization string
	ResourcePath string
}

// Extensions is an open string-to-string bag of caller-defined
// attributes, bounded at validation time (key 1-100 chars, value
// <=1024 chars, unique keys).
type Extensions map[string]string

// Clone returns a deep copy so callers holding a Recurrence/Occurrence
// cannot mutate a stored instance's extensions through an alias.
func (e Extensions) Clone() Extensions {
	if e == nil {
		return nil
	}
	out := make(Extensions, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Recurrence (R) is a compact rule producing many would-be occurrences.
type Recurrence struct {
	Id           string
	Tenant       Tenant
	Type         string
	StartTime    time.Time // UTC anchor instant of the first would-be occurrence
	Duration     time.Duration
	RRule        string // RFC 5545 text, preserved byte-for-byte
	TimeZone     string // IANA zone id
	EndTime      time.Time // RecurrenceEndTime: UNTIL of RRule, in UTC
	DayBehavior  *MonthDayBehavior
	Extensions   Extensions
}

// Occurrence (O) is a standalone, non-recurring calendar entry.
type Occurrence struct {
	Id         string
	Tenant     Tenant
	Type       string
	StartTime  time.Time // UTC
	Duration   time.Duration
	TimeZone   string
	Extensions Extensions
}

// EndTime is always derived, never stored independently.
func (o Occurrence) CalculatedEndTime() time.Time {
	return o.StartTime.Add(o.Duration)
}

// OccurrenceException (X) cancels a single virtual instant of a
// Recurrence.
type OccurrenceException struct {
	Id              string
	Tenant          Tenant
	RecurrenceId    string
	OriginalTimeUtc time.Time
}

// OccurrenceOverride (V) replaces a single virtual instant of a
// Recurrence with a modified start/duration/extensions, while
// remembering what the original instant looked like.
type OccurrenceOverride struct {
	Id                 string
	Tenant             Tenant
	RecurrenceId       string
	OriginalTimeUtc    time.Time
	StartTime          time.Time
	Duration           time.Duration
	Extensions         Extensions
	OriginalDuration   time.Duration
	OriginalExtensions Extensions
}

// CalculatedEndTime derives EndTime from the override's own StartTime
// and Duration.
func (v OccurrenceOverride) CalculatedEndTime() time.Time {
	return v.StartTime.Add(v.Duration)
}

// EntryVariant discriminates CalendarEntry's three shapes. It is kept
// explicit rather than inferred from which optional ids happen to be
// set, so the mutation planner's classification is a plain switch.
type EntryVariant int

const (
	VariantRecurrence EntryVariant = iota
	VariantStandalone
	VariantVirtualized
)

func (v EntryVariant) String() string {
	switch v {
	case VariantRecurrence:
		return "recurrence"
	case VariantStandalone:
		return "standalone"
	case VariantVirtualized:
		return "virtualized"
	default:
		return "unknown"
	}
}

// OriginalSnapshot is the original start/duration/extensions a
// virtualized entry would have had absent any override.
type OriginalSnapshot struct {
	StartTime  time.Time
	Duration   time.Duration
	Extensions Extensions
}

// CalendarEntry is the unified surface DTO returned by queries and
// accepted by mutation operations. StartTime and EndTime are in the
// entity's local zone; Original.StartTime is the UTC instant of the
// virtual occurrence. Variant makes the discriminator
// explicit instead of inferring it from which optional id is set.
type CalendarEntry struct {
	Variant EntryVariant

	Tenant Tenant
	Type   string

	StartTime time.Time // local wall-clock
	EndTime   time.Time // local wall-clock, derived
	Duration  time.Duration
	TimeZone  string

	Extensions Extensions

	// RecurrenceId is set for VariantRecurrence and VariantVirtualized.
	RecurrenceId string
	// OccurrenceId is set for VariantStandalone.
	OccurrenceId string
	// OverrideId is set for VariantVirtualized entries backed by a
	// stored OccurrenceOverride. IsOverridden reports its presence.
	OverrideId string

	// Original is set iff Variant == VariantVirtualized; it carries the
	// instant/duration/extensions the entry would have had absent any
	// override.
	Original *OriginalSnapshot
}

// IsOverridden reports whether this virtualized entry is backed by a
// stored OccurrenceOverride rather than a bare expansion of R.
func (e CalendarEntry) IsOverridden() bool {
	return e.OverrideId != ""
}
