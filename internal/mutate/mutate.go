// Package mutate implements the Mutation Planner (C4): classifying an
// inbound CalendarEntry and the immutability checks and delta-record
// construction that Update/Delete/Restore require. It holds no
// repository references; the engine package owns the actual reads and
// writes, calling here for the decisions.
package mutate

import (
	"fmt"

	"github.com/example/calendarengine/internal/calendarmodel"
	"github.com/example/calendarengine/internal/engineerrors"
	"github.com/example/calendarengine/internal/tzmodel"
)

// Classification is the outcome of classifying an inbound
// CalendarEntry, per §4.4.
type Classification int

const (
	ClassIndeterminate Classification = iota
	ClassRecurrencePattern
	ClassStandalone
	ClassVirtualizedWithoutOverride
	ClassVirtualizedWithOverride
)

// Classify determines an entry's variant from which identifying field
// is set, in the priority order §4.4 specifies: OccurrenceId first,
// then Original (virtualized), then RecurrenceId.
func Classify(e calendarmodel.CalendarEntry) Classification {
	switch {
	case e.OccurrenceId != "":
		return ClassStandalone
	case e.Original != nil:
		if e.OverrideId != "" {
			return ClassVirtualizedWithOverride
		}
		return ClassVirtualizedWithoutOverride
	case e.RecurrenceId != "":
		return ClassRecurrencePattern
	default:
		return ClassIndeterminate
	}
}

// ValidateRecurrenceUpdate rejects changes to a Recurrence's immutable
// fields: StartTime, RRule, TimeZone, Type, Organization, ResourcePath.
// Only Duration and Extensions may differ.
func ValidateRecurrenceUpdate(existing, incoming calendarmodel.Recurrence) error {
	if !existing.StartTime.Equal(incoming.StartTime) ||
		existing.RRule != incoming.RRule ||
		existing.TimeZone != incoming.TimeZone ||
		existing.Type != incoming.Type ||
		existing.Tenant != incoming.Tenant {
		return fmt.Errorf("%w: StartTime, RRule, TimeZone, Type, Organization, and ResourcePath are immutable on a recurrence", engineerrors.ErrImmutableFieldViolation)
	}
	return nil
}

// ValidateStandaloneUpdate rejects changes to an Occurrence's immutable
// fields: Organization, ResourcePath, TimeZone. StartTime, Duration,
// Extensions, and Type may change.
func ValidateStandaloneUpdate(existing, incoming calendarmodel.Occurrence) error {
	if existing.Tenant != incoming.Tenant || existing.TimeZone != incoming.TimeZone {
		return fmt.Errorf("%w: Organization, ResourcePath, and TimeZone are immutable on a standalone occurrence", engineerrors.ErrImmutableFieldViolation)
	}
	return nil
}

// ValidateVirtualizedImmutables rejects a virtualized update that
// would change Type, Organization, ResourcePath, or TimeZone
// relative to the parent recurrence.
func ValidateVirtualizedImmutables(parent calendarmodel.Recurrence, entry calendarmodel.CalendarEntry) error {
	if entry.Type != parent.Type || entry.Tenant != parent.Tenant || entry.TimeZone != parent.TimeZone {
		return fmt.Errorf("%w: Type, Organization, ResourcePath, and TimeZone cannot change relative to the parent recurrence", engineerrors.ErrImmutableFieldViolation)
	}
	return nil
}

// NewOverrideFromEntry builds the OccurrenceOverride created when a
// virtualized-without-override entry is updated: the parent's Duration
// and Extensions are snapshotted as Original*, and the entry's new
// start/duration/extensions become the override's live fields.
func NewOverrideFromEntry(parent calendarmodel.Recurrence, entry calendarmodel.CalendarEntry, id string) (calendarmodel.OccurrenceOverride, error) {
	startUtc, err := tzmodel.ToUTC(entry.StartTime, entry.TimeZone)
	if err != nil {
		return calendarmodel.OccurrenceOverride{}, err
	}
	return calendarmodel.OccurrenceOverride{
		Id:                 id,
		Tenant:             parent.Tenant,
		RecurrenceId:       parent.Id,
		OriginalTimeUtc:    entry.Original.StartTime,
		StartTime:          startUtc,
		Duration:           entry.Duration,
		Extensions:         entry.Extensions.Clone(),
		OriginalDuration:   parent.Duration,
		OriginalExtensions: parent.Extensions.Clone(),
	}, nil
}

// ApplyOverrideUpdate overwrites an existing override's live fields
// from entry, leaving Original* untouched.
func ApplyOverrideUpdate(existing calendarmodel.OccurrenceOverride, entry calendarmodel.CalendarEntry) (calendarmodel.OccurrenceOverride, error) {
	startUtc, err := tzmodel.ToUTC(entry.StartTime, entry.TimeZone)
	if err != nil {
		return calendarmodel.OccurrenceOverride{}, err
	}
	updated := existing
	updated.StartTime = startUtc
	updated.Duration = entry.Duration
	updated.Extensions = entry.Extensions.Clone()
	return updated, nil
}

// ApplyStandaloneUpdate folds entry's mutable fields onto an existing
// Occurrence.
func ApplyStandaloneUpdate(existing calendarmodel.Occurrence, entry calendarmodel.CalendarEntry) (calendarmodel.Occurrence, error) {
	startUtc, err := tzmodel.ToUTC(entry.StartTime, entry.TimeZone)
	if err != nil {
		return calendarmodel.Occurrence{}, err
	}
	updated := existing
	updated.StartTime = startUtc
	updated.Duration = entry.Duration
	updated.Extensions = entry.Extensions.Clone()
	updated.Type = entry.Type
	return updated, nil
}

// ApplyRecurrenceUpdate folds entry's mutable fields (Duration,
// Extensions only) onto an existing Recurrence.
func ApplyRecurrenceUpdate(existing calendarmodel.Recurrence, incoming calendarmodel.Recurrence) calendarmodel.Recurrence {
	updated := existing
	updated.Duration = incoming.Duration
	updated.Extensions = incoming.Extensions.Clone()
	return updated
}
