// Package tzmodel converts between UTC instants and local wall-clock
// times under an IANA time zone, using a lenient DST resolution policy:
// ambiguous wall times (fall-back) resolve to the earlier offset, and
// wall times that do not exist (spring-forward) round forward to the
// first valid instant.
package tzmodel

import (
	"fmt"
	"strings"
	"time"
)

// ErrInvalidZone is returned by ValidateZone and ToUTC/ToLocal when the
// supplied zone id is not a known IANA identifier.
type ErrInvalidZone struct {
	Zone string
}

func (e *ErrInvalidZone) Error() string {
	return fmt.Sprintf("tzmodel: invalid IANA zone %q", e.Zone)
}

// ValidateZone loads zone, rejecting anything that is not resolvable
// through the tz database. Windows display names ("Eastern Standard
// Time") fail to load and are rejected the same way as typos.
func ValidateZone(zone string) error {
	if zone == "" || strings.ContainsAny(zone, " \\") {
		return &ErrInvalidZone{Zone: zone}
	}
	if _, err := time.LoadLocation(zone); err != nil {
		return &ErrInvalidZone{Zone: zone}
	}
	return nil
}

// ToUTC resolves a local wall-clock time (year/month/day/hour/minute/
// second, with no meaningful location) against zone and returns the
// corresponding UTC instant.
//
// time.Date against a *time.Location normalizes a nonexistent wall
// clock (spring forward) to an instant before the gap, so such wall
// times are detected and re-read with the pre-transition offset, which
// moves them forward past the gap. Ambiguous (repeated) wall times, the
// fall-back case, are not specified by the standard library, so this
// resolves them explicitly by picking the earlier of the two valid
// candidates.
func ToUTC(wall time.Time, zone string) (time.Time, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.Time{}, &ErrInvalidZone{Zone: zone}
	}

	y, mo, d := wall.Date()
	hh, mm, ss := wall.Clock()
	ns := wall.Nanosecond()

	primary := time.Date(y, mo, d, hh, mm, ss, ns, loc)

	// A skipped wall clock does not read back unchanged. primary then
	// carries the pre-transition offset; applying it to the wall clock
	// lands the gap's length later, on the first valid side.
	if !reproducesWallClock(primary, loc, y, mo, d, hh, mm, ss) {
		return reconstructWithOffsetOf(y, mo, d, hh, mm, ss, ns, primary).UTC(), nil
	}

	// Probe the offset in effect two hours before primary. If it differs
	// from primary's own offset, and reconstructing the same wall clock
	// with that other offset reproduces it exactly, the wall clock is
	// ambiguous: both candidates are valid readings of the same local
	// time, one on each side of a fall-back transition.
	alt := reconstructWithOffsetOf(y, mo, d, hh, mm, ss, ns, primary.Add(-2*time.Hour))
	if !alt.Equal(primary) && reproducesWallClock(alt, loc, y, mo, d, hh, mm, ss) {
		if alt.Before(primary) {
			return alt.UTC(), nil
		}
	}

	return primary.UTC(), nil
}

// reconstructWithOffsetOf builds the UTC instant for the given wall-clock
// fields as though the fixed offset observed at offsetSource applied.
func reconstructWithOffsetOf(y int, mo time.Month, d, hh, mm, ss, ns int, offsetSource time.Time) time.Time {
	_, offsetSeconds := offsetSource.Zone()
	asUTC := time.Date(y, mo, d, hh, mm, ss, ns, time.UTC)
	return asUTC.Add(-time.Duration(offsetSeconds) * time.Second)
}

func reproducesWallClock(t time.Time, loc *time.Location, y int, mo time.Month, d, hh, mm, ss int) bool {
	lt := t.In(loc)
	return lt.Year() == y && lt.Month() == mo && lt.Day() == d &&
		lt.Hour() == hh && lt.Minute() == mm && lt.Second() == ss
}

// Kind discriminates a TaggedTime's interpretation.
type Kind int

const (
	// KindUnspecified marks a time whose UTC/local interpretation was
	// never set; resolving it is always an InvalidArgument.
	KindUnspecified Kind = iota
	KindUTC
	KindLocal
)

// TaggedTime carries a time.Time alongside an explicit tag for whether
// it is already UTC or a local wall-clock reading pending resolution.
type TaggedTime struct {
	Kind  Kind
	Value time.Time
}

// ErrUnspecifiedKind is returned by Resolve when asked to interpret a
// TaggedTime whose Kind was never set.
var ErrUnspecifiedKind = fmt.Errorf("tzmodel: time has unspecified kind")

// Resolve converts t to UTC: if already tagged UTC it is returned
// as-is (still normalized via .UTC()); if tagged local it is resolved
// against zone with lenient DST resolution; Unspecified is an error.
func Resolve(t TaggedTime, zone string) (time.Time, error) {
	switch t.Kind {
	case KindUTC:
		return t.Value.UTC(), nil
	case KindLocal:
		return ToUTC(t.Value, zone)
	default:
		return time.Time{}, ErrUnspecifiedKind
	}
}

// ToLocal converts a UTC instant into a naive local wall-clock time
// under zone. The returned time.Time carries loc so Year/Month/Day/
// Hour/... read as local wall-clock values; no ambiguity arises in
// this direction.
func ToLocal(utcInstant time.Time, zone string) (time.Time, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.Time{}, &ErrInvalidZone{Zone: zone}
	}
	return utcInstant.UTC().In(loc), nil
}
