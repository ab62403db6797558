// Package engine orchestrates the calendar occurrence virtualization
// engine: it wires the time model (tzmodel), rule expander (rulexpand),
// merge/filter (merge), creation validator (validate), and mutation
// planner (mutate) against the four repository contracts (repo) to
// implement the engine surface described by the external interface.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/calendarengine/internal/calendarmodel"
	"github.com/example/calendarengine/internal/engineerrors"
	"github.com/example/calendarengine/internal/merge"
	"github.com/example/calendarengine/internal/mutate"
	"github.com/example/calendarengine/internal/repo"
	"github.com/example/calendarengine/internal/rulexpand"
	"github.com/example/calendarengine/internal/tzmodel"
	"github.com/example/calendarengine/internal/validate"
)

// Engine is the concrete implementation of the occurrence engine
// surface. It holds no mutable state across calls; every field is a
// read-only collaborator supplied at construction.
type Engine struct {
	recurrences repo.RecurrenceRepo
	occurrences repo.OccurrenceRepo
	exceptions  repo.ExceptionRepo
	overrides   repo.OverrideRepo
	idGen       func() string
	logger      *slog.Logger
}

// New builds an Engine from its four repository collaborators and an
// id generator used by the creation operations.
func New(recurrences repo.RecurrenceRepo, occurrences repo.OccurrenceRepo, exceptions repo.ExceptionRepo, overrides repo.OverrideRepo, idGen func() string) *Engine {
	return NewWithLogger(recurrences, occurrences, exceptions, overrides, idGen, nil)
}

// NewWithLogger builds an Engine with an explicit base logger, used
// when the caller has not already placed one on ctx.
func NewWithLogger(recurrences repo.RecurrenceRepo, occurrences repo.OccurrenceRepo, exceptions repo.ExceptionRepo, overrides repo.OverrideRepo, idGen func() string, logger *slog.Logger) *Engine {
	return &Engine{
		recurrences: recurrences,
		occurrences: occurrences,
		exceptions:  exceptions,
		overrides:   overrides,
		idGen:       idGen,
		logger:      defaultLogger(logger),
	}
}

func (e *Engine) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, e.logger, "Engine", operation, attrs...)
}

func validateTypes(types []string) error {
	if types != nil && len(types) == 0 {
		return fmt.Errorf("%w: types must be nil (all) or a non-empty list", engineerrors.ErrInvalidArgument)
	}
	return nil
}

func resolveWindow(start, end tzmodel.TaggedTime, zone string) (time.Time, time.Time, error) {
	startUtc, err := tzmodel.Resolve(start, zone)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start: %v", engineerrors.ErrInvalidArgument, err)
	}
	endUtc, err := tzmodel.Resolve(end, zone)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end: %v", engineerrors.ErrInvalidArgument, err)
	}
	return startUtc, endUtc, nil
}

// GetOccurrences returns Standalone and Virtualized entries in
// [start, end], expanding every recurrence whose window overlaps the
// query and merging in its exceptions and overrides.
func (e *Engine) GetOccurrences(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, start, end tzmodel.TaggedTime, zone string, types []string) (entries []calendarmodel.CalendarEntry, err error) {
	logger := e.loggerWith(ctx, "GetOccurrences", "organization", tenant.Organization, "resource_path", tenant.ResourcePath)
	logger.DebugContext(ctx, "get occurrences started")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "get occurrences failed", "error", err, "error_kind", engineerrors.Kind(err))
			return
		}
		logger.With("entry_count", len(entries)).InfoContext(ctx, "get occurrences completed")
	}()

	if err = validateTypes(types); err != nil {
		return nil, err
	}
	startUtc, endUtc, err := resolveWindow(start, end, zone)
	if err != nil {
		return nil, err
	}

	recs, occs, err := e.loadPhaseA(ctx, tx, tenant, startUtc, endUtc, types)
	if err != nil {
		return nil, err
	}

	excByRecurrence, ovByRecurrence, err := e.loadPhaseB(ctx, tx, tenant, recs, startUtc, endUtc)
	if err != nil {
		return nil, err
	}

	for _, r := range recs {
		instants, expandErr := rulexpand.Expand(r, startUtc, endUtc)
		if expandErr != nil {
			return nil, fmt.Errorf("%w: %v", engineerrors.ErrBackend, expandErr)
		}
		merged, mergeErr := merge.Recurrence(r, instants, excByRecurrence[r.Id], ovByRecurrence[r.Id], startUtc, endUtc)
		if mergeErr != nil {
			return nil, fmt.Errorf("%w: %v", engineerrors.ErrBackend, mergeErr)
		}
		entries = append(entries, merged...)
	}
	for _, o := range occs {
		standalone, convErr := merge.Standalone(o)
		if convErr != nil {
			return nil, fmt.Errorf("%w: %v", engineerrors.ErrBackend, convErr)
		}
		entries = append(entries, standalone)
	}

	return entries, nil
}

// GetRecurrences returns RecurrencePattern entries whose window
// overlaps [start, end].
func (e *Engine) GetRecurrences(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, start, end tzmodel.TaggedTime, zone string, types []string) (entries []calendarmodel.CalendarEntry, err error) {
	logger := e.loggerWith(ctx, "GetRecurrences", "organization", tenant.Organization, "resource_path", tenant.ResourcePath)
	logger.DebugContext(ctx, "get recurrences started")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "get recurrences failed", "error", err, "error_kind", engineerrors.Kind(err))
			return
		}
		logger.With("entry_count", len(entries)).InfoContext(ctx, "get recurrences completed")
	}()

	if err = validateTypes(types); err != nil {
		return nil, err
	}
	startUtc, endUtc, err := resolveWindow(start, end, zone)
	if err != nil {
		return nil, err
	}

	recs, err := e.recurrences.GetInRange(ctx, tx, tenant, startUtc, endUtc, types)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	for _, r := range recs {
		entry, convErr := recurrenceEntry(r)
		if convErr != nil {
			return nil, fmt.Errorf("%w: %v", engineerrors.ErrBackend, convErr)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// loadPhaseA fetches recurrences and standalone occurrences
// concurrently, per §5's phase-A fan-out.
func (e *Engine) loadPhaseA(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, startUtc, endUtc time.Time, types []string) ([]calendarmodel.Recurrence, []calendarmodel.Occurrence, error) {
	g, gctx := errgroup.WithContext(ctx)
	var recs []calendarmodel.Recurrence
	var occs []calendarmodel.Occurrence

	g.Go(func() error {
		var err error
		recs, err = e.recurrences.GetInRange(gctx, tx, tenant, startUtc, endUtc, types)
		return mapRepoErr(err)
	})
	g.Go(func() error {
		var err error
		occs, err = e.occurrences.GetInRange(gctx, tx, tenant, startUtc, endUtc, types)
		return mapRepoErr(err)
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return recs, occs, nil
}

// loadPhaseB fetches exceptions and overrides concurrently, keyed by
// the recurrence ids phase A discovered. It is skipped entirely when
// phase A found no recurrences.
func (e *Engine) loadPhaseB(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, recs []calendarmodel.Recurrence, startUtc, endUtc time.Time) (map[string][]calendarmodel.OccurrenceException, map[string][]calendarmodel.OccurrenceOverride, error) {
	if len(recs) == 0 {
		return nil, nil, nil
	}
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.Id
	}

	g, gctx := errgroup.WithContext(ctx)
	var exceptions []calendarmodel.OccurrenceException
	var overrides []calendarmodel.OccurrenceOverride

	g.Go(func() error {
		var err error
		exceptions, err = e.exceptions.GetByRecurrenceIds(gctx, tx, tenant, ids)
		return mapRepoErr(err)
	})
	g.Go(func() error {
		var err error
		overrides, err = e.overrides.GetInRange(gctx, tx, tenant, ids, startUtc, endUtc)
		return mapRepoErr(err)
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	excByRecurrence := make(map[string][]calendarmodel.OccurrenceException)
	for _, x := range exceptions {
		excByRecurrence[x.RecurrenceId] = append(excByRecurrence[x.RecurrenceId], x)
	}
	ovByRecurrence := make(map[string][]calendarmodel.OccurrenceOverride)
	for _, v := range overrides {
		ovByRecurrence[v.RecurrenceId] = append(ovByRecurrence[v.RecurrenceId], v)
	}
	return excByRecurrence, ovByRecurrence, nil
}

func recurrenceEntry(r calendarmodel.Recurrence) (calendarmodel.CalendarEntry, error) {
	localStart, err := tzmodel.ToLocal(r.StartTime, r.TimeZone)
	if err != nil {
		return calendarmodel.CalendarEntry{}, err
	}
	return calendarmodel.CalendarEntry{
		Variant:      calendarmodel.VariantRecurrence,
		Tenant:       r.Tenant,
		Type:         r.Type,
		StartTime:    localStart,
		EndTime:      localStart.Add(r.Duration),
		Duration:     r.Duration,
		TimeZone:     r.TimeZone,
		Extensions:   r.Extensions.Clone(),
		RecurrenceId: r.Id,
	}, nil
}

// CreateRecurrence validates and persists a new Recurrence.
func (e *Engine) CreateRecurrence(ctx context.Context, tx repo.TxHandle, input validate.CreateRecurrenceInput) (r calendarmodel.Recurrence, err error) {
	logger := e.loggerWith(ctx, "CreateRecurrence", "organization", input.Tenant.Organization, "resource_path", input.Tenant.ResourcePath)
	logger.DebugContext(ctx, "create recurrence started")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "create recurrence failed", "error", err, "error_kind", engineerrors.Kind(err))
			return
		}
		logger.With("recurrence_id", r.Id).InfoContext(ctx, "create recurrence completed")
	}()

	r, err = validate.CreateRecurrence(input, e.idGen)
	if err != nil {
		return calendarmodel.Recurrence{}, err
	}
	r, err = e.recurrences.Create(ctx, tx, r)
	if err != nil {
		return calendarmodel.Recurrence{}, mapRepoErr(err)
	}
	return r, nil
}

// CreateOccurrence validates and persists a new standalone Occurrence.
func (e *Engine) CreateOccurrence(ctx context.Context, tx repo.TxHandle, input validate.CreateOccurrenceInput) (o calendarmodel.Occurrence, err error) {
	logger := e.loggerWith(ctx, "CreateOccurrence", "organization", input.Tenant.Organization, "resource_path", input.Tenant.ResourcePath)
	logger.DebugContext(ctx, "create occurrence started")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "create occurrence failed", "error", err, "error_kind", engineerrors.Kind(err))
			return
		}
		logger.With("occurrence_id", o.Id).InfoContext(ctx, "create occurrence completed")
	}()

	o, err = validate.CreateOccurrence(input, e.idGen)
	if err != nil {
		return calendarmodel.Occurrence{}, err
	}
	o, err = e.occurrences.Create(ctx, tx, o)
	if err != nil {
		return calendarmodel.Occurrence{}, mapRepoErr(err)
	}
	return o, nil
}

// UpdateOccurrence classifies entry and applies the §4.4 Update action
// for its variant. RecurrencePattern entries are rejected in favor of
// UpdateRecurrence, the dedicated entry point for R itself.
func (e *Engine) UpdateOccurrence(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, entry calendarmodel.CalendarEntry) (updated calendarmodel.CalendarEntry, err error) {
	logger := e.loggerWith(ctx, "UpdateOccurrence", "organization", tenant.Organization, "resource_path", tenant.ResourcePath)
	logger.DebugContext(ctx, "update occurrence started")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "update occurrence failed", "error", err, "error_kind", engineerrors.Kind(err))
			return
		}
		logger.With("variant", updated.Variant.String()).InfoContext(ctx, "update occurrence completed")
	}()

	switch mutate.Classify(entry) {
	case mutate.ClassStandalone:
		return e.updateStandalone(ctx, tx, tenant, entry)
	case mutate.ClassVirtualizedWithoutOverride:
		return e.createOverrideFor(ctx, tx, tenant, entry)
	case mutate.ClassVirtualizedWithOverride:
		return e.updateOverride(ctx, tx, tenant, entry)
	case mutate.ClassRecurrencePattern:
		return calendarmodel.CalendarEntry{}, fmt.Errorf("%w: use UpdateRecurrence to update a recurrence pattern", engineerrors.ErrInvalidOperation)
	default:
		return calendarmodel.CalendarEntry{}, fmt.Errorf("%w: entry does not classify", engineerrors.ErrInvalidOperation)
	}
}

// UpdateRecurrence applies the §4.4 RecurrencePattern Update action:
// only Duration and Extensions may change on R; StartTime, RRule,
// TimeZone, Type, Organization, and ResourcePath are immutable and
// yield ImmutableFieldViolation, leaving R unchanged.
func (e *Engine) UpdateRecurrence(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, incoming calendarmodel.Recurrence) (updated calendarmodel.Recurrence, err error) {
	logger := e.loggerWith(ctx, "UpdateRecurrence", "organization", tenant.Organization, "resource_path", tenant.ResourcePath, "recurrence_id", incoming.Id)
	logger.DebugContext(ctx, "update recurrence started")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "update recurrence failed", "error", err, "error_kind", engineerrors.Kind(err))
			return
		}
		logger.InfoContext(ctx, "update recurrence completed")
	}()

	existing, err := e.recurrences.GetById(ctx, tx, tenant, incoming.Id)
	if err != nil {
		return calendarmodel.Recurrence{}, mapRepoErr(err)
	}
	if err = mutate.ValidateRecurrenceUpdate(existing, incoming); err != nil {
		return calendarmodel.Recurrence{}, err
	}
	planned := mutate.ApplyRecurrenceUpdate(existing, incoming)
	updated, err = e.recurrences.Update(ctx, tx, planned)
	if err != nil {
		return calendarmodel.Recurrence{}, mapRepoErr(err)
	}
	return updated, nil
}

func (e *Engine) updateStandalone(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, entry calendarmodel.CalendarEntry) (calendarmodel.CalendarEntry, error) {
	existing, err := e.occurrences.GetById(ctx, tx, tenant, entry.OccurrenceId)
	if err != nil {
		return calendarmodel.CalendarEntry{}, mapRepoErr(err)
	}
	incoming, err := mutate.ApplyStandaloneUpdate(existing, entry)
	if err != nil {
		return calendarmodel.CalendarEntry{}, err
	}
	proposed := incoming
	proposed.Tenant = entry.Tenant
	proposed.TimeZone = entry.TimeZone
	if err := mutate.ValidateStandaloneUpdate(existing, proposed); err != nil {
		return calendarmodel.CalendarEntry{}, err
	}
	saved, err := e.occurrences.Update(ctx, tx, incoming)
	if err != nil {
		return calendarmodel.CalendarEntry{}, mapRepoErr(err)
	}
	return merge.Standalone(saved)
}

func (e *Engine) createOverrideFor(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, entry calendarmodel.CalendarEntry) (calendarmodel.CalendarEntry, error) {
	parent, err := e.recurrences.GetById(ctx, tx, tenant, entry.RecurrenceId)
	if err != nil {
		return calendarmodel.CalendarEntry{}, mapRepoErr(err)
	}
	if err := mutate.ValidateVirtualizedImmutables(parent, entry); err != nil {
		return calendarmodel.CalendarEntry{}, err
	}
	v, err := mutate.NewOverrideFromEntry(parent, entry, e.idGen())
	if err != nil {
		return calendarmodel.CalendarEntry{}, err
	}
	saved, err := e.overrides.Create(ctx, tx, v)
	if err != nil {
		return calendarmodel.CalendarEntry{}, mapRepoErr(err)
	}
	return overriddenCalendarEntry(parent, saved)
}

func (e *Engine) updateOverride(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, entry calendarmodel.CalendarEntry) (calendarmodel.CalendarEntry, error) {
	parent, err := e.recurrences.GetById(ctx, tx, tenant, entry.RecurrenceId)
	if err != nil {
		return calendarmodel.CalendarEntry{}, mapRepoErr(err)
	}
	if err := mutate.ValidateVirtualizedImmutables(parent, entry); err != nil {
		return calendarmodel.CalendarEntry{}, err
	}
	existing, err := e.overrides.GetById(ctx, tx, tenant, entry.OverrideId)
	if err != nil {
		return calendarmodel.CalendarEntry{}, mapRepoErr(err)
	}
	updated, err := mutate.ApplyOverrideUpdate(existing, entry)
	if err != nil {
		return calendarmodel.CalendarEntry{}, err
	}
	saved, err := e.overrides.Update(ctx, tx, updated)
	if err != nil {
		return calendarmodel.CalendarEntry{}, mapRepoErr(err)
	}
	return overriddenCalendarEntry(parent, saved)
}

func overriddenCalendarEntry(parent calendarmodel.Recurrence, v calendarmodel.OccurrenceOverride) (calendarmodel.CalendarEntry, error) {
	localStart, err := tzmodel.ToLocal(v.StartTime, parent.TimeZone)
	if err != nil {
		return calendarmodel.CalendarEntry{}, err
	}
	return calendarmodel.CalendarEntry{
		Variant:      calendarmodel.VariantVirtualized,
		Tenant:       parent.Tenant,
		Type:         parent.Type,
		StartTime:    localStart,
		EndTime:      localStart.Add(v.Duration),
		Duration:     v.Duration,
		TimeZone:     parent.TimeZone,
		Extensions:   v.Extensions.Clone(),
		RecurrenceId: parent.Id,
		OverrideId:   v.Id,
		Original: &calendarmodel.OriginalSnapshot{
			StartTime:  v.OriginalTimeUtc,
			Duration:   v.OriginalDuration,
			Extensions: v.OriginalExtensions.Clone(),
		},
	}, nil
}

// DeleteOccurrence classifies entry and applies the §4.4 Delete action
// for its variant. RecurrencePattern entries are rejected in favor of
// the dedicated DeleteRecurrence entry point.
func (e *Engine) DeleteOccurrence(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, entry calendarmodel.CalendarEntry) (err error) {
	logger := e.loggerWith(ctx, "DeleteOccurrence", "organization", tenant.Organization, "resource_path", tenant.ResourcePath)
	logger.DebugContext(ctx, "delete occurrence started")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "delete occurrence failed", "error", err, "error_kind", engineerrors.Kind(err))
			return
		}
		logger.InfoContext(ctx, "delete occurrence completed")
	}()

	switch mutate.Classify(entry) {
	case mutate.ClassStandalone:
		return mapRepoErr(e.occurrences.Delete(ctx, tx, tenant, entry.OccurrenceId))
	case mutate.ClassVirtualizedWithoutOverride:
		_, err = e.exceptions.Create(ctx, tx, calendarmodel.OccurrenceException{
			Id:              e.idGen(),
			Tenant:          tenant,
			RecurrenceId:    entry.RecurrenceId,
			OriginalTimeUtc: entry.Original.StartTime,
		})
		return mapRepoErr(err)
	case mutate.ClassVirtualizedWithOverride:
		if err = mapRepoErr(e.overrides.Delete(ctx, tx, tenant, entry.OverrideId)); err != nil {
			return err
		}
		_, err = e.exceptions.Create(ctx, tx, calendarmodel.OccurrenceException{
			Id:              e.idGen(),
			Tenant:          tenant,
			RecurrenceId:    entry.RecurrenceId,
			OriginalTimeUtc: entry.Original.StartTime,
		})
		return mapRepoErr(err)
	case mutate.ClassRecurrencePattern:
		return fmt.Errorf("%w: use DeleteRecurrence to delete a recurrence pattern", engineerrors.ErrInvalidOperation)
	default:
		return fmt.Errorf("%w: entry does not classify", engineerrors.ErrInvalidOperation)
	}
}

// DeleteRecurrence cascades: deletes every exception and override
// owned by recurrenceId, then the recurrence itself. When tx is
// non-nil the caller is responsible for commit/rollback; when tx is
// nil the three steps are issued non-transactionally and partial
// failure can leave inconsistent state, per §5.
func (e *Engine) DeleteRecurrence(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, recurrenceId string) (err error) {
	logger := e.loggerWith(ctx, "DeleteRecurrence", "organization", tenant.Organization, "resource_path", tenant.ResourcePath, "recurrence_id", recurrenceId)
	logger.DebugContext(ctx, "delete recurrence started")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "delete recurrence failed", "error", err, "error_kind", engineerrors.Kind(err))
			return
		}
		logger.InfoContext(ctx, "delete recurrence completed")
	}()

	if err = mapRepoErr(e.exceptions.DeleteByRecurrence(ctx, tx, tenant, recurrenceId)); err != nil {
		return err
	}
	if err = mapRepoErr(e.overrides.DeleteByRecurrence(ctx, tx, tenant, recurrenceId)); err != nil {
		return err
	}
	if err = mapRepoErr(e.recurrences.Delete(ctx, tx, tenant, recurrenceId)); err != nil {
		return err
	}
	return nil
}

// RestoreOccurrence undoes an override, letting the next query re-emit
// R's bare virtualized instant. Only valid for Virtualized w/ override;
// excepted instants are not restorable via this entry point.
func (e *Engine) RestoreOccurrence(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, entry calendarmodel.CalendarEntry) (err error) {
	logger := e.loggerWith(ctx, "RestoreOccurrence", "organization", tenant.Organization, "resource_path", tenant.ResourcePath)
	logger.DebugContext(ctx, "restore occurrence started")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "restore occurrence failed", "error", err, "error_kind", engineerrors.Kind(err))
			return
		}
		logger.InfoContext(ctx, "restore occurrence completed")
	}()

	if mutate.Classify(entry) != mutate.ClassVirtualizedWithOverride {
		return fmt.Errorf("%w: restore is only valid for a virtualized entry with an existing override", engineerrors.ErrInvalidOperation)
	}
	return mapRepoErr(e.overrides.Delete(ctx, tx, tenant, entry.OverrideId))
}

// mapRepoErr translates repo-level sentinel errors to engine-level
// ones.
func mapRepoErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", engineerrors.ErrCancelled, err)
	case errors.Is(err, repo.ErrNotFound):
		return fmt.Errorf("%w: %v", engineerrors.ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %v", engineerrors.ErrBackend, err)
	}
}
