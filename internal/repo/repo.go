// Package repo defines the four repository contracts the engine
// consumes (C6): RecurrenceRepo, OccurrenceRepo, ExceptionRepo, and
// OverrideRepo, plus the opaque transaction-context handle threaded
// through multi-write operations.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/example/calendarengine/internal/calendarmodel"
)

var (
	// ErrNotFound is returned when the requested record does not exist
	// in its tenant scope.
	ErrNotFound = errors.New("repo: not found")
	// ErrDuplicate indicates a unique constraint violation (for example,
	// a duplicate OriginalTimeUtc for the same recurrence).
	ErrDuplicate = errors.New("repo: duplicate")
	// ErrConstraintViolation is returned for any other backend-level
	// constraint failure.
	ErrConstraintViolation = errors.New("repo: constraint violation")
)

// TxHandle is an opaque capability representing an in-flight
// transaction. Repositories accept it optionally; only the caller that
// obtained it commits or rolls it back. The engine never does either.
type TxHandle interface {
	// Active reports whether the transaction is still open.
	Active() bool
}

// RecurrenceRepo persists Recurrence (R) records.
type RecurrenceRepo interface {
	Create(ctx context.Context, tx TxHandle, r calendarmodel.Recurrence) (calendarmodel.Recurrence, error)
	GetById(ctx context.Context, tx TxHandle, tenant calendarmodel.Tenant, id string) (calendarmodel.Recurrence, error)
	Update(ctx context.Context, tx TxHandle, r calendarmodel.Recurrence) (calendarmodel.Recurrence, error)
	// Delete must cascade to every OccurrenceException and
	// OccurrenceOverride owned by id, either via a backend-level
	// cascade or explicit ops issued inside tx.
	Delete(ctx context.Context, tx TxHandle, tenant calendarmodel.Tenant, id string) error
	// GetInRange returns every R where R.StartTime <= endUtc AND
	// R.RecurrenceEndTime >= startUtc, optionally filtered to types.
	GetInRange(ctx context.Context, tx TxHandle, tenant calendarmodel.Tenant, startUtc, endUtc time.Time, types []string) ([]calendarmodel.Recurrence, error)
}

// OccurrenceRepo persists standalone Occurrence (O) records.
type OccurrenceRepo interface {
	Create(ctx context.Context, tx TxHandle, o calendarmodel.Occurrence) (calendarmodel.Occurrence, error)
	GetById(ctx context.Context, tx TxHandle, tenant calendarmodel.Tenant, id string) (calendarmodel.Occurrence, error)
	Update(ctx context.Context, tx TxHandle, o calendarmodel.Occurrence) (calendarmodel.Occurrence, error)
	Delete(ctx context.Context, tx TxHandle, tenant calendarmodel.Tenant, id string) error
	// GetInRange returns every O where O.StartTime <= endUtc AND
	// O.EndTime >= startUtc, optionally filtered to types.
	GetInRange(ctx context.Context, tx TxHandle, tenant calendarmodel.Tenant, startUtc, endUtc time.Time, types []string) ([]calendarmodel.Occurrence, error)
}

// ExceptionRepo persists OccurrenceException (X) records.
type ExceptionRepo interface {
	Create(ctx context.Context, tx TxHandle, x calendarmodel.OccurrenceException) (calendarmodel.OccurrenceException, error)
	GetById(ctx context.Context, tx TxHandle, tenant calendarmodel.Tenant, id string) (calendarmodel.OccurrenceException, error)
	Delete(ctx context.Context, tx TxHandle, tenant calendarmodel.Tenant, id string) error
	DeleteByRecurrence(ctx context.Context, tx TxHandle, tenant calendarmodel.Tenant, recurrenceId string) error
	GetByRecurrenceIds(ctx context.Context, tx TxHandle, tenant calendarmodel.Tenant, recurrenceIds []string) ([]calendarmodel.OccurrenceException, error)
}

// OverrideRepo persists OccurrenceOverride (V) records.
type OverrideRepo interface {
	Create(ctx context.Context, tx TxHandle, v calendarmodel.OccurrenceOverride) (calendarmodel.OccurrenceOverride, error)
	GetById(ctx context.Context, tx TxHandle, tenant calendarmodel.Tenant, id string) (calendarmodel.OccurrenceOverride, error)
	Update(ctx context.Context, tx TxHandle, v calendarmodel.OccurrenceOverride) (calendarmodel.OccurrenceOverride, error)
	Delete(ctx context.Context, tx TxHandle, tenant calendarmodel.Tenant, id string) error
	DeleteByRecurrence(ctx context.Context, tx TxHandle, tenant calendarmodel.Tenant, recurrenceId string) error
	// GetInRange returns every V belonging to one of recurrenceIds where
	// either OriginalTimeUtc falls in [startUtc, endUtc] or
	// [V.StartTime, V.EndTime] overlaps [startUtc, endUtc] (the
	// moved-in case).
	GetInRange(ctx context.Context, tx TxHandle, tenant calendarmodel.Tenant, recurrenceIds []string, startUtc, endUtc time.Time) ([]calendarmodel.OccurrenceOverride, error)
}
