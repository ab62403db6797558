// Package sqlitestore is the reference repository backend: a pure-Go,
// CGO-free implementation of the four repository contracts (C6) on top
// of modernc.org/sqlite. It replaces the migration-tool-driven schema
// management of larger deployments with a single embedded
// CREATE TABLE IF NOT EXISTS script, appropriate for an engine whose
// persistence surface is five small tables.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/example/calendarengine/internal/calendarmodel"
	"github.com/example/calendarengine/internal/repo"
)

//go:embed schema.sql
var schemaSQL string

// Store owns the database handle shared by every repository view.
type Store struct {
	db *sql.DB
}

// Open opens (and does not yet initialize) a SQLite database at dsn,
// e.g. "file:calendar.db?_pragma=busy_timeout(5000)" or
// "file::memory:?cache=shared" for tests.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	return &Store{db: db}, nil
}

// Init creates every table and index the store needs if they do not
// already exist.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("sqlitestore: init schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Recurrences, Occurrences, Exceptions, and Overrides return the four
// repo.* implementations backed by this store, ready to hand to
// engine.New.
func (s *Store) Recurrences() repo.RecurrenceRepo { return recurrenceRepo{s} }
func (s *Store) Occurrences() repo.OccurrenceRepo { return occurrenceRepo{s} }
func (s *Store) Exceptions() repo.ExceptionRepo   { return exceptionRepo{s} }
func (s *Store) Overrides() repo.OverrideRepo     { return overrideRepo{s} }

// sqlTx adapts *sql.Tx to repo.TxHandle. It is the caller's
// responsibility to Commit or Rollback; the engine never does either.
type sqlTx struct {
	tx     *sql.Tx
	active bool
}

func (t *sqlTx) Active() bool { return t.active }

// Commit commits the underlying transaction.
func (t *sqlTx) Commit() error {
	t.active = false
	return t.tx.Commit()
}

// Rollback rolls back the underlying transaction.
func (t *sqlTx) Rollback() error {
	t.active = false
	return t.tx.Rollback()
}

// Begin starts a new transaction. The returned handle satisfies
// repo.TxHandle and can be passed to any repository method.
func (s *Store) Begin(ctx context.Context) (*sqlTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: begin: %w", err)
	}
	return &sqlTx{tx: tx, active: true}, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn resolves the querier to use for a call: the transaction's
// connection if tx is a live *sqlTx, otherwise the store's pool.
func (s *Store) conn(tx repo.TxHandle) querier {
	if t, ok := tx.(*sqlTx); ok && t.active {
		return t.tx
	}
	return s.db
}

// mapSQLError classifies a raw database/sql or SQLite driver error
// into the repo package's sentinel errors, the way a constraint-name
// substring match would on any SQLite-backed repository.
func mapSQLError(err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return repo.ErrNotFound
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", repo.ErrDuplicate, err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"),
		strings.Contains(msg, "CHECK constraint failed"),
		strings.Contains(msg, "NOT NULL constraint failed"):
		return fmt.Errorf("%w: %v", repo.ErrConstraintViolation, err)
	default:
		return err
	}
}

func marshalExtensions(ext calendarmodel.Extensions) (string, error) {
	if ext == nil {
		ext = calendarmodel.Extensions{}
	}
	b, err := json.Marshal(ext)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalExtensions(raw string) (calendarmodel.Extensions, error) {
	if raw == "" {
		return nil, nil
	}
	var ext calendarmodel.Extensions
	if err := json.Unmarshal([]byte(raw), &ext); err != nil {
		return nil, err
	}
	return ext, nil
}

func toUnixNano(t time.Time) int64    { return t.UTC().UnixNano() }
func fromUnixNano(ns int64) time.Time { return time.Unix(0, ns).UTC() }

// recurrenceRepo implements repo.RecurrenceRepo.
type recurrenceRepo struct{ store *Store }

func (r recurrenceRepo) Create(ctx context.Context, tx repo.TxHandle, rec calendarmodel.Recurrence) (calendarmodel.Recurrence, error) {
	ext, err := marshalExtensions(rec.Extensions)
	if err != nil {
		return calendarmodel.Recurrence{}, err
	}
	var dayBehavior any
	if rec.DayBehavior != nil {
		dayBehavior = string(*rec.DayBehavior)
	}
	_, err = r.store.conn(tx).ExecContext(ctx, `
		INSERT INTO recurrences (id, organization, resource_path, type, start_time, duration_ns, rrule, timezone, end_time, day_behavior, extensions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Id, rec.Tenant.Organization, rec.Tenant.ResourcePath, rec.Type,
		toUnixNano(rec.StartTime), rec.Duration.Nanoseconds(), rec.RRule, rec.TimeZone,
		toUnixNano(rec.EndTime), dayBehavior, ext)
	if err != nil {
		return calendarmodel.Recurrence{}, mapSQLError(err)
	}
	return rec, nil
}

func scanRecurrence(row interface {
	Scan(dest ...any) error
}) (calendarmodel.Recurrence, error) {
	var rec calendarmodel.Recurrence
	var startNs, endNs, durationNs int64
	var ext string
	var dayBehavior sql.NullString
	err := row.Scan(&rec.Id, &rec.Tenant.Organization, &rec.Tenant.ResourcePath, &rec.Type,
		&startNs, &durationNs, &rec.RRule, &rec.TimeZone, &endNs, &dayBehavior, &ext)
	if err != nil {
		return calendarmodel.Recurrence{}, mapSQLError(err)
	}
	rec.StartTime = fromUnixNano(startNs)
	rec.Duration = time.Duration(durationNs)
	rec.EndTime = fromUnixNano(endNs)
	if dayBehavior.Valid {
		b := calendarmodel.MonthDayBehavior(dayBehavior.String)
		rec.DayBehavior = &b
	}
	rec.Extensions, err = unmarshalExtensions(ext)
	if err != nil {
		return calendarmodel.Recurrence{}, err
	}
	return rec, nil
}

const recurrenceColumns = "id, organization, resource_path, type, start_time, duration_ns, rrule, timezone, end_time, day_behavior, extensions"

func (r recurrenceRepo) GetById(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, id string) (calendarmodel.Recurrence, error) {
	row := r.store.conn(tx).QueryRowContext(ctx,
		"SELECT "+recurrenceColumns+" FROM recurrences WHERE id = ? AND organization = ? AND resource_path = ?",
		id, tenant.Organization, tenant.ResourcePath)
	return scanRecurrence(row)
}

func (r recurrenceRepo) Update(ctx context.Context, tx repo.TxHandle, rec calendarmodel.Recurrence) (calendarmodel.Recurrence, error) {
	ext, err := marshalExtensions(rec.Extensions)
	if err != nil {
		return calendarmodel.Recurrence{}, err
	}
	res, err := r.store.conn(tx).ExecContext(ctx, `
		UPDATE recurrences SET duration_ns = ?, extensions = ?
		WHERE id = ? AND organization = ? AND resource_path = ?`,
		rec.Duration.Nanoseconds(), ext, rec.Id, rec.Tenant.Organization, rec.Tenant.ResourcePath)
	if err != nil {
		return calendarmodel.Recurrence{}, mapSQLError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return calendarmodel.Recurrence{}, repo.ErrNotFound
	}
	return rec, nil
}

// Delete cascades to exceptions and overrides explicitly: SQLite's
// foreign keys only cascade when PRAGMA foreign_keys is on and an
// explicit ON DELETE CASCADE clause is present, which this schema
// intentionally omits so the engine's own cascade-delete path (run
// inside the caller's transaction) is the single source of truth.
func (r recurrenceRepo) Delete(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, id string) error {
	conn := r.store.conn(tx)
	if _, err := conn.ExecContext(ctx, "DELETE FROM occurrence_overrides WHERE recurrence_id = ?", id); err != nil {
		return mapSQLError(err)
	}
	if _, err := conn.ExecContext(ctx, "DELETE FROM occurrence_exceptions WHERE recurrence_id = ?", id); err != nil {
		return mapSQLError(err)
	}
	res, err := conn.ExecContext(ctx, "DELETE FROM recurrences WHERE id = ? AND organization = ? AND resource_path = ?",
		id, tenant.Organization, tenant.ResourcePath)
	if err != nil {
		return mapSQLError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r recurrenceRepo) GetInRange(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, startUtc, endUtc time.Time, types []string) ([]calendarmodel.Recurrence, error) {
	query := "SELECT " + recurrenceColumns + ` FROM recurrences
		WHERE organization = ? AND resource_path = ? AND start_time <= ? AND end_time >= ?`
	args := []any{tenant.Organization, tenant.ResourcePath, toUnixNano(endUtc), toUnixNano(startUtc)}
	query, args = appendTypeFilter(query, args, types)

	rows, err := r.store.conn(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapSQLError(err)
	}
	defer rows.Close()

	var out []calendarmodel.Recurrence
	for rows.Next() {
		rec, err := scanRecurrence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// appendTypeFilter adds an `AND type IN (...)` clause when types is a
// non-empty, non-nil filter list.
func appendTypeFilter(query string, args []any, types []string) (string, []any) {
	if len(types) == 0 {
		return query, args
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(types)), ",")
	query += " AND type IN (" + placeholders + ")"
	for _, t := range types {
		args = append(args, t)
	}
	return query, args
}

// occurrenceRepo implements repo.OccurrenceRepo.
type occurrenceRepo struct{ store *Store }

const occurrenceColumns = "id, organization, resource_path, type, start_time, duration_ns, timezone, extensions"

func scanOccurrence(row interface {
	Scan(dest ...any) error
}) (calendarmodel.Occurrence, error) {
	var o calendarmodel.Occurrence
	var startNs, durationNs int64
	var ext string
	err := row.Scan(&o.Id, &o.Tenant.Organization, &o.Tenant.ResourcePath, &o.Type, &startNs, &durationNs, &o.TimeZone, &ext)
	if err != nil {
		return calendarmodel.Occurrence{}, mapSQLError(err)
	}
	o.StartTime = fromUnixNano(startNs)
	o.Duration = time.Duration(durationNs)
	o.Extensions, err = unmarshalExtensions(ext)
	if err != nil {
		return calendarmodel.Occurrence{}, err
	}
	return o, nil
}

func (r occurrenceRepo) Create(ctx context.Context, tx repo.TxHandle, o calendarmodel.Occurrence) (calendarmodel.Occurrence, error) {
	ext, err := marshalExtensions(o.Extensions)
	if err != nil {
		return calendarmodel.Occurrence{}, err
	}
	_, err = r.store.conn(tx).ExecContext(ctx, `
		INSERT INTO occurrences (id, organization, resource_path, type, start_time, duration_ns, timezone, extensions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.Id, o.Tenant.Organization, o.Tenant.ResourcePath, o.Type, toUnixNano(o.StartTime), o.Duration.Nanoseconds(), o.TimeZone, ext)
	if err != nil {
		return calendarmodel.Occurrence{}, mapSQLError(err)
	}
	return o, nil
}

func (r occurrenceRepo) GetById(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, id string) (calendarmodel.Occurrence, error) {
	row := r.store.conn(tx).QueryRowContext(ctx,
		"SELECT "+occurrenceColumns+" FROM occurrences WHERE id = ? AND organization = ? AND resource_path = ?",
		id, tenant.Organization, tenant.ResourcePath)
	return scanOccurrence(row)
}

func (r occurrenceRepo) Update(ctx context.Context, tx repo.TxHandle, o calendarmodel.Occurrence) (calendarmodel.Occurrence, error) {
	ext, err := marshalExtensions(o.Extensions)
	if err != nil {
		return calendarmodel.Occurrence{}, err
	}
	res, err := r.store.conn(tx).ExecContext(ctx, `
		UPDATE occurrences SET type = ?, start_time = ?, duration_ns = ?, extensions = ?
		WHERE id = ? AND organization = ? AND resource_path = ?`,
		o.Type, toUnixNano(o.StartTime), o.Duration.Nanoseconds(), ext, o.Id, o.Tenant.Organization, o.Tenant.ResourcePath)
	if err != nil {
		return calendarmodel.Occurrence{}, mapSQLError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return calendarmodel.Occurrence{}, repo.ErrNotFound
	}
	return o, nil
}

func (r occurrenceRepo) Delete(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, id string) error {
	res, err := r.store.conn(tx).ExecContext(ctx, "DELETE FROM occurrences WHERE id = ? AND organization = ? AND resource_path = ?",
		id, tenant.Organization, tenant.ResourcePath)
	if err != nil {
		return mapSQLError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r occurrenceRepo) GetInRange(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, startUtc, endUtc time.Time, types []string) ([]calendarmodel.Occurrence, error) {
	query := "SELECT " + occurrenceColumns + ` FROM occurrences
		WHERE organization = ? AND resource_path = ? AND start_time <= ? AND (start_time + duration_ns) >= ?`
	args := []any{tenant.Organization, tenant.ResourcePath, toUnixNano(endUtc), toUnixNano(startUtc)}
	query, args = appendTypeFilter(query, args, types)

	rows, err := r.store.conn(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapSQLError(err)
	}
	defer rows.Close()

	var out []calendarmodel.Occurrence
	for rows.Next() {
		o, err := scanOccurrence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// exceptionRepo implements repo.ExceptionRepo.
type exceptionRepo struct{ store *Store }

const exceptionColumns = "id, organization, resource_path, recurrence_id, original_time_utc"

func scanException(row interface {
	Scan(dest ...any) error
}) (calendarmodel.OccurrenceException, error) {
	var x calendarmodel.OccurrenceException
	var originalNs int64
	err := row.Scan(&x.Id, &x.Tenant.Organization, &x.Tenant.ResourcePath, &x.RecurrenceId, &originalNs)
	if err != nil {
		return calendarmodel.OccurrenceException{}, mapSQLError(err)
	}
	x.OriginalTimeUtc = fromUnixNano(originalNs)
	return x, nil
}

func (r exceptionRepo) Create(ctx context.Context, tx repo.TxHandle, x calendarmodel.OccurrenceException) (calendarmodel.OccurrenceException, error) {
	_, err := r.store.conn(tx).ExecContext(ctx, `
		INSERT INTO occurrence_exceptions (id, organization, resource_path, recurrence_id, original_time_utc)
		VALUES (?, ?, ?, ?, ?)`,
		x.Id, x.Tenant.Organization, x.Tenant.ResourcePath, x.RecurrenceId, toUnixNano(x.OriginalTimeUtc))
	if err != nil {
		return calendarmodel.OccurrenceException{}, mapSQLError(err)
	}
	return x, nil
}

func (r exceptionRepo) GetById(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, id string) (calendarmodel.OccurrenceException, error) {
	row := r.store.conn(tx).QueryRowContext(ctx,
		"SELECT "+exceptionColumns+" FROM occurrence_exceptions WHERE id = ? AND organization = ? AND resource_path = ?",
		id, tenant.Organization, tenant.ResourcePath)
	return scanException(row)
}

func (r exceptionRepo) Delete(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, id string) error {
	res, err := r.store.conn(tx).ExecContext(ctx, "DELETE FROM occurrence_exceptions WHERE id = ? AND organization = ? AND resource_path = ?",
		id, tenant.Organization, tenant.ResourcePath)
	if err != nil {
		return mapSQLError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r exceptionRepo) DeleteByRecurrence(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, recurrenceId string) error {
	_, err := r.store.conn(tx).ExecContext(ctx, "DELETE FROM occurrence_exceptions WHERE recurrence_id = ? AND organization = ? AND resource_path = ?",
		recurrenceId, tenant.Organization, tenant.ResourcePath)
	return mapSQLError(err)
}

func (r exceptionRepo) GetByRecurrenceIds(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, recurrenceIds []string) ([]calendarmodel.OccurrenceException, error) {
	if len(recurrenceIds) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(recurrenceIds)), ",")
	query := "SELECT " + exceptionColumns + ` FROM occurrence_exceptions
		WHERE organization = ? AND resource_path = ? AND recurrence_id IN (` + placeholders + `)`
	args := []any{tenant.Organization, tenant.ResourcePath}
	for _, id := range recurrenceIds {
		args = append(args, id)
	}
	rows, err := r.store.conn(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapSQLError(err)
	}
	defer rows.Close()

	var out []calendarmodel.OccurrenceException
	for rows.Next() {
		x, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, rows.Err()
}

// overrideRepo implements repo.OverrideRepo.
type overrideRepo struct{ store *Store }

const overrideColumns = "id, organization, resource_path, recurrence_id, original_time_utc, start_time, duration_ns, extensions, original_duration_ns, original_extensions"

func scanOverride(row interface {
	Scan(dest ...any) error
}) (calendarmodel.OccurrenceOverride, error) {
	var v calendarmodel.OccurrenceOverride
	var originalNs, startNs, durationNs, originalDurationNs int64
	var ext, originalExt string
	err := row.Scan(&v.Id, &v.Tenant.Organization, &v.Tenant.ResourcePath, &v.RecurrenceId,
		&originalNs, &startNs, &durationNs, &ext, &originalDurationNs, &originalExt)
	if err != nil {
		return calendarmodel.OccurrenceOverride{}, mapSQLError(err)
	}
	v.OriginalTimeUtc = fromUnixNano(originalNs)
	v.StartTime = fromUnixNano(startNs)
	v.Duration = time.Duration(durationNs)
	v.OriginalDuration = time.Duration(originalDurationNs)
	if v.Extensions, err = unmarshalExtensions(ext); err != nil {
		return calendarmodel.OccurrenceOverride{}, err
	}
	if v.OriginalExtensions, err = unmarshalExtensions(originalExt); err != nil {
		return calendarmodel.OccurrenceOverride{}, err
	}
	return v, nil
}

func (r overrideRepo) Create(ctx context.Context, tx repo.TxHandle, v calendarmodel.OccurrenceOverride) (calendarmodel.OccurrenceOverride, error) {
	ext, err := marshalExtensions(v.Extensions)
	if err != nil {
		return calendarmodel.OccurrenceOverride{}, err
	}
	originalExt, err := marshalExtensions(v.OriginalExtensions)
	if err != nil {
		return calendarmodel.OccurrenceOverride{}, err
	}
	_, err = r.store.conn(tx).ExecContext(ctx, `
		INSERT INTO occurrence_overrides (id, organization, resource_path, recurrence_id, original_time_utc, start_time, duration_ns, extensions, original_duration_ns, original_extensions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.Id, v.Tenant.Organization, v.Tenant.ResourcePath, v.RecurrenceId, toUnixNano(v.OriginalTimeUtc),
		toUnixNano(v.StartTime), v.Duration.Nanoseconds(), ext, v.OriginalDuration.Nanoseconds(), originalExt)
	if err != nil {
		return calendarmodel.OccurrenceOverride{}, mapSQLError(err)
	}
	return v, nil
}

func (r overrideRepo) GetById(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, id string) (calendarmodel.OccurrenceOverride, error) {
	row := r.store.conn(tx).QueryRowContext(ctx,
		"SELECT "+overrideColumns+" FROM occurrence_overrides WHERE id = ? AND organization = ? AND resource_path = ?",
		id, tenant.Organization, tenant.ResourcePath)
	return scanOverride(row)
}

func (r overrideRepo) Update(ctx context.Context, tx repo.TxHandle, v calendarmodel.OccurrenceOverride) (calendarmodel.OccurrenceOverride, error) {
	ext, err := marshalExtensions(v.Extensions)
	if err != nil {
		return calendarmodel.OccurrenceOverride{}, err
	}
	res, err := r.store.conn(tx).ExecContext(ctx, `
		UPDATE occurrence_overrides SET start_time = ?, duration_ns = ?, extensions = ?
		WHERE id = ? AND organization = ? AND resource_path = ?`,
		toUnixNano(v.StartTime), v.Duration.Nanoseconds(), ext, v.Id, v.Tenant.Organization, v.Tenant.ResourcePath)
	if err != nil {
		return calendarmodel.OccurrenceOverride{}, mapSQLError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return calendarmodel.OccurrenceOverride{}, repo.ErrNotFound
	}
	return v, nil
}

func (r overrideRepo) Delete(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, id string) error {
	res, err := r.store.conn(tx).ExecContext(ctx, "DELETE FROM occurrence_overrides WHERE id = ? AND organization = ? AND resource_path = ?",
		id, tenant.Organization, tenant.ResourcePath)
	if err != nil {
		return mapSQLError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r overrideRepo) DeleteByRecurrence(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, recurrenceId string) error {
	_, err := r.store.conn(tx).ExecContext(ctx, "DELETE FROM occurrence_overrides WHERE recurrence_id = ? AND organization = ? AND resource_path = ?",
		recurrenceId, tenant.Organization, tenant.ResourcePath)
	return mapSQLError(err)
}

func (r overrideRepo) GetInRange(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, recurrenceIds []string, startUtc, endUtc time.Time) ([]calendarmodel.OccurrenceOverride, error) {
	if len(recurrenceIds) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(recurrenceIds)), ",")
	query := "SELECT " + overrideColumns + ` FROM occurrence_overrides
		WHERE organization = ? AND resource_path = ? AND recurrence_id IN (` + placeholders + `)
		AND (
			(original_time_utc BETWEEN ? AND ?)
			OR (start_time <= ? AND (start_time + duration_ns) >= ?)
		)`
	args := []any{tenant.Organization, tenant.ResourcePath}
	for _, id := range recurrenceIds {
		args = append(args, id)
	}
	args = append(args, toUnixNano(startUtc), toUnixNano(endUtc), toUnixNano(endUtc), toUnixNano(startUtc))

	rows, err := r.store.conn(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapSQLError(err)
	}
	defer rows.Close()

	var out []calendarmodel.OccurrenceOverride
	for rows.Next() {
		v, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
