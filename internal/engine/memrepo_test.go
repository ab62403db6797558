package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/example/calendarengine/internal/calendarmodel"
	"github.com/example/calendarengine/internal/repo"
)

// memTx is a hand-written in-memory transaction handle: Active()
// reflects whether commit/rollback has been called. The test, not the
// engine, drives commit/rollback, mirroring §5's "the engine never
// commits" rule.
type memTx struct {
	id     int
	active bool
}

func (t *memTx) Active() bool { return t.active }

type snapshot struct {
	recurrences map[string]calendarmodel.Recurrence
	occurrences map[string]calendarmodel.Occurrence
	exceptions  map[string]calendarmodel.OccurrenceException
	overrides   map[string]calendarmodel.OccurrenceOverride
}

// memStore backs all four repository interfaces with plain maps. It
// supports begin/commit/rollback for tests that exercise transactional
// cascade delete; failOverrideDelete lets a test inject a mid-cascade
// failure.
type memStore struct {
	recurrences map[string]calendarmodel.Recurrence
	occurrences map[string]calendarmodel.Occurrence
	exceptions  map[string]calendarmodel.OccurrenceException
	overrides   map[string]calendarmodel.OccurrenceOverride

	snapshots map[int]snapshot
	nextTx    int

	failOverrideDelete bool
}

func newMemStore() *memStore {
	return &memStore{
		recurrences: map[string]calendarmodel.Recurrence{},
		occurrences: map[string]calendarmodel.Occurrence{},
		exceptions:  map[string]calendarmodel.OccurrenceException{},
		overrides:   map[string]calendarmodel.OccurrenceOverride{},
		snapshots:   map[int]snapshot{},
	}
}

func cloneRecurrences(m map[string]calendarmodel.Recurrence) map[string]calendarmodel.Recurrence {
	out := make(map[string]calendarmodel.Recurrence, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneOccurrences(m map[string]calendarmodel.Occurrence) map[string]calendarmodel.Occurrence {
	out := make(map[string]calendarmodel.Occurrence, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneExceptions(m map[string]calendarmodel.OccurrenceException) map[string]calendarmodel.OccurrenceException {
	out := make(map[string]calendarmodel.OccurrenceException, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneOverrides(m map[string]calendarmodel.OccurrenceOverride) map[string]calendarmodel.OccurrenceOverride {
	out := make(map[string]calendarmodel.OccurrenceOverride, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memStore) begin() *memTx {
	s.nextTx++
	id := s.nextTx
	s.snapshots[id] = snapshot{
		recurrences: cloneRecurrences(s.recurrences),
		occurrences: cloneOccurrences(s.occurrences),
		exceptions:  cloneExceptions(s.exceptions),
		overrides:   cloneOverrides(s.overrides),
	}
	return &memTx{id: id, active: true}
}

func (s *memStore) commit(tx *memTx) {
	delete(s.snapshots, tx.id)
	tx.active = false
}

func (s *memStore) rollback(tx *memTx) {
	snap, ok := s.snapshots[tx.id]
	if ok {
		s.recurrences = snap.recurrences
		s.occurrences = snap.occurrences
		s.exceptions = snap.exceptions
		s.overrides = snap.overrides
		delete(s.snapshots, tx.id)
	}
	tx.active = false
}

// recurrenceRepo, occurrenceRepo, exceptionRepo, and overrideRepo are
// thin views over the same *memStore, each satisfying one of the four
// repo.* interfaces.
type recurrenceRepo struct{ store *memStore }
type occurrenceRepo struct{ store *memStore }
type exceptionRepo struct{ store *memStore }
type overrideRepo struct{ store *memStore }

func (r recurrenceRepo) Create(ctx context.Context, tx repo.TxHandle, rec calendarmodel.Recurrence) (calendarmodel.Recurrence, error) {
	r.store.recurrences[rec.Id] = rec
	return rec, nil
}

func (r recurrenceRepo) GetById(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, id string) (calendarmodel.Recurrence, error) {
	rec, ok := r.store.recurrences[id]
	if !ok || rec.Tenant != tenant {
		return calendarmodel.Recurrence{}, repo.ErrNotFound
	}
	return rec, nil
}

func (r recurrenceRepo) Update(ctx context.Context, tx repo.TxHandle, rec calendarmodel.Recurrence) (calendarmodel.Recurrence, error) {
	if _, ok := r.store.recurrences[rec.Id]; !ok {
		return calendarmodel.Recurrence{}, repo.ErrNotFound
	}
	r.store.recurrences[rec.Id] = rec
	return rec, nil
}

func (r recurrenceRepo) Delete(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, id string) error {
	rec, ok := r.store.recurrences[id]
	if !ok || rec.Tenant != tenant {
		return repo.ErrNotFound
	}
	delete(r.store.recurrences, id)
	return nil
}

func (r recurrenceRepo) GetInRange(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, startUtc, endUtc time.Time, types []string) ([]calendarmodel.Recurrence, error) {
	var out []calendarmodel.Recurrence
	for _, rec := range r.store.recurrences {
		if rec.Tenant != tenant || !typeAllowed(types, rec.Type) {
			continue
		}
		if !rec.StartTime.After(endUtc) && !rec.EndTime.Before(startUtc) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r occurrenceRepo) Create(ctx context.Context, tx repo.TxHandle, o calendarmodel.Occurrence) (calendarmodel.Occurrence, error) {
	r.store.occurrences[o.Id] = o
	return o, nil
}

func (r occurrenceRepo) GetById(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, id string) (calendarmodel.Occurrence, error) {
	o, ok := r.store.occurrences[id]
	if !ok || o.Tenant != tenant {
		return calendarmodel.Occurrence{}, repo.ErrNotFound
	}
	return o, nil
}

func (r occurrenceRepo) Update(ctx context.Context, tx repo.TxHandle, o calendarmodel.Occurrence) (calendarmodel.Occurrence, error) {
	if _, ok := r.store.occurrences[o.Id]; !ok {
		return calendarmodel.Occurrence{}, repo.ErrNotFound
	}
	r.store.occurrences[o.Id] = o
	return o, nil
}

func (r occurrenceRepo) Delete(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, id string) error {
	o, ok := r.store.occurrences[id]
	if !ok || o.Tenant != tenant {
		return repo.ErrNotFound
	}
	delete(r.store.occurrences, id)
	return nil
}

func (r occurrenceRepo) GetInRange(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, startUtc, endUtc time.Time, types []string) ([]calendarmodel.Occurrence, error) {
	var out []calendarmodel.Occurrence
	for _, o := range r.store.occurrences {
		if o.Tenant != tenant || !typeAllowed(types, o.Type) {
			continue
		}
		if !o.StartTime.After(endUtc) && !o.CalculatedEndTime().Before(startUtc) {
			out = append(out, o)
		}
	}
	return out, nil
}

func typeAllowed(types []string, t string) bool {
	if types == nil {
		return true
	}
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func (r exceptionRepo) Create(ctx context.Context, tx repo.TxHandle, x calendarmodel.OccurrenceException) (calendarmodel.OccurrenceException, error) {
	r.store.exceptions[x.Id] = x
	return x, nil
}

func (r exceptionRepo) GetById(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, id string) (calendarmodel.OccurrenceException, error) {
	x, ok := r.store.exceptions[id]
	if !ok || x.Tenant != tenant {
		return calendarmodel.OccurrenceException{}, repo.ErrNotFound
	}
	return x, nil
}

func (r exceptionRepo) Delete(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, id string) error {
	x, ok := r.store.exceptions[id]
	if !ok || x.Tenant != tenant {
		return repo.ErrNotFound
	}
	delete(r.store.exceptions, id)
	return nil
}

func (r exceptionRepo) DeleteByRecurrence(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, recurrenceId string) error {
	for id, x := range r.store.exceptions {
		if x.RecurrenceId == recurrenceId && x.Tenant == tenant {
			delete(r.store.exceptions, id)
		}
	}
	return nil
}

func (r exceptionRepo) GetByRecurrenceIds(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, recurrenceIds []string) ([]calendarmodel.OccurrenceException, error) {
	wanted := make(map[string]bool, len(recurrenceIds))
	for _, id := range recurrenceIds {
		wanted[id] = true
	}
	var out []calendarmodel.OccurrenceException
	for _, x := range r.store.exceptions {
		if x.Tenant == tenant && wanted[x.RecurrenceId] {
			out = append(out, x)
		}
	}
	return out, nil
}

func (r overrideRepo) Create(ctx context.Context, tx repo.TxHandle, v calendarmodel.OccurrenceOverride) (calendarmodel.OccurrenceOverride, error) {
	r.store.overrides[v.Id] = v
	return v, nil
}

func (r overrideRepo) GetById(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, id string) (calendarmodel.OccurrenceOverride, error) {
	v, ok := r.store.overrides[id]
	if !ok || v.Tenant != tenant {
		return calendarmodel.OccurrenceOverride{}, repo.ErrNotFound
	}
	return v, nil
}

func (r overrideRepo) Update(ctx context.Context, tx repo.TxHandle, v calendarmodel.OccurrenceOverride) (calendarmodel.OccurrenceOverride, error) {
	if _, ok := r.store.overrides[v.Id]; !ok {
		return calendarmodel.OccurrenceOverride{}, repo.ErrNotFound
	}
	r.store.overrides[v.Id] = v
	return v, nil
}

func (r overrideRepo) Delete(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, id string) error {
	v, ok := r.store.overrides[id]
	if !ok || v.Tenant != tenant {
		return repo.ErrNotFound
	}
	delete(r.store.overrides, id)
	return nil
}

func (r overrideRepo) DeleteByRecurrence(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, recurrenceId string) error {
	if r.store.failOverrideDelete {
		return fmt.Errorf("simulated backend failure deleting overrides")
	}
	for id, v := range r.store.overrides {
		if v.RecurrenceId == recurrenceId && v.Tenant == tenant {
			delete(r.store.overrides, id)
		}
	}
	return nil
}

func (r overrideRepo) GetInRange(ctx context.Context, tx repo.TxHandle, tenant calendarmodel.Tenant, recurrenceIds []string, startUtc, endUtc time.Time) ([]calendarmodel.OccurrenceOverride, error) {
	wanted := make(map[string]bool, len(recurrenceIds))
	for _, id := range recurrenceIds {
		wanted[id] = true
	}
	var out []calendarmodel.OccurrenceOverride
	for _, v := range r.store.overrides {
		if v.Tenant != tenant || !wanted[v.RecurrenceId] {
			continue
		}
		inOriginal := !v.OriginalTimeUtc.Before(startUtc) && !v.OriginalTimeUtc.After(endUtc)
		overlapsNew := !v.StartTime.After(endUtc) && !v.CalculatedEndTime().Before(startUtc)
		if inOriginal || overlapsNew {
			out = append(out, v)
		}
	}
	return out, nil
}
