package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/dvloznov/finance-sync/internal/domain"
)

// Errors returned by collection mutations.
var (
	ErrNotFound   = errors.New("record not found")
	ErrDuplicate  = errors.New("record already exists")
	ErrClosed     = errors.New("session closed")
	ErrNotStarted = errors.New("session not started")
)

// Handle is the live view of one collection. All handles of a session
// share the session lock, so a mutation and a reconciliation of the same
// collection never interleave.
type Handle[T domain.Record] struct {
	s *Session
	c domain.Collection

	read  func() []T
	write func([]T) error

	// prepare fills defaults before validation.
	prepare func(T) T
	// same reports whether two records occupy the same slot.
	same func(a, b T) bool
	// view derives read-time state.
	view func([]T) []T

	items []T
	phase Phase

	// rev counts in-memory changes; persisted is the last rev written to
	// the local store. persisted < rev means unsaved edits.
	rev       uint64
	persisted uint64
}

// Collection returns the collection the handle tracks.
func (h *Handle[T]) Collection() domain.Collection { return h.c }

// Phase returns the lifecycle phase of the collection.
func (h *Handle[T]) Phase() Phase {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.phase
}

// Unsaved reports whether in-memory edits failed to reach the local store.
func (h *Handle[T]) Unsaved() bool {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.persisted < h.rev
}

// List returns a copy of the records.
func (h *Handle[T]) List() []T {
	h.s.mu.Lock()
	out := slices.Clone(h.items)
	h.s.mu.Unlock()

	if out == nil {
		out = []T{}
	}
	if h.view != nil {
		out = h.view(out)
	}
	return out
}

// Get returns the record with the given id.
func (h *Handle[T]) Get(id string) (T, bool) {
	h.s.mu.Lock()
	i := domain.IndexByID(h.items, id)
	var item T
	if i >= 0 {
		item = h.items[i]
	}
	h.s.mu.Unlock()

	if i < 0 {
		return item, false
	}
	if h.view != nil {
		item = h.view([]T{item})[0]
	}
	return item, true
}

// Add appends a record and persists the collection. It returns the stored
// record with defaults such as a generated id filled in.
func (h *Handle[T]) Add(item T) (T, error) {
	if h.prepare != nil {
		item = h.prepare(item)
	}
	if err := domain.Validate(item); err != nil {
		return item, err
	}

	err := h.mutate(func(items []T) ([]T, error) {
		for _, existing := range items {
			if h.same(existing, item) {
				return nil, fmt.Errorf("add %s %s: %w", h.c, item.RecordID(), ErrDuplicate)
			}
		}
		return append(items, item), nil
	})
	return item, err
}

// Update replaces the record with the same id.
func (h *Handle[T]) Update(item T) error {
	if h.prepare != nil {
		item = h.prepare(item)
	}
	if err := domain.Validate(item); err != nil {
		return err
	}

	return h.mutate(func(items []T) ([]T, error) {
		i := domain.IndexByID(items, item.RecordID())
		if i < 0 {
			return nil, fmt.Errorf("update %s %s: %w", h.c, item.RecordID(), ErrNotFound)
		}
		items[i] = item
		return items, nil
	})
}

// Delete removes the record with the given id.
func (h *Handle[T]) Delete(id string) error {
	return h.mutate(func(items []T) ([]T, error) {
		i := domain.IndexByID(items, id)
		if i < 0 {
			return nil, fmt.Errorf("delete %s %s: %w", h.c, id, ErrNotFound)
		}
		return slices.Delete(items, i, i+1), nil
	})
}

// Replace swaps in a whole new collection, as bulk edits and imports do.
func (h *Handle[T]) Replace(items []T) error {
	next := make([]T, 0, len(items))
	for _, item := range items {
		if h.prepare != nil {
			item = h.prepare(item)
		}
		if err := domain.Validate(item); err != nil {
			return err
		}
		next = append(next, item)
	}

	return h.mutate(func([]T) ([]T, error) {
		return next, nil
	})
}

// Merge appends the items that are not already present and returns how many
// were added. Existing records win over incoming ones.
func (h *Handle[T]) Merge(items []T) (int, error) {
	incoming, err := h.prepareAll(items)
	if err != nil {
		return 0, err
	}

	var added int
	err = h.mutate(func(cur []T) ([]T, error) {
		var next []T
		next, added = h.appendMissing(cur, incoming)
		return next, nil
	})
	return added, err
}

// MergeImport adds imported expenses and the categories derived from them
// as one change. When any item fails validation nothing is merged.
func (s *Session) MergeImport(records []domain.FinancialRecord, categories []domain.Category) (expenses, cats int, err error) {
	recs, err := s.Expenses.prepareAll(records)
	if err != nil {
		return 0, 0, err
	}
	incoming, err := s.Categories.prepareAll(categories)
	if err != nil {
		return 0, 0, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, 0, ErrClosed
	}
	if !s.started {
		s.mu.Unlock()
		return 0, 0, ErrNotStarted
	}
	expenses = s.Expenses.mergeLocked(recs)
	cats = s.Categories.mergeLocked(incoming)
	s.mu.Unlock()

	if cats > 0 {
		s.changed(domain.CollectionCategories)
	}
	if expenses > 0 {
		s.changed(domain.CollectionExpenses)
	}
	if expenses+cats > 0 {
		s.schedulePush()
	}
	return expenses, cats, nil
}

// prepareAll fills defaults and validates every item.
func (h *Handle[T]) prepareAll(items []T) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if h.prepare != nil {
			item = h.prepare(item)
		}
		if err := domain.Validate(item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// appendMissing appends the incoming items that occupy no existing slot.
func (h *Handle[T]) appendMissing(cur, incoming []T) ([]T, int) {
	added := 0
next:
	for _, item := range incoming {
		for _, existing := range cur {
			if h.same(existing, item) {
				continue next
			}
		}
		cur = append(cur, item)
		added++
	}
	return cur, added
}

// mergeLocked merges prepared items and persists them. Caller holds the
// session lock.
func (h *Handle[T]) mergeLocked(incoming []T) int {
	next, added := h.appendMissing(slices.Clone(h.items), incoming)
	if added == 0 {
		return 0
	}
	h.phase = PhaseMutating
	h.items = next
	h.rev++
	h.persist()
	h.phase = PhaseHydrated
	return added
}

// mutate applies fn to a copy of the records, then persists the result
// before releasing the lock. A failed persist keeps the in-memory change
// and leaves the collection with unsaved edits.
func (h *Handle[T]) mutate(fn func([]T) ([]T, error)) error {
	s := h.s
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !s.started {
		// Writing an unhydrated collection would clobber stored data.
		s.mu.Unlock()
		return ErrNotStarted
	}

	next, err := fn(slices.Clone(h.items))
	if err != nil {
		s.mu.Unlock()
		return err
	}

	h.phase = PhaseMutating
	h.items = next
	h.rev++
	h.persist()
	h.phase = PhaseHydrated
	s.mu.Unlock()

	s.changed(h.c)
	s.schedulePush()
	return nil
}

// persist writes the records if they have unsaved changes. Caller holds
// the session lock.
func (h *Handle[T]) persist() {
	if h.persisted == h.rev {
		return
	}
	if err := h.write(h.items); err != nil {
		// Logged by the store; the edit stays in memory.
		h.s.log.Warn().Err(err).Str("collection", string(h.c)).Msg("Collection change not persisted")
		return
	}
	h.persisted = h.rev
}

// hydrate loads the stored records. Caller holds the session lock.
func (h *Handle[T]) hydrate() {
	h.items = h.read()
	h.rev, h.persisted = 0, 0
	h.phase = PhaseHydrated
}

// reconcile brings the in-memory records in line with the store and reports
// whether they changed. Storage events and focus replace the records when
// nothing is unsaved; polling and every trigger with unsaved edits only add
// records with unseen ids. Caller holds the session lock.
func (h *Handle[T]) reconcile(trigger Trigger) bool {
	if h.phase == PhaseUninitialized {
		return false
	}
	h.phase = PhaseReconciling
	defer func() { h.phase = PhaseHydrated }()

	stored := h.read()
	clean := h.persisted == h.rev

	if clean && trigger != TriggerPoll {
		if sameContent(h.items, stored) {
			return false
		}
		h.items = stored
		return true
	}

	merged := domain.MergeByID(h.items, stored)
	added := len(merged) > len(h.items)
	if added {
		h.items = merged
		if !clean {
			h.rev++
		}
	}
	if !clean {
		// The store may have room again.
		h.persist()
	}
	return added
}

func sameContent[T any](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}

// tracked is the type-erased view of a Handle the session drives.
type tracked interface {
	Collection() domain.Collection
	hydrate()
	reconcile(trigger Trigger) bool
}
