// Package localstore provides per-user namespaced persistence of record
// collections over a synchronous kv.Store.
//
// Reads never fail: absent or corrupt values read as empty collections.
// Writes are best effort: failures are logged and returned, never retried.
package localstore

import (
	"encoding/json"
	"time"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/kv"
	"github.com/rs/zerolog"
)

const (
	syncMetaName      = "syncMeta"
	schemaVersionName = "schemaVersion"
)

// Key returns the namespaced storage key for a user's collection.
func Key(userID string, collection domain.Collection) string {
	return userID + "_" + string(collection)
}

// SyncMeta is the sync metadata of the locally stored snapshot.
type SyncMeta struct {
	LastSync time.Time `json:"lastSync"`
	Version  int       `json:"version"`
}

// Store is the scoped store of one user.
type Store struct {
	kv     kv.Store
	userID string
	log    zerolog.Logger
}

// New creates a store scoped to userID.
func New(backend kv.Store, userID string, log zerolog.Logger) *Store {
	return &Store{
		kv:     backend,
		userID: userID,
		log:    log.With().Str("user_id", userID).Logger(),
	}
}

// UserID returns the namespace owner.
func (s *Store) UserID() string { return s.userID }

// Backend returns the underlying kv store.
func (s *Store) Backend() kv.Store { return s.kv }

// Key returns the namespaced key of a collection.
func (s *Store) Key(c domain.Collection) string { return Key(s.userID, c) }

// CollectionForKey maps a storage key back to one of this user's collections.
func (s *Store) CollectionForKey(key string) (domain.Collection, bool) {
	for _, c := range domain.Collections {
		if s.Key(c) == key {
			return c, true
		}
	}
	return "", false
}

// Get reads a collection. It returns an empty slice when the key is absent,
// unreadable or holds malformed JSON.
func Get[T any](s *Store, c domain.Collection) []T {
	items, _ := lookup[T](s, s.Key(c))
	return items
}

// Set writes a collection. A failed write is logged and returned; the
// caller must treat it as "may not have persisted".
func Set[T any](s *Store, c domain.Collection, items []T) error {
	return s.setJSON(s.Key(c), nonNil(items))
}

// lookup reads and decodes key, reporting whether a usable value was found.
func lookup[T any](s *Store, key string) ([]T, bool) {
	raw, ok, err := s.kv.Get(key)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Failed to read from local store")
		return []T{}, false
	}
	if !ok {
		return []T{}, false
	}
	var items []T
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Discarding malformed stored collection")
		return []T{}, false
	}
	return nonNil(items), true
}

func (s *Store) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Failed to encode value")
		return err
	}
	if err := s.kv.Set(key, string(data)); err != nil {
		s.log.Error().Err(err).Str("key", key).Int("bytes", len(data)).Msg("Failed to write to local store")
		return err
	}
	return nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// Expenses returns the stored expenses.
func (s *Store) Expenses() []domain.FinancialRecord {
	return domain.WithKind(Get[domain.FinancialRecord](s, domain.CollectionExpenses), domain.KindExpense)
}

// SetExpenses stores the expenses.
func (s *Store) SetExpenses(items []domain.FinancialRecord) error {
	return Set(s, domain.CollectionExpenses, items)
}

// Income returns the stored income records.
func (s *Store) Income() []domain.FinancialRecord {
	return domain.WithKind(Get[domain.FinancialRecord](s, domain.CollectionIncome), domain.KindIncome)
}

// SetIncome stores the income records.
func (s *Store) SetIncome(items []domain.FinancialRecord) error {
	return Set(s, domain.CollectionIncome, items)
}

// Categories returns the stored categories.
func (s *Store) Categories() []domain.Category {
	return Get[domain.Category](s, domain.CollectionCategories)
}

// SetCategories stores the categories.
func (s *Store) SetCategories(items []domain.Category) error {
	return Set(s, domain.CollectionCategories, items)
}

// Goals returns the stored financial goals.
func (s *Store) Goals() []domain.FinancialGoal {
	return Get[domain.FinancialGoal](s, domain.CollectionGoals)
}

// SetGoals stores the financial goals.
func (s *Store) SetGoals(items []domain.FinancialGoal) error {
	return Set(s, domain.CollectionGoals, items)
}

// Bills returns the stored bills as persisted, without status refresh.
func (s *Store) Bills() []domain.Bill {
	return Get[domain.Bill](s, domain.CollectionBills)
}

// SetBills stores the bills.
func (s *Store) SetBills(items []domain.Bill) error {
	return Set(s, domain.CollectionBills, items)
}

// Investments returns the stored investments.
func (s *Store) Investments() []domain.Investment {
	return Get[domain.Investment](s, domain.CollectionInvestments)
}

// SetInvestments stores the investments.
func (s *Store) SetInvestments(items []domain.Investment) error {
	return Set(s, domain.CollectionInvestments, items)
}

// SyncMeta returns the stored sync metadata, defaulting to version 1.
func (s *Store) SyncMeta() SyncMeta {
	meta := SyncMeta{Version: 1}
	key := Key(s.userID, syncMetaName)
	raw, ok, err := s.kv.Get(key)
	if err != nil || !ok {
		return meta
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Discarding malformed sync metadata")
		return SyncMeta{Version: 1}
	}
	if meta.Version < 1 {
		meta.Version = 1
	}
	return meta
}

// SetSyncMeta stores the sync metadata.
func (s *Store) SetSyncMeta(meta SyncMeta) error {
	return s.setJSON(Key(s.userID, syncMetaName), meta)
}

// SchemaVersion returns the applied local data migration level.
func (s *Store) SchemaVersion() int {
	var v int
	raw, ok, err := s.kv.Get(Key(s.userID, schemaVersionName))
	if err != nil || !ok {
		return 0
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return 0
	}
	return v
}

// SetSchemaVersion records the applied migration level.
func (s *Store) SetSchemaVersion(v int) error {
	return s.setJSON(Key(s.userID, schemaVersionName), v)
}

// Snapshot reads every collection plus sync metadata.
func (s *Store) Snapshot() domain.Snapshot {
	meta := s.SyncMeta()
	return domain.Snapshot{
		Expenses:    s.Expenses(),
		Income:      s.Income(),
		Categories:  s.Categories(),
		Goals:       s.Goals(),
		Bills:       s.Bills(),
		Investments: s.Investments(),
		LastSync:    meta.LastSync,
		Version:     meta.Version,
	}.Normalize()
}

// ApplySnapshot writes every collection and the sync metadata in one batch
// when the backend supports it.
func (s *Store) ApplySnapshot(snap domain.Snapshot) error {
	snap = snap.Normalize()
	values := map[domain.Collection]any{
		domain.CollectionExpenses:    snap.Expenses,
		domain.CollectionIncome:      snap.Income,
		domain.CollectionCategories:  snap.Categories,
		domain.CollectionGoals:       snap.Goals,
		domain.CollectionBills:       snap.Bills,
		domain.CollectionInvestments: snap.Investments,
		syncMetaName:                 SyncMeta{LastSync: snap.LastSync, Version: snap.Version},
	}

	return s.SetCollections(values)
}

// SetCollections writes several collections in one batch when the backend
// supports it. A failed batch then leaves every collection as it was.
func (s *Store) SetCollections(values map[domain.Collection]any) error {
	entries := make(map[string]string, len(values))
	for c, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			s.log.Error().Err(err).Str("collection", string(c)).Msg("Failed to encode collection")
			return err
		}
		entries[s.Key(c)] = string(data)
	}

	if err := kv.SetAll(s.kv, entries); err != nil {
		s.log.Error().Err(err).Int("keys", len(entries)).Msg("Failed to write collections to local store")
		return err
	}
	return nil
}

// ClearAll removes every namespaced key of the user.
func (s *Store) ClearAll() error {
	keys := []string{Key(s.userID, syncMetaName), Key(s.userID, schemaVersionName)}
	for _, c := range domain.Collections {
		keys = append(keys, s.Key(c))
	}

	var firstErr error
	for _, k := range keys {
		if err := s.kv.Remove(k); err != nil {
			s.log.Error().Err(err).Str("key", k).Msg("Failed to remove key")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// LegacyGet reads a collection stored under its bare, unscoped name by
// releases that predate per-user namespacing.
func LegacyGet[T any](s *Store, c domain.Collection) ([]T, bool) {
	return lookup[T](s, string(c))
}

// RemoveLegacy deletes the unscoped key of a collection.
func (s *Store) RemoveLegacy(c domain.Collection) error {
	return s.kv.Remove(string(c))
}

// Has reports whether the collection has a stored value.
func (s *Store) Has(c domain.Collection) bool {
	_, ok, err := s.kv.Get(s.Key(c))
	return err == nil && ok
}
