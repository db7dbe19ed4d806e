package session

import (
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/localstore"
)

// Local data schema levels.
const (
	// schemaScoped: collections moved from bare keys into the user namespace.
	schemaScoped = 1
	// schemaSeeded: sample data merged into stores that predate it.
	schemaSeeded = 2

	currentSchema = schemaSeeded
)

// migrate upgrades the stored data to currentSchema. Each step runs once per
// user; merged data is persisted before the level is recorded, so a failed
// write retries the step on the next start. Caller holds the session lock.
func (s *Session) migrate() {
	level := s.store.SchemaVersion()
	if level >= currentSchema {
		return
	}
	log := s.log.With().Int("from", level).Int("to", currentSchema).Logger()

	if level < schemaScoped {
		if !adoptLegacy(s) {
			log.Warn().Msg("Legacy data migration incomplete")
			return
		}
		level = schemaScoped
	}

	if level < schemaSeeded {
		if s.cfg.SeedSampleData && !seedSampleData(s) {
			log.Warn().Msg("Sample data migration incomplete")
			return
		}
		level = schemaSeeded
	}

	if err := s.store.SetSchemaVersion(level); err != nil {
		log.Warn().Err(err).Msg("Failed to record schema version")
		return
	}
	log.Info().Msg("Migrated local data")
}

func adoptLegacy(s *Session) bool {
	ok := adoptCollection(s, s.Expenses)
	ok = adoptCollection(s, s.Income) && ok
	ok = adoptCollection(s, s.Categories) && ok
	ok = adoptCollection(s, s.Goals) && ok
	ok = adoptCollection(s, s.Bills) && ok
	ok = adoptCollection(s, s.Investments) && ok
	return ok
}

// adoptCollection merges the unscoped legacy copy of a collection into the
// user's namespace and removes the legacy key.
func adoptCollection[T domain.Record](s *Session, h *Handle[T]) bool {
	legacy, found := localstore.LegacyGet[T](s.store, h.c)
	if !found {
		return true
	}

	merged := domain.MergeByID(h.read(), legacy)
	if err := h.write(merged); err != nil {
		return false
	}
	if err := s.store.RemoveLegacy(h.c); err != nil {
		s.log.Warn().Err(err).Str("collection", string(h.c)).Msg("Failed to remove legacy key")
	}
	s.log.Info().Str("collection", string(h.c)).Int("count", len(legacy)).Msg("Adopted legacy records")
	return true
}

// seedSampleData merges the sample expenses and categories when the stored
// expenses carry none of the sample ids.
func seedSampleData(s *Session) bool {
	expenses := s.store.Expenses()
	if domain.HasLegacyRecords(expenses) {
		return true
	}

	if err := s.store.SetExpenses(domain.MergeByID(expenses, domain.SampleExpenses())); err != nil {
		return false
	}
	categories := domain.MergeCategories(s.store.Categories(), domain.SampleCategories())
	if err := s.store.SetCategories(categories); err != nil {
		return false
	}
	s.log.Info().Int("count", len(domain.SampleExpenses())).Msg("Merged sample data")
	return true
}
