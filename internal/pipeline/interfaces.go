package pipeline

import (
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/localstore"
	"github.com/dvloznov/finance-sync/internal/session"
	"github.com/google/uuid"
)

// CommitResult counts what a commit added.
type CommitResult struct {
	Expenses      int
	Categories    int
	TotalExpenses int
}

// Sink receives imported records. Existing records win on id collisions and
// existing categories win on case-insensitive name collisions.
type Sink interface {
	Commit(records []domain.FinancialRecord, categories []domain.Category) (CommitResult, error)
}

// StoreSink commits straight into the scoped local store. Running sessions
// pick the change up through their storage reconciliation.
type StoreSink struct {
	Store *localstore.Store
}

func (s StoreSink) Commit(records []domain.FinancialRecord, categories []domain.Category) (CommitResult, error) {
	existingCats := s.Store.Categories()
	cats := domain.MergeCategories(existingCats, freshCategoryIDs(existingCats, categories))
	existing := s.Store.Expenses()
	merged := domain.MergeByID(existing, records)

	// One batch, so a failed write leaves neither collection changed.
	err := s.Store.SetCollections(map[domain.Collection]any{
		domain.CollectionCategories: cats,
		domain.CollectionExpenses:   merged,
	})
	if err != nil {
		return CommitResult{}, err
	}

	return CommitResult{
		Expenses:      len(merged) - len(existing),
		Categories:    len(cats) - len(existingCats),
		TotalExpenses: len(merged),
	}, nil
}

// SessionSink commits through a running session so listeners and auto-push
// see the import.
type SessionSink struct {
	Session *session.Session
}

func (s SessionSink) Commit(records []domain.FinancialRecord, categories []domain.Category) (CommitResult, error) {
	incoming := freshCategoryIDs(s.Session.Categories.List(), categories)
	expenses, cats, err := s.Session.MergeImport(records, incoming)
	if err != nil {
		return CommitResult{}, err
	}
	return CommitResult{
		Expenses:      expenses,
		Categories:    cats,
		TotalExpenses: len(s.Session.Expenses.List()),
	}, nil
}

// freshCategoryIDs gives incoming categories a new id when theirs is already
// taken, since every import numbers its categories from zero.
func freshCategoryIDs(existing, incoming []domain.Category) []domain.Category {
	taken := make(map[string]struct{}, len(existing))
	for _, c := range existing {
		if c.ID != "" {
			taken[c.ID] = struct{}{}
		}
	}
	out := make([]domain.Category, len(incoming))
	for i, c := range incoming {
		if _, ok := taken[c.ID]; ok {
			c.ID = uuid.NewString()
		}
		out[i] = c
	}
	return out
}
