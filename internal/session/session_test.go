package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/jobs"
	"github.com/dvloznov/finance-sync/internal/kv"
	"github.com/dvloznov/finance-sync/internal/kv/memory"
	"github.com/dvloznov/finance-sync/internal/localstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// plainKV hides Watch so only explicit reconciliation applies changes.
type plainKV struct{ kv.Store }

// flakyKV fails writes while fail is set.
type flakyKV struct {
	kv.Store
	fail atomic.Bool
}

func (f *flakyKV) Set(key, value string) error {
	if f.fail.Load() {
		return kv.ErrQuotaExceeded
	}
	return f.Store.Set(key, value)
}

func expense(id string, amount float64) domain.FinancialRecord {
	return domain.FinancialRecord{
		ID:           id,
		Date:         "2024-04-12",
		Category:     "Dining",
		Description:  "Lunch " + id,
		Counterparty: "Me",
		Amount:       amount,
		Kind:         domain.KindExpense,
	}
}

func expenseIDs(records []domain.FinancialRecord) []string {
	out := []string{}
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

// startSession starts a session with polling off and no sample seeding.
func startSession(t *testing.T, backend kv.Store, opts ...Option) *Session {
	t.Helper()
	s := New(localstore.New(backend, "u1", zerolog.Nop()), Config{PollInterval: -1}, opts...)
	require.NoError(t, s.Start())
	t.Cleanup(s.Close)
	return s
}

func TestSession_PhasesAndHydration(t *testing.T) {
	backend := memory.New()
	other := localstore.New(backend, "u1", zerolog.Nop())
	require.NoError(t, other.SetExpenses([]domain.FinancialRecord{expense("a", 1)}))

	s := New(localstore.New(plainKV{backend}, "u1", zerolog.Nop()), Config{PollInterval: -1})
	assert.Equal(t, PhaseUninitialized, s.Expenses.Phase())
	_, err := s.Expenses.Add(expense("b", 2))
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, s.Start())
	defer s.Close()

	assert.Equal(t, PhaseHydrated, s.Expenses.Phase())
	assert.Equal(t, []string{"a"}, expenseIDs(s.Expenses.List()))
	assert.Empty(t, s.Income.List())
	assert.Error(t, s.Start(), "second start")
}

func TestSession_MigratesLegacyAndSeedsOnce(t *testing.T) {
	backend := memory.New()
	require.NoError(t, backend.Set("expenses", `[{"id":"x1","date":"2024-03-01","type":"Travel","description":"Cab","paidBy":"Me","amount":12}]`))
	require.NoError(t, backend.Set("categories", `[{"name":"Travel","budget":null}]`))

	open := func() *Session {
		s := New(localstore.New(plainKV{backend}, "u1", zerolog.Nop()), Config{PollInterval: -1, SeedSampleData: true})
		require.NoError(t, s.Start())
		return s
	}

	s := open()
	ids := expenseIDs(s.Expenses.List())
	assert.Equal(t, "x1", ids[0], "legacy record kept first")
	assert.Len(t, ids, 1+len(domain.SampleExpenses()))

	travel := 0
	for _, c := range s.Categories.List() {
		if domain.SameName(c.Name, "travel") {
			travel++
		}
	}
	assert.Equal(t, 1, travel, "sample categories merged case-insensitively")

	_, found, _ := backend.Get("expenses")
	assert.False(t, found, "legacy key removed")
	assert.Equal(t, currentSchema, s.Store().SchemaVersion())

	// The user deletes a sample record; it must not come back.
	require.NoError(t, s.Expenses.Delete("1"))
	s.Close()

	s = open()
	defer s.Close()
	_, ok := s.Expenses.Get("1")
	assert.False(t, ok)
	assert.Len(t, s.Expenses.List(), len(domain.SampleExpenses()))
}

func TestSession_SeedSkippedWhenSampleIDsPresentOrDisabled(t *testing.T) {
	t.Run("sample ids present", func(t *testing.T) {
		backend := memory.New()
		store := localstore.New(backend, "u1", zerolog.Nop())
		require.NoError(t, store.SetExpenses([]domain.FinancialRecord{expense("3", 5)}))

		s := New(localstore.New(plainKV{backend}, "u1", zerolog.Nop()), Config{PollInterval: -1, SeedSampleData: true})
		require.NoError(t, s.Start())
		defer s.Close()
		assert.Equal(t, []string{"3"}, expenseIDs(s.Expenses.List()))
	})

	t.Run("disabled", func(t *testing.T) {
		s := startSession(t, plainKV{memory.New()})
		assert.Empty(t, s.Expenses.List())
		assert.Equal(t, currentSchema, s.Store().SchemaVersion())
	})
}

func TestHandle_MutationsPersist(t *testing.T) {
	backend := memory.New()
	s := startSession(t, plainKV{backend})
	store := localstore.New(backend, "u1", zerolog.Nop())

	added, err := s.Expenses.Add(domain.FinancialRecord{Date: "2024-04-12", Category: "Dining", Description: "Lunch", Amount: 500})
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID, "id generated")
	assert.Equal(t, domain.KindExpense, added.Kind)
	assert.Equal(t, []string{added.ID}, expenseIDs(store.Expenses()))

	added.Amount = 450
	require.NoError(t, s.Expenses.Update(added))
	assert.Equal(t, 450.0, store.Expenses()[0].Amount)

	_, err = s.Expenses.Add(added)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.ErrorIs(t, s.Expenses.Update(expense("ghost", 1)), ErrNotFound)
	assert.ErrorIs(t, s.Expenses.Delete("ghost"), ErrNotFound)

	_, err = s.Expenses.Add(domain.FinancialRecord{Date: "12/04/2024", Category: "Dining", Description: "x"})
	assert.Error(t, err, "invalid date rejected")
	assert.Len(t, store.Expenses(), 1)

	require.NoError(t, s.Expenses.Replace([]domain.FinancialRecord{expense("r1", 1), expense("r2", 2)}))
	assert.Equal(t, []string{"r1", "r2"}, expenseIDs(store.Expenses()))

	require.NoError(t, s.Expenses.Delete("r1"))
	assert.Equal(t, []string{"r2"}, expenseIDs(store.Expenses()))
	assert.False(t, s.Expenses.Unsaved())
}

func TestHandle_CategoryNamesUniqueIgnoringCase(t *testing.T) {
	s := startSession(t, plainKV{memory.New()})

	_, err := s.Categories.Add(domain.Category{Name: "Dining", Budget: domain.Budget(4000)})
	require.NoError(t, err)
	_, err = s.Categories.Add(domain.Category{Name: "DINING"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestHandle_BillStatusDerivedAtRead(t *testing.T) {
	today := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	s := startSession(t, plainKV{memory.New()}, WithClock(func() time.Time { return today }))

	bill, err := s.Bills.Add(domain.Bill{Name: "Rent", Amount: 900, DueDate: "2024-06-01", Category: "Housing"})
	require.NoError(t, err)
	assert.Equal(t, domain.BillPending, bill.Status, "stored status")

	got, ok := s.Bills.Get(bill.ID)
	require.True(t, ok)
	assert.Equal(t, domain.BillOverdue, got.Status)
	assert.Equal(t, domain.BillOverdue, s.Bills.List()[0].Status)
}

func TestReconcilePoll_AddsNewRecordWithoutDroppingAny(t *testing.T) {
	backend := memory.New()
	s := startSession(t, plainKV{backend})
	for _, id := range []string{"e1", "e2", "e3"} {
		_, err := s.Expenses.Add(expense(id, 10))
		require.NoError(t, err)
	}

	external := localstore.New(backend, "u1", zerolog.Nop())
	require.NoError(t, external.SetExpenses(append(external.Expenses(), expense("quick", 42))))

	assert.True(t, s.ReconcilePoll())
	assert.Equal(t, []string{"e1", "e2", "e3", "quick"}, expenseIDs(s.Expenses.List()))

	assert.False(t, s.ReconcilePoll(), "nothing new")
}

func TestReconcilePoll_KeepsInMemoryVersion(t *testing.T) {
	backend := memory.New()
	s := startSession(t, plainKV{backend})
	_, err := s.Expenses.Add(expense("e1", 10))
	require.NoError(t, err)

	// A stale writer puts back the old amount and removes nothing.
	external := localstore.New(backend, "u1", zerolog.Nop())
	stale := expense("e1", 1)
	require.NoError(t, external.SetExpenses([]domain.FinancialRecord{stale, expense("e2", 2)}))

	s.ReconcilePoll()
	got, _ := s.Expenses.Get("e1")
	assert.Equal(t, 10.0, got.Amount)
	assert.Len(t, s.Expenses.List(), 2)
}

func TestReconcileStorageEvent_ReplacesWhenClean(t *testing.T) {
	backend := memory.New()
	s := startSession(t, plainKV{backend})
	require.NoError(t, s.Expenses.Replace([]domain.FinancialRecord{expense("e1", 1), expense("e2", 2)}))

	external := localstore.New(backend, "u1", zerolog.Nop())
	require.NoError(t, external.SetExpenses([]domain.FinancialRecord{expense("e2", 20)}))

	assert.True(t, s.ReconcileStorageEvent(localstore.Key("u1", domain.CollectionExpenses)))
	assert.Equal(t, []string{"e2"}, expenseIDs(s.Expenses.List()))
	assert.Equal(t, 20.0, s.Expenses.List()[0].Amount)

	assert.False(t, s.ReconcileStorageEvent(localstore.Key("u1", domain.CollectionExpenses)), "same content")
	assert.False(t, s.ReconcileStorageEvent(localstore.Key("u2", domain.CollectionExpenses)), "other user")
	assert.False(t, s.ReconcileStorageEvent("currentUser"))
}

func TestReconcile_ProtectsUnsavedEdits(t *testing.T) {
	backend := memory.New()
	flaky := &flakyKV{Store: backend}
	s := startSession(t, flaky)
	_, err := s.Expenses.Add(expense("e1", 10))
	require.NoError(t, err)

	flaky.fail.Store(true)
	edited := expense("e1", 99)
	require.NoError(t, s.Expenses.Update(edited), "persist failures are not returned")
	assert.True(t, s.Expenses.Unsaved())

	external := localstore.New(backend, "u1", zerolog.Nop())
	require.NoError(t, external.SetExpenses([]domain.FinancialRecord{expense("e1", 10), expense("e2", 5)}))

	// A replace would lose the edit; the storage event falls back to a merge.
	assert.True(t, s.ReconcileStorageEvent(localstore.Key("u1", domain.CollectionExpenses)))
	got, _ := s.Expenses.Get("e1")
	assert.Equal(t, 99.0, got.Amount)
	assert.Equal(t, []string{"e1", "e2"}, expenseIDs(s.Expenses.List()))
	assert.True(t, s.Expenses.Unsaved())

	// Once writes work again the next reconciliation saves the edit.
	flaky.fail.Store(false)
	s.ReconcileFocus()
	assert.False(t, s.Expenses.Unsaved())
	stored := external.Expenses()
	assert.Equal(t, []string{"e1", "e2"}, expenseIDs(stored))
	assert.Equal(t, 99.0, stored[0].Amount)
}

func TestSession_WatchAndFocusDriveReconciliation(t *testing.T) {
	backend := memory.New()
	s := startSession(t, backend)

	var mu sync.Mutex
	var seen []domain.Collection
	unsubscribe := s.Subscribe(func(c domain.Collection) {
		mu.Lock()
		seen = append(seen, c)
		mu.Unlock()
	})
	defer unsubscribe()

	external := localstore.New(backend, "u1", zerolog.Nop())
	require.NoError(t, external.SetIncome([]domain.FinancialRecord{{
		ID: "i1", Date: "2024-04-01", Category: "Salary", Description: "April", Amount: 5000,
	}}))

	require.Eventually(t, func() bool { return len(s.Income.List()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.KindIncome, s.Income.List()[0].Kind)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range seen {
			if c == domain.CollectionIncome {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSession_NotifyFocus(t *testing.T) {
	backend := memory.New()
	s := startSession(t, plainKV{backend})

	external := localstore.New(backend, "u1", zerolog.Nop())
	require.NoError(t, external.SetGoals([]domain.FinancialGoal{{
		ID: "g1", Name: "Car", TargetAmount: 100, TargetDate: "2025-01-01", Category: domain.GoalPurchase,
	}}))

	s.NotifyFocus()
	s.NotifyFocus()
	require.Eventually(t, func() bool { return len(s.Goals.List()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestSession_PollingTicker(t *testing.T) {
	backend := memory.New()
	s := New(localstore.New(plainKV{backend}, "u1", zerolog.Nop()), Config{PollInterval: 10 * time.Millisecond})
	require.NoError(t, s.Start())
	defer s.Close()

	external := localstore.New(backend, "u1", zerolog.Nop())
	require.NoError(t, external.SetExpenses([]domain.FinancialRecord{expense("e1", 1)}))

	require.Eventually(t, func() bool { return len(s.Expenses.List()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestSession_CloseTearsDown(t *testing.T) {
	backend := memory.New()
	s := New(localstore.New(backend, "u1", zerolog.Nop()), Config{PollInterval: 5 * time.Millisecond})
	require.NoError(t, s.Start())

	calls := atomic.Int32{}
	s.Subscribe(func(domain.Collection) { calls.Add(1) })

	s.Close()
	s.Close()

	_, err := s.Expenses.Add(expense("e1", 1))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Start(), ErrClosed)

	external := localstore.New(backend, "u1", zerolog.Nop())
	require.NoError(t, external.SetExpenses([]domain.FinancialRecord{expense("e1", 1)}))
	s.NotifyFocus()
	assert.False(t, s.ReconcilePoll())

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, s.Expenses.List())
	assert.Zero(t, calls.Load())
}

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []jobs.SyncJob
	err  error
}

func (p *recordingPublisher) PublishSync(_ context.Context, job *jobs.SyncJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	job.JobID = "job-1"
	p.jobs = append(p.jobs, *job)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

func TestSession_AutoPush(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(localstore.New(plainKV{memory.New()}, "u1", zerolog.Nop()),
		Config{PollInterval: -1, AutoPush: true}, WithPublisher(pub))
	require.NoError(t, s.Start())

	_, err := s.Expenses.Add(expense("e1", 1))
	require.NoError(t, err)
	require.NoError(t, s.Expenses.Delete("e1"))

	s.Close() // waits for in-flight publishes
	require.Equal(t, 2, pub.count())
	assert.Equal(t, jobs.JobTypeSyncToCloud, pub.jobs[0].Type)
	assert.Equal(t, "u1", pub.jobs[0].UserID)
}

func TestSession_AutoPushFailureDoesNotFailMutation(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("queue is closed")}
	s := New(localstore.New(plainKV{memory.New()}, "u1", zerolog.Nop()),
		Config{PollInterval: -1, AutoPush: true}, WithPublisher(pub))
	require.NoError(t, s.Start())
	defer s.Close()

	_, err := s.Expenses.Add(expense("e1", 1))
	assert.NoError(t, err)
}

func TestHandle_MergeKeepsExisting(t *testing.T) {
	s := startSession(t, plainKV{memory.New()})
	_, err := s.Expenses.Add(expense("a", 1))
	require.NoError(t, err)
	_, err = s.Categories.Add(domain.Category{ID: "c1", Name: "Dining", Budget: domain.Budget(200)})
	require.NoError(t, err)

	added, err := s.Expenses.Merge([]domain.FinancialRecord{expense("a", 99), expense("b", 2)})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	got, _ := s.Expenses.Get("a")
	assert.Equal(t, 1.0, got.Amount)
	assert.Equal(t, []string{"a", "b"}, expenseIDs(s.Store().Expenses()))

	added, err = s.Categories.Merge([]domain.Category{{ID: "c9", Name: "DINING"}, {ID: "c2", Name: "Travel"}})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	cats := s.Categories.List()
	require.Len(t, cats, 2)
	assert.Equal(t, 200.0, *cats[0].Budget)

	_, err = s.Expenses.Merge([]domain.FinancialRecord{{ID: "bad"}})
	assert.Error(t, err)
}

func TestSession_MergeImport(t *testing.T) {
	s := startSession(t, plainKV{memory.New()})
	_, err := s.Categories.Add(domain.Category{ID: "c1", Name: "Dining", Budget: domain.Budget(200)})
	require.NoError(t, err)

	var notified []domain.Collection
	s.Subscribe(func(c domain.Collection) { notified = append(notified, c) })

	t.Run("invalid category merges nothing", func(t *testing.T) {
		_, _, err := s.MergeImport(
			[]domain.FinancialRecord{expense("a", 10)},
			[]domain.Category{{ID: "c2"}},
		)
		require.Error(t, err)
		assert.Empty(t, s.Expenses.List())
		assert.Len(t, s.Categories.List(), 1)
		assert.Empty(t, notified)
	})

	t.Run("invalid record merges nothing", func(t *testing.T) {
		_, _, err := s.MergeImport(
			[]domain.FinancialRecord{expense("a", 10), {ID: "bad"}},
			[]domain.Category{{ID: "c2", Name: "Travel"}},
		)
		require.Error(t, err)
		assert.Empty(t, s.Expenses.List())
		assert.Len(t, s.Categories.List(), 1)
	})

	t.Run("valid import", func(t *testing.T) {
		expenses, cats, err := s.MergeImport(
			[]domain.FinancialRecord{expense("a", 10), expense("b", 20)},
			[]domain.Category{{ID: "c9", Name: "dining"}, {ID: "c2", Name: "Travel"}},
		)
		require.NoError(t, err)
		assert.Equal(t, 2, expenses)
		assert.Equal(t, 1, cats)
		assert.Equal(t, []string{"a", "b"}, expenseIDs(s.Store().Expenses()))
		assert.Len(t, s.Store().Categories(), 2)
		assert.ElementsMatch(t, []domain.Collection{domain.CollectionCategories, domain.CollectionExpenses}, notified)
	})
}

func TestSession_MergeImportBeforeStart(t *testing.T) {
	s := New(localstore.New(memory.New(), "u1", zerolog.Nop()), Config{PollInterval: -1})
	defer s.Close()

	_, _, err := s.MergeImport([]domain.FinancialRecord{expense("a", 1)}, nil)
	assert.ErrorIs(t, err, ErrNotStarted)
}
