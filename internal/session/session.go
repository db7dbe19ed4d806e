// Package session holds the live, in-memory view of a user's collections.
// It hydrates from the scoped local store, persists every mutation, and
// folds in changes made by other execution contexts through storage
// events, focus notifications and polling.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/jobs"
	"github.com/dvloznov/finance-sync/internal/kv"
	"github.com/dvloznov/finance-sync/internal/localstore"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Phase is the lifecycle state of a collection within a session.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseHydrated
	PhaseMutating
	PhaseReconciling
)

func (p Phase) String() string {
	switch p {
	case PhaseHydrated:
		return "hydrated"
	case PhaseMutating:
		return "mutating"
	case PhaseReconciling:
		return "reconciling"
	default:
		return "uninitialized"
	}
}

// Trigger names what prompted a reconciliation.
type Trigger string

const (
	TriggerStorage Trigger = "storage"
	TriggerFocus   Trigger = "focus"
	TriggerPoll    Trigger = "poll"
	TriggerReload  Trigger = "reload"
)

// DefaultPollInterval is the store polling period.
const DefaultPollInterval = 5 * time.Second

const publishTimeout = 5 * time.Second

// Config tunes a session.
type Config struct {
	// PollInterval is the store polling period. Zero means DefaultPollInterval;
	// a negative value disables polling.
	PollInterval time.Duration

	// SeedSampleData merges the sample records during the one-time hydration
	// migration.
	SeedSampleData bool

	// AutoPush publishes a push job after every mutation.
	AutoPush bool
}

// Option configures a Session.
type Option func(*Session)

// WithPublisher sets where auto-push jobs go.
func WithPublisher(p jobs.Publisher) Option {
	return func(s *Session) { s.publisher = p }
}

// WithLogger sets the session logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithClock replaces time.Now for derived, date-dependent state.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session is the state holder for one signed-in user. Create it with New,
// call Start once, and Close it on sign-out or shutdown.
type Session struct {
	Expenses    *Handle[domain.FinancialRecord]
	Income      *Handle[domain.FinancialRecord]
	Categories  *Handle[domain.Category]
	Goals       *Handle[domain.FinancialGoal]
	Bills       *Handle[domain.Bill]
	Investments *Handle[domain.Investment]

	store     *localstore.Store
	cfg       Config
	publisher jobs.Publisher
	log       zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	handles []tracked
	started bool
	closed  bool

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	focusCh chan struct{}

	listenersMu sync.Mutex
	listeners   map[int]func(domain.Collection)
	nextID      int
}

// New creates a session over store. Nothing is read until Start.
func New(store *localstore.Store, cfg Config, opts ...Option) *Session {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		store:     store,
		cfg:       cfg,
		log:       zerolog.Nop(),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		focusCh:   make(chan struct{}, 1),
		listeners: make(map[int]func(domain.Collection)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("user_id", store.UserID()).Logger()

	s.Expenses = newHandle(s, domain.CollectionExpenses, store.Expenses, store.SetExpenses)
	s.Expenses.prepare = prepareRecord(domain.KindExpense)
	s.Income = newHandle(s, domain.CollectionIncome, store.Income, store.SetIncome)
	s.Income.prepare = prepareRecord(domain.KindIncome)

	s.Categories = newHandle(s, domain.CollectionCategories, store.Categories, store.SetCategories)
	s.Categories.same = func(a, b domain.Category) bool {
		return a.RecordID() == b.RecordID() || domain.SameName(a.Name, b.Name)
	}

	s.Goals = newHandle(s, domain.CollectionGoals, store.Goals, store.SetGoals)
	s.Goals.prepare = func(g domain.FinancialGoal) domain.FinancialGoal {
		if g.ID == "" {
			g.ID = uuid.NewString()
		}
		return g
	}

	s.Bills = newHandle(s, domain.CollectionBills, store.Bills, store.SetBills)
	s.Bills.prepare = func(b domain.Bill) domain.Bill {
		if b.ID == "" {
			b.ID = uuid.NewString()
		}
		if b.Status == "" {
			b.Status = domain.BillPending
		}
		return b
	}
	s.Bills.view = func(bills []domain.Bill) []domain.Bill {
		return domain.RefreshBillStatuses(bills, s.now())
	}

	s.Investments = newHandle(s, domain.CollectionInvestments, store.Investments, store.SetInvestments)
	s.Investments.prepare = func(i domain.Investment) domain.Investment {
		if i.ID == "" {
			i.ID = uuid.NewString()
		}
		return i
	}

	s.handles = []tracked{s.Expenses, s.Income, s.Categories, s.Goals, s.Bills, s.Investments}
	return s
}

func newHandle[T domain.Record](s *Session, c domain.Collection, read func() []T, write func([]T) error) *Handle[T] {
	return &Handle[T]{
		s:     s,
		c:     c,
		read:  read,
		write: write,
		same:  func(a, b T) bool { return a.RecordID() == b.RecordID() },
	}
}

func prepareRecord(kind domain.Kind) func(domain.FinancialRecord) domain.FinancialRecord {
	return func(r domain.FinancialRecord) domain.FinancialRecord {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.Kind == "" {
			r.Kind = kind
		}
		return r
	}
}

// UserID returns the session owner.
func (s *Session) UserID() string { return s.store.UserID() }

// Store returns the scoped local store backing the session.
func (s *Session) Store() *localstore.Store { return s.store }

// Start hydrates every collection and registers the change-detection
// subscriptions. On error nothing stays registered.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	s.started = true

	s.migrate()
	for _, h := range s.handles {
		h.hydrate()
	}

	if w, ok := s.store.Backend().(kv.Watcher); ok {
		changes, err := w.Watch(s.ctx)
		if err != nil {
			s.mu.Unlock()
			s.Close()
			return fmt.Errorf("watch local store: %w", err)
		}
		s.wg.Add(1)
		go s.watchStorage(changes)
	}
	if s.cfg.PollInterval > 0 {
		s.wg.Add(1)
		go s.poll()
	}
	s.wg.Add(1)
	go s.watchFocus()
	s.mu.Unlock()

	s.log.Info().Dur("poll_interval", s.cfg.PollInterval).Msg("Session started")
	for _, c := range domain.Collections {
		s.changed(c)
	}
	return nil
}

// Close cancels every subscription and waits for the session goroutines,
// including in-flight auto-push publishes, to finish. It is safe to call
// more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.listenersMu.Lock()
	clear(s.listeners)
	s.listenersMu.Unlock()
	s.log.Info().Msg("Session closed")
}

// Subscribe registers fn to be called with each collection whose in-memory
// records changed. It returns a function that removes the subscription.
func (s *Session) Subscribe(fn func(domain.Collection)) (unsubscribe func()) {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

// changed notifies listeners. It must be called without the session lock.
func (s *Session) changed(c domain.Collection) {
	s.listenersMu.Lock()
	fns := make([]func(domain.Collection), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// schedulePush publishes a push job without waiting for it.
func (s *Session) schedulePush() {
	if !s.cfg.AutoPush || s.publisher == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		// Not tied to s.ctx: a mutation made just before Close still pushes.
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		job := &jobs.SyncJob{UserID: s.UserID(), Type: jobs.JobTypeSyncToCloud}
		if err := s.publisher.PublishSync(ctx, job); err != nil {
			s.log.Warn().Err(err).Msg("Failed to schedule cloud push")
			return
		}
		s.log.Debug().Str("job_id", job.JobID).Msg("Scheduled cloud push")
	}()
}
