package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/jobs"
	"github.com/dvloznov/finance-sync/internal/jobs/inmemory"
	"github.com/dvloznov/finance-sync/internal/kv"
	"github.com/dvloznov/finance-sync/internal/kv/memory"
	"github.com/dvloznov/finance-sync/internal/localstore"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storePublisher records jobs straight into the job store.
type storePublisher struct {
	store *inmemory.Store

	mu        sync.Mutex
	published []jobs.SyncJob
}

func (p *storePublisher) PublishSync(ctx context.Context, job *jobs.SyncJob) error {
	job.JobID = uuid.NewString()
	job.Status = jobs.JobStatusPending
	job.CreatedAt = time.Now()
	p.mu.Lock()
	p.published = append(p.published, *job)
	p.mu.Unlock()
	return p.store.SaveJob(ctx, job)
}

func (p *storePublisher) Close() error { return nil }

type fixture struct {
	backend   kv.Store
	jobStore  *inmemory.Store
	publisher *storePublisher
	handler   http.Handler
	signedIn  bool
}

func newFixture(t *testing.T, backend kv.Store) *fixture {
	t.Helper()
	f := &fixture{backend: backend, jobStore: inmemory.NewStore(), signedIn: true}
	f.publisher = &storePublisher{store: f.jobStore}
	f.handler = NewRouter(Deps{
		Backend: backend,
		CurrentUser: func() (domain.UserSession, bool) {
			if !f.signedIn {
				return domain.UserSession{}, false
			}
			return domain.UserSession{ID: "u1"}, true
		},
		Jobs:           f.jobStore,
		Publisher:      f.publisher,
		AllowedOrigins: []string{"https://app.example.com"},
		Now:            func() time.Time { return time.Date(2024, 4, 20, 10, 0, 0, 0, time.UTC) },
		Log:            zerolog.Nop(),
	})
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestAddExpense(t *testing.T) {
	f := newFixture(t, memory.New())
	store := localstore.New(f.backend, "u1", zerolog.Nop())
	require.NoError(t, store.SetCategories([]domain.Category{{ID: "c1", Name: "Dining", Budget: domain.Budget(100)}}))

	rec := f.do(http.MethodPost, "/api/expenses", `{"type":"dining","description":"Lunch","amount":12.5}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	got := decode[domain.FinancialRecord](t, rec)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "2024-04-20", got.Date, "defaults to today")
	assert.Equal(t, "Me", got.Counterparty)
	assert.Equal(t, domain.KindExpense, got.Kind)

	expenses := store.Expenses()
	require.Len(t, expenses, 1)
	assert.Equal(t, got, expenses[0])
	assert.Len(t, store.Categories(), 1, "existing category matched case-insensitively")

	rec = f.do(http.MethodPost, "/api/expenses", `{"date":"2024-04-21","type":"Travel","description":"Cab","amount":30}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	cats := store.Categories()
	require.Len(t, cats, 2)
	assert.Equal(t, "Travel", cats[1].Name)
	assert.Nil(t, cats[1].Budget)

	require.Len(t, f.publisher.published, 2)
	assert.Equal(t, jobs.JobTypeSyncToCloud, f.publisher.published[0].Type)
	assert.Equal(t, "u1", f.publisher.published[0].UserID)
}

func TestAddExpense_Invalid(t *testing.T) {
	f := newFixture(t, memory.New())

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{name: "negative amount", body: `{"type":"Dining","description":"x","amount":-1}`, field: "amount"},
		{name: "missing category", body: `{"description":"x","amount":1}`, field: "type"},
		{name: "bad date", body: `{"date":"20/04/2024","type":"Dining","description":"x","amount":1}`, field: "date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/expenses", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			body := decode[map[string]any](t, rec)
			assert.Contains(t, body["fields"], tt.field)
		})
	}

	rec := f.do(http.MethodPost, "/api/expenses", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.publisher.published)
}

func TestAddExpense_QuotaExceeded(t *testing.T) {
	f := newFixture(t, memory.New(memory.WithQuota(10)))
	rec := f.do(http.MethodPost, "/api/expenses", `{"type":"Dining","description":"Lunch","amount":1}`)
	assert.Equal(t, http.StatusInsufficientStorage, rec.Code)
	assert.Empty(t, f.publisher.published)
}

func TestAddIncome(t *testing.T) {
	f := newFixture(t, memory.New())
	rec := f.do(http.MethodPost, "/api/income", `{"date":"2024-04-01","type":"Salary","description":"April","paidBy":"Acme","amount":3000}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	store := localstore.New(f.backend, "u1", zerolog.Nop())
	income := store.Income()
	require.Len(t, income, 1)
	assert.Equal(t, domain.KindIncome, income[0].Kind)
	assert.Equal(t, "Acme", income[0].Counterparty)
	assert.Empty(t, store.Categories(), "income does not create expense categories")

	assert.Equal(t, http.StatusMethodNotAllowed, f.do(http.MethodGet, "/api/income", "").Code)
}

func TestListExpensesAndBudgets(t *testing.T) {
	f := newFixture(t, memory.New())
	store := localstore.New(f.backend, "u1", zerolog.Nop())
	require.NoError(t, store.SetCategories([]domain.Category{{Name: "Dining", Budget: domain.Budget(100)}}))
	require.NoError(t, store.SetExpenses([]domain.FinancialRecord{
		{ID: "1", Date: "2024-04-02", Category: "Dining", Description: "a", Amount: 10.1},
		{ID: "2", Date: "2024-04-03", Category: "Travel", Description: "b", Amount: 20.2},
		{ID: "3", Date: "2024-03-03", Category: "Dining", Description: "c", Amount: 5},
	}))

	type listBody struct {
		Expenses []domain.FinancialRecord `json:"expenses"`
		Count    int                      `json:"count"`
		Total    float64                  `json:"total"`
	}

	all := decode[listBody](t, f.do(http.MethodGet, "/api/expenses", ""))
	assert.Equal(t, 3, all.Count)

	april := decode[listBody](t, f.do(http.MethodGet, "/api/expenses?month=2024-04", ""))
	assert.Equal(t, 2, april.Count)
	assert.Equal(t, 30.3, april.Total)

	dining := decode[listBody](t, f.do(http.MethodGet, "/api/expenses?category=DINING", ""))
	assert.Equal(t, 2, dining.Count)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/expenses?month=April", "").Code)

	budgets := decode[map[string]any](t, f.do(http.MethodGet, "/api/budgets", ""))
	assert.Equal(t, "2024-04", budgets["month"])
	list := budgets["budgets"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, 10.1, list[0].(map[string]any)["spent"])
}

func TestSyncJobs(t *testing.T) {
	f := newFixture(t, memory.New())

	rec := f.do(http.MethodPost, "/api/sync", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	accepted := decode[map[string]string](t, rec)
	assert.Equal(t, string(jobs.JobTypeFullSync), accepted["type"])

	rec = f.do(http.MethodPost, "/api/sync", `{"type":"sync_from_cloud"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/sync", `{"type":"rsync"}`).Code)

	require.NoError(t, f.jobStore.SaveJob(context.Background(), &jobs.SyncJob{
		JobID: "other", UserID: "u2", Type: jobs.JobTypeFullSync, Status: jobs.JobStatusPending,
	}))

	list := decode[map[string]any](t, f.do(http.MethodGet, "/api/sync/jobs", ""))
	assert.Equal(t, float64(2), list["count"], "only the caller's jobs")

	pulls := decode[map[string]any](t, f.do(http.MethodGet, "/api/sync/jobs?type=sync_from_cloud", ""))
	assert.Equal(t, float64(1), pulls["count"])

	rec = f.do(http.MethodGet, "/api/sync/jobs/"+accepted["job_id"], "")
	require.Equal(t, http.StatusOK, rec.Code)
	job := decode[jobs.SyncJob](t, rec)
	assert.Equal(t, "u1", job.UserID)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/sync/jobs/other", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/sync/jobs/missing", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/sync/jobs/", "").Code)
}

func TestSyncDisabledWithoutPublisher(t *testing.T) {
	h := NewRouter(Deps{
		Backend:     memory.New(),
		CurrentUser: func() (domain.UserSession, bool) { return domain.UserSession{ID: "u1"}, true },
		Jobs:        inmemory.NewStore(),
		Log:         zerolog.Nop(),
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/expenses", strings.NewReader(`{"type":"A","description":"b","amount":1}`)))
	assert.Equal(t, http.StatusCreated, rec.Code, "writes work without sync")
}

func TestRouter_AuthAndHealth(t *testing.T) {
	f := newFixture(t, memory.New())
	f.signedIn = false

	rec := f.do(http.MethodGet, "/api/expenses", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = f.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]string](t, rec)["status"])
}

func TestRouter_CORS(t *testing.T) {
	f := newFixture(t, memory.New())

	req := httptest.NewRequest(http.MethodOptions, "/api/expenses", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
