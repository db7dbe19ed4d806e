package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/finance-sync/internal/api/middleware"
	"github.com/dvloznov/finance-sync/internal/csvimport"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/jobs"
	"github.com/dvloznov/finance-sync/internal/kv"
	"github.com/dvloznov/finance-sync/internal/localstore"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/report"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const publishTimeout = 5 * time.Second

// RecordsHandler handles quick-add and listing of expenses and income.
// Writes go straight to the user's local store.
type RecordsHandler struct {
	backend   kv.Store
	publisher jobs.Publisher
	now       func() time.Time
	log       zerolog.Logger

	// mu serialises read-modify-write cycles on the store.
	mu sync.Mutex
}

// NewRecordsHandler creates a new records handler. publisher may be nil, in
// which case writes are not pushed.
func NewRecordsHandler(backend kv.Store, publisher jobs.Publisher, now func() time.Time, log zerolog.Logger) *RecordsHandler {
	if now == nil {
		now = time.Now
	}
	return &RecordsHandler{
		backend:   backend,
		publisher: publisher,
		now:       now,
		log:       log,
	}
}

type recordRequest struct {
	Date        string   `json:"date"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	PaidBy      string   `json:"paidBy"`
	Amount      float64  `json:"amount"`
	Tags        []string `json:"tags"`
}

// AddExpense handles POST /api/expenses
func (h *RecordsHandler) AddExpense(w http.ResponseWriter, r *http.Request) {
	h.add(w, r, domain.KindExpense)
}

// AddIncome handles POST /api/income
func (h *RecordsHandler) AddIncome(w http.ResponseWriter, r *http.Request) {
	h.add(w, r, domain.KindIncome)
}

func (h *RecordsHandler) add(w http.ResponseWriter, r *http.Request, kind domain.Kind) {
	ctx := r.Context()
	user, _ := middleware.UserFromContext(ctx)
	log := logger.FromContext(ctx).With().Str("user_id", user.ID).Logger()

	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rec := domain.FinancialRecord{
		ID:           uuid.NewString(),
		Date:         strings.TrimSpace(req.Date),
		Category:     strings.TrimSpace(req.Type),
		Description:  strings.TrimSpace(req.Description),
		Counterparty: strings.TrimSpace(req.PaidBy),
		Amount:       req.Amount,
		Kind:         kind,
		Tags:         req.Tags,
	}
	if rec.Date == "" {
		rec.Date = domain.FormatDate(h.now())
	}
	if rec.Counterparty == "" && kind == domain.KindExpense {
		rec.Counterparty = csvimport.DefaultPayer
	}
	if err := domain.Validate(rec); err != nil {
		middleware.WriteJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "Invalid record",
			"fields": domain.FieldErrors(err),
		})
		return
	}

	store := localstore.New(h.backend, user.ID, log)
	if err := h.save(store, rec); err != nil {
		log.Error().Err(err).Str("collection", collectionFor(kind)).Msg("Failed to save record")
		status := http.StatusInternalServerError
		if errors.Is(err, kv.ErrQuotaExceeded) {
			status = http.StatusInsufficientStorage
		}
		middleware.WriteError(w, status, "Failed to save record")
		return
	}

	log.Info().Str("collection", collectionFor(kind)).Str("id", rec.ID).Msg("Record added")
	h.publishPush(ctx, user.ID, log)
	middleware.WriteJSON(w, http.StatusCreated, rec)
}

func (h *RecordsHandler) save(store *localstore.Store, rec domain.FinancialRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rec.Kind == domain.KindIncome {
		return store.SetIncome(append(store.Income(), rec))
	}

	existing := store.Categories()
	cats := domain.MergeCategories(existing, []domain.Category{{
		ID:          uuid.NewString(),
		Name:        rec.Category,
		Description: rec.Category + " expenses",
	}})
	if len(cats) != len(existing) {
		if err := store.SetCategories(cats); err != nil {
			return err
		}
	}
	return store.SetExpenses(append(store.Expenses(), rec))
}

func (h *RecordsHandler) publishPush(ctx context.Context, userID string, log zerolog.Logger) {
	if h.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	job := &jobs.SyncJob{UserID: userID, Type: jobs.JobTypeSyncToCloud}
	if err := h.publisher.PublishSync(ctx, job); err != nil {
		log.Warn().Err(err).Msg("Failed to enqueue push")
		return
	}
	log.Debug().Str("job_id", job.JobID).Msg("Push enqueued")
}

// ListExpenses handles GET /api/expenses
func (h *RecordsHandler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := middleware.UserFromContext(ctx)

	query := r.URL.Query()
	month := query.Get("month")
	if month != "" {
		if _, err := report.ParseMonth(month); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid month format")
			return
		}
	}
	category := query.Get("category")

	store := localstore.New(h.backend, user.ID, logger.FromContext(ctx))
	expenses := []domain.FinancialRecord{}
	for _, e := range store.Expenses() {
		if month != "" && !domain.InMonth(e.Date, month) {
			continue
		}
		if category != "" && !domain.SameName(e.Category, category) {
			continue
		}
		expenses = append(expenses, e)
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"expenses": expenses,
		"count":    len(expenses),
		"total":    report.Total(expenses),
	})
}

// Budgets handles GET /api/budgets
func (h *RecordsHandler) Budgets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := middleware.UserFromContext(ctx)

	month := r.URL.Query().Get("month")
	if month == "" {
		month = report.CurrentMonth(h.now())
	} else if _, err := report.ParseMonth(month); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid month format")
		return
	}

	store := localstore.New(h.backend, user.ID, logger.FromContext(ctx))
	statuses := report.BudgetStatuses(store.Expenses(), store.Categories(), month)
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"month":   month,
		"budgets": statuses,
	})
}

func collectionFor(kind domain.Kind) string {
	if kind == domain.KindIncome {
		return string(domain.CollectionIncome)
	}
	return string(domain.CollectionExpenses)
}
