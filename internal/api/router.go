// Package api wires the quick-add HTTP surface.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/finance-sync/internal/api/handlers"
	"github.com/dvloznov/finance-sync/internal/api/middleware"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/jobs"
	"github.com/dvloznov/finance-sync/internal/kv"
	"github.com/rs/zerolog"
)

// Deps are the collaborators of the router.
type Deps struct {
	Backend        kv.Store
	CurrentUser    func() (domain.UserSession, bool)
	Jobs           jobs.JobStore
	Publisher      jobs.Publisher
	AllowedOrigins []string
	Now            func() time.Time
	Log            zerolog.Logger
}

// NewRouter returns the quick-add handler with middleware applied.
func NewRouter(d Deps) http.Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	records := handlers.NewRecordsHandler(d.Backend, d.Publisher, d.Now, d.Log)
	jobsHandler := handlers.NewJobsHandler(d.Jobs, d.Publisher, d.Log)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/expenses", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			records.ListExpenses(w, r)
		case http.MethodPost:
			records.AddExpense(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/income", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			records.AddIncome(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/budgets", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			records.Budgets(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/sync", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			jobsHandler.EnqueueSync(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/sync/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobsHandler.ListJobs(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/sync/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			// Extract job ID from path
			jobID := strings.TrimPrefix(r.URL.Path, "/api/sync/jobs/")
			if jobID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
				return
			}
			jobsHandler.GetJob(w, r, jobID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   d.Now().Format(time.RFC3339),
		})
	})

	// Apply middleware
	return middleware.Recovery(d.Log)(
		middleware.RequestID(
			middleware.Logger(d.Log)(
				middleware.CORS(d.AllowedOrigins)(
					middleware.Auth(d.CurrentUser)(mux),
				),
			),
		),
	)
}
