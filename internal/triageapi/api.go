// Package triageapi exposes the triage engine and referrer sessions over HTTP.
package triageapi

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/fpz2018/gli/internal/triage"
)

const maxBodyBytes = 64 << 10

// TriageService defines the business operations triageapi needs.
type TriageService interface {
	Catalog() *triage.Catalog
	Evaluate(ctx context.Context, answers triage.AnswerSet) triage.Recommendation
	Start(ctx context.Context) (*triage.Session, error)
	Get(ctx context.Context, id string) (*triage.Session, bool, error)
	Answer(ctx context.Context, id, questionID, optionID string) (*triage.Session, error)
	Reset(ctx context.Context, id string) (*triage.Session, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    TriageService
}

// New creates a new API handler.
func New(logger log.Logger, svc TriageService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router. mw wraps every
// endpoint, typically with authentication.
func (a *API) RegisterRoutes(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw...)

		r.Get("/catalog", a.handleGetCatalog)
		r.Get("/programs", a.handleGetPrograms)
		r.Post("/recommend", a.handleRecommend)

		r.Post("/sessions", a.handleStartSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", a.handleGetSession)
			r.Put("/answers/{question}", a.handleAnswer)
			r.Delete("/answers", a.handleReset)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing useful to do with a write error once the header is out
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody reads a bounded JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
