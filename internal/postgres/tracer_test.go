package postgres

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type observation struct {
	method, route, outcome string
}

type recordingObserver struct {
	mu  sync.Mutex
	got []observation
}

func (r *recordingObserver) ObserveQuery(_ context.Context, method, route, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, observation{method, route, outcome})
}

// runQuery drives the tracer through one start/end pair.
func runQuery(ctx context.Context, tr *queryTracer, err error) {
	ctx = tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{
		SQL:  "SELECT 1 FROM triage_sessions WHERE id = $1",
		Args: []any{"01J0000000000000000000000"},
	})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{
		CommandTag: pgconn.NewCommandTag("SELECT 1"),
		Err:        err,
	})
}

func TestShortenFuncName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full path", "github.com/fpz2018/gli/internal/triage/pgstore.(*Store).Update", "(*Store).Update"},
		{"closure", "github.com/fpz2018/gli/internal/triage.(*Service).Answer.func1", "(*Service).Answer.func1"},
		{"no slashes", "pgstore.(*Store).Get", "(*Store).Get"},
		{"no dots", "main", "main"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := shortenFuncName(tt.in); got != tt.want {
				t.Errorf("shortenFuncName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestReqDBStats(t *testing.T) {
	t.Parallel()

	ctx := NewReqDBStatsContext(context.Background())
	s, ok := ReqDBStatsFromContext(ctx)
	if !ok || s == nil {
		t.Fatal("expected stats in context")
	}

	s.AddQuery(10*time.Millisecond, nil)
	s.AddQuery(20*time.Millisecond, errors.New("timeout"))

	again, _ := ReqDBStatsFromContext(ctx)
	q, e, total := again.Snapshot()
	if q != 2 || e != 1 || total != 30*time.Millisecond {
		t.Errorf("snapshot = %d/%d/%v, want 2/1/30ms", q, e, total)
	}

	if _, ok := ReqDBStatsFromContext(context.Background()); ok {
		t.Error("expected ok=false for plain context")
	}
}

func TestWithHTTPMethod(t *testing.T) {
	t.Parallel()

	if got := httpMethodFromContext(WithHTTPMethod(context.Background(), "PUT")); got != "PUT" {
		t.Errorf("method = %q, want PUT", got)
	}
	if got := httpMethodFromContext(WithHTTPMethod(context.Background(), "")); got != "" {
		t.Errorf("method = %q, want empty", got)
	}
}

func TestQueryTracer_RecordsStatsAndObserves(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	tr := &queryTracer{observer: obs}

	ctx := NewReqDBStatsContext(WithHTTPMethod(context.Background(), "GET"))
	runQuery(ctx, tr, nil)
	runQuery(ctx, tr, errors.New("boom"))
	runQuery(context.Background(), tr, &pgconn.PgError{Code: "40001"})

	s, _ := ReqDBStatsFromContext(ctx)
	if q, e, _ := s.Snapshot(); q != 2 || e != 1 {
		t.Errorf("stats = %d queries/%d errors, want 2/1", q, e)
	}

	want := []observation{
		{"GET", "none", "ok"},
		{"GET", "none", "error"},
		{"NONE", "none", "error"},
	}
	if len(obs.got) != len(want) {
		t.Fatalf("observations = %v, want %v", obs.got, want)
	}
	for i := range want {
		if obs.got[i] != want[i] {
			t.Errorf("observation[%d] = %v, want %v", i, obs.got[i], want[i])
		}
	}
}

func TestQueryTracer_RouteLabelFromChi(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	tr := &queryTracer{observer: obs}

	r := chi.NewRouter()
	r.Get("/api/v1/sessions/{id}", func(w http.ResponseWriter, req *http.Request) {
		runQuery(WithHTTPMethod(req.Context(), req.Method), tr, nil)
		w.WriteHeader(http.StatusNoContent)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/sessions/abc", nil))

	if len(obs.got) != 1 {
		t.Fatalf("observations = %d, want 1", len(obs.got))
	}
	if obs.got[0].route != "/api/v1/sessions/{id}" {
		t.Errorf("route = %q, want the chi pattern", obs.got[0].route)
	}
}

func TestQueryTracer_EndWithoutStart(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	tr := &queryTracer{observer: obs}
	tr.TraceQueryEnd(context.Background(), nil, pgx.TraceQueryEndData{})

	if len(obs.got) != 0 {
		t.Errorf("observations = %v, want none", obs.got)
	}
}

func TestNewPool_BadDSN(t *testing.T) {
	t.Parallel()

	if _, err := NewPool(context.Background(), "postgres://%zz"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestQueryObserverFunc(t *testing.T) {
	t.Parallel()

	called := false
	var o QueryObserver = QueryObserverFunc(func(_ context.Context, method, _, _ string, _ time.Duration) {
		called = method == "POST"
	})
	o.ObserveQuery(context.Background(), "POST", "/", "ok", time.Millisecond)
	if !called {
		t.Error("observer func was not called")
	}
}
