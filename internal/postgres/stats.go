package postgres

import (
	"context"
	"sync"
	"time"
)

type ctxKey int

const (
	statsKey ctxKey = iota
	methodKey
)

// ReqDBStats accumulates the queries issued while serving one request.
type ReqDBStats struct {
	mu       sync.Mutex
	queries  int
	errors   int
	duration time.Duration
}

// AddQuery records a single query execution.
func (s *ReqDBStats) AddQuery(dur time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	s.duration += dur
	if err != nil {
		s.errors++
	}
}

// Snapshot returns the query count, error count and total query time so far.
func (s *ReqDBStats) Snapshot() (queries, errors int, total time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries, s.errors, s.duration
}

// NewReqDBStatsContext attaches an empty ReqDBStats to ctx.
func NewReqDBStatsContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, statsKey, &ReqDBStats{})
}

// ReqDBStatsFromContext returns the stats attached by NewReqDBStatsContext.
func ReqDBStatsFromContext(ctx context.Context) (*ReqDBStats, bool) {
	s, ok := ctx.Value(statsKey).(*ReqDBStats)
	return s, ok
}

// WithHTTPMethod records the request method for query metric labels.
func WithHTTPMethod(ctx context.Context, method string) context.Context {
	if method == "" {
		return ctx
	}
	return context.WithValue(ctx, methodKey, method)
}

func httpMethodFromContext(ctx context.Context) string {
	m, _ := ctx.Value(methodKey).(string)
	return m
}

// QueryObserver receives one observation per finished query.
type QueryObserver interface {
	ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, method, route, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration) {
	f(ctx, method, route, outcome, dur)
}
