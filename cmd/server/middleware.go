package main

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fpz2018/gli/internal/postgres"
)

// dbRequestContext stashes the HTTP method for query metric labels and
// collects per-request query stats. The totals are put on the request span.
func dbRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := postgres.WithHTTPMethod(r.Context(), r.Method)
		ctx = postgres.NewReqDBStatsContext(ctx)

		next.ServeHTTP(w, r.WithContext(ctx))

		stats, ok := postgres.ReqDBStatsFromContext(ctx)
		if !ok {
			return
		}
		queries, errs, total := stats.Snapshot()
		if queries == 0 {
			return
		}
		span := trace.SpanFromContext(ctx)
		if !span.IsRecording() {
			return
		}
		span.SetAttributes(
			attribute.Int("db.query_count", queries),
			attribute.Int("db.query_errors", errs),
			attribute.Float64("db.query_seconds", total.Seconds()),
		)
	})
}
