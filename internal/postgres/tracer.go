package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

type queryStart struct{}

type queryInfo struct {
	sql    string
	nargs  int
	start  time.Time
	caller string
}

// queryTracer chains an inner tracer (otelpgx) with per-request stats, the
// query observer and one structured log line per query. Query arguments are
// never logged: they carry patient answers.
type queryTracer struct {
	inner    pgx.QueryTracer
	observer QueryObserver
	slow     time.Duration
}

// TraceQueryStart implements pgx.QueryTracer.
func (t *queryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	info := &queryInfo{
		sql:    data.SQL,
		nargs:  len(data.Args),
		start:  time.Now(),
		caller: queryCaller(),
	}

	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}
	if info.caller != "" {
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetAttributes(attribute.String("db.caller", info.caller))
		}
	}
	return context.WithValue(ctx, queryStart{}, info)
}

// TraceQueryEnd implements pgx.QueryTracer.
func (t *queryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	info, ok := ctx.Value(queryStart{}).(*queryInfo)
	if !ok {
		return
	}
	dur := time.Since(info.start)

	if s, ok := ReqDBStatsFromContext(ctx); ok {
		s.AddQuery(dur, data.Err)
	}

	if t.observer != nil {
		method := httpMethodFromContext(ctx)
		if method == "" {
			method = "NONE"
		}
		route := "none"
		if rc := chi.RouteContext(ctx); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		outcome := "ok"
		if data.Err != nil {
			outcome = "error"
		}
		t.observer.ObserveQuery(ctx, method, route, outcome, dur)
	}

	if data.Err == nil && dur < t.slow {
		return
	}

	fields := []any{
		"db.statement", info.sql,
		"db.args", info.nargs,
		"db.duration", dur.Seconds(),
	}
	if tag := data.CommandTag.String(); tag != "" {
		op, _, _ := strings.Cut(tag, " ")
		fields = append(fields,
			"db.operation.name", op,
			"db.rows", data.CommandTag.RowsAffected(),
		)
	}
	if info.caller != "" {
		fields = append(fields, "db.caller", info.caller)
	}

	L := log.FromContext(ctx)
	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields, "db.error_code", pgErr.Code, "db.error_constraint", pgErr.ConstraintName)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	L.Info(ctx, "db query", fields...)
}

// queryCaller returns the first frame outside pgx, otelpgx, the runtime and
// this package, shortened to receiver and method.
func queryCaller() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		fr, more := frames.Next()
		fn := fr.Function
		switch {
		case fn == "",
			strings.HasPrefix(fn, "runtime."),
			strings.HasPrefix(fn, "github.com/jackc/pgx/"),
			strings.HasPrefix(fn, "github.com/exaring/otelpgx"),
			strings.HasPrefix(fn, "github.com/fpz2018/gli/internal/postgres."):
		default:
			return shortenFuncName(fn)
		}
		if !more {
			return ""
		}
	}
}

// shortenFuncName trims the import path and package name from a fully
// qualified function name.
func shortenFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 {
		fn = fn[i+1:]
	}
	if i := strings.Index(fn, "."); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	return fn
}
