// Command server runs the GLI referral triage API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"
	v "github.com/linnemanlabs/go-core/version"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fpz2018/gli/internal/authmw"
	"github.com/fpz2018/gli/internal/catalog"
	gc "github.com/fpz2018/gli/internal/cfg"
	"github.com/fpz2018/gli/internal/notify/slack"
	"github.com/fpz2018/gli/internal/postgres"
	"github.com/fpz2018/gli/internal/triage"
	"github.com/fpz2018/gli/internal/triage/memstore"
	"github.com/fpz2018/gli/internal/triage/pgstore"
	"github.com/fpz2018/gli/internal/triageapi"
)

const appName = "gli"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

// stopFn is a named shutdown step run under its own slice of the budget.
type stopFn struct {
	name string
	fn   func(context.Context) error
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component
	vi := v.Get()

	var (
		appCfg    gc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	// each package registers its own flags into the shared command line
	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// flags win over GLI_* env vars
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}
	cfg.FillFromEnv(flag.CommandLine, "GLI_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	// cross-cutting checks that only main can do
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	// logger first so every later failure is logged
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	// no-op for the slog backend, flushes buffered backends
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"catalog_file", appCfg.CatalogFile,
		"persistent_sessions", appCfg.DatabaseURL != "",
		"session_ttl_minutes", appCfg.SessionTTLMinutes,
		"coordinator_notify", appCfg.CoordinatorWebhookURL != "",
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
	)

	// profiling starts early to cover the whole process lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	// tracing; the returned shutdown flushes pending spans
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}

	// one registry for build info, http, triage and db metrics
	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	// the catalog is fixed for the process lifetime
	cat, err := catalog.LoadOrDefault(appCfg.CatalogFile)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	L.Info(ctx, "question catalog loaded",
		"questions", cat.Len(),
		"programs", len(cat.Categories()),
		"source", catalogSource(appCfg.CatalogFile),
	)

	store, closeStore, err := openStore(ctx, L, &appCfg, m.Registry())
	if err != nil {
		return err
	}
	defer closeStore()

	// leave notifier a nil interface when no webhook is set
	var notifier triage.Notifier
	if appCfg.CoordinatorWebhookURL != "" {
		notifier = slack.New(appCfg.CoordinatorWebhookURL, cat)
		L.Info(ctx, "notifier enabled", "type", "slack")
	}

	triageMetrics := triage.NewMetrics(m.Registry())
	triageSvc := triage.NewService(store, cat, L, triageMetrics.Hooks(), notifier)

	// the sweeper stops with ctx, before the drain starts
	sweepInterval := time.Duration(appCfg.SweepIntervalSeconds) * time.Second
	sessionTTL := time.Duration(appCfg.SessionTTLMinutes) * time.Minute
	go triageSvc.RunSweeper(ctx, sweepInterval, sessionTTL)

	// readiness fails once draining starts so the load balancer stops sending traffic
	var shutdownGate health.ShutdownGate
	readiness := health.All(shutdownGate.Probe())
	liveness := health.Fixed(true, "")

	// ops listener: metrics, health, pprof. Internal traffic only.
	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}

	// api router; chi middleware runs in registration order
	r := chi.NewRouter()

	// JSON only
	r.Use(middleware.Compress(5, "application/json"))

	// set http.route on the logger and span from the chi pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// method label and per-request query stats for the db tracer
	r.Use(dbRequestContext)

	r.Use(httpmw.AccessLog())

	// 413 past 64KiB; the api decoders enforce the same cap
	r.Use(httpmw.MaxBody(1024 * 64))

	// health on the main listener too, outside the bearer gate
	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	// every /api/v1 route sits behind the bearer token gate
	triageapi.New(L, triageSvc).RegisterRoutes(r, authmw.BearerToken(appCfg.APITokens()...))

	h := wrapHandler(r, L, m.Middleware, httpmwCfg.TrustedProxyHops)

	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}
	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		// ops is already listening, close it before bailing out
		_ = opsHTTPStop(context.Background())
		return err
	}

	if err := notifySystemd(); err != nil {
		// systemd kills us after its start timeout if this matters
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// wait for ctrl+c / sigterm
	<-ctx.Done()

	bg := context.Background()
	L.Info(bg, "shutdown signal received")
	// fail readiness, then give the load balancer time to stop routing to us
	shutdownGate.Set("draining")
	drain(bg, L, time.Duration(appCfg.DrainSeconds)*time.Second)

	// order matters: stop taking requests first so no new session can
	// complete, then let in-flight notifications finish, then close ops so
	// metrics stay scrapeable until the end, and flush traces last
	stopFns := []stopFn{
		{"api http server", apiHTTPStop},
		{"coordinator notifications", func(ctx context.Context) error {
			return waitContext(ctx, triageSvc.Wait)
		}},
		{"ops http server", opsHTTPStop},
	}
	if shutdownOtelx != nil {
		stopFns = append(stopFns, stopFn{"otel", shutdownOtelx})
	}
	shutdown(bg, L, time.Duration(appCfg.ShutdownBudgetSeconds)*time.Second, stopFns)

	L.Info(bg, "shutdown complete")
	return nil
}

// openStore picks the session store. An empty database URL keeps sessions in
// memory. The returned close func is always safe to call.
func openStore(ctx context.Context, L log.Logger, appCfg *gc.Config, reg prometheus.Registerer) (triage.Store, func(), error) {
	if appCfg.DatabaseURL == "" {
		L.Info(ctx, "using in-memory session store (no database-url configured)")
		return memstore.New(), func() {}, nil
	}

	// per-query latency labelled by http method and chi route
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gli_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "outcome"})
	reg.MustRegister(dbQueryDuration)

	pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL,
		postgres.WithMaxConns(int32(appCfg.DBMaxConns)), //nolint:gosec // bounded by Validate
		postgres.WithSlowQueryThreshold(time.Duration(appCfg.DBSlowQueryMillis)*time.Millisecond),
		postgres.WithQueryObserver(postgres.QueryObserverFunc(
			func(_ context.Context, method, route, outcome string, dur time.Duration) {
				dbQueryDuration.WithLabelValues(method, route, outcome).Observe(dur.Seconds())
			},
		)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres pool: %w", err)
	}
	// applies pending migrations before the first query
	store, err := pgstore.New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pgstore init: %w", err)
	}
	L.Info(ctx, "using postgres session store")
	return store, pool.Close, nil
}

// wrapHandler applies the outer middleware chain. Each wrapper added below
// sits outside the previous one: the outermost sees the raw request first
// and the response last, the innermost sees the richest context.
func wrapHandler(r http.Handler, L log.Logger, metricsMW func(http.Handler) http.Handler, trustedHops int) http.Handler {
	// request-scoped logger, inner so it picks up trace and request ids
	h := httpmw.WithLogger(L)(r)

	// X-Trace-Id / X-Span-Id on responses with a recording span
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	// server spans and trace context propagation
	h = otelhttp.NewHandler(h, "http.server",
		// no spans for health probes
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// AnnotateHTTPRoute renames the span to the route pattern later
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		// referrers are external clients, never continue their traces
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)

	// prometheus request metrics
	h = metricsMW(h)

	// resolve the client ip once, honouring only trusted proxy hops
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{TrustedHops: trustedHops})(h)

	// request id, outside everything that logs
	h = httpmw.RequestID("X-Request-Id")(h)

	// turn panics anywhere below into a logged 500
	h = httpmw.Recover(L, nil)(h)

	// security headers outermost so every response carries them
	return httpmw.SecurityHeaders(h)
}

// drain waits for the load balancer to notice the failing readiness probe.
// A second signal cuts the wait short.
func drain(ctx context.Context, L log.Logger, d time.Duration) {
	L.Info(ctx, "sleeping for drain period", "drain_seconds", d.Seconds())
	// signal.NotifyContext already consumed the first signal
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(forceCh)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		L.Info(ctx, "drain period complete")
	case <-forceCh:
		L.Warn(ctx, "second signal received, skipping drain")
	}
}

// shutdown runs each step with an equal slice of the total budget.
func shutdown(ctx context.Context, L log.Logger, budget time.Duration, steps []stopFn) {
	if len(steps) == 0 {
		return
	}
	// a slow step cannot eat the budget of the steps after it
	perComponent := budget / time.Duration(len(steps))
	shutdownCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	for _, s := range steps {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(ctx, err, s.name+" shutdown")
		}
		ccancel()
	}
}

// waitContext runs wait and returns early with ctx.Err() if ctx ends first.
func waitContext(ctx context.Context, wait func()) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func catalogSource(path string) string {
	if path == "" {
		return "builtin"
	}
	return path
}

func notifySystemd() error {
	// set by systemd for Type=notify units
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // addr comes from systemd; unixgram dial has no context variant
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
