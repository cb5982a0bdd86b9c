package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	RecommendationsTotal *prometheus.CounterVec
	PrimaryTotal         *prometheus.CounterVec
	ScoringDuration      prometheus.Histogram
	AnsweredAtEvaluation prometheus.Histogram
	SessionsStarted      prometheus.Counter
	SessionsCompleted    *prometheus.CounterVec
	SessionsReset        prometheus.Counter
	SessionsExpired      prometheus.Counter
	AnswersTotal         *prometheus.CounterVec
	NotificationsTotal   *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecommendationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gli_recommendations_total",
			Help: "Total recommendations computed by source and completeness.",
		}, []string{"source", "complete"}),
		PrimaryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gli_recommendation_primary_total",
			Help: "Complete recommendations computed on write, by primary program.",
		}, []string{"program"}),
		ScoringDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gli_scoring_duration_seconds",
			Help:    "Duration of a single scoring and ranking pass.",
			Buckets: prometheus.ExponentialBuckets(1e-7, 4, 10), // 100ns .. ~26ms
		}),
		AnsweredAtEvaluation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gli_answered_questions",
			Help:    "Answered catalog questions per evaluation.",
			Buckets: prometheus.LinearBuckets(0, 1, 11), // 0 .. 10
		}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gli_sessions_started_total",
			Help: "Total triage sessions started.",
		}),
		SessionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gli_sessions_completed_total",
			Help: "Sessions that reached the complete state, by primary program.",
		}, []string{"program"}),
		SessionsReset: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gli_sessions_reset_total",
			Help: "Total session resets.",
		}),
		SessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gli_sessions_expired_total",
			Help: "Sessions removed by the idle sweeper.",
		}),
		AnswersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gli_answers_total",
			Help: "Answer submissions by result.",
		}, []string{"result"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gli_notifications_total",
			Help: "Coordinator notifications by status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.RecommendationsTotal,
		m.PrimaryTotal,
		m.ScoringDuration,
		m.AnsweredAtEvaluation,
		m.SessionsStarted,
		m.SessionsCompleted,
		m.SessionsReset,
		m.SessionsExpired,
		m.AnswersTotal,
		m.NotificationsTotal,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnEvaluate: func(source string, rec Recommendation, seconds float64) {
			complete := "false"
			if rec.Complete {
				complete = "true"
				// reads recompute an existing result, they do not produce a new one
				if source != SourceRead {
					m.PrimaryTotal.WithLabelValues(string(rec.Primary.Program)).Inc()
				}
			}
			m.RecommendationsTotal.WithLabelValues(source, complete).Inc()
			m.ScoringDuration.Observe(seconds)
			m.AnsweredAtEvaluation.Observe(float64(rec.Answered))
		},
		OnSessionStarted: func() {
			m.SessionsStarted.Inc()
		},
		OnAnswer: func(result string) {
			m.AnswersTotal.WithLabelValues(result).Inc()
		},
		OnSessionCompleted: func(rec Recommendation) {
			m.SessionsCompleted.WithLabelValues(string(rec.Primary.Program)).Inc()
		},
		OnReset: func() {
			m.SessionsReset.Inc()
		},
		OnExpired: func(n int) {
			m.SessionsExpired.Add(float64(n))
		},
		OnNotify: func(err error) {
			status := "success"
			if err != nil {
				status = "error"
			}
			m.NotificationsTotal.WithLabelValues(status).Inc()
		},
	}
}
