package triage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/fpz2018/gli/internal/triage")

// Answer outcomes reported through Hooks.OnAnswer.
const (
	AnswerAccepted        = "accepted"
	AnswerUnknownQuestion = "unknown_question"
	AnswerUnknownOption   = "unknown_option"
	AnswerNoSession       = "no_session"
	AnswerError           = "error"
)

// Evaluation sources reported through Hooks.OnEvaluate.
const (
	SourceStateless = "stateless"
	SourceSession   = "session"
	SourceRead      = "read"
)

// Notifier is told about sessions that just became complete.
type Notifier interface {
	Notify(ctx context.Context, s *Session) error
}

// Hooks are optional observation callbacks. Nil fields are skipped.
type Hooks struct {
	OnEvaluate         func(source string, rec Recommendation, seconds float64)
	OnSessionStarted   func()
	OnAnswer           func(result string)
	OnSessionCompleted func(rec Recommendation)
	OnReset            func()
	OnExpired          func(n int)
	OnNotify           func(err error)
}

// Service is the business boundary for triage operations. Scoring itself is
// pure; the service owns session lifecycle, validation of incoming answers
// and completion notification.
type Service struct {
	store    Store
	catalog  *Catalog
	logger   log.Logger
	hooks    Hooks
	notifier Notifier
	now      func() time.Time
	wg       sync.WaitGroup
}

// NewService creates a triage service. notifier may be nil.
func NewService(store Store, catalog *Catalog, logger log.Logger, hooks Hooks, notifier Notifier) *Service {
	if store == nil {
		panic(xerrors.New("triage store is required"))
	}
	if catalog == nil {
		panic(xerrors.New("triage catalog is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:    store,
		catalog:  catalog,
		logger:   logger,
		hooks:    hooks,
		notifier: notifier,
		now:      time.Now,
	}
}

// Catalog returns the catalog the service scores against.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// Evaluate scores an answer set without touching any session.
func (s *Service) Evaluate(ctx context.Context, answers AnswerSet) Recommendation {
	_, span := tracer.Start(ctx, "triage.Evaluate", trace.WithAttributes(
		attribute.Int("gli.answers", len(answers)),
	))
	defer span.End()

	start := time.Now()
	rec := Recommend(s.catalog, answers)
	s.observe(SourceStateless, rec, time.Since(start))
	annotate(span, rec)
	return rec
}

// Start opens a new session with an empty answer set.
func (s *Service) Start(ctx context.Context) (*Session, error) {
	ctx, span := tracer.Start(ctx, "triage.Start")
	defer span.End()

	now := s.now().UTC()
	sess := &Session{
		ID:        ulid.Make().String(),
		Answers:   AnswerSet{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	took := s.settle(sess)

	if err := s.store.Create(ctx, sess); err != nil {
		fail(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("gli.session.id", sess.ID))
	s.observe(SourceSession, sess.Recommendation, took)

	if s.hooks.OnSessionStarted != nil {
		s.hooks.OnSessionStarted()
	}
	s.logger.Info(ctx, "triage session started", "session_id", sess.ID)
	return sess, nil
}

// Get retrieves a session by id. Answers and recommendation reflect the
// current catalog: answers it no longer accepts are dropped and the
// recommendation is recomputed. The recomputed view is not written back.
func (s *Service) Get(ctx context.Context, id string) (*Session, bool, error) {
	ctx, span := tracer.Start(ctx, "triage.Get", trace.WithAttributes(
		attribute.String("gli.session.id", id),
	))
	defer span.End()

	sess, ok, err := s.store.Get(ctx, id)
	if err != nil {
		fail(span, err)
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	s.observe(SourceRead, sess.Recommendation, s.settle(sess))
	annotate(span, sess.Recommendation)
	return sess, true, nil
}

// Answer records one answer and recomputes the recommendation from scratch.
// Unknown question or option ids are rejected before anything is stored.
func (s *Service) Answer(ctx context.Context, id, questionID, optionID string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "triage.Answer", trace.WithAttributes(
		attribute.String("gli.session.id", id),
		attribute.String("gli.question.id", questionID),
	))
	defer span.End()

	if err := s.catalog.CheckAnswer(questionID, optionID); err != nil {
		s.answerOutcome(err)
		fail(span, err)
		return nil, err
	}

	var (
		completed bool
		took      time.Duration
	)
	sess, err := s.store.Update(ctx, id, func(sess *Session) error {
		// the stored state may predate the current catalog
		wasComplete := s.catalog.answered(sess.Answers.valid(s.catalog)) == s.catalog.Len()
		sess.Answers = sess.Answers.With(questionID, optionID)
		sess.UpdatedAt = s.now().UTC()
		took = s.settle(sess)
		completed = !wasComplete && sess.State == StateComplete
		return nil
	})
	if err != nil {
		s.answerOutcome(err)
		fail(span, err)
		return nil, err
	}
	s.observe(SourceSession, sess.Recommendation, took)
	s.answerOutcome(nil)
	annotate(span, sess.Recommendation)

	if completed {
		if s.hooks.OnSessionCompleted != nil {
			s.hooks.OnSessionCompleted(sess.Recommendation)
		}
		s.logger.Info(ctx, "triage session complete",
			"session_id", sess.ID,
			"primary", sess.Recommendation.Primary.Program,
			"primary_score", sess.Recommendation.Primary.Score,
			"secondary", sess.Recommendation.Secondary.Program,
		)
		s.dispatch(ctx, sess)
	}
	return sess, nil
}

// Reset clears every answer of a session.
func (s *Service) Reset(ctx context.Context, id string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "triage.Reset", trace.WithAttributes(
		attribute.String("gli.session.id", id),
	))
	defer span.End()

	var took time.Duration
	sess, err := s.store.Update(ctx, id, func(sess *Session) error {
		sess.Answers = AnswerSet{}
		sess.UpdatedAt = s.now().UTC()
		took = s.settle(sess)
		return nil
	})
	if err != nil {
		fail(span, err)
		return nil, err
	}
	s.observe(SourceSession, sess.Recommendation, took)
	if s.hooks.OnReset != nil {
		s.hooks.OnReset()
	}
	return sess, nil
}

// Sweep deletes sessions idle for longer than ttl.
func (s *Service) Sweep(ctx context.Context, ttl time.Duration) (int, error) {
	n, err := s.store.DeleteExpired(ctx, s.now().Add(-ttl))
	if err != nil {
		return 0, err
	}
	if n > 0 && s.hooks.OnExpired != nil {
		s.hooks.OnExpired(n)
	}
	return n, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval, ttl time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.Sweep(ctx, ttl)
			if err != nil {
				s.logger.Error(ctx, err, "session sweep failed")
				continue
			}
			if n > 0 {
				s.logger.Info(ctx, "expired triage sessions removed", "count", n)
			}
		}
	}
}

// Wait blocks until in-flight completion notifications have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// settle drops answers the catalog no longer accepts, then recomputes the
// recommendation and state from the rest. It returns the scoring time.
func (s *Service) settle(sess *Session) time.Duration {
	start := time.Now()
	sess.Answers = sess.Answers.valid(s.catalog)
	sess.Recommendation = Recommend(s.catalog, sess.Answers)
	sess.State = StateAnswering
	if sess.Recommendation.Complete {
		sess.State = StateComplete
	}
	return time.Since(start)
}

func (s *Service) observe(source string, rec Recommendation, took time.Duration) {
	if s.hooks.OnEvaluate != nil {
		s.hooks.OnEvaluate(source, rec, took.Seconds())
	}
}

func (s *Service) answerOutcome(err error) {
	if s.hooks.OnAnswer == nil {
		return
	}
	switch {
	case err == nil:
		s.hooks.OnAnswer(AnswerAccepted)
	case errors.Is(err, ErrUnknownQuestion):
		s.hooks.OnAnswer(AnswerUnknownQuestion)
	case errors.Is(err, ErrUnknownOption):
		s.hooks.OnAnswer(AnswerUnknownOption)
	case errors.Is(err, ErrSessionNotFound):
		s.hooks.OnAnswer(AnswerNoSession)
	default:
		s.hooks.OnAnswer(AnswerError)
	}
}

// dispatch notifies asynchronously so a slow webhook never blocks the
// referrer. The session passed along is a private copy.
func (s *Service) dispatch(ctx context.Context, sess *Session) {
	if s.notifier == nil {
		return
	}
	cp := sess.Clone()
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.notifier.Notify(ctx, cp)
		if err != nil {
			s.logger.Error(ctx, err, "coordinator notification failed", "session_id", cp.ID)
		}
		if s.hooks.OnNotify != nil {
			s.hooks.OnNotify(err)
		}
	}()
}

func annotate(span trace.Span, rec Recommendation) {
	span.SetAttributes(
		attribute.String("gli.primary", string(rec.Primary.Program)),
		attribute.Int("gli.primary.score", rec.Primary.Score),
		attribute.Bool("gli.complete", rec.Complete),
		attribute.Int("gli.answered", rec.Answered),
	)
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
