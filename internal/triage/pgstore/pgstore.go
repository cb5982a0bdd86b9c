// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/fpz2018/gli/internal/triage"
)

var tracer = otel.Tracer("github.com/fpz2018/gli/internal/triage/pgstore")

//go:embed migrations/*.sql
var migrations embed.FS

// Store persists triage sessions in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies pending migrations on the pool and returns a ready Store.
// The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if err := Migrate(ctx, pool); err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Migrate runs the embedded goose migrations through a database/sql handle
// backed by the pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

const sessionColumns = `id, state, answers, recommendation, created_at, updated_at`

// Get retrieves a session by ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.Session, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	sess, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM triage_sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		fail(span, err)
		return nil, false, err
	}
	return sess, true, nil
}

// Create inserts a new session.
func (s *Store) Create(ctx context.Context, sess *triage.Session) error {
	ctx, span := startSpan(ctx, "pgstore.Create", "INSERT")
	defer span.End()

	answers, rec, err := marshalSession(sess)
	if err != nil {
		fail(span, err)
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO triage_sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		sess.ID, string(sess.State), answers, rec, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		err = fmt.Errorf("insert session: %w", err)
		fail(span, err)
		return err
	}
	return nil
}

// Update locks the session row, applies fn and writes the result back in a
// single transaction.
func (s *Store) Update(ctx context.Context, id string, fn triage.UpdateFunc) (*triage.Session, error) {
	ctx, span := startSpan(ctx, "pgstore.Update", "UPDATE")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		err = fmt.Errorf("begin tx: %w", err)
		fail(span, err)
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	sess, err := scanSession(tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM triage_sessions WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, triage.ErrSessionNotFound
	}
	if err != nil {
		fail(span, err)
		return nil, err
	}

	if err := fn(sess); err != nil {
		return nil, err
	}

	answers, rec, err := marshalSession(sess)
	if err != nil {
		fail(span, err)
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE triage_sessions SET state = $2, answers = $3, recommendation = $4, updated_at = $5 WHERE id = $1`,
		sess.ID, string(sess.State), answers, rec, sess.UpdatedAt,
	)
	if err != nil {
		err = fmt.Errorf("update session: %w", err)
		fail(span, err)
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		err = fmt.Errorf("commit: %w", err)
		fail(span, err)
		return nil, err
	}
	return sess, nil
}

// Delete removes a session. Deleting an unknown ID is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, span := startSpan(ctx, "pgstore.Delete", "DELETE")
	defer span.End()

	if _, err := s.pool.Exec(ctx, `DELETE FROM triage_sessions WHERE id = $1`, id); err != nil {
		err = fmt.Errorf("delete session: %w", err)
		fail(span, err)
		return err
	}
	return nil
}

// DeleteExpired removes sessions last updated before the cutoff.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	ctx, span := startSpan(ctx, "pgstore.DeleteExpired", "DELETE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM triage_sessions WHERE updated_at < $1`, before)
	if err != nil {
		err = fmt.Errorf("delete expired sessions: %w", err)
		fail(span, err)
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func marshalSession(sess *triage.Session) (answers, rec []byte, err error) {
	answers, err = json.Marshal(sess.Answers)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal answers: %w", err)
	}
	rec, err = json.Marshal(sess.Recommendation)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal recommendation: %w", err)
	}
	return answers, rec, nil
}

// scanSession scans one row. pgx.ErrNoRows is returned unwrapped.
func scanSession(row pgx.Row) (*triage.Session, error) {
	var (
		sess        triage.Session
		state       string
		answersJSON []byte
		recJSON     []byte
	)
	err := row.Scan(&sess.ID, &state, &answersJSON, &recJSON, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	sess.State = triage.State(state)
	if err := json.Unmarshal(answersJSON, &sess.Answers); err != nil {
		return nil, fmt.Errorf("unmarshal answers: %w", err)
	}
	if sess.Answers == nil {
		sess.Answers = triage.AnswerSet{}
	}
	if err := json.Unmarshal(recJSON, &sess.Recommendation); err != nil {
		return nil, fmt.Errorf("unmarshal recommendation: %w", err)
	}
	return &sess, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
