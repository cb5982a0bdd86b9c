package triageapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fpz2018/gli/internal/triage"
)

type answerRequest struct {
	Option string `json:"option"`
}

type sessionView struct {
	ID             string           `json:"id"`
	State          triage.State     `json:"state"`
	Answers        triage.AnswerSet `json:"answers"`
	Recommendation recommendation   `json:"recommendation"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (a *API) newSessionView(s *triage.Session) sessionView {
	return sessionView{
		ID:             s.ID,
		State:          s.State,
		Answers:        s.Answers,
		Recommendation: a.withProgram(s.Recommendation),
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func (a *API) handleStartSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.svc.Start(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to start triage session")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Location", "/api/v1/sessions/"+sess.ID)
	writeJSON(w, http.StatusCreated, a.newSessionView(sess))
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("gli.session.id", id))

	sess, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get triage session", "session_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, a.newSessionView(sess))
}

func (a *API) handleAnswer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	question := chi.URLParam(r, "question")
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("gli.session.id", id),
		attribute.String("gli.question.id", question),
	)

	var req answerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	sess, err := a.svc.Answer(r.Context(), id, question, req.Option)
	if err != nil {
		a.writeServiceError(w, r, err, id)
		return
	}
	writeJSON(w, http.StatusOK, a.newSessionView(sess))
}

func (a *API) handleReset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("gli.session.id", id))

	sess, err := a.svc.Reset(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err, id)
		return
	}
	writeJSON(w, http.StatusOK, a.newSessionView(sess))
}

func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error, id string) {
	switch {
	case errors.Is(err, triage.ErrUnknownQuestion), errors.Is(err, triage.ErrUnknownOption):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, triage.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		a.logger.Error(r.Context(), err, "triage session update failed", "session_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
