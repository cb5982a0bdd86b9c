package triageapi

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fpz2018/gli/internal/triage"
)

type recommendRequest struct {
	Answers triage.AnswerSet `json:"answers"`
}

// recommendation adds the primary program's metadata so a client can show
// the rationale without a second lookup.
type recommendation struct {
	triage.Recommendation
	Program *triage.Program `json:"program,omitempty"`
}

func (a *API) withProgram(rec triage.Recommendation) recommendation {
	out := recommendation{Recommendation: rec}
	if p, ok := a.svc.Catalog().Program(rec.Primary.Program); ok {
		out.Program = &p
	}
	return out
}

func (a *API) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var req recommendRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	rec := a.svc.Evaluate(r.Context(), req.Answers)

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("gli.primary", string(rec.Primary.Program)),
		attribute.Bool("gli.complete", rec.Complete),
	)

	writeJSON(w, http.StatusOK, a.withProgram(rec))
}
