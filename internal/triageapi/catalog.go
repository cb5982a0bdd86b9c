package triageapi

import (
	"net/http"

	"github.com/fpz2018/gli/internal/triage"
)

// catalogView is the questionnaire as a front end renders it. Weights stay
// server side.
type catalogView struct {
	Categories []triage.Category `json:"categories"`
	Questions  []questionView    `json:"questions"`
}

type questionView struct {
	ID      string       `json:"id"`
	Prompt  string       `json:"prompt"`
	Options []optionView `json:"options"`
}

type optionView struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

func newCatalogView(c *triage.Catalog) catalogView {
	qs := c.Questions()
	view := catalogView{
		Categories: c.Categories(),
		Questions:  make([]questionView, len(qs)),
	}
	for i, q := range qs {
		qv := questionView{ID: q.ID, Prompt: q.Prompt, Options: make([]optionView, len(q.Options))}
		for j, o := range q.Options {
			qv.Options[j] = optionView{ID: o.ID, Label: o.Label}
		}
		view.Questions[i] = qv
	}
	return view
}

func (a *API) handleGetCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newCatalogView(a.svc.Catalog()))
}

func (a *API) handleGetPrograms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"programs": a.svc.Catalog().Programs(),
	})
}
