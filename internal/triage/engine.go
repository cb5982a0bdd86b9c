package triage

import (
	"maps"
	"slices"
	"sort"
)

// AnswerSet maps a question id to the selected option id. It is owned by the
// caller; the scoring functions never modify it.
type AnswerSet map[string]string

// With returns a copy of a with questionID set to optionID.
func (a AnswerSet) With(questionID, optionID string) AnswerSet {
	out := make(AnswerSet, len(a)+1)
	maps.Copy(out, a)
	out[questionID] = optionID
	return out
}

// Clone returns an independent copy. A nil set clones to an empty one.
func (a AnswerSet) Clone() AnswerSet {
	out := make(AnswerSet, len(a))
	maps.Copy(out, a)
	return out
}

// valid returns the entries of a whose question and option are both in c.
func (a AnswerSet) valid(c *Catalog) AnswerSet {
	out := make(AnswerSet, len(a))
	for qid, oid := range a {
		if _, ok := c.lookup(qid, oid); ok {
			out[qid] = oid
		}
	}
	return out
}

// ScoreVector is the aggregate weight per category.
type ScoreVector map[Category]int

// ProgramScore pairs a category with its aggregate score.
type ProgramScore struct {
	Program Category `json:"program"`
	Score   int      `json:"score"`
}

// Recommendation is derived from a full scoring pass and never patched.
type Recommendation struct {
	Primary   ProgramScore   `json:"primary"`
	Secondary ProgramScore   `json:"secondary"`
	Scores    ScoreVector    `json:"scores"`
	Ranking   []ProgramScore `json:"ranking"`
	Complete  bool           `json:"complete"`
	Answered  int            `json:"answered"`
	Total     int            `json:"total"`
}

// Clone returns a deep copy.
func (r Recommendation) Clone() Recommendation {
	r.Scores = maps.Clone(r.Scores)
	r.Ranking = slices.Clone(r.Ranking)
	return r
}

// Score folds answers against the catalog. Entries referencing an unknown
// question or option are skipped. The result has an entry for every catalog
// category.
func Score(c *Catalog, answers AnswerSet) ScoreVector {
	sv := make(ScoreVector, len(c.categories))
	for _, cat := range c.categories {
		sv[cat] = 0
	}
	for qid, oid := range answers {
		opt, ok := c.lookup(qid, oid)
		if !ok {
			continue
		}
		for cat, w := range opt.Scores {
			sv[cat] += w
		}
	}
	return sv
}

// Recommend scores answers and ranks the categories by score, highest first.
// Equal scores keep catalog declaration order. It is total: empty, partial and
// malformed answer sets all yield a Recommendation.
func Recommend(c *Catalog, answers AnswerSet) Recommendation {
	sv := Score(c, answers)

	ranking := make([]ProgramScore, len(c.categories))
	for i, cat := range c.categories {
		ranking[i] = ProgramScore{Program: cat, Score: sv[cat]}
	}
	sort.SliceStable(ranking, func(i, j int) bool {
		return ranking[i].Score > ranking[j].Score
	})

	answered := c.answered(answers)

	rec := Recommendation{
		Scores:   sv,
		Ranking:  ranking,
		Answered: answered,
		Total:    len(c.questions),
		Complete: answered == len(c.questions),
	}
	// NewCatalog guarantees at least two categories.
	rec.Primary = ranking[0]
	rec.Secondary = ranking[1]
	return rec
}

// answered counts entries whose question id is in the catalog.
func (c *Catalog) answered(answers AnswerSet) int {
	n := 0
	for qid := range answers {
		if _, ok := c.index[qid]; ok {
			n++
		}
	}
	return n
}
