package triage

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Category identifies one GLI program. The set is closed and fixed per
// Catalog; its declaration order is the ranking tie-break order.
type Category string

// Built-in program categories.
const (
	CategoryBeweegKuur Category = "beweegkuur"
	CategoryCOOL       Category = "cool"
	CategorySLIMMER    Category = "slimmer"
)

// Option is one selectable answer to a Question. Scores holds non-negative
// weights per category; absent categories count as zero.
type Option struct {
	ID     string           `json:"id"`
	Label  string           `json:"label"`
	Scores map[Category]int `json:"scores,omitempty"`
}

// Question is a single-choice triage question.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options"`
}

// Program is display metadata for a category. The engine never reads it.
type Program struct {
	Category  Category `json:"category"`
	Title     string   `json:"title"`
	Duration  string   `json:"duration,omitempty"`
	Intensity string   `json:"intensity,omitempty"`
	Inclusion []string `json:"inclusion,omitempty"`
	Exclusion []string `json:"exclusion,omitempty"`
	Rationale string   `json:"rationale,omitempty"`
}

// Catalog is the immutable question set used for scoring.
type Catalog struct {
	categories []Category
	programs   map[Category]Program
	questions  []Question
	index      map[string]map[string]Option // question id -> option id -> option
}

var (
	// ErrUnknownQuestion is returned when an answer references a question
	// that is not part of the catalog.
	ErrUnknownQuestion = errors.New("unknown question")

	// ErrUnknownOption is returned when an answer references an option that
	// is not part of the referenced question.
	ErrUnknownOption = errors.New("unknown option")
)

// NewCatalog validates and indexes a catalog. Every problem found is reported,
// joined into a single error. A catalog with zero questions is valid.
func NewCatalog(categories []Category, questions []Question, programs []Program) (*Catalog, error) {
	var errs []error

	if len(categories) < 2 {
		errs = append(errs, fmt.Errorf("catalog needs at least 2 categories, got %d", len(categories)))
	}
	known := make(map[Category]bool, len(categories))
	for _, c := range categories {
		if c == "" {
			errs = append(errs, errors.New("empty category id"))
			continue
		}
		if known[c] {
			errs = append(errs, fmt.Errorf("duplicate category %q", c))
		}
		known[c] = true
	}

	c := &Catalog{
		categories: slices.Clone(categories),
		programs:   make(map[Category]Program, len(programs)),
		questions:  make([]Question, 0, len(questions)),
		index:      make(map[string]map[string]Option, len(questions)),
	}

	for _, p := range programs {
		if !known[p.Category] {
			errs = append(errs, fmt.Errorf("program %q references unknown category", p.Category))
			continue
		}
		c.programs[p.Category] = cloneProgram(p)
	}

	for qi, q := range questions {
		if q.ID == "" {
			errs = append(errs, fmt.Errorf("question %d: empty id", qi))
			continue
		}
		if _, dup := c.index[q.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate question %q", q.ID))
			continue
		}
		if len(q.Options) == 0 {
			errs = append(errs, fmt.Errorf("question %q: no options", q.ID))
		}

		opts := make(map[string]Option, len(q.Options))
		for _, o := range q.Options {
			if o.ID == "" {
				errs = append(errs, fmt.Errorf("question %q: option with empty id", q.ID))
				continue
			}
			if _, dup := opts[o.ID]; dup {
				errs = append(errs, fmt.Errorf("question %q: duplicate option %q", q.ID, o.ID))
				continue
			}
			for cat, w := range o.Scores {
				if !known[cat] {
					errs = append(errs, fmt.Errorf("question %q option %q: unknown category %q", q.ID, o.ID, cat))
				}
				if w < 0 {
					errs = append(errs, fmt.Errorf("question %q option %q: negative weight %d for %q", q.ID, o.ID, w, cat))
				}
			}
			opts[o.ID] = cloneOption(o)
		}

		c.index[q.ID] = opts
		c.questions = append(c.questions, cloneQuestion(q))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return c, nil
}

// Categories returns the categories in declaration order.
func (c *Catalog) Categories() []Category {
	return slices.Clone(c.categories)
}

// Questions returns a copy of the questions in catalog order.
func (c *Catalog) Questions() []Question {
	out := make([]Question, len(c.questions))
	for i, q := range c.questions {
		out[i] = cloneQuestion(q)
	}
	return out
}

// Len returns the number of questions.
func (c *Catalog) Len() int {
	return len(c.questions)
}

// Program returns the display metadata for a category, if any was supplied.
func (c *Catalog) Program(cat Category) (Program, bool) {
	p, ok := c.programs[cat]
	if !ok {
		return Program{}, false
	}
	return cloneProgram(p), true
}

// Programs returns the metadata of every category that has some, in
// category order.
func (c *Catalog) Programs() []Program {
	out := make([]Program, 0, len(c.programs))
	for _, cat := range c.categories {
		if p, ok := c.programs[cat]; ok {
			out = append(out, cloneProgram(p))
		}
	}
	return out
}

// Title returns the program title for a category, falling back to the id.
func (c *Catalog) Title(cat Category) string {
	if p, ok := c.programs[cat]; ok && p.Title != "" {
		return p.Title
	}
	return string(cat)
}

// CheckAnswer reports whether optionID is a member of questionID's options.
// The scoring functions never need this; it guards answers before they are
// stored.
func (c *Catalog) CheckAnswer(questionID, optionID string) error {
	opts, ok := c.index[questionID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownQuestion, questionID)
	}
	if _, ok := opts[optionID]; !ok {
		return fmt.Errorf("%w: %q for question %q", ErrUnknownOption, optionID, questionID)
	}
	return nil
}

func (c *Catalog) lookup(questionID, optionID string) (Option, bool) {
	opts, ok := c.index[questionID]
	if !ok {
		return Option{}, false
	}
	o, ok := opts[optionID]
	return o, ok
}

func cloneOption(o Option) Option {
	o.Scores = maps.Clone(o.Scores)
	return o
}

func cloneQuestion(q Question) Question {
	opts := make([]Option, len(q.Options))
	for i, o := range q.Options {
		opts[i] = cloneOption(o)
	}
	q.Options = opts
	return q
}

func cloneProgram(p Program) Program {
	p.Inclusion = slices.Clone(p.Inclusion)
	p.Exclusion = slices.Clone(p.Exclusion)
	return p
}
