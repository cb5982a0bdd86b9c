// Package catalog loads triage question catalogs from YAML or JSON documents
// and ships the built-in GLI referrer catalog.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/fpz2018/gli/internal/triage"
)

// Format is the encoding of a catalog document.
type Format string

// Supported catalog encodings.
const (
	// FormatYAML is used for .yaml and .yml files and the built-in catalog.
	FormatYAML Format = "yaml"
	// FormatJSON is used for .json files.
	FormatJSON Format = "json"
)

//go:embed default.yaml
var defaultYAML []byte

// ErrUnsupportedFormat is returned for files whose extension is not a known
// catalog encoding.
var ErrUnsupportedFormat = errors.New("unsupported catalog format")

// Document is the on-disk shape of a catalog.
type Document struct {
	Categories []triage.Category `yaml:"categories" json:"categories"`
	Programs   []ProgramDoc      `yaml:"programs,omitempty" json:"programs,omitempty"`
	Questions  []QuestionDoc     `yaml:"questions" json:"questions"`
}

// ProgramDoc is the display metadata of one program category.
type ProgramDoc struct {
	Category  triage.Category `yaml:"category" json:"category"`
	Title     string          `yaml:"title" json:"title"`
	Duration  string          `yaml:"duration,omitempty" json:"duration,omitempty"`
	Intensity string          `yaml:"intensity,omitempty" json:"intensity,omitempty"`
	Inclusion []string        `yaml:"inclusion,omitempty" json:"inclusion,omitempty"`
	Exclusion []string        `yaml:"exclusion,omitempty" json:"exclusion,omitempty"`
	Rationale string          `yaml:"rationale,omitempty" json:"rationale,omitempty"`
}

// QuestionDoc is one question with its options in catalog order.
type QuestionDoc struct {
	ID      string      `yaml:"id" json:"id"`
	Prompt  string      `yaml:"prompt" json:"prompt"`
	Options []OptionDoc `yaml:"options" json:"options"`
}

// OptionDoc is one answer option and its weight per category.
type OptionDoc struct {
	ID     string                  `yaml:"id" json:"id"`
	Label  string                  `yaml:"label" json:"label"`
	Scores map[triage.Category]int `yaml:"scores,omitempty" json:"scores,omitempty"`
}

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Load reads, decodes and validates the catalog at path.
func Load(path string) (*triage.Catalog, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Default returns the built-in GLI referrer catalog.
func Default() (*triage.Catalog, error) {
	c, err := Parse(defaultYAML, FormatYAML)
	if err != nil {
		return nil, fmt.Errorf("default catalog: %w", err)
	}
	return c, nil
}

// LoadOrDefault loads path, or the built-in catalog when path is empty.
func LoadOrDefault(path string) (*triage.Catalog, error) {
	if path == "" {
		return Default()
	}
	return Load(path)
}

// Parse decodes a catalog document and validates it. Unknown fields are
// rejected so typos in hand-edited files surface at load time.
func Parse(data []byte, format Format) (*triage.Catalog, error) {
	doc, err := Decode(data, format)
	if err != nil {
		return nil, err
	}
	return doc.Build()
}

// Decode decodes a catalog document without validating it.
func Decode(data []byte, format Format) (*Document, error) {
	var doc Document
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return &doc, nil
}

// Build validates the document and turns it into a scoring catalog.
func (d *Document) Build() (*triage.Catalog, error) {
	questions := make([]triage.Question, len(d.Questions))
	for i, q := range d.Questions {
		opts := make([]triage.Option, len(q.Options))
		for j, o := range q.Options {
			opts[j] = triage.Option{ID: o.ID, Label: o.Label, Scores: o.Scores}
		}
		questions[i] = triage.Question{ID: q.ID, Prompt: q.Prompt, Options: opts}
	}

	programs := make([]triage.Program, len(d.Programs))
	for i, p := range d.Programs {
		programs[i] = triage.Program{
			Category:  p.Category,
			Title:     p.Title,
			Duration:  p.Duration,
			Intensity: p.Intensity,
			Inclusion: p.Inclusion,
			Exclusion: p.Exclusion,
			Rationale: p.Rationale,
		}
	}

	return triage.NewCatalog(d.Categories, questions, programs)
}

// Encode writes a catalog as a document in the given format.
func Encode(w io.Writer, c *triage.Catalog, format Format) error {
	doc := FromCatalog(c)
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// FromCatalog is the inverse of Build.
func FromCatalog(c *triage.Catalog) *Document {
	doc := &Document{Categories: c.Categories()}
	for _, p := range c.Programs() {
		doc.Programs = append(doc.Programs, ProgramDoc(p))
	}
	for _, q := range c.Questions() {
		qd := QuestionDoc{ID: q.ID, Prompt: q.Prompt, Options: make([]OptionDoc, len(q.Options))}
		for i, o := range q.Options {
			qd.Options[i] = OptionDoc(o)
		}
		doc.Questions = append(doc.Questions, qd)
	}
	return doc
}
