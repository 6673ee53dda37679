// Package suggestions produces follow-up questions for an analysis result.
// A fixed set of starters is always offered; templates add questions derived
// from whichever result fields are present.
package suggestions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PaesslerAG/jsonpath"

	"github.com/lenslab/vision-gateway/internal/app/domain/analysis"
	"github.com/lenslab/vision-gateway/pkg/logger"
)

// Template pairs a JSONPath expression over the result document with a
// format string. The template fires only when the path resolves to a
// non-empty value.
type Template struct {
	Path   string
	Format string
}

// DefaultLimit caps the suggestion list returned to clients.
const DefaultLimit = 4

var defaultStarters = []string{
	"What is happening in this image?",
	"Describe this image in one sentence.",
}

var defaultTemplates = []Template{
	{Path: "$.tags[0].name", Format: "Tell me more about the %v."},
	{Path: "$.objects[0].name", Format: "Where exactly is the %v?"},
	{Path: "$.text[0]", Format: "What does \"%v\" refer to?"},
}

// Generator assembles suggestion lists.
type Generator struct {
	starters  []string
	templates []Template
	limit     int
	log       *logger.Logger
}

// Option customises the generator.
type Option func(*Generator)

// WithLimit overrides the suggestion cap.
func WithLimit(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.limit = n
		}
	}
}

// WithStarters replaces the hard-coded starter questions.
func WithStarters(starters ...string) Option {
	return func(g *Generator) { g.starters = starters }
}

// WithTemplates replaces the derived-question templates.
func WithTemplates(templates ...Template) Option {
	return func(g *Generator) { g.templates = templates }
}

// NewGenerator constructs a generator with the default starters and
// templates.
func NewGenerator(log *logger.Logger, opts ...Option) *Generator {
	if log == nil {
		log = logger.NewDefault("suggestions")
	}
	g := &Generator{
		starters:  defaultStarters,
		templates: defaultTemplates,
		limit:     DefaultLimit,
		log:       log,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ForResult returns suggestions for one analysis result: starters first,
// then template questions in declaration order, deduplicated and capped.
func (g *Generator) ForResult(result analysis.Result) []string {
	out := make([]string, 0, g.limit)
	seen := make(map[string]bool)

	add := func(s string) bool {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return len(out) < g.limit
		}
		seen[s] = true
		out = append(out, s)
		return len(out) < g.limit
	}

	for _, starter := range g.starters {
		if !add(starter) {
			return out
		}
	}

	doc := resultDocument(result)
	if doc == nil {
		return out
	}

	for _, tmpl := range g.templates {
		value, err := jsonpath.Get(tmpl.Path, doc)
		if err != nil || value == nil {
			continue
		}
		if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		if !add(fmt.Sprintf(tmpl.Format, value)) {
			return out
		}
	}

	return out
}

// resultDocument converts the typed result into the generic JSON form the
// JSONPath evaluator works over.
func resultDocument(result analysis.Result) interface{} {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	return doc
}
