package extractor

import (
	"fmt"
	"strings"

	"github.com/nalpari/jppc/internal/crawler"
)

// Registry maps source codes to their extractors.
type Registry struct {
	extractors map[string]Extractor
	order      []string // registration order
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]Extractor)}
}

// Default returns a registry holding every supported utility.
func Default() *Registry {
	r := NewRegistry()
	r.Register(NewTEPCO())
	r.Register(NewKEPCO())
	r.Register(NewChubu())
	r.Register(NewChugoku())
	return r
}

// Register adds or replaces the extractor for its source code.
func (r *Registry) Register(e Extractor) {
	code := normalizeCode(e.Source().Code)
	if _, exists := r.extractors[code]; !exists {
		r.order = append(r.order, code)
	}
	r.extractors[code] = e
}

// Get resolves a source code case-insensitively.
func (r *Registry) Get(code string) (Extractor, error) {
	e, ok := r.extractors[normalizeCode(code)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", crawler.ErrUnknownSource, code)
	}
	return e, nil
}

// Resolve returns the extractors for codes in the given order, or every
// registered extractor when codes is empty. Duplicates are collapsed.
func (r *Registry) Resolve(codes []string) ([]Extractor, error) {
	if len(codes) == 0 {
		return r.All(), nil
	}
	seen := make(map[string]struct{}, len(codes))
	out := make([]Extractor, 0, len(codes))
	for _, code := range codes {
		e, err := r.Get(code)
		if err != nil {
			return nil, err
		}
		key := normalizeCode(code)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out, nil
}

// Codes lists registered source codes in registration order.
func (r *Registry) Codes() []string {
	return append([]string(nil), r.order...)
}

// All returns every extractor in registration order.
func (r *Registry) All() []Extractor {
	out := make([]Extractor, 0, len(r.order))
	for _, code := range r.order {
		out = append(out, r.extractors[code])
	}
	return out
}

// Sources returns the source descriptions in registration order.
func (r *Registry) Sources() []crawler.Source {
	out := make([]crawler.Source, 0, len(r.order))
	for _, e := range r.All() {
		out = append(out, e.Source())
	}
	return out
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
