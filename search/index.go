// Package search ranks active people by how well their name or local name
// matches a query. Both names carry the same weight and are matched in their
// own script; there is no transliteration.
package search

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/camden-git/familytree/models"
	"github.com/camden-git/familytree/repository"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// per term, per field
const (
	scoreExact     = 3
	scorePrefix    = 2
	scoreSubstring = 1
)

// Source returns a coarse candidate set for the terms.
type Source interface {
	SearchCandidates(ctx context.Context, terms []string, opts repository.QueryOptions) ([]models.Person, error)
}

// Result is a ranked match.
type Result struct {
	Person models.Person `json:"person"`
	Score  int           `json:"score"`
}

// Index scores candidates from a Source.
type Index struct {
	source       Source
	defaultLimit int
}

// NewIndex creates a new index returning defaultLimit results when the caller asks for none.
func NewIndex(source Source, defaultLimit int) *Index {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	return &Index{source: source, defaultLimit: defaultLimit}
}

// Search returns active people matching query, best first. Ties are broken by name then id.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	terms := Tokenize(query)
	if len(terms) == 0 {
		return []Result{}, nil
	}
	if limit <= 0 {
		limit = ix.defaultLimit
	}
	limit = min(limit, MaxLimit)

	candidates, err := ix.source.SearchCandidates(ctx, terms, repository.ActiveOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to load search candidates: %w", err)
	}

	results := make([]Result, 0, len(candidates))
	for _, p := range candidates {
		if !p.Active {
			continue
		}
		if s := Score(p, terms); s > 0 {
			results = append(results, Result{Person: p, Score: s})
		}
	}

	slices.SortFunc(results, func(a, b Result) int {
		return cmp.Or(
			cmp.Compare(b.Score, a.Score),
			cmp.Compare(a.Person.Name, b.Person.Name),
			cmp.Compare(a.Person.ID, b.Person.ID),
		)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Tokenize lowercases query and splits it on whitespace.
func Tokenize(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// Score sums, for every term, the best match in name plus the best match in local name.
func Score(p models.Person, terms []string) int {
	name, local := strings.ToLower(p.Name), strings.ToLower(p.LocalName)
	total := 0
	for _, term := range terms {
		total += fieldScore(name, term) + fieldScore(local, term)
	}
	return total
}

func fieldScore(field, term string) int {
	if !strings.Contains(field, term) {
		return 0
	}
	best := scoreSubstring
	for _, word := range strings.Fields(field) {
		switch {
		case word == term:
			return scoreExact
		case strings.HasPrefix(word, term):
			best = scorePrefix
		}
	}
	return best
}
