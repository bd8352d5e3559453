package search

import (
	"context"
	"strings"
	"unicode/utf8"

	"agendas/api/internal/store"
)

// EntrySearcher is the portable query every store offers.
type EntrySearcher interface {
	SearchIndicators(ctx context.Context, query string, limit int) ([]store.IndicatorEntry, error)
}

// StoreSearch implements Searcher with the store's substring match. It is
// the fallback on drivers without full-text search.
type StoreSearch struct {
	entries EntrySearcher
}

func NewStoreSearch(entries EntrySearcher) *StoreSearch {
	return &StoreSearch{entries: entries}
}

func (s *StoreSearch) Healthy() bool { return true }

func (s *StoreSearch) Search(ctx context.Context, q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, 0, nil
	}
	// Filters apply after the store query, so over-fetch when narrowing.
	fetch := q.limit()
	if q.Kind != "" || q.BranchID != "" {
		fetch *= 5
	}
	entries, err := s.entries.SearchIndicators(ctx, text, fetch)
	if err != nil {
		return nil, 0, err
	}

	results := make([]Result, 0, len(entries))
	for _, entry := range entries {
		if q.Kind != "" && entry.Scope.Kind != q.Kind {
			continue
		}
		if q.BranchID != "" && entry.Scope.BranchID != q.BranchID {
			continue
		}
		results = append(results, Result{
			Scope:    entry.Scope,
			Category: entry.Record.Category,
			KPIName:  entry.Record.KPIName,
			Status:   entry.Record.Status,
			Snippet:  excerpt(entry.Record.Actions, text, 80),
		})
		if len(results) == q.limit() {
			break
		}
	}
	return results, len(results), nil
}

// excerpt returns up to width runes of text centred on the first
// case-insensitive match of term.
func excerpt(text, term string, width int) string {
	if utf8.RuneCountInString(text) <= width {
		return text
	}
	runes := []rune(text)
	at := strings.Index(strings.ToLower(text), strings.ToLower(term))
	start := 0
	if at > 0 {
		start = utf8.RuneCountInString(text[:at]) - width/4
	}
	start = max(0, min(start, len(runes)-width))
	out := string(runes[start : start+width])
	if start > 0 {
		out = "…" + out
	}
	if start+width < len(runes) {
		out += "…"
	}
	return out
}
