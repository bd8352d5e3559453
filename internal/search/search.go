// Package search finds indicator rows by their action notes across every
// meeting. Meilisearch is preferred; SQL search is the fallback.
package search

import (
	"context"
	"crypto/sha1"
	"encoding/hex"

	"agendas/api/internal/board"
	"agendas/api/internal/scope"
	"agendas/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Scope    scope.Key    `json:"scope"`
	Category string       `json:"category"`
	KPIName  string       `json:"kpiName"`
	Status   board.Status `json:"status"`
	Snippet  string       `json:"snippet"`
}

// Query describes a search request. Kind and BranchID narrow the search
// when set.
type Query struct {
	Text     string
	Kind     string
	BranchID string
	Limit    int
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return 20
	}
	return q.Limit
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Searcher can execute a search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Document is what the index holds for one indicator row.
type Document struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	BranchID string `json:"branchId"`
	Date     string `json:"date"`
	Category string `json:"category"`
	KPIName  string `json:"kpiName"`
	Status   string `json:"status"`
	Actions  string `json:"actions"`
}

// NewDocument builds the index document of a stored row. The ID is stable
// for the row's natural key, so re-indexing replaces the previous version.
func NewDocument(key scope.Key, record board.Record) Document {
	sum := sha1.Sum([]byte(key.String() + "\x00" + record.Category + "\x00" + record.KPIName))
	return Document{
		ID:       hex.EncodeToString(sum[:]),
		Kind:     key.Kind,
		BranchID: key.BranchID,
		Date:     key.Date.String(),
		Category: record.Category,
		KPIName:  record.KPIName,
		Status:   string(record.Status),
		Actions:  record.Actions,
	}
}

func documentsOf(entries []store.IndicatorEntry) []Document {
	docs := make([]Document, 0, len(entries))
	for _, entry := range entries {
		docs = append(docs, NewDocument(entry.Scope, entry.Record))
	}
	return docs
}
