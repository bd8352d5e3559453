package store

import (
	"errors"

	"agendas/api/internal/board"
	"agendas/api/internal/scope"
)

// ErrConflict reports a unique-key violation on insert: the row already
// exists.
var ErrConflict = errors.New("store: conflicting row")

// IndicatorEntry is a stored indicator row together with its scope.
type IndicatorEntry struct {
	Scope  scope.Key
	Record board.Record
}
