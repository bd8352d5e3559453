// Package engine keeps an in-memory indicator matrix consistent with the
// remote store. Engine loads and bootstraps scopes; Session owns the one
// scope a user is currently editing and the debounced writers behind it.
package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"agendas/api/internal/board"
	"agendas/api/internal/catalogue"
	"agendas/api/internal/scope"
	"agendas/api/internal/store"
)

var (
	ErrInvalidScope     = errors.New("invalid scope")
	ErrNotReady         = errors.New("no scope is ready for editing")
	ErrSuperseded       = errors.New("scope switch superseded by a newer request")
	ErrUnknownIndicator = errors.New("unknown indicator")
	ErrSessionClosed    = errors.New("session closed")
)

// RemoteStore is the persistence collaborator. Upserts are keyed by the full
// natural key and must be idempotent; bulk inserts are all-or-nothing and
// report an existing row with store.ErrConflict.
type RemoteStore interface {
	SelectIndicators(ctx context.Context, key scope.Key) ([]board.Record, error)
	BulkInsertIndicators(ctx context.Context, key scope.Key, records []board.Record) error
	UpsertIndicator(ctx context.Context, key scope.Key, record board.Record) error
	GetMetadata(ctx context.Context, key scope.MeetingKey) (board.Metadata, bool, error)
	InsertMetadata(ctx context.Context, key scope.MeetingKey, meta board.Metadata) error
	UpsertMetadata(ctx context.Context, key scope.MeetingKey, meta board.Metadata) error
}

// Indexer is told about every durable indicator write. It must not block.
type Indexer interface {
	IndexIndicator(key scope.Key, record board.Record)
}

// Observer counts scope loads by source.
type Observer interface {
	ObserveLoad(source Source)
}

// Source says where a loaded matrix came from.
type Source string

const (
	SourceStore    Source = "store"
	SourceSeeded   Source = "seeded"
	SourceFallback Source = "fallback"
)

// Loaded is the matrix LoadScope produced for a scope.
type Loaded struct {
	Matrix board.Matrix
	Source Source
}

// Options are optional collaborators of an Engine. Nil fields are skipped.
type Options struct {
	Logger   *zap.Logger
	Observer Observer
	Indexer  Indexer
}

// Engine loads, seeds and writes scopes against a RemoteStore. It holds no
// per-user state and is shared by every Session.
type Engine struct {
	store      RemoteStore
	catalogues *catalogue.Registry
	logger     *zap.Logger
	observer   Observer
	indexer    Indexer
}

// New returns an Engine reading catalogue defaults from catalogues.
func New(remote RemoteStore, catalogues *catalogue.Registry, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		store:      remote,
		catalogues: catalogues,
		logger:     opts.Logger,
		observer:   opts.Observer,
		indexer:    opts.Indexer,
	}
}

func (e *Engine) Catalogues() *catalogue.Registry {
	return e.catalogues
}

// Catalogue validates key and returns the catalogue of its kind.
func (e *Engine) Catalogue(key scope.Key) (*catalogue.Catalogue, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScope, err)
	}
	cat, err := e.catalogues.Lookup(key.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScope, err)
	}
	if len(cat.Branches) > 0 && !cat.HasBranch(key.BranchID) {
		return nil, fmt.Errorf("%w: unknown branch %q", ErrInvalidScope, key.BranchID)
	}
	return cat, nil
}

// LoadScope returns the matrix for key. A scope with no rows is seeded from
// the catalogue; catalogue entries missing from a seeded scope are added.
// Store failures never fail the load: a failed select yields the catalogue
// defaults and failed inserts are logged. The only error is an invalid key.
func (e *Engine) LoadScope(ctx context.Context, key scope.Key) (Loaded, error) {
	cat, err := e.Catalogue(key)
	if err != nil {
		return Loaded{}, err
	}

	rows, err := e.store.SelectIndicators(ctx, key)
	if err != nil {
		e.logger.Warn("select indicators failed, using catalogue defaults",
			zap.Stringer("scope", key), zap.Error(err))
		return e.loaded(board.BuildMatrix(cat.DefaultRecords()), SourceFallback), nil
	}

	if len(rows) == 0 {
		defaults := cat.DefaultRecords()
		e.insertDefaults(ctx, key, defaults)
		return e.loaded(board.BuildMatrix(defaults), SourceSeeded), nil
	}

	records, missing := cat.Join(rows)
	if len(missing) > 0 {
		e.insertDefaults(ctx, key, missing)
	}
	return e.loaded(board.BuildMatrix(records), SourceStore), nil
}

func (e *Engine) loaded(matrix board.Matrix, source Source) Loaded {
	if e.observer != nil {
		e.observer.ObserveLoad(source)
	}
	return Loaded{Matrix: matrix, Source: source}
}

func (e *Engine) insertDefaults(ctx context.Context, key scope.Key, records []board.Record) {
	err := e.store.BulkInsertIndicators(ctx, key, records)
	switch {
	case err == nil:
		e.logger.Info("seeded indicators", zap.Stringer("scope", key), zap.Int("count", len(records)))
	case errors.Is(err, store.ErrConflict):
		e.logger.Info("indicators already seeded, keeping stored rows",
			zap.Stringer("scope", key), zap.Error(err))
	default:
		e.logger.Warn("seeding indicators failed, continuing with defaults",
			zap.Stringer("scope", key), zap.Error(err))
	}
}

// LoadMetadata returns the metadata of a meeting, creating it from the
// catalogue defaults on first use. Like LoadScope it degrades to defaults on
// store failure.
func (e *Engine) LoadMetadata(ctx context.Context, key scope.MeetingKey) (board.Metadata, error) {
	cat, err := e.catalogues.Lookup(key.Kind)
	if err != nil {
		return board.Metadata{}, fmt.Errorf("%w: %v", ErrInvalidScope, err)
	}

	meta, found, err := e.store.GetMetadata(ctx, key)
	if err != nil {
		e.logger.Warn("get metadata failed, using catalogue defaults",
			zap.Stringer("meeting", key), zap.Error(err))
		return cat.DefaultMetadata(), nil
	}
	if found {
		return meta.Clone(), nil
	}

	defaults := cat.DefaultMetadata()
	err = e.store.InsertMetadata(ctx, key, defaults)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrConflict):
		e.logger.Info("metadata already created", zap.Stringer("meeting", key))
	default:
		e.logger.Warn("creating metadata failed, continuing with defaults",
			zap.Stringer("meeting", key), zap.Error(err))
	}
	return defaults, nil
}

// IndicatorKey is the full natural key of one indicator write.
type IndicatorKey struct {
	Scope    scope.Key
	Category string
	KPIName  string
}

func (k IndicatorKey) String() string {
	return k.Scope.String() + "/" + k.Category + "/" + k.KPIName
}

func (e *Engine) writeIndicator(ctx context.Context, key IndicatorKey, record board.Record) error {
	record.Explanation = ""
	if err := e.store.UpsertIndicator(ctx, key.Scope, record); err != nil {
		return err
	}
	if e.indexer != nil {
		e.indexer.IndexIndicator(key.Scope, record)
	}
	return nil
}

func (e *Engine) writeMetadata(ctx context.Context, key scope.MeetingKey, meta board.Metadata) error {
	return e.store.UpsertMetadata(ctx, key, meta)
}
