package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"agendas/api/internal/board"
	"agendas/api/internal/clock"
	"agendas/api/internal/debounce"
	"agendas/api/internal/richtext"
	"agendas/api/internal/scope"
)

const (
	StreamIndicators = "indicators"
	StreamMetadata   = "metadata"

	DefaultSettleDelay = 150 * time.Millisecond
)

// State is the load state of a Session's current scope. Edits are accepted
// only in Ready.
type State int

const (
	Idle State = iota
	Loading
	Ready
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Identity is the authorized user a session edits for.
type Identity struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// SessionOptions tune a Session. Settle is the pause between the flush and
// the read of a scope switch; the rest configure its debounced writers.
type SessionOptions struct {
	Quiet        time.Duration
	Settle       time.Duration
	WriteTimeout time.Duration
	Clock        clock.Clock
	Logger       *zap.Logger
	Observer     debounce.Observer
}

// Snapshot is a consistent copy of a session's published state.
type Snapshot struct {
	State    State          `json:"state"`
	Scope    scope.Key      `json:"scope"`
	Source   Source         `json:"source,omitempty"`
	Matrix   board.Matrix   `json:"matrix"`
	Metadata board.Metadata `json:"metadata"`
}

// Session owns the single current scope of one editor. Edits update the
// matrix synchronously and schedule debounced upserts; SwitchScope flushes
// every outstanding write before the next scope is read.
type Session struct {
	engine *Engine
	clock  clock.Clock
	settle time.Duration
	logger *zap.Logger

	indicators *debounce.Writer[IndicatorKey, board.Record]
	metadata   *debounce.Writer[scope.MeetingKey, board.Metadata]

	mu       sync.Mutex
	gen      uint64
	state    State
	key      scope.Key
	source   Source
	matrix   board.Matrix
	meta     board.Metadata
	identity *Identity
	closed   bool
}

// NewSession returns an Idle session editing for identity.
func (e *Engine) NewSession(identity *Identity, opts SessionOptions) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = e.logger
	}
	if opts.Settle < 0 {
		opts.Settle = 0
	}
	logger := opts.Logger
	if identity != nil {
		logger = logger.With(zap.String("editor", identity.Email))
	}
	writerOpts := debounce.Options{
		Quiet:    opts.Quiet,
		Timeout:  opts.WriteTimeout,
		Clock:    opts.Clock,
		Logger:   logger,
		Observer: opts.Observer,
	}
	return &Session{
		engine:     e,
		clock:      opts.Clock,
		settle:     opts.Settle,
		logger:     logger,
		indicators: debounce.New[IndicatorKey, board.Record](StreamIndicators, e.writeIndicator, writerOpts),
		metadata:   debounce.New[scope.MeetingKey, board.Metadata](StreamMetadata, e.writeMetadata, writerOpts),
		identity:   cloneIdentity(identity),
	}
}

func cloneIdentity(identity *Identity) *Identity {
	if identity == nil {
		return nil
	}
	copied := *identity
	return &copied
}

func (s *Session) Identity() *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneIdentity(s.identity)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		State:    s.state,
		Scope:    s.key,
		Source:   s.source,
		Matrix:   s.matrix.Clone(),
		Metadata: s.meta.Clone(),
	}
}

// SwitchScope makes key the current scope. Every pending write is flushed and
// awaited first, then after the settle delay the new scope is loaded. A newer
// SwitchScope, sign-out or Close that starts before the load is published
// makes this call return ErrSuperseded and discard its result.
func (s *Session) SwitchScope(ctx context.Context, key scope.Key) (Snapshot, error) {
	if _, err := s.engine.Catalogue(key); err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, ErrSessionClosed
	}
	s.gen++
	gen := s.gen
	previous := s.state
	s.state = Loading
	s.mu.Unlock()

	s.logger.Debug("switching scope", zap.Stringer("scope", key), zap.Stringer("from", previous))

	if err := s.flushWriters(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.abort(gen, previous)
			return Snapshot{}, ctxErr
		}
		s.logger.Warn("flush before scope switch failed", zap.Stringer("scope", key), zap.Error(err))
	}

	if s.settle > 0 {
		select {
		case <-s.clock.After(s.settle):
		case <-ctx.Done():
			s.abort(gen, previous)
			return Snapshot{}, ctx.Err()
		}
	}
	if s.superseded(gen) {
		return Snapshot{}, ErrSuperseded
	}

	loaded, err := s.engine.LoadScope(ctx, key)
	if err != nil {
		s.abort(gen, previous)
		return Snapshot{}, err
	}
	meta, err := s.engine.LoadMetadata(ctx, key.Meeting())
	if err != nil {
		s.abort(gen, previous)
		return Snapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		s.logger.Debug("discarding superseded scope load", zap.Stringer("scope", key))
		return Snapshot{}, ErrSuperseded
	}
	s.key = key
	s.source = loaded.Source
	s.matrix = loaded.Matrix
	s.meta = meta
	s.state = Ready
	return s.snapshotLocked(), nil
}

func (s *Session) superseded(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != gen
}

// abort restores the state a failed switch started from, unless a newer
// switch has taken over.
func (s *Session) abort(gen uint64, previous State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.state = previous
	}
}

func (s *Session) flushWriters(ctx context.Context) error {
	return errors.Join(s.indicators.FlushAll(ctx), s.metadata.FlushAll(ctx))
}

// Edit applies one field edit to the current scope and schedules its
// persistence. The returned record is the optimistic value, visible to
// Snapshot before any store call completes.
func (s *Session) Edit(category, kpiName string, field board.Field, value string) (board.Record, error) {
	if err := board.ValidateEdit(field, value); err != nil {
		return board.Record{}, err
	}
	if field == board.FieldActions {
		value = richtext.Encode(value)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return board.Record{}, ErrSessionClosed
	}
	if s.state != Ready {
		return board.Record{}, ErrNotReady
	}
	if _, ok := s.matrix.Find(category, kpiName); !ok {
		return board.Record{}, fmt.Errorf("%w: %s / %s", ErrUnknownIndicator, category, kpiName)
	}

	s.matrix = board.ApplyFieldEdit(s.matrix, category, kpiName, field, value)
	record, _ := s.matrix.Find(category, kpiName)
	key := IndicatorKey{Scope: s.key, Category: category, KPIName: kpiName}
	if err := s.indicators.Schedule(key, record); err != nil {
		return record, err
	}
	return record, nil
}

// SetFacilitator edits the meeting metadata of the current scope. Metadata
// is always written whole.
func (s *Session) SetFacilitator(name string) (board.Metadata, error) {
	return s.editMetadata(func(meta *board.Metadata) error {
		meta.Facilitator = name
		return nil
	})
}

func (s *Session) SetReading(index int, title string) (board.Metadata, error) {
	return s.editMetadata(func(meta *board.Metadata) error {
		if index < 0 || index >= len(meta.ReadingList) {
			return fmt.Errorf("%w: reading index %d out of range", board.ErrInvalidEdit, index)
		}
		meta.ReadingList[index] = title
		return nil
	})
}

func (s *Session) AddReading(title string) (board.Metadata, error) {
	return s.editMetadata(func(meta *board.Metadata) error {
		meta.ReadingList = append(meta.ReadingList, title)
		return nil
	})
}

func (s *Session) editMetadata(apply func(*board.Metadata) error) (board.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return board.Metadata{}, ErrSessionClosed
	}
	if s.state != Ready {
		return board.Metadata{}, ErrNotReady
	}
	next := s.meta.Clone()
	if err := apply(&next); err != nil {
		return board.Metadata{}, err
	}
	s.meta = next
	if err := s.metadata.Schedule(s.key.Meeting(), next.Clone()); err != nil {
		return next.Clone(), err
	}
	return next.Clone(), nil
}

// Flush makes every pending write durable and returns when they completed.
func (s *Session) Flush(ctx context.Context) error {
	return s.flushWriters(ctx)
}

// OnAuthorizationChanged is the single inbound auth event. A nil identity
// signs the editor out: pending writes are flushed and the session returns
// to Idle. A different identity does the same before taking over.
func (s *Session) OnAuthorizationChanged(ctx context.Context, identity *Identity) error {
	s.mu.Lock()
	same := identity != nil && s.identity != nil && s.identity.Email == identity.Email
	if same {
		s.identity = cloneIdentity(identity)
		s.mu.Unlock()
		return nil
	}
	s.gen++
	s.mu.Unlock()

	err := s.flushWriters(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = cloneIdentity(identity)
	s.reset()
	if err != nil {
		s.logger.Warn("flush on authorization change failed", zap.Error(err))
	}
	return err
}

func (s *Session) reset() {
	s.state = Idle
	s.key = scope.Key{}
	s.source = ""
	s.matrix = board.Matrix{}
	s.meta = board.Metadata{}
}

// Close flushes all writes and rejects further use.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.gen++
	s.mu.Unlock()

	err := errors.Join(s.indicators.Close(ctx), s.metadata.Close(ctx))

	s.mu.Lock()
	s.reset()
	s.mu.Unlock()
	return err
}
