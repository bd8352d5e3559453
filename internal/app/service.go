package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"agendas/api/internal/attachments"
	"agendas/api/internal/auth"
	"agendas/api/internal/board"
	"agendas/api/internal/catalogue"
	"agendas/api/internal/clock"
	"agendas/api/internal/config"
	"agendas/api/internal/engine"
	"agendas/api/internal/export"
	"agendas/api/internal/metrics"
	"agendas/api/internal/scope"
	"agendas/api/internal/search"
	"agendas/api/internal/session"
	"agendas/api/internal/util"
)

// Session is a signed-in editor as seen by one request.
type Session struct {
	Token     string
	Email     string
	Name      string
	JTI       string
	ExpiresAt time.Time
}

func (s Session) identity() *engine.Identity {
	return &engine.Identity{Email: s.Email, Name: s.Name}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators built by the command. Store, Metrics,
// Files, Search and Export may be nil.
type Dependencies struct {
	Engine   *engine.Engine
	Store    pinger
	Sessions session.Store
	Files    attachments.Store
	Search   *search.Service
	Export   *export.Service
	Metrics  *metrics.Recorder
	Clock    clock.Clock
	Logger   *zap.Logger

	// LoginProof verifies the sign-in proxy. Nil refuses every login.
	LoginProof *auth.ProxyVerifier
}

type Service struct {
	cfg       config.Config
	engine    *engine.Engine
	store     pinger
	sessions  session.Store
	allowlist auth.Allowlist
	proof     *auth.ProxyVerifier
	files     attachments.Store
	search    *search.Service
	export    *export.Service
	metrics   *metrics.Recorder
	clock     clock.Clock
	logger    *zap.Logger

	editorsMu sync.Mutex
	editors   map[string]*engine.Session
}

func New(cfg config.Config, deps Dependencies) *Service {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewMemoryStore(deps.Clock)
	}
	if deps.Export == nil {
		deps.Export = export.NewService(export.Options{Logger: deps.Logger})
	}
	return &Service{
		cfg:       cfg,
		engine:    deps.Engine,
		store:     deps.Store,
		sessions:  deps.Sessions,
		allowlist: auth.NewAllowlist(cfg.AllowedEmails, cfg.AllowedDomains),
		proof:     deps.LoginProof,
		files:     deps.Files,
		search:    deps.Search,
		export:    deps.Export,
		metrics:   deps.Metrics,
		clock:     deps.Clock,
		logger:    deps.Logger,
		editors:   make(map[string]*engine.Session),
	}
}

// Login starts a session for an email asserted by the sign-in proxy. proof is
// the proxy secret sent with the request; nothing else is checked until it
// matches.
func (s *Service) Login(ctx context.Context, email, name, proof string) (Session, error) {
	if err := s.proof.Verify(proof); err != nil {
		s.logger.Warn("login refused", zap.Error(err))
		return Session{}, err
	}
	email = auth.NormalizeEmail(email)
	if email == "" {
		return Session{}, validationError("email is required")
	}
	if err := s.allowlist.Check(email); err != nil {
		// A refused sign-in also ends whatever this address was editing.
		s.signOut(ctx, email)
		return Session{}, err
	}

	userName := strings.TrimSpace(name)
	if userName == "" {
		userName, _, _ = strings.Cut(email, "@")
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.cfg.SessionTTL)
	jti := util.NewID("jti")
	token, err := auth.IssueToken([]byte(s.cfg.SessionSecret), auth.Claims{
		Sub:  email,
		Name: userName,
		JTI:  jti,
		Iat:  now.Unix(),
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}
	record := session.Record{Email: email, Name: userName, CreatedAt: now}
	if err := s.sessions.Save(ctx, auth.HashToken(token), record, expiresAt); err != nil {
		return Session{}, err
	}

	sess := Session{Token: token, Email: email, Name: userName, JTI: jti, ExpiresAt: expiresAt}
	s.editorFor(ctx, sess)
	s.logger.Info("editor signed in", zap.String("editor", email))
	return sess, nil
}

// SessionFromToken resolves a bearer token. A token whose address has left
// the allowlist is revoked and its editor signed out.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseTokenAt([]byte(s.cfg.SessionSecret), token, s.clock.Now())
	if err != nil {
		return Session{}, err
	}
	tokenHash := auth.HashToken(token)
	record, err := s.sessions.Lookup(ctx, tokenHash)
	if errors.Is(err, session.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	if record.Email != claims.Sub {
		return Session{}, auth.ErrInvalidToken
	}
	if !s.allowlist.Permitted(record.Email) {
		_ = s.sessions.Revoke(ctx, tokenHash)
		s.signOut(ctx, record.Email)
		return Session{}, auth.ErrAccessDenied
	}
	return Session{
		Token:     token,
		Email:     record.Email,
		Name:      record.Name,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session) error {
	if sess.Token != "" {
		if err := s.sessions.Revoke(ctx, auth.HashToken(sess.Token)); err != nil {
			s.logger.Warn("revoke session failed", zap.String("editor", sess.Email), zap.Error(err))
		}
	}
	return s.signOut(ctx, sess.Email)
}

// editorFor returns the sync session of an editor, creating it on first use.
// Every token of the same address shares one session.
func (s *Service) editorFor(ctx context.Context, sess Session) *engine.Session {
	s.editorsMu.Lock()
	defer s.editorsMu.Unlock()
	if editor, ok := s.editors[sess.Email]; ok {
		if current := editor.Identity(); current == nil || current.Name != sess.Name {
			_ = editor.OnAuthorizationChanged(ctx, sess.identity())
		}
		return editor
	}
	opts := engine.SessionOptions{
		Quiet:        s.cfg.QuietPeriod,
		Settle:       s.cfg.SettleDelay,
		WriteTimeout: s.cfg.WriteTimeout,
		Clock:        s.clock,
		Logger:       s.logger,
	}
	if s.metrics != nil {
		opts.Observer = s.metrics
	}
	editor := s.engine.NewSession(sess.identity(), opts)
	s.editors[sess.Email] = editor
	s.observeEditors()
	return editor
}

// signOut flushes and closes the editor's sync session, if any.
func (s *Service) signOut(ctx context.Context, email string) error {
	s.editorsMu.Lock()
	editor, ok := s.editors[email]
	delete(s.editors, email)
	s.observeEditors()
	s.editorsMu.Unlock()
	if !ok {
		return nil
	}

	err := errors.Join(editor.OnAuthorizationChanged(ctx, nil), editor.Close(ctx))
	if err != nil {
		s.logger.Warn("sign out flush failed", zap.String("editor", email), zap.Error(err))
	}
	s.logger.Info("editor signed out", zap.String("editor", email))
	return err
}

func (s *Service) observeEditors() {
	if s.metrics != nil {
		s.metrics.SetEditors(len(s.editors))
	}
}

// Shutdown makes every pending write durable and closes all editors.
func (s *Service) Shutdown(ctx context.Context) error {
	s.editorsMu.Lock()
	editors := s.editors
	s.editors = make(map[string]*engine.Session)
	s.observeEditors()
	s.editorsMu.Unlock()

	var errs []error
	for email, editor := range editors {
		if err := editor.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close editor %s: %w", email, err))
		}
	}
	if s.search != nil {
		s.search.Wait()
	}
	return errors.Join(errs...)
}

// Ping reports the health of the store and the session backend.
func (s *Service) Ping(ctx context.Context) map[string]error {
	checks := map[string]error{"sessions": s.sessions.Ping(ctx)}
	if s.store != nil {
		checks["database"] = s.store.Ping(ctx)
	}
	return checks
}

func (s *Service) Catalogues() []*catalogue.Catalogue {
	return s.engine.Catalogues().All()
}

type DatesView struct {
	Dates   []scope.Date `json:"dates"`
	Nearest scope.Date   `json:"nearest"`
	Today   scope.Date   `json:"today"`
}

func (s *Service) Dates() DatesView {
	dates := scope.DefaultCadence.ListAvailableDates()
	today := scope.DateOf(s.clock.Now())
	nearest, _ := scope.NearestDate(dates, today)
	return DatesView{Dates: dates, Nearest: nearest, Today: today}
}

type ScopeRequest struct {
	Kind     string `json:"kind"`
	BranchID string `json:"branchId"`
	Date     string `json:"date"`
}

func (r ScopeRequest) key() (scope.Key, error) {
	date, err := scope.ParseDate(strings.TrimSpace(r.Date))
	if err != nil {
		return scope.Key{}, fmt.Errorf("%w: %v", engine.ErrInvalidScope, err)
	}
	return scope.NewKey(strings.TrimSpace(r.Kind), strings.TrimSpace(r.BranchID), date), nil
}

func (s *Service) SwitchScope(ctx context.Context, sess Session, req ScopeRequest) (engine.Snapshot, error) {
	key, err := req.key()
	if err != nil {
		return engine.Snapshot{}, err
	}
	return s.editorFor(ctx, sess).SwitchScope(ctx, key)
}

func (s *Service) Board(ctx context.Context, sess Session) engine.Snapshot {
	return s.editorFor(ctx, sess).Snapshot()
}

type EditRequest struct {
	Category string `json:"category"`
	KPIName  string `json:"kpiName"`
	Field    string `json:"field"`
	Value    string `json:"value"`
}

func (s *Service) EditIndicator(ctx context.Context, sess Session, req EditRequest) (board.Record, error) {
	return s.editorFor(ctx, sess).Edit(req.Category, req.KPIName, board.Field(req.Field), req.Value)
}

func (s *Service) Flush(ctx context.Context, sess Session) error {
	return s.editorFor(ctx, sess).Flush(ctx)
}

func (s *Service) SetFacilitator(ctx context.Context, sess Session, name string) (board.Metadata, error) {
	return s.editorFor(ctx, sess).SetFacilitator(name)
}

func (s *Service) SetReading(ctx context.Context, sess Session, index int, title string) (board.Metadata, error) {
	return s.editorFor(ctx, sess).SetReading(index, title)
}

func (s *Service) AddReading(ctx context.Context, sess Session, title string) (board.Metadata, error) {
	return s.editorFor(ctx, sess).AddReading(title)
}

func (s *Service) requireFiles() error {
	if s.files == nil {
		return domainError(http.StatusServiceUnavailable, "FILES_UNAVAILABLE", "File storage is not configured", nil)
	}
	return nil
}

func parseMeetingDate(value string) (scope.Date, error) {
	date, err := scope.ParseDate(strings.TrimSpace(value))
	if err != nil {
		return scope.Date{}, validationError("date must be YYYY-MM-DD")
	}
	return date, nil
}

func (s *Service) ListFiles(ctx context.Context, dateValue string) ([]attachments.File, error) {
	if err := s.requireFiles(); err != nil {
		return nil, err
	}
	date, err := parseMeetingDate(dateValue)
	if err != nil {
		return nil, err
	}
	files, err := s.files.List(ctx, date)
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []attachments.File{}
	}
	return files, nil
}

type UploadFailure struct {
	Name  string `json:"name"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type UploadResult struct {
	Uploaded []attachments.File `json:"uploaded"`
	Failed   []UploadFailure    `json:"failed"`
}

// UploadFiles stores each part independently; one rejected file does not
// stop the others.
func (s *Service) UploadFiles(ctx context.Context, sess Session, dateValue string, parts []*multipart.FileHeader) (UploadResult, error) {
	if err := s.requireFiles(); err != nil {
		return UploadResult{}, err
	}
	date, err := parseMeetingDate(dateValue)
	if err != nil {
		return UploadResult{}, err
	}
	if len(parts) == 0 {
		return UploadResult{}, validationError("no files in upload")
	}

	result := UploadResult{Uploaded: []attachments.File{}, Failed: []UploadFailure{}}
	for _, part := range parts {
		file, err := s.uploadPart(ctx, date, part)
		if err != nil {
			_, code, message, _ := mapError(err)
			result.Failed = append(result.Failed, UploadFailure{Name: part.Filename, Code: code, Error: message})
			s.logger.Warn("upload failed", zap.String("editor", sess.Email),
				zap.String("file", part.Filename), zap.Error(err))
			continue
		}
		result.Uploaded = append(result.Uploaded, file)
	}
	return result, nil
}

func (s *Service) uploadPart(ctx context.Context, date scope.Date, part *multipart.FileHeader) (attachments.File, error) {
	body, err := part.Open()
	if err != nil {
		return attachments.File{}, err
	}
	defer body.Close()
	return s.files.Upload(ctx, date, part.Filename, body, part.Size, part.Header.Get("Content-Type"))
}

func (s *Service) OpenFile(ctx context.Context, path string) (attachments.File, io.ReadCloser, error) {
	if err := s.requireFiles(); err != nil {
		return attachments.File{}, nil, err
	}
	if _, _, err := attachments.ParsePath(path); err != nil {
		return attachments.File{}, nil, err
	}
	return s.files.Open(ctx, path)
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text, Backend: "none"}
	}
	return s.search.Search(ctx, q)
}

// Export renders the minutes of the editor's current scope. Pending writes
// are not flushed; the minutes show the optimistic matrix.
func (s *Service) Export(ctx context.Context, sess Session, format export.Format) (*export.Result, error) {
	snapshot := s.editorFor(ctx, sess).Snapshot()
	if snapshot.State != engine.Ready {
		return nil, engine.ErrNotReady
	}
	cat, err := s.engine.Catalogue(snapshot.Scope)
	if err != nil {
		return nil, err
	}
	return s.export.Export(ctx, export.Minutes{
		Catalogue:   cat,
		Scope:       snapshot.Scope,
		Matrix:      snapshot.Matrix,
		Metadata:    snapshot.Metadata,
		Editor:      sess.Name,
		GeneratedAt: s.clock.Now(),
	}, format)
}
