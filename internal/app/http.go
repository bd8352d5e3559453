package app

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"agendas/api/internal/attachments"
	"agendas/api/internal/auth"
	"agendas/api/internal/board"
	"agendas/api/internal/debounce"
	"agendas/api/internal/engine"
	"agendas/api/internal/export"
	"agendas/api/internal/search"
)

const maxUploadMemory = 32 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: service.logger.Named("http")}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		if s.service.metrics == nil {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Metrics are disabled", nil)
			return
		}
		s.service.metrics.Handler().ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Email, body.Name, r.Header.Get(auth.LoginProofHeader))
		if err != nil {
			status, code, msg, details := mapError(err)
			writeError(w, status, code, msg, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":     session.Token,
			"email":     session.Email,
			"userName":  session.Name,
			"expiresAt": session.ExpiresAt,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		snapshot := s.service.Board(r.Context(), session)
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"email":         session.Email,
			"userName":      session.Name,
			"expiresAt":     session.ExpiresAt,
			"state":         snapshot.State,
			"scope":         scopeOrNil(snapshot),
		})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		if err := s.service.Logout(r.Context(), session); err != nil {
			s.logger.Warn("logout flush failed", zap.String("editor", session.Email), zap.Error(err))
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/catalogues" {
		writeJSON(w, http.StatusOK, map[string]any{"catalogues": s.service.Catalogues()})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/dates" {
		writeJSON(w, http.StatusOK, s.service.Dates())
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/scope" {
		var body ScopeRequest
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		snapshot, err := s.service.SwitchScope(r.Context(), session, body)
		if err != nil {
			status, code, msg, details := mapError(err)
			writeError(w, status, code, msg, details)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "board" {
		s.handleBoard(w, r, session, parts[2:])
		return
	}

	if r.URL.Path == "/api/files" || r.URL.Path == "/api/files/download" {
		s.handleFiles(w, r, session)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, s.service.Search(r.Context(), search.Query{
			Text:     strings.TrimSpace(r.URL.Query().Get("q")),
			Kind:     r.URL.Query().Get("kind"),
			BranchID: r.URL.Query().Get("branch"),
			Limit:    limit,
		}))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/export" {
		format, err := export.ParseFormat(r.URL.Query().Get("format"))
		if err != nil {
			status, code, msg, details := mapError(err)
			writeError(w, status, code, msg, details)
			return
		}
		result, err := s.service.Export(r.Context(), session, format)
		if err != nil {
			status, code, msg, details := mapError(err)
			writeError(w, status, code, msg, details)
			return
		}
		writeAttachment(w, result.MimeType, result.Filename, int64(len(result.Data)), bytes.NewReader(result.Data))
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Ping(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleBoard(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, s.service.Board(ctx, session))
		return
	}

	if len(parts) == 1 && parts[0] == "indicators" && r.Method == http.MethodPut {
		var body EditRequest
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		record, err := s.service.EditIndicator(ctx, session, body)
		if err != nil {
			status, code, msg, details := mapError(err)
			writeError(w, status, code, msg, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"record": record})
		return
	}

	if len(parts) == 1 && parts[0] == "flush" && r.Method == http.MethodPost {
		if err := s.service.Flush(ctx, session); err != nil {
			s.logger.Warn("flush failed", zap.String("editor", session.Email), zap.Error(err))
			writeError(w, http.StatusBadGateway, "FLUSH_FAILED", "Some changes could not be saved", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) >= 2 && parts[0] == "metadata" {
		var body struct {
			Value string `json:"value"`
		}
		var (
			meta board.Metadata
			err  error
		)
		switch {
		case len(parts) == 2 && parts[1] == "facilitator" && r.Method == http.MethodPut:
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			meta, err = s.service.SetFacilitator(ctx, session, body.Value)
		case len(parts) == 2 && parts[1] == "readings" && r.Method == http.MethodPost:
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			meta, err = s.service.AddReading(ctx, session, body.Value)
		case len(parts) == 3 && parts[1] == "readings" && r.Method == http.MethodPut:
			index, convErr := strconv.Atoi(parts[2])
			if convErr != nil {
				writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "reading index must be a number", nil)
				return
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			meta, err = s.service.SetReading(ctx, session, index, body.Value)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
			return
		}
		if err != nil {
			status, code, msg, details := mapError(err)
			writeError(w, status, code, msg, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"metadata": meta})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleFiles(w http.ResponseWriter, r *http.Request, session Session) {
	ctx := r.Context()
	switch {
	case r.URL.Path == "/api/files" && r.Method == http.MethodGet:
		files, err := s.service.ListFiles(ctx, r.URL.Query().Get("date"))
		if err != nil {
			status, code, msg, details := mapError(err)
			writeError(w, status, code, msg, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"files": files})

	case r.URL.Path == "/api/files" && r.Method == http.MethodPost:
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "expected multipart form with files", nil)
			return
		}
		defer r.MultipartForm.RemoveAll()
		result, err := s.service.UploadFiles(ctx, session, r.URL.Query().Get("date"), r.MultipartForm.File["files"])
		if err != nil {
			status, code, msg, details := mapError(err)
			writeError(w, status, code, msg, details)
			return
		}
		status := http.StatusCreated
		if len(result.Uploaded) == 0 {
			status = http.StatusConflict
		}
		writeJSON(w, status, result)

	case r.URL.Path == "/api/files/download" && r.Method == http.MethodGet:
		file, body, err := s.service.OpenFile(ctx, r.URL.Query().Get("path"))
		if err != nil {
			status, code, msg, details := mapError(err)
			writeError(w, status, code, msg, details)
			return
		}
		defer body.Close()
		contentType := file.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		writeAttachment(w, contentType, file.Name, file.Size, body)

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func scopeOrNil(snapshot engine.Snapshot) any {
	if snapshot.Scope.IsZero() {
		return nil
	}
	return snapshot.Scope
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken):
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		case errors.Is(err, auth.ErrAccessDenied):
			writeError(w, http.StatusForbidden, "ACCESS_DENIED", "Access denied", nil)
		default:
			s.logger.Error("session lookup failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		}
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeAttachment(w http.ResponseWriter, contentType, filename string, size int64, body io.Reader) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, auth.ErrLoginUnverified):
		return http.StatusUnauthorized, "LOGIN_UNVERIFIED", "Sign in through the organization account", nil
	case errors.Is(err, auth.ErrLoginDisabled):
		return http.StatusServiceUnavailable, "LOGIN_DISABLED", "Sign-in is not configured", nil
	case errors.Is(err, auth.ErrAccessDenied):
		return http.StatusForbidden, "ACCESS_DENIED", "This address is not allowed to edit", nil
	case errors.Is(err, engine.ErrInvalidScope):
		return http.StatusBadRequest, "INVALID_SCOPE", err.Error(), nil
	case errors.Is(err, engine.ErrNotReady):
		return http.StatusConflict, "SCOPE_NOT_READY", "Select a scope before editing", nil
	case errors.Is(err, engine.ErrSuperseded):
		return http.StatusConflict, "SCOPE_SUPERSEDED", "A newer scope switch replaced this one", nil
	case errors.Is(err, engine.ErrUnknownIndicator):
		return http.StatusNotFound, "UNKNOWN_INDICATOR", err.Error(), nil
	case errors.Is(err, engine.ErrSessionClosed) || errors.Is(err, debounce.ErrClosed):
		return http.StatusConflict, "SESSION_CLOSED", "Editor session is closed", nil
	case errors.Is(err, board.ErrInvalidEdit):
		return http.StatusUnprocessableEntity, "INVALID_EDIT", err.Error(), nil
	case errors.Is(err, attachments.ErrInvalidName):
		return http.StatusBadRequest, "INVALID_FILE_NAME", err.Error(), nil
	case errors.Is(err, attachments.ErrExists):
		return http.StatusConflict, "FILE_EXISTS", "A file with this name already exists", nil
	case errors.Is(err, attachments.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "File not found", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", err.Error(), nil
	case errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusNotImplemented, "EXPORT_UNAVAILABLE", err.Error(), nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "TIMEOUT", "Request timed out", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
