package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"richfield/internal/auth"
	"richfield/internal/editor"
	"richfield/internal/export"
	"richfield/internal/gitrepo"
	"richfield/internal/rbac"
	"richfield/internal/search"
	"richfield/internal/session"
)

const maxBodyBytes = 4 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, principal Principal, action rbac.Action) {
	log.Printf("app: forbid %s %s for %s (role %s, needs %s)", r.Method, r.URL.Path, principal.UserName, principal.Role, action)
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
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

	principal, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	parts := splitPath(r.URL.Path)

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/toolbar":
		writeJSON(w, http.StatusOK, s.service.Toolbar())

	case r.Method == http.MethodGet && r.URL.Path == "/api/session":
		writeJSON(w, http.StatusOK, map[string]any{"userId": principal.UserID, "userName": principal.UserName, "role": principal.Role})

	case r.Method == http.MethodPost && r.URL.Path == "/api/tokens":
		s.handleIssueToken(w, r, principal)

	case r.Method == http.MethodGet && r.URL.Path == "/api/search":
		s.handleSearch(w, r)

	case r.Method == http.MethodPost && r.URL.Path == "/api/admin/reindex":
		if !s.service.Can(principal.Role, rbac.ActionAdmin) {
			s.forbid(w, r, principal, rbac.ActionAdmin)
			return
		}
		go s.service.Reindex(context.WithoutCancel(r.Context()))
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})

	case len(parts) == 2 && parts[0] == "api" && parts[1] == "fields":
		s.handleFieldCollection(w, r, principal)

	case len(parts) >= 3 && parts[0] == "api" && parts[1] == "fields":
		s.handleField(w, r, principal, parts[2], parts[3:])

	case len(parts) >= 3 && parts[0] == "api" && parts[1] == "sessions":
		s.handleSession(w, r, principal, parts[2], parts[3:])

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
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

func (s *HTTPServer) handleIssueToken(w http.ResponseWriter, r *http.Request, principal Principal) {
	if !s.service.Can(principal.Role, rbac.ActionAdmin) {
		s.forbid(w, r, principal, rbac.ActionAdmin)
		return
	}
	var body struct {
		Name string `json:"name"`
		Role string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	token, err := s.service.IssueToken(body.Name, body.Role)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "role": rbac.Normalize(body.Role)})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), search.Query{
		Text:         q,
		MinWordCount: queryInt(r, "minWords", 0),
		Limit:        queryInt(r, "limit", 20),
		Offset:       queryInt(r, "offset", 0),
	}))
}

func (s *HTTPServer) handleFieldCollection(w http.ResponseWriter, r *http.Request, principal Principal) {
	switch r.Method {
	case http.MethodGet:
		fields, err := s.service.ListFields(r.Context())
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"fields": fields})

	case http.MethodPost:
		if !s.service.Can(principal.Role, rbac.ActionOwn) {
			s.forbid(w, r, principal, rbac.ActionOwn)
			return
		}
		var body struct {
			Label string `json:"label"`
			Value string `json:"value"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		field, err := s.service.CreateField(r.Context(), body.Label, body.Value, principal.UserName)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, field)

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleField(w http.ResponseWriter, r *http.Request, principal Principal, fieldID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			field, err := s.service.GetField(r.Context(), fieldID)
			if err != nil {
				respondError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, field)

		case http.MethodPut:
			if !s.service.Can(principal.Role, rbac.ActionOwn) {
				s.forbid(w, r, principal, rbac.ActionOwn)
				return
			}
			var body struct {
				Label *string `json:"label"`
				Value *string `json:"value"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if body.Label == nil && body.Value == nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "label or value is required", nil)
				return
			}
			var field FieldView
			var err error
			if body.Label != nil {
				field, err = s.service.RenameField(r.Context(), fieldID, *body.Label, principal.UserName)
			}
			if err == nil && body.Value != nil {
				field, err = s.service.SetFieldValue(r.Context(), fieldID, *body.Value, principal.UserName)
			}
			if err != nil {
				respondError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, field)

		case http.MethodDelete:
			if !s.service.Can(principal.Role, rbac.ActionAdmin) {
				s.forbid(w, r, principal, rbac.ActionAdmin)
				return
			}
			if err := s.service.DeleteField(r.Context(), fieldID); err != nil {
				respondError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})

		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case rest[0] == "history" && r.Method == http.MethodGet:
		commits, err := s.service.History(r.Context(), fieldID, queryInt(r, "limit", 50))
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"commits": commits})

	case rest[0] == "diff" && r.Method == http.MethodGet:
		from := strings.TrimSpace(r.URL.Query().Get("from"))
		to := strings.TrimSpace(r.URL.Query().Get("to"))
		segments, err := s.service.Diff(r.Context(), fieldID, from, to)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"from": from, "to": to, "segments": segments})

	case rest[0] == "applies" && r.Method == http.MethodGet:
		applies, err := s.service.ListApplies(r.Context(), fieldID, queryInt(r, "limit", 50))
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"applies": applies})

	case rest[0] == "export" && r.Method == http.MethodGet:
		s.handleExport(w, r, fieldID)

	case rest[0] == "sessions" && r.Method == http.MethodPost:
		if !s.service.Can(principal.Role, rbac.ActionEdit) {
			s.forbid(w, r, principal, rbac.ActionEdit)
			return
		}
		view, err := s.service.OpenSession(r.Context(), fieldID, principal)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, view)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, fieldID string) {
	format, err := export.ParseFormat(strings.TrimSpace(r.URL.Query().Get("format")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FORMAT", "format must be html, pdf or docx", nil)
		return
	}
	upload := r.URL.Query().Get("upload") == "true"
	result, err := s.service.Export(r.Context(), export.Request{
		FieldID: fieldID,
		Version: strings.TrimSpace(r.URL.Query().Get("version")),
		Format:  format,
		Upload:  upload,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	if upload && result.URL != "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"filename":  result.Filename,
			"mimeType":  result.MimeType,
			"objectKey": result.ObjectKey,
			"url":       result.URL,
		})
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
	w.Header().Set("Content-Type", result.MimeType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request, principal Principal, sessionID string, rest []string) {
	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		view, err := s.service.GetSession(r.Context(), sessionID)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}
	if len(rest) != 1 || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	action := rbac.ActionEdit
	if rest[0] == "apply" {
		action = rbac.ActionApply
	}
	if !s.service.Can(principal.Role, action) {
		s.forbid(w, r, principal, action)
		return
	}

	var (
		payload any
		err     error
	)
	ctx := r.Context()
	switch rest[0] {
	case "edits":
		ops, decodeErr := decodeOperations(r)
		if decodeErr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_OPERATION", decodeErr.Error(), nil)
			return
		}
		payload, err = s.service.EditSession(ctx, sessionID, ops)
	case "undo":
		payload, err = s.service.UndoSession(ctx, sessionID)
	case "redo":
		payload, err = s.service.RedoSession(ctx, sessionID)
	case "clear":
		payload, err = s.service.ClearSession(ctx, sessionID)
	case "apply":
		payload, err = s.service.ApplySession(ctx, sessionID, principal)
	case "cancel":
		payload, err = s.service.CancelSession(ctx, sessionID)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// decodeOperations accepts {"ops":[...]} or a single operation object.
func decodeOperations(r *http.Request) ([]editor.Operation, error) {
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	var envelope struct {
		Ops json.RawMessage `json:"ops"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("invalid JSON body")
	}
	if len(envelope.Ops) > 0 {
		return editor.DecodeOperations(envelope.Ops)
	}
	op, err := editor.DecodeOperation(data)
	if err != nil {
		return nil, err
	}
	return []editor.Operation{op}, nil
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Principal{}, false
	}
	principal, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Principal{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Principal{}, false
	}
	return principal, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
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

func respondError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("app: server error: %v", err)
	}
	writeError(w, status, code, message, details)
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

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, session.ErrNotFound) || errors.Is(err, gitrepo.ErrNoRepo) || errors.Is(err, gitrepo.ErrUnknownCommit) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, export.ErrContentUnavailable) {
		return http.StatusNotFound, "EXPORT_CONTENT_UNAVAILABLE", "Field content unavailable", nil
	}
	if export.IsDependencyMissing(err) {
		return http.StatusNotImplemented, "EXPORT_UNAVAILABLE", err.Error(), nil
	}
	if errors.Is(err, export.ErrUnsupportedFormat) {
		return http.StatusBadRequest, "INVALID_FORMAT", "Unsupported export format", nil
	}
	if errors.Is(err, editor.ErrUnknownOperation) {
		return http.StatusBadRequest, "INVALID_OPERATION", err.Error(), nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
