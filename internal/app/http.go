package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clinchem/api/internal/logging"
	"clinchem/api/internal/rbac"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *slog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
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
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/metrics" {
		s.service.metrics.Handler().ServeHTTP(w, r)
		return
	}

	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "articles" && parts[3] == "comments" {
		s.handleArticleComments(w, r, principal, parts[2])
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "comments" {
		s.handleComments(w, r, principal, parts[2], parts[3:])
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "admin" && parts[2] == "comments" {
		s.handleAdminComments(w, r, principal, parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
}

func (s *HTTPServer) handleArticleComments(w http.ResponseWriter, r *http.Request, principal Principal, articleID string) {
	switch r.Method {
	case http.MethodGet:
		payload, err := s.service.ListComments(r.Context(), principal, articleID, r.URL.Query().Get("sort"))
		s.respond(w, r, http.StatusOK, payload, err)
	case http.MethodPost:
		var body CommentInput
		if !s.decode(w, r, &body) {
			return
		}
		payload, err := s.service.CreateComment(r.Context(), principal, articleID, body)
		s.respond(w, r, http.StatusCreated, payload, err)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request, principal Principal, commentID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodPut:
			var body CommentInput
			if !s.decode(w, r, &body) {
				return
			}
			payload, err := s.service.EditComment(r.Context(), principal, commentID, body)
			s.respond(w, r, http.StatusOK, payload, err)
		case http.MethodDelete:
			payload, err := s.service.DeleteComment(r.Context(), principal, commentID)
			s.respond(w, r, http.StatusOK, payload, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}
	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
		return
	}

	switch {
	case r.Method == http.MethodPost && rest[0] == "replies":
		var body CommentInput
		if !s.decode(w, r, &body) {
			return
		}
		payload, err := s.service.ReplyComment(r.Context(), principal, commentID, body)
		s.respond(w, r, http.StatusCreated, payload, err)
	case r.Method == http.MethodPost && rest[0] == "upvote":
		payload, err := s.service.VoteComment(r.Context(), principal, commentID, "up")
		s.respond(w, r, http.StatusOK, payload, err)
	case r.Method == http.MethodPost && rest[0] == "downvote":
		payload, err := s.service.VoteComment(r.Context(), principal, commentID, "down")
		s.respond(w, r, http.StatusOK, payload, err)
	case r.Method == http.MethodDelete && rest[0] == "vote":
		payload, err := s.service.UnvoteComment(r.Context(), principal, commentID)
		s.respond(w, r, http.StatusOK, payload, err)
	case r.Method == http.MethodPost && rest[0] == "reports":
		var body ReportInput
		if !s.decode(w, r, &body) {
			return
		}
		payload, err := s.service.ReportComment(r.Context(), principal, commentID, body)
		s.respond(w, r, http.StatusCreated, payload, err)
	default:
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
	}
}

func (s *HTTPServer) handleAdminComments(w http.ResponseWriter, r *http.Request, principal Principal, rest []string) {
	query := r.URL.Query()

	if len(rest) == 0 && r.Method == http.MethodGet {
		payload, err := s.service.AdminListComments(r.Context(), principal, query.Get("status"), queryInt(query.Get("page")), queryInt(query.Get("limit")))
		s.respond(w, r, http.StatusOK, payload, err)
		return
	}

	if len(rest) == 1 && rest[0] == "search" && r.Method == http.MethodGet {
		payload, err := s.service.SearchComments(r.Context(), principal, query.Get("q"), query.Get("status"), queryInt(query.Get("limit")))
		s.respond(w, r, http.StatusOK, payload, err)
		return
	}

	if len(rest) == 1 && r.Method == http.MethodDelete {
		payload, err := s.service.PurgeComment(r.Context(), principal, rest[0])
		s.respond(w, r, http.StatusOK, payload, err)
		return
	}

	if len(rest) == 2 && r.Method == http.MethodPost && (rest[1] == "approve" || rest[1] == "reject") {
		payload, err := s.service.ModerateComment(r.Context(), principal, rest[0], rest[1])
		s.respond(w, r, http.StatusOK, payload, err)
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
}

// principal resolves the bearer token. Reads go through as a guest when the
// token is missing or invalid; writes get 401.
func (s *HTTPServer) principal(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	guest := Principal{Role: rbac.RoleGuest}
	readOnly := r.Method == http.MethodGet || r.Method == http.MethodHead

	token := bearerToken(r)
	if token == "" {
		if readOnly {
			return guest, true
		}
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
		return Principal{}, false
	}
	principal, err := s.service.PrincipalFromToken(token)
	if err != nil {
		if readOnly {
			return guest, true
		}
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
		return Principal{}, false
	}
	return principal, true
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func (s *HTTPServer) respond(w http.ResponseWriter, r *http.Request, status int, payload any, err error) {
	if err != nil {
		code, errCode, message, details := mapError(err)
		if code >= http.StatusInternalServerError {
			s.logger.Error("request failed",
				"request_id", requestIDFrom(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"error", err,
			)
		}
		writeError(w, code, errCode, message, details)
		return
	}
	writeJSON(w, status, payload)
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
		s.service.metrics.ObserveRequest(r.Method, writer.status, time.Since(started))

		s.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

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

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
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

func queryInt(value string) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return parsed
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(translate(err), &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	return http.StatusInternalServerError, CodeServerError, "Server error", nil
}
