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
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"closingdocs/api/internal/auth"
	"closingdocs/api/internal/catalog"
	"closingdocs/api/internal/export"
	"closingdocs/api/internal/metrics"
	"closingdocs/api/internal/search"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to a temp file.
const multipartMemory = 8 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
	metrics    http.Handler
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		logger:     logger.Named("http"),
		metrics:    promhttp.Handler(),
	}
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
		s.metrics.ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/access" {
		var body struct {
			Code string `json:"code"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.Access(r.Context(), clientKey(r, s.service.cfg.TrustProxyHeaders), body.Code)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		payload := map[string]any{
			"token":       result.Session.Token,
			"role":        result.Session.Role,
			"admin":       result.Session.IsAdmin(),
			"operationId": nilIfEmpty(result.Session.OperationID),
			"expiresAt":   result.Session.ExpiresAt.Unix(),
		}
		if result.Operation != nil {
			payload["operation"] = newOperationView(*result.Operation, result.Progress, requestLang(r))
		}
		if result.Checklist != nil {
			payload["checklist"] = map[string]any{
				"created": result.Checklist.Created,
				"count":   result.Checklist.Count,
			}
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"role":          session.Role,
			"admin":         session.IsAdmin(),
			"operationId":   nilIfEmpty(session.OperationID),
			"expiresAt":     session.ExpiresAt.Unix(),
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		if token := bearerToken(r); token != "" {
			if session, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				if err := s.service.Logout(r.Context(), session); err != nil {
					s.logger.Warn("revoke token", zap.String("request_id", requestID(r.Context())), zap.Error(err))
				}
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	lang := requestLang(r)
	parts := splitPath(r.URL.Path)

	if r.Method == http.MethodGet && r.URL.Path == "/api/operations" {
		items, err := s.service.ListOperations(r.Context(), session, lang)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"operations": items})
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "operations" {
		s.handleOperation(w, r, session, parts[2], parts[3:], lang)
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "documents" {
		s.handleDocument(w, r, session, parts[2], parts[3], lang)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/admin/overview" {
		payload, err := s.service.AdminOverview(r.Context(), session, lang)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/admin/search" {
		query := r.URL.Query()
		q := search.Query{
			Text:              query.Get("q"),
			FilterType:        search.ResultType(strings.TrimSpace(query.Get("type"))),
			FilterOperationID: strings.TrimSpace(query.Get("operationId")),
			OnlyMissing:       query.Get("missing") == "true",
		}
		var err error
		if q.Limit, err = queryInt(r, "limit", 20); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		if q.Offset, err = queryInt(r, "offset", 0); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		payload, err := s.service.Search(r.Context(), session, q)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/admin/reconcile" {
		var body struct {
			Apply bool `json:"apply"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		report, err := s.service.Reconcile(r.Context(), session, body.Apply)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"storage":  map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	if err := s.service.PingFiles(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["storage"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleOperation(w http.ResponseWriter, r *http.Request, session Session, operationID string, rest []string, lang catalog.Lang) {
	query := DocumentQuery{
		PartyID:  strings.TrimSpace(r.URL.Query().Get("partyId")),
		Category: strings.TrimSpace(r.URL.Query().Get("category")),
	}

	switch {
	case r.Method == http.MethodGet && len(rest) == 0:
		payload, err := s.service.GetOperation(r.Context(), session, operationID, lang)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case r.Method == http.MethodGet && len(rest) == 1 && rest[0] == "documents":
		items, err := s.service.ListDocuments(r.Context(), session, operationID, query, lang)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": items})

	case r.Method == http.MethodGet && len(rest) == 1 && rest[0] == "progress":
		payload, err := s.service.Progress(r.Context(), session, operationID, query)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "export":
		var body struct {
			Format      string `json:"format"`
			Lang        string `json:"lang"`
			OnlyMissing bool   `json:"onlyMissing"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		format, err := export.ParseFormat(strings.ToLower(strings.TrimSpace(body.Format)))
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be pdf or docx", nil)
			return
		}
		if body.Lang != "" {
			lang = catalog.ParseLang(body.Lang)
		}
		result, err := s.service.Export(r.Context(), session, export.Request{
			OperationID: operationID,
			Format:      format,
			Lang:        lang,
			OnlyMissing: body.OnlyMissing,
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleDocument(w http.ResponseWriter, r *http.Request, session Session, documentID, action string, lang catalog.Lang) {
	switch {
	case r.Method == http.MethodPost && action == "file":
		s.handleUpload(w, r, session, documentID, lang)

	case r.Method == http.MethodDelete && action == "file":
		payload, err := s.service.DeleteDocumentFile(r.Context(), session, documentID, strings.TrimSpace(r.URL.Query().Get("ref")), lang)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"document": payload})

	case r.Method == http.MethodGet && action == "url":
		payload, err := s.service.ViewURL(r.Context(), session, documentID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request, session Session, documentID string, lang catalog.Lang) {
	if limit := s.service.cfg.MaxUploadBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartMemory)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File exceeds the upload limit", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart form expected", nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file is required", nil)
		return
	}
	defer file.Close()

	payload, err := s.service.UploadDocument(r.Context(), session, UploadInput{
		DocumentID:  documentID,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
		Uploader:    r.FormValue("uploader"),
	}, lang)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": payload})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.logger.Error("session lookup failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

// fail writes the mapped error. Unexpected errors are logged with the
// request id and reach the client only as a generic message.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	if status == http.StatusTooManyRequests {
		if fields, ok := details.(map[string]any); ok {
			if seconds, ok := fields["retryAfterSeconds"].(int); ok {
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
			}
		}
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", reqID)

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, routeLabel(r.URL.Path), strconv.Itoa(writer.status)).Observe(elapsed.Seconds())
		s.logger.Info("request",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
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

var staticRoutes = map[string]struct{}{
	"/api/health":          {},
	"/api/ready":           {},
	"/metrics":             {},
	"/api/access":          {},
	"/api/session":         {},
	"/api/session/logout":  {},
	"/api/operations":      {},
	"/api/admin/overview":  {},
	"/api/admin/search":    {},
	"/api/admin/reconcile": {},
}

// routeLabel collapses ids so the duration histogram keeps a bounded label set.
func routeLabel(path string) string {
	if _, ok := staticRoutes[path]; ok {
		return path
	}
	parts := splitPath(path)
	if len(parts) >= 3 && len(parts) <= 4 && parts[0] == "api" && (parts[1] == "operations" || parts[1] == "documents") {
		label := "/api/" + parts[1] + "/{id}"
		if len(parts) == 4 {
			label += "/" + parts[3]
		}
		return label
	}
	return "unmatched"
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, Accept-Language")
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "Content-Disposition, Retry-After, X-Request-ID")
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
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
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

// clientKey identifies the caller for access lockout. With trustProxy the
// address the proxy appended last to X-Forwarded-For wins, then X-Real-IP;
// entries further left are client supplied.
func clientKey(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			hops := strings.Split(forwarded, ",")
			for i := len(hops) - 1; i >= 0; i-- {
				if hop := strings.TrimSpace(hops[i]); hop != "" {
					return hop
				}
			}
		}
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
			return realIP
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestLang prefers an explicit lang query parameter over Accept-Language.
func requestLang(r *http.Request) catalog.Lang {
	if value := strings.TrimSpace(r.URL.Query().Get("lang")); value != "" {
		return catalog.ParseLang(value)
	}
	return catalog.ParseLang(r.Header.Get("Accept-Language"))
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
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
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Operation failed", nil
}

func nilIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
