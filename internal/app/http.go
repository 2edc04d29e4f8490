package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"edms/api/internal/auth"
	"edms/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        *logrus.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, log *logrus.Logger) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: log}
}

func (s *HTTPServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestIDMW, s.loggerMW, s.recovererMW, s.corsMW)

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/signup", s.handleSignUp).Methods(http.MethodPost)
	api.HandleFunc("/auth/signin", s.handleSignIn).Methods(http.MethodPost)
	api.HandleFunc("/auth/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	api.HandleFunc("/session", s.handleSessionInfo).Methods(http.MethodGet)
	api.HandleFunc("/session/switch-org", s.withSession(s.handleSwitchOrg)).Methods(http.MethodPost)

	docs := api.PathPrefix("/documents").Subrouter()
	docs.HandleFunc("", s.withSession(s.handleCreateDocument)).Methods(http.MethodPost)
	docs.HandleFunc("", s.withSession(s.handleListDocuments)).Methods(http.MethodGet)
	docs.HandleFunc("/search", s.withSession(s.handleSearchDocuments)).Methods(http.MethodGet)
	docs.HandleFunc("/expiring", s.withSession(s.handleExpiringDocuments)).Methods(http.MethodGet)
	docs.HandleFunc("/{id}", s.withSession(s.handleGetDocument)).Methods(http.MethodGet)
	docs.HandleFunc("/{id}", s.withSession(s.handleUpdateDocument)).Methods(http.MethodPatch)
	docs.HandleFunc("/{id}", s.withSession(s.handleArchiveDocument)).Methods(http.MethodDelete)
	docs.HandleFunc("/{id}/download", s.withSession(s.handleDownloadDocument)).Methods(http.MethodGet)
	docs.HandleFunc("/{id}/versions", s.withSession(s.handleUploadVersion)).Methods(http.MethodPost)
	docs.HandleFunc("/{id}/versions", s.withSession(s.handleListVersions)).Methods(http.MethodGet)
	docs.HandleFunc("/{id}/versions/{version}/restore", s.withSession(s.handleRestoreVersion)).Methods(http.MethodPost)
	docs.HandleFunc("/{id}/tags", s.withSession(s.handleAddTags)).Methods(http.MethodPost)
	docs.HandleFunc("/{id}/legal-hold", s.withSession(s.handleLegalHold)).Methods(http.MethodPost)
	docs.HandleFunc("/{id}/comments", s.withSession(s.handleAddComment)).Methods(http.MethodPost)
	docs.HandleFunc("/{id}/comments", s.withSession(s.handleListComments)).Methods(http.MethodGet)
	docs.HandleFunc("/{id}/activity", s.withSession(s.handleListActivity)).Methods(http.MethodGet)
	docs.HandleFunc("/{id}/audit", s.withSession(s.handleDocumentAudit)).Methods(http.MethodGet)
	docs.HandleFunc("/{id}/route", s.withSession(s.handleAutoRoute)).Methods(http.MethodPost)
	docs.HandleFunc("/{id}/request-approval", s.withSession(s.handleRequestApproval)).Methods(http.MethodPost)
	docs.HandleFunc("/{id}/approvals", s.withSession(s.handleDocumentApprovals)).Methods(http.MethodGet)
	docs.HandleFunc("/{id}/approval-status", s.withSession(s.handleApprovalStatus)).Methods(http.MethodGet)
	docs.HandleFunc("/{id}/prune-history", s.withSession(s.handlePruneHistory)).Methods(http.MethodPost)

	workflows := api.PathPrefix("/workflows").Subrouter()
	workflows.HandleFunc("", s.withSession(s.handleListWorkflows)).Methods(http.MethodGet)
	workflows.HandleFunc("", s.withSession(s.handleCreateWorkflow)).Methods(http.MethodPost)
	workflows.HandleFunc("/resolve", s.withSession(s.handleResolveWorkflow)).Methods(http.MethodGet)
	workflows.HandleFunc("/{id}", s.withSession(s.handleGetWorkflow)).Methods(http.MethodGet)
	workflows.HandleFunc("/{id}", s.withSession(s.handleUpdateWorkflow)).Methods(http.MethodPut)
	workflows.HandleFunc("/{id}", s.withSession(s.handleDeleteWorkflow)).Methods(http.MethodDelete)

	approvals := api.PathPrefix("/approvals").Subrouter()
	approvals.HandleFunc("", s.withSession(s.handleListApprovals)).Methods(http.MethodGet)
	approvals.HandleFunc("/pending", s.withSession(s.handleMyPendingApprovals)).Methods(http.MethodGet)
	approvals.HandleFunc("/overdue", s.withSession(s.handleOverdueApprovals)).Methods(http.MethodGet)
	approvals.HandleFunc("/bulk-approve", s.withSession(s.handleBulkApprove)).Methods(http.MethodPost)
	approvals.HandleFunc("/{id}/approve", s.withSession(s.handleApprove)).Methods(http.MethodPost)
	approvals.HandleFunc("/{id}/reject", s.withSession(s.handleReject)).Methods(http.MethodPost)
	approvals.HandleFunc("/{id}/escalate", s.withSession(s.handleEscalate)).Methods(http.MethodPost)
	approvals.HandleFunc("/{id}/remind", s.withSession(s.handleRemind)).Methods(http.MethodPost)

	api.HandleFunc("/organization", s.withSession(s.handleGetOrganization)).Methods(http.MethodGet)
	api.HandleFunc("/organization", s.withSession(s.handleUpdateOrganization)).Methods(http.MethodPatch)
	api.HandleFunc("/organization/departments", s.withSession(s.handleAddDepartment)).Methods(http.MethodPost)
	api.HandleFunc("/organization/departments/{name}", s.withSession(s.handleRemoveDepartment)).Methods(http.MethodDelete)

	users := api.PathPrefix("/users").Subrouter()
	users.HandleFunc("", s.withSession(s.handleListUsers)).Methods(http.MethodGet)
	users.HandleFunc("", s.withSession(s.handleCreateUser)).Methods(http.MethodPost)
	users.HandleFunc("/{id}", s.withSession(s.handleGetUser)).Methods(http.MethodGet)
	users.HandleFunc("/{id}", s.withSession(s.handleUpdateUser)).Methods(http.MethodPatch)
	users.HandleFunc("/{id}", s.withSession(s.handleDeleteUser)).Methods(http.MethodDelete)

	api.HandleFunc("/audit", s.withSession(s.handleQueryAudit)).Methods(http.MethodGet)
	api.HandleFunc("/audit/export", s.withSession(s.handleExportAudit)).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.withSession(s.handleStats)).Methods(http.MethodGet)
	api.HandleFunc("/retention/archive-expired", s.withSession(s.handleArchiveExpired)).Methods(http.MethodPost)
	api.HandleFunc("/retention/prune", s.withSession(s.handlePruneDocuments)).Methods(http.MethodPost)

	r.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}

// ---------------------------------------------------------------------------
// Middleware

type ctxKey string

const requestIDKey ctxKey = "reqid"

func (s *HTTPServer) requestIDMW(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(r *http.Request) string {
	if v, ok := r.Context().Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) { w.status = code; w.ResponseWriter.WriteHeader(code) }
func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (s *HTTPServer) loggerMW(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(sw, r)
		s.log.WithFields(logrus.Fields{
			"reqid":    requestID(r),
			"method":   r.Method,
			"path":     r.URL.Path,
			"ip":       clientIP(r),
			"status":   sw.status,
			"bytes":    sw.bytes,
			"duration": time.Since(start).String(),
		}).Info("request")
	})
}

func (s *HTTPServer) recovererMW(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.WithFields(logrus.Fields{
					"reqid": requestID(r),
					"path":  r.URL.Path,
				}).Errorf("panic: %v\n%s", rec, debug.Stack())
				writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Server error", map[string]any{"reqid": requestID(r)})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) corsMW(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", s.corsOrigin)
		header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		header.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withSession parses and validates the bearer token before the handler
// runs; every route behind it sees an authenticated session.
func (s *HTTPServer) withSession(handler func(http.ResponseWriter, *http.Request, Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		handler(w, r, session)
	}
}

// ---------------------------------------------------------------------------
// Health

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
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
}

// ---------------------------------------------------------------------------
// Helpers

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
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

func writeServiceError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
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

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func queryTime(r *http.Request, key string) *time.Time {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t
	}
	return nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if store.IsNotFound(err) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
