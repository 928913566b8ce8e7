package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"tempo/api/internal/notify"
)

type HTTPServer struct {
	service    *Service
	broker     *notify.Broker
	corsOrigin string
	validate   *validator.Validate
}

func NewHTTPServer(service *Service, broker *notify.Broker, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		service:    service,
		broker:     broker,
		corsOrigin: corsOrigin,
		validate:   validator.New(),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID")
		next.ServeHTTP(w, r)
	})
}

type manualEntryInput struct {
	TaskID string  `json:"taskId" validate:"required"`
	Date   string  `json:"date" validate:"required,datetime=2006-01-02"`
	Hours  float64 `json:"hours" validate:"gte=0,lte=24"`
}

type submitTimesheetInput struct {
	TimesheetID string `json:"timesheetId" validate:"required"`
}

type extraHoursInput struct {
	Hours  float64 `json:"hours" validate:"required,gt=0"`
	Reason string  `json:"reason" validate:"max=1000"`
}

type reviewInput struct {
	Action string `json:"action" validate:"required,oneof=approve reject"`
}

type forceClearInput struct {
	UserID string `json:"userId"`
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := s.service.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	principal, ok := s.principalFrom(w, r)
	if !ok {
		return
	}

	// /api/tasks/{id}/timer/{action}
	if taskID, action, ok := timerRoute(r.URL.Path); ok {
		s.handleTimer(w, r, principal, taskID, action)
		return
	}

	// /api/tasks/{id}/extra-hours/request
	if taskID, ok := pathSegment(r.URL.Path, "/api/tasks/", "/extra-hours/request"); ok && r.Method == http.MethodPost {
		var input extraHoursInput
		if !s.decode(w, r, &input) {
			return
		}
		request, err := s.service.RequestExtraHours(r.Context(), principal, taskID, input.Hours, input.Reason)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"status": "submitted", "request": request})
		return
	}

	// /api/extra-hours/{id}/review
	if requestID, ok := pathSegment(r.URL.Path, "/api/extra-hours/", "/review"); ok && r.Method == http.MethodPost {
		var input reviewInput
		if !s.decode(w, r, &input) {
			return
		}
		request, err := s.service.ReviewExtraHours(r.Context(), principal, requestID, input.Action)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": request.Status, "request": request})
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/extra-hours/pending":
		items, err := s.service.PendingExtraHours(r.Context(), principal)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"requests": items})

	case r.Method == http.MethodGet && r.URL.Path == "/api/tasks/grouped-by-status":
		grouped, err := s.service.TasksGroupedByStatus(r.Context(), principal)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, grouped)

	case r.Method == http.MethodPost && r.URL.Path == "/api/timer/clear":
		// Body is optional; an empty body clears the caller's own slot.
		var input forceClearInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, CodeInvalidInput, "Invalid JSON body", nil)
			return
		}
		snapshot, err := s.service.ForceClearTimer(r.Context(), principal, input.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)

	case r.Method == http.MethodPost && r.URL.Path == "/api/timesheet/entry":
		var input manualEntryInput
		if !s.decode(w, r, &input) {
			return
		}
		entryDate, err := time.Parse("2006-01-02", input.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidInput, "Invalid date", nil)
			return
		}
		totals, serr := s.service.LogManualEntry(r.Context(), principal, input.TaskID, entryDate, input.Hours)
		if serr != nil {
			writeServiceError(w, serr)
			return
		}
		writeJSON(w, http.StatusOK, totals)

	case r.Method == http.MethodPost && r.URL.Path == "/api/timesheet/submit":
		var input submitTimesheetInput
		if !s.decode(w, r, &input) {
			return
		}
		result, err := s.service.SubmitTimesheet(r.Context(), principal, input.TimesheetID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case r.Method == http.MethodGet && r.URL.Path == "/api/timesheet/export":
		week := s.service.now()
		if raw := r.URL.Query().Get("week"); raw != "" {
			parsed, err := time.Parse("2006-01-02", raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, CodeInvalidInput, "Invalid week", nil)
				return
			}
			week = parsed
		}
		workbook, name, err := s.service.ExportWeek(r.Context(), principal, r.URL.Query().Get("user"), week)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(workbook)

	case r.Method == http.MethodGet && r.URL.Path == "/api/events":
		s.handleEvents(w, r, principal)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleTimer(w http.ResponseWriter, r *http.Request, principal Principal, taskID, action string) {
	var snapshot *TimerSnapshot
	var err error

	switch {
	case r.Method == http.MethodPost && action == "start":
		snapshot, err = s.service.StartTimer(r.Context(), principal, taskID)
	case r.Method == http.MethodPost && action == "pause":
		snapshot, err = s.service.PauseTimer(r.Context(), principal, taskID)
	case r.Method == http.MethodPost && action == "stop":
		snapshot, err = s.service.StopTimer(r.Context(), principal, taskID)
	case r.Method == http.MethodGet && action == "state":
		snapshot, err = s.service.GetTimerState(r.Context(), principal, taskID)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// handleEvents streams the caller's timer events as server-sent events.
func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request, principal Principal) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Streaming unsupported", nil)
		return
	}

	sub := s.broker.Subscribe(r.Context(), principal.ID)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-sub.Events():
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// principalFrom resolves the acting user from the X-User-ID header set by the
// upstream auth layer.
func (s *HTTPServer) principalFrom(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing X-User-ID header", nil)
		return Principal{}, false
	}
	principal, err := s.service.ResolvePrincipal(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unknown user", nil)
		return Principal{}, false
	}
	return principal, true
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, input any) bool {
	if err := json.NewDecoder(r.Body).Decode(input); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "Invalid JSON body", nil)
		return false
	}
	if err := s.validate.Struct(input); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, err.Error(), nil)
		return false
	}
	return true
}

// timerRoute matches /api/tasks/{id}/timer/{action}.
func timerRoute(path string) (taskID, action string, ok bool) {
	rest, found := strings.CutPrefix(path, "/api/tasks/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "timer" || parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}

// pathSegment extracts {id} from prefix + {id} + suffix paths.
func pathSegment(path, prefix, suffix string) (string, bool) {
	rest, found := strings.CutPrefix(path, prefix)
	if !found {
		return "", false
	}
	id, found := strings.CutSuffix(rest, suffix)
	if !found || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	var derr *DomainError
	if errors.As(err, &derr) {
		writeError(w, derr.Status, derr.Code, derr.Message, derr.Details)
		return
	}
	log.Printf("internal error: %v", err)
	writeError(w, http.StatusInternalServerError, "INTERNAL", "Internal error", nil)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"details": details,
		},
		// Conflict statuses double as machine-readable outcome strings so
		// clients can branch without parsing messages.
		"status": strings.ToLower(code),
	})
}
