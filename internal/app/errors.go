package app

import (
	"fmt"
	"net/http"
)

// DomainError is the typed result for every expected failure crossing the
// service boundary: conflicts, cap rejections, lookups, inconsistencies, and
// permission denials. Anything else is a genuine internal error.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

const (
	CodeAlreadyRunning     = "ALREADY_RUNNING"
	CodeWrongTask          = "WRONG_TASK"
	CodeTimesheetLocked    = "TIMESHEET_LOCKED"
	CodeAlreadySubmitted   = "ALREADY_SUBMITTED"
	CodeAlreadyReviewed    = "ALREADY_REVIEWED"
	CodeDailyCapExceeded   = "DAILY_CAP_EXCEEDED"
	CodeWeeklyCapExceeded  = "WEEKLY_CAP_EXCEEDED"
	CodeAllocationExceeded = "ALLOCATION_EXCEEDED"
	CodeNoActiveTimer      = "NO_ACTIVE_TIMER"
	CodeTaskNotFound       = "TASK_NOT_FOUND"
	CodeTimesheetNotFound  = "TIMESHEET_NOT_FOUND"
	CodeRequestNotFound    = "REQUEST_NOT_FOUND"
	CodeOrphanedTimer      = "ORPHANED_TIMER"
	CodeForbidden          = "FORBIDDEN"
	CodeInvalidInput       = "INVALID_INPUT"
)

func errForbidden(message string) *DomainError {
	if message == "" {
		message = "Forbidden"
	}
	return domainError(http.StatusForbidden, CodeForbidden, message, nil)
}

func errTaskNotFound(taskID string) *DomainError {
	return domainError(http.StatusNotFound, CodeTaskNotFound, "Task not found", map[string]any{"taskId": taskID})
}

// capDetails reports the attempted versus limit figures for a rejected write.
func capDetails(attempted, limit float64) map[string]any {
	return map[string]any{"attemptedHours": attempted, "limitHours": limit}
}
