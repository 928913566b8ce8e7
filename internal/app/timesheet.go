package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tempo/api/internal/export"
	"tempo/api/internal/store"
	"tempo/api/internal/util"
)

type SubmitResult struct {
	Status      string `json:"status"`
	TimesheetID string `json:"timesheetId"`
}

// SubmitTimesheet transitions the caller's weekly draft to submitted, locking
// it against further entries.
func (s *Service) SubmitTimesheet(ctx context.Context, principal Principal, timesheetID string) (*SubmitResult, error) {
	sheet, err := s.store.GetTimesheet(ctx, timesheetID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, CodeTimesheetNotFound, "Timesheet not found", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get timesheet: %w", err)
	}

	if sheet.UserID != principal.ID && !s.authz.HasElevatedRole(principal) {
		return nil, errForbidden("You may only submit your own timesheet")
	}

	submitted, err := s.store.SubmitTimesheet(ctx, timesheetID, sheet.UserID)
	if err != nil {
		return nil, fmt.Errorf("submit timesheet: %w", err)
	}
	if !submitted {
		return nil, domainError(http.StatusConflict, CodeAlreadySubmitted,
			"Timesheet was already submitted", map[string]any{"status": sheet.Status})
	}

	return &SubmitResult{Status: "submitted", TimesheetID: timesheetID}, nil
}

// ExportWeek renders a user's weekly timesheet as an Excel workbook and, when
// an archiver is configured, stores a copy in object storage.
func (s *Service) ExportWeek(ctx context.Context, principal Principal, userID string, weekDay time.Time) ([]byte, string, error) {
	if userID == "" {
		userID = principal.ID
	}
	if userID != principal.ID && !s.authz.HasElevatedRole(principal) {
		return nil, "", errForbidden("You may only export your own timesheet")
	}

	weekStart, _ := util.WeekRange(weekDay)
	sheet, err := s.store.GetTimesheetForWeek(ctx, userID, weekStart)
	if err != nil {
		return nil, "", fmt.Errorf("timesheet for week: %w", err)
	}
	if sheet == nil {
		return nil, "", domainError(http.StatusNotFound, CodeTimesheetNotFound, "No timesheet for this week", nil)
	}

	entries, err := s.store.ListWeekEntries(ctx, sheet.ID)
	if err != nil {
		return nil, "", fmt.Errorf("list week entries: %w", err)
	}

	workbook, err := export.WeeklyWorkbook(*sheet, entries)
	if err != nil {
		return nil, "", fmt.Errorf("render workbook: %w", err)
	}

	name := export.WorkbookName(*sheet)
	if s.archive != nil {
		// Archiving is best-effort; the caller still gets the workbook.
		_ = s.archive.Put(ctx, name, workbook)
	}
	return workbook, name, nil
}

// TasksGroupedByStatus reports every task bucketed by status with derived
// consumed and remaining hours.
func (s *Service) TasksGroupedByStatus(ctx context.Context, principal Principal) (map[string][]store.TaskStatusSummary, error) {
	summaries, err := s.store.ListTaskSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list task summaries: %w", err)
	}

	grouped := map[string][]store.TaskStatusSummary{
		store.TaskStatusTodo:       {},
		store.TaskStatusInProgress: {},
		store.TaskStatusCompleted:  {},
	}
	for _, summary := range summaries {
		grouped[summary.Task.Status] = append(grouped[summary.Task.Status], summary)
	}
	return grouped, nil
}
