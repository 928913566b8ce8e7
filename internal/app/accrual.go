package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"tempo/api/internal/store"
	"tempo/api/internal/util"
)

// EntryTotals is the result of a manual timesheet write.
type EntryTotals struct {
	Status         string  `json:"status"`
	TimesheetID    string  `json:"timesheetId"`
	TaskID         string  `json:"taskId"`
	EntryDate      string  `json:"entryDate"`
	EntryHours     float64 `json:"entryHours"`
	DayHours       float64 `json:"dayHours"`
	WeekHours      float64 `json:"weekHours"`
	AllocatedHours float64 `json:"allocatedHours"`
	ConsumedHours  float64 `json:"consumedHours"`
	RemainingHours float64 `json:"remainingHours"`
	Warning        string  `json:"warning,omitempty"`
}

// draftTimesheet lazily creates the weekly container for the moment and
// rejects writes once the week is submitted.
func (s *Service) draftTimesheet(ctx context.Context, userID string, moment time.Time) (store.Timesheet, *DomainError) {
	weekStart, weekEnd := util.WeekRange(moment)
	sheet, err := s.store.GetOrCreateTimesheet(ctx, util.NewID("ts"), userID, weekStart, weekEnd)
	if err != nil {
		return store.Timesheet{}, domainError(http.StatusInternalServerError, "INTERNAL", fmt.Sprintf("timesheet for week: %v", err), nil)
	}
	if sheet.Status != store.TimesheetStatusDraft {
		return store.Timesheet{}, domainError(http.StatusConflict, CodeTimesheetLocked,
			"Timesheet for this week is no longer editable",
			map[string]any{"timesheetId": sheet.ID, "status": sheet.Status})
	}
	return sheet, nil
}

// checkAccrualCaps enforces the daily, weekly, and allocation ceilings for a
// prospective write of addHours. excludeHours is the stored amount the write
// replaces (zero on the additive timer path), so the check sees the figures as
// they would be after commit. Callers skip this entirely for elevated roles.
func (s *Service) checkAccrualCaps(ctx context.Context, userID string, sheet store.Timesheet, task store.Task, entryDate time.Time, addHours, excludeHours float64) *DomainError {
	dayTotal, err := s.store.DayTotal(ctx, userID, dateOf(entryDate))
	if err != nil {
		return domainError(http.StatusInternalServerError, "INTERNAL", fmt.Sprintf("day total: %v", err), nil)
	}
	projectedDay := dayTotal - excludeHours + addHours
	if projectedDay > s.cfg.DailyCapHours {
		return domainError(http.StatusUnprocessableEntity, CodeDailyCapExceeded,
			fmt.Sprintf("Daily cap of %.0fh exceeded", s.cfg.DailyCapHours),
			capDetails(projectedDay, s.cfg.DailyCapHours))
	}

	weekTotal, err := s.store.WeekTotal(ctx, sheet.ID)
	if err != nil {
		return domainError(http.StatusInternalServerError, "INTERNAL", fmt.Sprintf("week total: %v", err), nil)
	}
	projectedWeek := weekTotal - excludeHours + addHours
	if projectedWeek > s.cfg.WeeklyCapHours {
		return domainError(http.StatusUnprocessableEntity, CodeWeeklyCapExceeded,
			fmt.Sprintf("Weekly cap of %.0fh exceeded", s.cfg.WeeklyCapHours),
			capDetails(projectedWeek, s.cfg.WeeklyCapHours))
	}

	consumed, err := s.store.TaskConsumed(ctx, task.ID)
	if err != nil {
		return domainError(http.StatusInternalServerError, "INTERNAL", fmt.Sprintf("task consumed: %v", err), nil)
	}
	projectedConsumed := consumed - excludeHours + addHours
	if task.AllocatedHours > 0 && projectedConsumed > task.AllocatedHours {
		return domainError(http.StatusUnprocessableEntity, CodeAllocationExceeded,
			"Task allocation exceeded",
			capDetails(projectedConsumed, task.AllocatedHours))
	}

	return nil
}

// allocationWarning returns the non-blocking notice attached once consumption
// reaches 80% of the allocation. It never rejects a write.
func allocationWarning(allocated, consumed float64) string {
	if allocated <= 0 {
		return ""
	}
	percent := consumed / allocated * 100
	if percent < 80 {
		return ""
	}
	return fmt.Sprintf("%d%% of allocated hours used", int(percent+0.5))
}

// LogManualEntry declares hours directly. Manual writes replace the stored
// amount for their exact (timesheet, task, date) row; only the timer path
// accrues additively.
func (s *Service) LogManualEntry(ctx context.Context, principal Principal, taskID string, entryDate time.Time, hours float64) (*EntryTotals, error) {
	if hours < 0 || hours > 24 {
		return nil, domainError(http.StatusBadRequest, CodeInvalidInput, "Hours must be between 0 and 24", nil)
	}

	task, derr := s.loadTask(ctx, taskID)
	if derr != nil {
		return nil, derr
	}
	if !s.authz.CanActOnTask(ctx, principal, task) {
		return nil, errForbidden("You are not assigned to this task")
	}

	sheet, derr := s.draftTimesheet(ctx, principal.ID, entryDate)
	if derr != nil {
		return nil, derr
	}

	day := dateOf(entryDate)
	existing, err := s.store.EntryHours(ctx, sheet.ID, taskID, day)
	if err != nil {
		return nil, fmt.Errorf("existing entry hours: %w", err)
	}

	if !s.authz.HasElevatedRole(principal) {
		if derr := s.checkAccrualCaps(ctx, principal.ID, sheet, task, day, hours, existing); derr != nil {
			return nil, derr
		}
	}

	stored, err := s.store.ReplaceEntryHours(ctx, sheet.ID, taskID, day, util.RoundHours(hours))
	if err != nil {
		return nil, fmt.Errorf("replace entry hours: %w", err)
	}

	consumed, err := s.store.TaskConsumed(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("task consumed: %w", err)
	}
	remainingHours := remaining(task.AllocatedHours, consumed)

	status := store.TaskStatusInProgress
	if task.AllocatedHours > 0 && remainingHours <= 0 {
		status = store.TaskStatusCompleted
	}
	if err := s.store.UpdateTaskStatus(ctx, taskID, status); err != nil {
		return nil, fmt.Errorf("recompute task status: %w", err)
	}

	dayTotal, err := s.store.DayTotal(ctx, principal.ID, day)
	if err != nil {
		return nil, fmt.Errorf("day total: %w", err)
	}
	weekTotal, err := s.store.WeekTotal(ctx, sheet.ID)
	if err != nil {
		return nil, fmt.Errorf("week total: %w", err)
	}

	s.maybeSendAllocationWarning(ctx, task, consumed, remainingHours)

	return &EntryTotals{
		Status:         "ok",
		TimesheetID:    sheet.ID,
		TaskID:         taskID,
		EntryDate:      day.Format("2006-01-02"),
		EntryHours:     stored,
		DayHours:       dayTotal,
		WeekHours:      weekTotal,
		AllocatedHours: task.AllocatedHours,
		ConsumedHours:  consumed,
		RemainingHours: remainingHours,
		Warning:        allocationWarning(task.AllocatedHours, consumed),
	}, nil
}
