package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tempo/api/internal/config"
	"tempo/api/internal/email"
	"tempo/api/internal/livetimer"
	"tempo/api/internal/notify"
	"tempo/api/internal/rbac"
	"tempo/api/internal/store"
	"tempo/api/internal/util"
)

// Principal is the authenticated caller, threaded explicitly through every
// operation. Authentication itself happens upstream.
type Principal struct {
	ID          string
	DisplayName string
	Email       string
	Role        rbac.Role
}

// Authorizer is the capability check consulted before any task mutation.
type Authorizer interface {
	CanActOnTask(ctx context.Context, principal Principal, task store.Task) bool
	HasElevatedRole(principal Principal) bool
}

// RoleAuthorizer authorizes assignees on their own tasks and elevated roles on
// any task.
type RoleAuthorizer struct{}

func (RoleAuthorizer) CanActOnTask(_ context.Context, principal Principal, task store.Task) bool {
	return rbac.Elevated(principal.Role) || task.AssignedTo == principal.ID
}

func (RoleAuthorizer) HasElevatedRole(principal Principal) bool {
	return rbac.Elevated(principal.Role)
}

type ledger interface {
	GetUser(ctx context.Context, userID string) (store.User, error)
	GetTask(ctx context.Context, taskID string) (store.Task, error)
	UpdateTaskStatus(ctx context.Context, taskID, status string) error
	ListTaskSummaries(ctx context.Context) ([]store.TaskStatusSummary, error)
	InsertTimerSession(ctx context.Context, session store.TimerSession) error
	CloseTimerSession(ctx context.Context, userID, taskID string, endTime time.Time, durationMinutes int) (store.TimerSession, bool, error)
	CloseSessionAndAccrue(ctx context.Context, sc store.SessionClose) (store.TimerSession, float64, bool, error)
	FindOpenSession(ctx context.Context, userID, taskID string) (*store.TimerSession, error)
	GetOrCreateTimesheet(ctx context.Context, newID, userID string, weekStart, weekEnd time.Time) (store.Timesheet, error)
	GetTimesheet(ctx context.Context, timesheetID string) (store.Timesheet, error)
	GetTimesheetForWeek(ctx context.Context, userID string, weekStart time.Time) (*store.Timesheet, error)
	SubmitTimesheet(ctx context.Context, timesheetID, userID string) (bool, error)
	ReplaceEntryHours(ctx context.Context, timesheetID, taskID string, entryDate time.Time, hours float64) (float64, error)
	EntryHours(ctx context.Context, timesheetID, taskID string, entryDate time.Time) (float64, error)
	DayTotal(ctx context.Context, userID string, entryDate time.Time) (float64, error)
	WeekTotal(ctx context.Context, timesheetID string) (float64, error)
	TaskConsumed(ctx context.Context, taskID string) (float64, error)
	ListWeekEntries(ctx context.Context, timesheetID string) ([]store.TimesheetEntry, error)
	InsertExtraHoursRequest(ctx context.Context, request store.ExtraHoursRequest) error
	GetExtraHoursRequest(ctx context.Context, requestID string) (store.ExtraHoursRequest, error)
	ReviewExtraHoursRequest(ctx context.Context, requestID, reviewedBy, status string, approvedHours *float64, reviewedAt time.Time) (bool, error)
	ListPendingExtraHours(ctx context.Context) ([]store.ExtraHoursRequest, error)
	Ping(ctx context.Context) error
}

type liveStore interface {
	Claim(ctx context.Context, userID, taskID string, startedAt time.Time) (bool, *livetimer.Entry, error)
	Get(ctx context.Context, userID string) (*livetimer.Entry, error)
	Release(ctx context.Context, userID, taskID string) (bool, error)
	Clear(ctx context.Context, userID string) error
	Ping(ctx context.Context) error
}

type publisher interface {
	Publish(ctx context.Context, userID string, event notify.Event) error
}

type mailer interface {
	IsConfigured() bool
	SendAllocationWarning(to, userName, taskTitle string, allocatedHours, consumedHours, remainingHours float64) error
}

type archiver interface {
	Put(ctx context.Context, objectName string, workbook []byte) error
}

// Service is the timer controller. It owns no cross-call state; everything
// lives in the live store and the durable ledger, so concurrent handler
// instances can run it freely.
type Service struct {
	cfg     config.Config
	store   ledger
	live    liveStore
	events  publisher
	authz   Authorizer
	mail    mailer
	archive archiver
	now     func() time.Time
}

func New(cfg config.Config, dataStore ledger, live liveStore, events publisher, authz Authorizer) *Service {
	return &Service{
		cfg:    cfg,
		store:  dataStore,
		live:   live,
		events: events,
		authz:  authz,
		now:    time.Now,
	}
}

// WithMailer enables allocation warning emails.
func (s *Service) WithMailer(mail *email.Service) *Service {
	if mail != nil {
		s.mail = mail
	}
	return s
}

// WithArchiver enables object-storage archiving of timesheet exports.
func (s *Service) WithArchiver(archive archiver) *Service {
	s.archive = archive
	return s
}

// TimerSnapshot is the state view returned by every timer operation.
type TimerSnapshot struct {
	Status           string     `json:"status"`
	TaskID           string     `json:"taskId"`
	TaskTitle        string     `json:"taskTitle,omitempty"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	ElapsedSeconds   int        `json:"elapsedSeconds,omitempty"`
	Elapsed          string     `json:"elapsed,omitempty"`
	WorkedSeconds    int        `json:"workedSeconds,omitempty"`
	AllocatedHours   float64    `json:"allocatedHours"`
	ConsumedHours    float64    `json:"consumedHours"`
	RemainingHours   float64    `json:"remainingHours"`
	CanStart         bool       `json:"canStart"`
	CanPause         bool       `json:"canPause"`
	CanStop          bool       `json:"canStop"`
	Warning          string     `json:"warning,omitempty"`
	RunningTaskID    string     `json:"runningTaskId,omitempty"`
	RunningTaskTitle string     `json:"runningTaskTitle,omitempty"`
	RunningStartedAt *time.Time `json:"runningStartedAt,omitempty"`
}

const (
	TimerStatusStarted  = "started"
	TimerStatusPaused   = "paused"
	TimerStatusStopped  = "stopped"
	TimerStatusRunning  = "running"
	TimerStatusBlocked  = "blocked"
	TimerStatusOrphaned = "orphaned"
	TimerStatusCleared  = "cleared"
)

// ResolvePrincipal loads the acting user and normalizes their role.
func (s *Service) ResolvePrincipal(ctx context.Context, userID string) (Principal, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return Principal{}, fmt.Errorf("resolve principal: %w", err)
	}
	return Principal{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		Email:       user.Email,
		Role:        rbac.Normalize(user.Role),
	}, nil
}

func (s *Service) loadTask(ctx context.Context, taskID string) (store.Task, *DomainError) {
	task, err := s.store.GetTask(ctx, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Task{}, errTaskNotFound(taskID)
	}
	if err != nil {
		return store.Task{}, domainError(http.StatusInternalServerError, "INTERNAL", fmt.Sprintf("load task: %v", err), nil)
	}
	return task, nil
}

// StartTimer claims the caller's single timer slot and opens a ledger session.
// The cache claim is the serialization point: of two concurrent starts exactly
// one wins the SETNX and only the winner touches the ledger.
func (s *Service) StartTimer(ctx context.Context, principal Principal, taskID string) (*TimerSnapshot, error) {
	task, derr := s.loadTask(ctx, taskID)
	if derr != nil {
		return nil, derr
	}
	if !s.authz.CanActOnTask(ctx, principal, task) {
		return nil, errForbidden("You are not assigned to this task")
	}

	now := s.now().UTC()
	claimed, current, err := s.live.Claim(ctx, principal.ID, taskID, now)
	if err != nil {
		return nil, fmt.Errorf("claim live timer: %w", err)
	}
	if !claimed {
		details := map[string]any{}
		if current != nil {
			details["runningTaskId"] = current.TaskID
			details["startedAt"] = current.StartedAt
			if running, err := s.store.GetTask(ctx, current.TaskID); err == nil {
				details["runningTaskTitle"] = running.Title
			}
		}
		return nil, domainError(http.StatusConflict, CodeAlreadyRunning, "Another timer is already running", details)
	}

	session := store.TimerSession{
		ID:        util.NewID("tmr"),
		TaskID:    taskID,
		UserID:    principal.ID,
		StartTime: now,
		IsActive:  true,
	}
	if err := s.store.InsertTimerSession(ctx, session); err != nil {
		_ = s.live.Clear(ctx, principal.ID)
		return nil, fmt.Errorf("open timer session: %w", err)
	}

	if task.Status != store.TaskStatusInProgress {
		if err := s.store.UpdateTaskStatus(ctx, taskID, store.TaskStatusInProgress); err != nil {
			_, _, _ = s.store.CloseTimerSession(ctx, principal.ID, taskID, now, 0)
			_ = s.live.Clear(ctx, principal.ID)
			return nil, fmt.Errorf("mark task in progress: %w", err)
		}
	}

	// Observers only see the change after every durable write landed.
	_ = s.events.Publish(ctx, principal.ID, notify.Event{
		Type:      notify.EventTimerStarted,
		TaskID:    taskID,
		StartedAt: now,
	})

	consumed, err := s.store.TaskConsumed(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("task consumed: %w", err)
	}

	startedAt := now
	return &TimerSnapshot{
		Status:         TimerStatusStarted,
		TaskID:         taskID,
		TaskTitle:      task.Title,
		StartedAt:      &startedAt,
		AllocatedHours: task.AllocatedHours,
		ConsumedHours:  consumed,
		RemainingHours: remaining(task.AllocatedHours, consumed),
		CanPause:       true,
		CanStop:        true,
	}, nil
}

// PauseTimer closes the running session and accrues the elapsed time.
func (s *Service) PauseTimer(ctx context.Context, principal Principal, taskID string) (*TimerSnapshot, error) {
	return s.finishTimer(ctx, principal, taskID, false)
}

// StopTimer is a pause that also reports the stopped status; a stopped task
// can be resumed by starting it again.
func (s *Service) StopTimer(ctx context.Context, principal Principal, taskID string) (*TimerSnapshot, error) {
	return s.finishTimer(ctx, principal, taskID, true)
}

func (s *Service) finishTimer(ctx context.Context, principal Principal, taskID string, stop bool) (*TimerSnapshot, error) {
	task, derr := s.loadTask(ctx, taskID)
	if derr != nil {
		return nil, derr
	}
	if !s.authz.CanActOnTask(ctx, principal, task) {
		return nil, errForbidden("You are not assigned to this task")
	}

	now := s.now().UTC()

	// Snapshot the cache once; every later decision is keyed on this view so a
	// racing start for another task cannot make us close the wrong session.
	cached, err := s.live.Get(ctx, principal.ID)
	if err != nil {
		return nil, fmt.Errorf("read live timer: %w", err)
	}
	if cached != nil && cached.TaskID != taskID {
		details := map[string]any{"runningTaskId": cached.TaskID, "startedAt": cached.StartedAt}
		if running, err := s.store.GetTask(ctx, cached.TaskID); err == nil {
			details["runningTaskTitle"] = running.Title
		}
		return nil, domainError(http.StatusConflict, CodeWrongTask, "A different task's timer is running", details)
	}

	open, err := s.store.FindOpenSession(ctx, principal.ID, taskID)
	if err != nil {
		return nil, fmt.Errorf("find open session: %w", err)
	}

	var startTime time.Time
	switch {
	case cached != nil && open != nil:
		startTime = cached.StartedAt
	case cached != nil && open == nil:
		// Cache claims running, ledger disagrees. Surface it; never guess.
		return nil, domainError(http.StatusConflict, CodeOrphanedTimer,
			"Live timer has no matching open session; use force-clear",
			map[string]any{"taskId": cached.TaskID, "startedAt": cached.StartedAt})
	case open != nil:
		startTime = open.StartTime
	default:
		return nil, domainError(http.StatusNotFound, CodeNoActiveTimer, "No active timer for this task", nil)
	}

	elapsedSeconds := int(now.Sub(startTime).Seconds())
	if elapsedSeconds < 0 {
		elapsedSeconds = 0
	}
	hours := util.RoundHours(float64(elapsedSeconds) / 3600)

	sheet, derr := s.draftTimesheet(ctx, principal.ID, now)
	if derr != nil {
		return nil, derr
	}
	if !s.authz.HasElevatedRole(principal) {
		if derr := s.checkAccrualCaps(ctx, principal.ID, sheet, task, now, hours, 0); derr != nil {
			// Rejected writes leave the session open and the cache intact.
			return nil, derr
		}
	}

	// One transaction for every durable effect: session close, entry accrual,
	// task status recompute. A storage failure leaves the timer running.
	_, consumed, found, err := s.store.CloseSessionAndAccrue(ctx, store.SessionClose{
		UserID:          principal.ID,
		TaskID:          taskID,
		EndTime:         now,
		DurationMinutes: elapsedSeconds / 60,
		TimesheetID:     sheet.ID,
		EntryDate:       dateOf(now),
		Hours:           hours,
		AllocatedHours:  task.AllocatedHours,
	})
	if err != nil {
		return nil, fmt.Errorf("close and accrue: %w", err)
	}
	if !found {
		// The session vanished between the lookup and the close; a concurrent
		// pause already committed. Returning no-active-timer keeps a retried
		// pause from double-charging hours.
		return nil, domainError(http.StatusNotFound, CodeNoActiveTimer, "No active timer for this task", nil)
	}
	remainingHours := remaining(task.AllocatedHours, consumed)

	// Conditional delete: only drop the slot while it still points at our task.
	if _, err := s.live.Release(ctx, principal.ID, taskID); err != nil {
		return nil, fmt.Errorf("release live timer: %w", err)
	}

	eventType := notify.EventTimerPaused
	snapshotStatus := TimerStatusPaused
	if stop {
		eventType = notify.EventTimerStopped
		snapshotStatus = TimerStatusStopped
	}
	_ = s.events.Publish(ctx, principal.ID, notify.Event{
		Type:           eventType,
		TaskID:         taskID,
		WorkedSeconds:  elapsedSeconds,
		AllocatedHours: task.AllocatedHours,
		ConsumedHours:  consumed,
		RemainingHours: remainingHours,
	})

	s.maybeSendAllocationWarning(ctx, task, consumed, remainingHours)

	return &TimerSnapshot{
		Status:         snapshotStatus,
		TaskID:         taskID,
		TaskTitle:      task.Title,
		WorkedSeconds:  elapsedSeconds,
		Elapsed:        util.SplitSeconds(elapsedSeconds).String(),
		AllocatedHours: task.AllocatedHours,
		ConsumedHours:  consumed,
		RemainingHours: remainingHours,
		CanStart:       true,
		Warning:        allocationWarning(task.AllocatedHours, consumed),
	}, nil
}

// GetTimerState reconciles committed hours with the live cache without
// mutating either. Repeated calls only move elapsed time forward.
func (s *Service) GetTimerState(ctx context.Context, principal Principal, taskID string) (*TimerSnapshot, error) {
	task, derr := s.loadTask(ctx, taskID)
	if derr != nil {
		return nil, derr
	}
	if !s.authz.CanActOnTask(ctx, principal, task) {
		return nil, errForbidden("You are not assigned to this task")
	}

	consumed, err := s.store.TaskConsumed(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("task consumed: %w", err)
	}

	cached, err := s.live.Get(ctx, principal.ID)
	if err != nil {
		return nil, fmt.Errorf("read live timer: %w", err)
	}

	if cached == nil {
		return &TimerSnapshot{
			Status:         TimerStatusPaused,
			TaskID:         taskID,
			TaskTitle:      task.Title,
			AllocatedHours: task.AllocatedHours,
			ConsumedHours:  consumed,
			RemainingHours: remaining(task.AllocatedHours, consumed),
			CanStart:       true,
			Warning:        allocationWarning(task.AllocatedHours, consumed),
		}, nil
	}

	if cached.TaskID != taskID {
		blocked := &TimerSnapshot{
			Status:           TimerStatusBlocked,
			TaskID:           taskID,
			TaskTitle:        task.Title,
			AllocatedHours:   task.AllocatedHours,
			ConsumedHours:    consumed,
			RemainingHours:   remaining(task.AllocatedHours, consumed),
			RunningTaskID:    cached.TaskID,
			RunningStartedAt: &cached.StartedAt,
		}
		if running, err := s.store.GetTask(ctx, cached.TaskID); err == nil {
			blocked.RunningTaskTitle = running.Title
		}
		return blocked, nil
	}

	open, err := s.store.FindOpenSession(ctx, principal.ID, taskID)
	if err != nil {
		return nil, fmt.Errorf("find open session: %w", err)
	}
	if open == nil {
		// Cache says running, ledger has no open session: report the
		// inconsistency instead of lying about a running timer.
		return &TimerSnapshot{
			Status:           TimerStatusOrphaned,
			TaskID:           taskID,
			TaskTitle:        task.Title,
			AllocatedHours:   task.AllocatedHours,
			ConsumedHours:    consumed,
			RemainingHours:   remaining(task.AllocatedHours, consumed),
			RunningTaskID:    cached.TaskID,
			RunningStartedAt: &cached.StartedAt,
		}, nil
	}

	elapsedSeconds := int(s.now().UTC().Sub(cached.StartedAt).Seconds())
	if elapsedSeconds < 0 {
		elapsedSeconds = 0
	}
	liveConsumed := util.RoundHours(consumed + float64(elapsedSeconds)/3600)
	startedAt := cached.StartedAt
	return &TimerSnapshot{
		Status:         TimerStatusRunning,
		TaskID:         taskID,
		TaskTitle:      task.Title,
		StartedAt:      &startedAt,
		ElapsedSeconds: elapsedSeconds,
		Elapsed:        util.SplitSeconds(elapsedSeconds).String(),
		AllocatedHours: task.AllocatedHours,
		ConsumedHours:  liveConsumed,
		RemainingHours: remaining(task.AllocatedHours, liveConsumed),
		CanPause:       true,
		CanStop:        true,
		Warning:        allocationWarning(task.AllocatedHours, liveConsumed),
	}, nil
}

// ForceClearTimer is the deliberate recovery action for an orphaned cache
// entry. It only drops the cache; it never guesses which session to close.
func (s *Service) ForceClearTimer(ctx context.Context, principal Principal, userID string) (*TimerSnapshot, error) {
	if userID == "" {
		userID = principal.ID
	}
	if userID != principal.ID && !s.authz.HasElevatedRole(principal) {
		return nil, errForbidden("Only elevated roles may clear another user's timer")
	}
	if err := s.live.Clear(ctx, userID); err != nil {
		return nil, fmt.Errorf("force clear timer: %w", err)
	}
	return &TimerSnapshot{Status: TimerStatusCleared, CanStart: true}, nil
}

func (s *Service) maybeSendAllocationWarning(ctx context.Context, task store.Task, consumed, remainingHours float64) {
	if s.mail == nil || !s.mail.IsConfigured() {
		return
	}
	if remainingHours <= 0 || remainingHours > 1 {
		return
	}
	assignee, err := s.store.GetUser(ctx, task.AssignedTo)
	if err != nil {
		return
	}
	// Best-effort: a failed warning never affects the accrual.
	_ = s.mail.SendAllocationWarning(assignee.Email, assignee.DisplayName, task.Title, task.AllocatedHours, consumed, remainingHours)
}

func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := s.live.Ping(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

func remaining(allocated, consumed float64) float64 {
	left := allocated - consumed
	if left < 0 {
		return 0
	}
	return util.RoundHours(left)
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
