package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, role, created_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	var task Task
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, assigned_to, allocated_hours, status, created_at, updated_at
		FROM tasks
		WHERE id=$1
	`, taskID).Scan(
		&task.ID,
		&task.ProjectID,
		&task.Title,
		&task.AssignedTo,
		&task.AllocatedHours,
		&task.Status,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

func (s *PostgresStore) UpdateTaskStatus(ctx context.Context, taskID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status=$2, updated_at=NOW() WHERE id=$1
	`, taskID, status)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

// ListTaskSummaries reports every task with its consumed hours derived from the
// entry ledger, never from a stored counter.
func (s *PostgresStore) ListTaskSummaries(ctx context.Context) ([]TaskStatusSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.project_id, t.title, t.assigned_to, t.allocated_hours, t.status, t.created_at, t.updated_at,
			COALESCE(SUM(e.hours), 0)
		FROM tasks t
		LEFT JOIN timesheet_entries e ON e.task_id = t.id
		GROUP BY t.id
		ORDER BY t.status ASC, t.title ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list task summaries: %w", err)
	}
	defer rows.Close()

	items := make([]TaskStatusSummary, 0)
	for rows.Next() {
		var item TaskStatusSummary
		if err := rows.Scan(
			&item.Task.ID,
			&item.Task.ProjectID,
			&item.Task.Title,
			&item.Task.AssignedTo,
			&item.Task.AllocatedHours,
			&item.Task.Status,
			&item.Task.CreatedAt,
			&item.Task.UpdatedAt,
			&item.ConsumedHours,
		); err != nil {
			return nil, fmt.Errorf("scan task summary: %w", err)
		}
		item.RemainingHours = item.Task.AllocatedHours - item.ConsumedHours
		if item.RemainingHours < 0 {
			item.RemainingHours = 0
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task summaries: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertTimerSession(ctx context.Context, session TimerSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO timer_sessions (id, task_id, user_id, start_time, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
	`, session.ID, session.TaskID, session.UserID, session.StartTime)
	if err != nil {
		return fmt.Errorf("insert timer session: %w", err)
	}
	return nil
}

// CloseTimerSession closes the most recent open session for (user, task) and
// returns it. The subselect breaks ties when a crash left more than one open
// row; the others stay untouched for explicit operator cleanup.
func (s *PostgresStore) CloseTimerSession(ctx context.Context, userID, taskID string, endTime time.Time, durationMinutes int) (TimerSession, bool, error) {
	var session TimerSession
	err := s.db.QueryRowContext(ctx, `
		UPDATE timer_sessions
		SET end_time=$3, duration_minutes=$4, is_active=FALSE
		WHERE id = (
			SELECT id FROM timer_sessions
			WHERE user_id=$1 AND task_id=$2 AND is_active
			ORDER BY start_time DESC
			LIMIT 1
		)
		RETURNING id, task_id, user_id, start_time, end_time, duration_minutes, is_active
	`, userID, taskID, endTime, durationMinutes).Scan(
		&session.ID,
		&session.TaskID,
		&session.UserID,
		&session.StartTime,
		&session.EndTime,
		&session.DurationMinutes,
		&session.IsActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return TimerSession{}, false, nil
	}
	if err != nil {
		return TimerSession{}, false, fmt.Errorf("close timer session: %w", err)
	}
	return session, true, nil
}

// SessionClose carries every durable effect of one pause/stop: the session to
// close, the entry accrual, and the figures for the task status recompute.
type SessionClose struct {
	UserID          string
	TaskID          string
	EndTime         time.Time
	DurationMinutes int
	TimesheetID     string
	EntryDate       time.Time
	Hours           float64
	AllocatedHours  float64
}

// CloseSessionAndAccrue closes the most recent open session for (user, task),
// accrues its hours into the (timesheet, task, date) entry, and recomputes the
// task status, all inside one transaction. Either every durable part of a
// pause lands or none does; the caller only touches the live cache afterwards.
// Returns the closed session and the task's consumed hours after the accrual.
func (s *PostgresStore) CloseSessionAndAccrue(ctx context.Context, sc SessionClose) (TimerSession, float64, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return TimerSession{}, 0, false, fmt.Errorf("begin close and accrue: %w", err)
	}
	defer tx.Rollback()

	var session TimerSession
	err = tx.QueryRowContext(ctx, `
		UPDATE timer_sessions
		SET end_time=$3, duration_minutes=$4, is_active=FALSE
		WHERE id = (
			SELECT id FROM timer_sessions
			WHERE user_id=$1 AND task_id=$2 AND is_active
			ORDER BY start_time DESC
			LIMIT 1
		)
		RETURNING id, task_id, user_id, start_time, end_time, duration_minutes, is_active
	`, sc.UserID, sc.TaskID, sc.EndTime, sc.DurationMinutes).Scan(
		&session.ID,
		&session.TaskID,
		&session.UserID,
		&session.StartTime,
		&session.EndTime,
		&session.DurationMinutes,
		&session.IsActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return TimerSession{}, 0, false, nil
	}
	if err != nil {
		return TimerSession{}, 0, false, fmt.Errorf("close timer session: %w", err)
	}

	// Atomic increment: concurrent pauses for the same triple must not lose
	// updates.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO timesheet_entries (timesheet_id, task_id, entry_date, hours)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (timesheet_id, task_id, entry_date)
		DO UPDATE SET hours = timesheet_entries.hours + EXCLUDED.hours, updated_at=NOW()
	`, sc.TimesheetID, sc.TaskID, sc.EntryDate, sc.Hours); err != nil {
		return TimerSession{}, 0, false, fmt.Errorf("accrue entry hours: %w", err)
	}

	var consumed float64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(hours), 0)
		FROM timesheet_entries
		WHERE task_id=$1
	`, sc.TaskID).Scan(&consumed); err != nil {
		return TimerSession{}, 0, false, fmt.Errorf("task consumed: %w", err)
	}

	status := TaskStatusInProgress
	if sc.AllocatedHours > 0 && consumed >= sc.AllocatedHours {
		status = TaskStatusCompleted
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status=$2, updated_at=NOW() WHERE id=$1
	`, sc.TaskID, status); err != nil {
		return TimerSession{}, 0, false, fmt.Errorf("recompute task status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return TimerSession{}, 0, false, fmt.Errorf("commit close and accrue: %w", err)
	}
	return session, consumed, true, nil
}

func (s *PostgresStore) FindOpenSession(ctx context.Context, userID, taskID string) (*TimerSession, error) {
	var session TimerSession
	err := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, user_id, start_time, end_time, duration_minutes, is_active
		FROM timer_sessions
		WHERE user_id=$1 AND task_id=$2 AND is_active
		ORDER BY start_time DESC
		LIMIT 1
	`, userID, taskID).Scan(
		&session.ID,
		&session.TaskID,
		&session.UserID,
		&session.StartTime,
		&session.EndTime,
		&session.DurationMinutes,
		&session.IsActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open session: %w", err)
	}
	return &session, nil
}

// GetOrCreateTimesheet lazily creates the weekly container the first time a
// user logs hours in that week. newID is only consumed when a row is created.
func (s *PostgresStore) GetOrCreateTimesheet(ctx context.Context, newID, userID string, weekStart, weekEnd time.Time) (Timesheet, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO timesheets (id, user_id, week_start, week_end, status)
		VALUES ($1, $2, $3, $4, 'draft')
		ON CONFLICT (user_id, week_start) DO NOTHING
	`, newID, userID, weekStart, weekEnd); err != nil {
		return Timesheet{}, fmt.Errorf("insert timesheet: %w", err)
	}

	var sheet Timesheet
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, week_start, week_end, status, created_at
		FROM timesheets
		WHERE user_id=$1 AND week_start=$2
	`, userID, weekStart).Scan(&sheet.ID, &sheet.UserID, &sheet.WeekStart, &sheet.WeekEnd, &sheet.Status, &sheet.CreatedAt)
	if err != nil {
		return Timesheet{}, fmt.Errorf("get timesheet: %w", err)
	}
	return sheet, nil
}

func (s *PostgresStore) GetTimesheet(ctx context.Context, timesheetID string) (Timesheet, error) {
	var sheet Timesheet
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, week_start, week_end, status, created_at
		FROM timesheets
		WHERE id=$1
	`, timesheetID).Scan(&sheet.ID, &sheet.UserID, &sheet.WeekStart, &sheet.WeekEnd, &sheet.Status, &sheet.CreatedAt)
	if err != nil {
		return Timesheet{}, err
	}
	return sheet, nil
}

func (s *PostgresStore) GetTimesheetForWeek(ctx context.Context, userID string, weekStart time.Time) (*Timesheet, error) {
	var sheet Timesheet
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, week_start, week_end, status, created_at
		FROM timesheets
		WHERE user_id=$1 AND week_start=$2
	`, userID, weekStart).Scan(&sheet.ID, &sheet.UserID, &sheet.WeekStart, &sheet.WeekEnd, &sheet.Status, &sheet.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get timesheet for week: %w", err)
	}
	return &sheet, nil
}

// SubmitTimesheet transitions draft to submitted. The status predicate makes
// the transition single-shot; a second call reports false.
func (s *PostgresStore) SubmitTimesheet(ctx context.Context, timesheetID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE timesheets
		SET status='submitted'
		WHERE id=$1 AND user_id=$2 AND status='draft'
	`, timesheetID, userID)
	if err != nil {
		return false, fmt.Errorf("submit timesheet: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("submit timesheet rows: %w", err)
	}
	return affected > 0, nil
}

// ReplaceEntryHours overwrites the row instead of accruing into it; the write
// semantics for manually declared entries.
func (s *PostgresStore) ReplaceEntryHours(ctx context.Context, timesheetID, taskID string, entryDate time.Time, hours float64) (float64, error) {
	var stored float64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO timesheet_entries (timesheet_id, task_id, entry_date, hours)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (timesheet_id, task_id, entry_date)
		DO UPDATE SET hours = EXCLUDED.hours, updated_at=NOW()
		RETURNING hours
	`, timesheetID, taskID, entryDate, hours).Scan(&stored)
	if err != nil {
		return 0, fmt.Errorf("replace entry hours: %w", err)
	}
	return stored, nil
}

func (s *PostgresStore) EntryHours(ctx context.Context, timesheetID, taskID string, entryDate time.Time) (float64, error) {
	var hours float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(hours), 0)
		FROM timesheet_entries
		WHERE timesheet_id=$1 AND task_id=$2 AND entry_date=$3
	`, timesheetID, taskID, entryDate).Scan(&hours)
	if err != nil {
		return 0, fmt.Errorf("entry hours: %w", err)
	}
	return hours, nil
}

func (s *PostgresStore) DayTotal(ctx context.Context, userID string, entryDate time.Time) (float64, error) {
	var hours float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(e.hours), 0)
		FROM timesheet_entries e
		JOIN timesheets ts ON ts.id = e.timesheet_id
		WHERE ts.user_id=$1 AND e.entry_date=$2
	`, userID, entryDate).Scan(&hours)
	if err != nil {
		return 0, fmt.Errorf("day total: %w", err)
	}
	return hours, nil
}

func (s *PostgresStore) WeekTotal(ctx context.Context, timesheetID string) (float64, error) {
	var hours float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(hours), 0)
		FROM timesheet_entries
		WHERE timesheet_id=$1
	`, timesheetID).Scan(&hours)
	if err != nil {
		return 0, fmt.Errorf("week total: %w", err)
	}
	return hours, nil
}

// TaskConsumed is the derived consumed_hours figure: the sum of every entry
// logged against the task across all timesheets.
func (s *PostgresStore) TaskConsumed(ctx context.Context, taskID string) (float64, error) {
	var hours float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(hours), 0)
		FROM timesheet_entries
		WHERE task_id=$1
	`, taskID).Scan(&hours)
	if err != nil {
		return 0, fmt.Errorf("task consumed: %w", err)
	}
	return hours, nil
}

func (s *PostgresStore) ListWeekEntries(ctx context.Context, timesheetID string) ([]TimesheetEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.timesheet_id, e.task_id, t.title, e.entry_date, e.hours
		FROM timesheet_entries e
		JOIN tasks t ON t.id = e.task_id
		WHERE e.timesheet_id=$1
		ORDER BY e.entry_date ASC, t.title ASC
	`, timesheetID)
	if err != nil {
		return nil, fmt.Errorf("list week entries: %w", err)
	}
	defer rows.Close()

	items := make([]TimesheetEntry, 0)
	for rows.Next() {
		var item TimesheetEntry
		if err := rows.Scan(&item.TimesheetID, &item.TaskID, &item.TaskTitle, &item.EntryDate, &item.Hours); err != nil {
			return nil, fmt.Errorf("scan week entry: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate week entries: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertExtraHoursRequest(ctx context.Context, request ExtraHoursRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO extra_hours_requests (id, task_id, requested_by, requested_hours, reason, previous_allocated_hours, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
	`, request.ID, request.TaskID, request.RequestedBy, request.RequestedHours, request.Reason, request.PreviousAllocatedHours)
	if err != nil {
		return fmt.Errorf("insert extra hours request: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetExtraHoursRequest(ctx context.Context, requestID string) (ExtraHoursRequest, error) {
	var item ExtraHoursRequest
	var reviewedBy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, requested_by, requested_hours, reason, previous_allocated_hours,
			approved_allocated_hours, status, reviewed_by, reviewed_at, created_at
		FROM extra_hours_requests
		WHERE id=$1
	`, requestID).Scan(
		&item.ID,
		&item.TaskID,
		&item.RequestedBy,
		&item.RequestedHours,
		&item.Reason,
		&item.PreviousAllocatedHours,
		&item.ApprovedAllocatedHours,
		&item.Status,
		&reviewedBy,
		&item.ReviewedAt,
		&item.CreatedAt,
	)
	if err != nil {
		return ExtraHoursRequest{}, err
	}
	item.ReviewedBy = reviewedBy.String
	return item, nil
}

// ReviewExtraHoursRequest records the reviewer decision and, on approval,
// applies the approved allocation to the task in the same transaction. The
// pending predicate keeps reviews terminal; a second review reports false. A
// request must never end up approved with the task allocation unchanged.
func (s *PostgresStore) ReviewExtraHoursRequest(ctx context.Context, requestID, reviewedBy, status string, approvedHours *float64, reviewedAt time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin review: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE extra_hours_requests
		SET status=$3, reviewed_by=$2, reviewed_at=$4, approved_allocated_hours=$5
		WHERE id=$1 AND status='pending'
	`, requestID, reviewedBy, status, reviewedAt, approvedHours)
	if err != nil {
		return false, fmt.Errorf("review extra hours request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("review extra hours rows: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if approvedHours != nil {
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks
			SET allocated_hours=$2, updated_at=NOW()
			WHERE id = (SELECT task_id FROM extra_hours_requests WHERE id=$1)
		`, requestID, *approvedHours); err != nil {
			return false, fmt.Errorf("apply approved allocation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit review: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) ListPendingExtraHours(ctx context.Context) ([]ExtraHoursRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, requested_by, requested_hours, reason, previous_allocated_hours,
			approved_allocated_hours, status, reviewed_by, reviewed_at, created_at
		FROM extra_hours_requests
		WHERE status='pending'
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending extra hours: %w", err)
	}
	defer rows.Close()

	items := make([]ExtraHoursRequest, 0)
	for rows.Next() {
		var item ExtraHoursRequest
		var reviewedBy sql.NullString
		if err := rows.Scan(
			&item.ID,
			&item.TaskID,
			&item.RequestedBy,
			&item.RequestedHours,
			&item.Reason,
			&item.PreviousAllocatedHours,
			&item.ApprovedAllocatedHours,
			&item.Status,
			&reviewedBy,
			&item.ReviewedAt,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan extra hours request: %w", err)
		}
		item.ReviewedBy = reviewedBy.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate extra hours requests: %w", err)
	}
	return items, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
