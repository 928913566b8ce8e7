package store

import "time"

type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
}

const (
	TaskStatusTodo       = "todo"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
)

type Task struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"projectId"`
	Title          string    `json:"title"`
	AssignedTo     string    `json:"assignedTo"`
	AllocatedHours float64   `json:"allocatedHours"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// TimerSession is one start-to-stop cycle in the time log ledger. A session is
// open while IsActive is true; at most one open session per user is ever valid.
type TimerSession struct {
	ID              string     `json:"id"`
	TaskID          string     `json:"taskId"`
	UserID          string     `json:"userId"`
	StartTime       time.Time  `json:"startTime"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	DurationMinutes int        `json:"durationMinutes"`
	IsActive        bool       `json:"isActive"`
}

const (
	TimesheetStatusDraft     = "draft"
	TimesheetStatusSubmitted = "submitted"
	TimesheetStatusApproved  = "approved"
	TimesheetStatusRejected  = "rejected"
)

type Timesheet struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	WeekStart time.Time `json:"weekStart"`
	WeekEnd   time.Time `json:"weekEnd"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// TimesheetEntry accumulates hours for one (timesheet, task, date) triple.
type TimesheetEntry struct {
	TimesheetID string    `json:"timesheetId"`
	TaskID      string    `json:"taskId"`
	TaskTitle   string    `json:"taskTitle,omitempty"`
	EntryDate   time.Time `json:"entryDate"`
	Hours       float64   `json:"hours"`
}

const (
	ExtraHoursPending  = "pending"
	ExtraHoursApproved = "approved"
	ExtraHoursRejected = "rejected"
)

type ExtraHoursRequest struct {
	ID                     string     `json:"id"`
	TaskID                 string     `json:"taskId"`
	RequestedBy            string     `json:"requestedBy"`
	RequestedHours         float64    `json:"requestedHours"`
	Reason                 string     `json:"reason"`
	PreviousAllocatedHours float64    `json:"previousAllocatedHours"`
	ApprovedAllocatedHours *float64   `json:"approvedAllocatedHours,omitempty"`
	Status                 string     `json:"status"`
	ReviewedBy             string     `json:"reviewedBy,omitempty"`
	ReviewedAt             *time.Time `json:"reviewedAt,omitempty"`
	CreatedAt              time.Time  `json:"createdAt"`
}

// TaskStatusSummary is one row of the grouped-by-status task report, allocated
// versus consumed hours included.
type TaskStatusSummary struct {
	Task           Task    `json:"task"`
	ConsumedHours  float64 `json:"consumedHours"`
	RemainingHours float64 `json:"remainingHours"`
}
