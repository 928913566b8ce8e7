package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"tempo/api/internal/store"
	"tempo/api/internal/util"
)

const (
	ReviewActionApprove = "approve"
	ReviewActionReject  = "reject"
)

// RequestExtraHours opens an approval workflow for more allocation on a task.
// The current allocation is snapshotted so concurrent edits cannot corrupt the
// eventual approval arithmetic.
func (s *Service) RequestExtraHours(ctx context.Context, principal Principal, taskID string, hours float64, reason string) (*store.ExtraHoursRequest, error) {
	if hours <= 0 {
		return nil, domainError(http.StatusBadRequest, CodeInvalidInput, "Requested hours must be positive", nil)
	}

	task, derr := s.loadTask(ctx, taskID)
	if derr != nil {
		return nil, derr
	}
	// Only the assignee can ask for more hours on their task; elevated roles
	// adjust allocations directly instead.
	if task.AssignedTo != principal.ID {
		return nil, errForbidden("Only the task assignee may request extra hours")
	}

	request := store.ExtraHoursRequest{
		ID:                     util.NewID("xhr"),
		TaskID:                 taskID,
		RequestedBy:            principal.ID,
		RequestedHours:         util.RoundHours(hours),
		Reason:                 reason,
		PreviousAllocatedHours: task.AllocatedHours,
		Status:                 store.ExtraHoursPending,
	}
	if err := s.store.InsertExtraHoursRequest(ctx, request); err != nil {
		return nil, fmt.Errorf("insert extra hours request: %w", err)
	}
	return &request, nil
}

// ReviewExtraHours records a terminal approve/reject decision. Approval sets
// the task allocation to the snapshot plus the requested hours.
func (s *Service) ReviewExtraHours(ctx context.Context, principal Principal, requestID, action string) (*store.ExtraHoursRequest, error) {
	if !s.authz.HasElevatedRole(principal) {
		return nil, errForbidden("Only elevated roles may review extra-hours requests")
	}
	if action != ReviewActionApprove && action != ReviewActionReject {
		return nil, domainError(http.StatusBadRequest, CodeInvalidInput, "Action must be approve or reject", nil)
	}

	request, err := s.store.GetExtraHoursRequest(ctx, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, CodeRequestNotFound, "Extra-hours request not found", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get extra hours request: %w", err)
	}

	now := s.now().UTC()
	status := store.ExtraHoursRejected
	var approvedHours *float64
	if action == ReviewActionApprove {
		status = store.ExtraHoursApproved
		approved := request.PreviousAllocatedHours + request.RequestedHours
		approvedHours = &approved
	}

	// The store applies the terminal review and, on approval, the new task
	// allocation in one transaction; the two can never diverge.
	reviewed, err := s.store.ReviewExtraHoursRequest(ctx, requestID, principal.ID, status, approvedHours, now)
	if err != nil {
		return nil, fmt.Errorf("review extra hours request: %w", err)
	}
	if !reviewed {
		return nil, domainError(http.StatusConflict, CodeAlreadyReviewed,
			"Request was already reviewed", map[string]any{"status": request.Status})
	}

	request.Status = status
	request.ApprovedAllocatedHours = approvedHours
	request.ReviewedBy = principal.ID
	request.ReviewedAt = &now
	return &request, nil
}

// PendingExtraHours lists requests awaiting review, visible to reviewers only.
func (s *Service) PendingExtraHours(ctx context.Context, principal Principal) ([]store.ExtraHoursRequest, error) {
	if !s.authz.HasElevatedRole(principal) {
		return nil, errForbidden("Only elevated roles may list pending requests")
	}
	items, err := s.store.ListPendingExtraHours(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending extra hours: %w", err)
	}
	return items, nil
}
