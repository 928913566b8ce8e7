package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"tempo/api/internal/store"
)

// seedHours plants committed hours for a user/task/date without going through
// the service, so cap tests control the starting ledger exactly.
func (env *testEnv) seedHours(t *testing.T, userID, taskID string, day time.Time, hours float64) string {
	t.Helper()
	ctx := context.Background()
	sheet, derr := env.service.draftTimesheet(ctx, userID, day)
	if derr != nil {
		t.Fatalf("draft timesheet: %v", derr)
	}
	if _, err := env.ledger.AddEntryHours(ctx, sheet.ID, taskID, dateOf(day), hours); err != nil {
		t.Fatalf("seed hours: %v", err)
	}
	return sheet.ID
}

func TestPauseRejectedByDailyCap(t *testing.T) {
	env := newTestEnv(t)
	env.seed()
	env.atTime(baseTime)
	ctx := context.Background()

	env.seedHours(t, alice.ID, "t-2", baseTime, 7.5)

	if _, err := env.service.StartTimer(ctx, alice, "t-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.atTime(baseTime.Add(time.Hour))
	_, err := env.service.PauseTimer(ctx, alice, "t-1")
	if code := domainCode(t, err); code != CodeDailyCapExceeded {
		t.Fatalf("code = %q, want DAILY_CAP_EXCEEDED", code)
	}

	// Rejection leaves the timer fully intact: running cache entry and an
	// open ledger session, so nothing is silently lost.
	entry, _ := env.live.Get(ctx, alice.ID)
	if entry == nil || entry.TaskID != "t-1" {
		t.Fatalf("live entry = %+v, want running t-1", entry)
	}
	open, _ := env.ledger.FindOpenSession(ctx, alice.ID, "t-1")
	if open == nil {
		t.Fatal("session should remain open after cap rejection")
	}
}

func TestPauseDailyCapExemptForManagers(t *testing.T) {
	env := newTestEnv(t)
	env.seed()
	env.atTime(baseTime)
	ctx := context.Background()

	env.seedHours(t, mona.ID, "t-2", baseTime, 7.5)

	if _, err := env.service.StartTimer(ctx, mona, "t-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.atTime(baseTime.Add(time.Hour))
	if _, err := env.service.PauseTimer(ctx, mona, "t-1"); err != nil {
		t.Fatalf("manager pause should bypass caps: %v", err)
	}
}

func TestManualEntryRejectedByWeeklyCap(t *testing.T) {
	env := newTestEnv(t)
	env.seed()
	env.atTime(baseTime)

	// 38h spread earlier in the week; 3 more would breach 40.
	env.seedHours(t, alice.ID, "t-1", baseTime.AddDate(0, 0, -2), 8)
	env.seedHours(t, alice.ID, "t-2", baseTime.AddDate(0, 0, -1), 30)

	_, err := env.service.LogManualEntry(context.Background(), alice, "t-2", baseTime, 3)
	if code := domainCode(t, err); code != CodeWeeklyCapExceeded {
		t.Fatalf("code = %q, want WEEKLY_CAP_EXCEEDED", code)
	}
}

func TestPauseRejectedByAllocationCap(t *testing.T) {
	env := newTestEnv(t)
	env.seed()
	env.atTime(baseTime)
	ctx := context.Background()

	// 9.5 of 10 allocated hours consumed on an earlier day.
	env.seedHours(t, alice.ID, "t-1", baseTime.AddDate(0, 0, -1), 9.5)

	if _, err := env.service.StartTimer(ctx, alice, "t-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.atTime(baseTime.Add(36 * time.Minute)) // 0.6h, would total 10.1
	_, err := env.service.PauseTimer(ctx, alice, "t-1")
	if code := domainCode(t, err); code != CodeAllocationExceeded {
		t.Fatalf("code = %q, want ALLOCATION_EXCEEDED", code)
	}
}

func TestZeroAllocationMeansUnlimited(t *testing.T) {
	env := newTestEnv(t)
	env.seed()
	env.ledger.tasks["t-open"] = store.Task{ID: "t-open", Title: "Ongoing support", AssignedTo: alice.ID, AllocatedHours: 0, Status: store.TaskStatusInProgress}
	env.atTime(baseTime)
	ctx := context.Background()

	env.seedHours(t, alice.ID, "t-open", baseTime.AddDate(0, 0, -1), 6)

	if _, err := env.service.StartTimer(ctx, alice, "t-open"); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.atTime(baseTime.Add(time.Hour))
	snapshot, err := env.service.PauseTimer(ctx, alice, "t-open")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if snapshot.Warning != "" {
		t.Fatalf("warning = %q, want none for unlimited task", snapshot.Warning)
	}
	if snapshot.RemainingHours != 0 {
		t.Fatalf("remaining = %v", snapshot.RemainingHours)
	}
}

func TestAllocationWarningAtEightyPercent(t *testing.T) {
	env := newTestEnv(t)
	env.seed()
	env.atTime(baseTime)
	ctx := context.Background()

	// 7.5 prior + 0.6 elapsed = 8.1 of 10 allocated -> 81%.
	env.seedHours(t, alice.ID, "t-1", baseTime.AddDate(0, 0, -1), 7.5)

	if _, err := env.service.StartTimer(ctx, alice, "t-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.atTime(baseTime.Add(36 * time.Minute))
	snapshot, err := env.service.PauseTimer(ctx, alice, "t-1")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if snapshot.Warning != "81% of allocated hours used" {
		t.Fatalf("warning = %q", snapshot.Warning)
	}
}

func TestAllocationWarningAbsentBelowThreshold(t *testing.T) {
	if got := allocationWarning(10, 7.9); got != "" {
		t.Fatalf("warning = %q, want none at 79%%", got)
	}
	if got := allocationWarning(10, 8); !strings.HasPrefix(got, "80%") {
		t.Fatalf("warning = %q, want 80%% notice", got)
	}
}

func TestManualEntryReplacesStoredAmount(t *testing.T) {
	env := newTestEnv(t)
	env.seed()
	env.atTime(baseTime)
	ctx := context.Background()

	first, err := env.service.LogManualEntry(ctx, alice, "t-1", baseTime, 3)
	if err != nil {
		t.Fatalf("first entry: %v", err)
	}
	if first.EntryHours != 3 || first.DayHours != 3 {
		t.Fatalf("first = %+v", first)
	}

	// A second manual write for the same day replaces, never stacks.
	second, err := env.service.LogManualEntry(ctx, alice, "t-1", baseTime, 2)
	if err != nil {
		t.Fatalf("second entry: %v", err)
	}
	if second.EntryHours != 2 || second.DayHours != 2 || second.ConsumedHours != 2 {
		t.Fatalf("second = %+v", second)
	}
}

func TestManualEntryReplaceUsesNetDeltaForCaps(t *testing.T) {
	env := newTestEnv(t)
	env.seed()
	env.atTime(baseTime)
	ctx := context.Background()

	if _, err := env.service.LogManualEntry(ctx, alice, "t-1", baseTime, 7); err != nil {
		t.Fatalf("initial entry: %v", err)
	}
	// Raising 7 -> 8 keeps the day at exactly the cap; the old 7 must not be
	// double counted.
	if _, err := env.service.LogManualEntry(ctx, alice, "t-1", baseTime, 8); err != nil {
		t.Fatalf("replace to cap: %v", err)
	}
	_, err := env.service.LogManualEntry(ctx, alice, "t-1", baseTime, 8.5)
	if code := domainCode(t, err); code != CodeDailyCapExceeded {
		t.Fatalf("code = %q, want DAILY_CAP_EXCEEDED", code)
	}
}

func TestManualEntryRejectsOutOfRangeHours(t *testing.T) {
	env := newTestEnv(t)
	env.seed()

	for _, hours := range []float64{-1, 24.5} {
		_, err := env.service.LogManualEntry(context.Background(), alice, "t-1", baseTime, hours)
		if code := domainCode(t, err); code != CodeInvalidInput {
			t.Fatalf("hours %v: code = %q, want INVALID_INPUT", hours, code)
		}
	}
}

func TestLockedTimesheetBlocksEveryWrite(t *testing.T) {
	env := newTestEnv(t)
	env.seed()
	env.atTime(baseTime)
	ctx := context.Background()

	sheetID := env.seedHours(t, alice.ID, "t-1", baseTime, 1)
	env.ledger.timesheets[sheetID].Status = store.TimesheetStatusSubmitted

	_, err := env.service.LogManualEntry(ctx, alice, "t-1", baseTime, 2)
	if code := domainCode(t, err); code != CodeTimesheetLocked {
		t.Fatalf("manual: code = %q, want TIMESHEET_LOCKED", code)
	}

	// The lock also blocks the timer accrual path; the elevated-role
	// exemption covers caps only, never submitted weeks.
	if _, err := env.service.StartTimer(ctx, alice, "t-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.atTime(baseTime.Add(time.Minute))
	_, err = env.service.PauseTimer(ctx, alice, "t-1")
	if code := domainCode(t, err); code != CodeTimesheetLocked {
		t.Fatalf("timer: code = %q, want TIMESHEET_LOCKED", code)
	}
}
