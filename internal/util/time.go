package util

import (
	"fmt"
	"time"
)

// HMS breaks a second count into display components.
type HMS struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

func SplitSeconds(totalSeconds int) HMS {
	if totalSeconds < 0 {
		totalSeconds = 0
	}
	return HMS{
		Hours:   totalSeconds / 3600,
		Minutes: (totalSeconds % 3600) / 60,
		Seconds: totalSeconds % 60,
	}
}

func (h HMS) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", h.Hours, h.Minutes, h.Seconds)
}

// WeekRange returns the Monday and Sunday bounding the week that contains date,
// truncated to midnight in the date's location.
func WeekRange(date time.Time) (monday, sunday time.Time) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	offset := (int(day.Weekday()) + 6) % 7
	monday = day.AddDate(0, 0, -offset)
	sunday = monday.AddDate(0, 0, 6)
	return monday, sunday
}

// RoundHours rounds an hour figure to two decimal places, the precision stored
// in timesheet entries.
func RoundHours(hours float64) float64 {
	return float64(int64(hours*100+0.5)) / 100
}
