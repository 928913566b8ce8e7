// Package export renders weekly timesheets to Excel workbooks and optionally
// archives them to object storage.
package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"tempo/api/internal/store"
)

// WeeklyWorkbook renders one row per timesheet entry plus a totals row and
// returns the workbook bytes.
func WeeklyWorkbook(sheet store.Timesheet, entries []store.TimesheetEntry) ([]byte, error) {
	file := excelize.NewFile()
	defer file.Close()

	name := file.GetSheetName(0)
	headers := []string{"Date", "Task", "Hours"}
	for col, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := file.SetCellValue(name, cell, header); err != nil {
			return nil, fmt.Errorf("set excel header %s: %w", cell, err)
		}
	}

	total := 0.0
	for i, entry := range entries {
		row := i + 2
		values := []any{
			entry.EntryDate.Format("2006-01-02"),
			entry.TaskTitle,
			entry.Hours,
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := file.SetCellValue(name, cell, value); err != nil {
				return nil, fmt.Errorf("set excel value %s: %w", cell, err)
			}
		}
		total += entry.Hours
	}

	totalRow := len(entries) + 2
	labelCell, _ := excelize.CoordinatesToCellName(1, totalRow)
	if err := file.SetCellValue(name, labelCell, "Total"); err != nil {
		return nil, fmt.Errorf("set excel total label: %w", err)
	}
	totalCell, _ := excelize.CoordinatesToCellName(3, totalRow)
	if err := file.SetCellValue(name, totalCell, total); err != nil {
		return nil, fmt.Errorf("set excel total: %w", err)
	}

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// WorkbookName builds the canonical object/file name for a weekly export.
func WorkbookName(sheet store.Timesheet) string {
	return fmt.Sprintf("timesheet_%s_%s.xlsx", sheet.UserID, sheet.WeekStart.Format("2006-01-02"))
}
