package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"gymops/internal/attendance"
)

// AttendanceDay writes the day's attendance log as an XLSX workbook: one row
// per record plus a summary sheet.
func AttendanceDay(w io.Writer, day time.Time, records []attendance.Record, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	logSheet := "Log " + day.Format(time.DateOnly)
	if err := f.SetSheetName(sheet, logSheet); err != nil {
		return err
	}

	header := []interface{}{"time", "member_id", "member_name", "log_type", "attended_type", "class_id"}
	if err := f.SetSheetRow(logSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, r := range records {
		classID := ""
		if r.ClassID != nil {
			classID = *r.ClassID
		}
		row := []interface{}{
			r.Timestamp.In(loc).Format("15:04:05"),
			r.MemberID,
			r.MemberName,
			string(r.LogType),
			string(r.AttendedType),
			classID,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(logSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	sum := attendance.Summarize(records, time.Now().In(loc))
	if _, err := f.NewSheet("Summary"); err != nil {
		return err
	}
	rows := [][]interface{}{
		{"date", day.Format(time.DateOnly)},
		{"total_checkins", sum.TotalCheckins},
		{"currently_in_gym", sum.CurrentlyIn},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Summary", cell, &row); err != nil {
			return err
		}
	}

	_, err := f.WriteTo(w)
	return err
}
