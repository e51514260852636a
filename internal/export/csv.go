package export

import (
	"bytes"
	"encoding/csv"
	"time"

	"classmark/internal/attendance"
)

// csvHeader matches the columns the roster export has always had.
var csvHeader = []string{"Student ID", "Student Name", "Course", "Date", "Time", "Status"}

// CSV renders records as the roster export. Timestamps are split into
// date and time columns in loc.
func CSV(records []attendance.Record, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.Local
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, rec := range records {
		ts := rec.Timestamp.In(loc)
		row := []string{
			rec.StudentID,
			rec.StudentName,
			rec.Course,
			ts.Format("2006-01-02"),
			ts.Format("15:04:05"),
			rec.Status,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Filename names the download after the export day.
func Filename(now time.Time) string {
	return "attendance_" + now.Format("2006-01-02") + ".csv"
}
