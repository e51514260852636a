package attendance

import (
	"encoding/json"
	"strconv"
	"time"

	"classmark/internal/guard"
)

// StatusPresent is the only status this service produces. Absences are
// whatever the roster does not contain.
const StatusPresent = "Present"

// Record is one accepted presence mark. Records are immutable once
// created; the (StudentID, Course, calendar day) triple is unique.
type Record struct {
	ID          string             `json:"id"`
	StudentID   string             `json:"studentId"`
	StudentName string             `json:"studentName"`
	Course      string             `json:"course"`
	Timestamp   time.Time          `json:"timestamp"`
	Status      string             `json:"status"`
	Fingerprint *guard.Fingerprint `json:"deviceFingerprint,omitempty"`
	Location    *guard.Location    `json:"location,omitempty"`
	IPAddress   string             `json:"ipAddress,omitempty"`
}

// recordJSON is the wire shape. The id field has been both a number
// (epoch millis) and a string across snapshot generations.
type recordJSON struct {
	ID          json.Number        `json:"id"`
	StudentID   string             `json:"studentId"`
	StudentName string             `json:"studentName"`
	Course      string             `json:"course"`
	Timestamp   time.Time          `json:"timestamp"`
	Status      string             `json:"status"`
	Fingerprint *guard.Fingerprint `json:"deviceFingerprint,omitempty"`
	Location    *guard.Location    `json:"location,omitempty"`
	IPAddress   string             `json:"ipAddress,omitempty"`
}

// UnmarshalJSON accepts both the numeric and the string id shape.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w recordJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = Record{
		ID:          w.ID.String(),
		StudentID:   w.StudentID,
		StudentName: w.StudentName,
		Course:      w.Course,
		Timestamp:   w.Timestamp,
		Status:      w.Status,
		Fingerprint: w.Fingerprint,
		Location:    w.Location,
		IPAddress:   w.IPAddress,
	}
	return nil
}

// NewRecord builds the record for an accepted mark. The id is derived
// from the creation instant, matching the historical snapshots.
func NewRecord(studentID, studentName, course string, now time.Time, fp *guard.Fingerprint, loc *guard.Location, ip string) Record {
	return Record{
		ID:          strconv.FormatInt(now.UnixMilli(), 10),
		StudentID:   studentID,
		StudentName: studentName,
		Course:      course,
		Timestamp:   now,
		Status:      StatusPresent,
		Fingerprint: fp,
		Location:    loc,
		IPAddress:   ip,
	}
}

// guardMark projects the record into the guard's view.
func (r Record) guardMark() guard.Mark {
	return guard.Mark{
		StudentID:   r.StudentID,
		Course:      r.Course,
		Timestamp:   r.Timestamp,
		Fingerprint: r.Fingerprint,
	}
}
