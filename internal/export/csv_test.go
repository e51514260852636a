package export

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classmark/internal/attendance"
)

func TestCSV(t *testing.T) {
	records := []attendance.Record{
		{
			ID:          "1710500000000",
			StudentID:   "ST001",
			StudentName: "John Smith",
			Course:      "BCA",
			Timestamp:   time.Date(2024, 3, 15, 10, 13, 20, 0, time.UTC),
			Status:      attendance.StatusPresent,
		},
		{
			ID:          "1710500060000",
			StudentID:   "ST002",
			StudentName: "Jane Doe",
			Course:      "BBA",
			Timestamp:   time.Date(2024, 3, 15, 10, 14, 20, 0, time.UTC),
			Status:      attendance.StatusPresent,
		},
	}

	data, err := CSV(records, time.UTC)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Student ID,Student Name,Course,Date,Time,Status", lines[0])
	assert.Equal(t, "ST001,John Smith,BCA,2024-03-15,10:13:20,Present", lines[1])
	assert.Equal(t, "ST002,Jane Doe,BBA,2024-03-15,10:14:20,Present", lines[2])
}

func TestCSV_Empty(t *testing.T) {
	data, err := CSV(nil, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "Student ID,Student Name,Course,Date,Time,Status\n", string(data))
}

func TestFilename(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "attendance_2024-03-15.csv", Filename(now))
}
