package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var base = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func fpA() *Fingerprint {
	return &Fingerprint{
		ScreenDimensions: "1920x1080",
		Timezone:         "Asia/Kolkata",
		Locale:           "en-IN",
		Platform:         "Linux x86_64",
		UserAgent:        "Mozilla/5.0",
		CanvasHash:       "c4nv4s",
	}
}

func TestEvaluate_AcceptsFirstMark(t *testing.T) {
	g := New(0, time.UTC)
	d := g.Evaluate(Candidate{StudentID: "ST001", Course: "BCA", Now: base}, nil)
	assert.Equal(t, Accept, d.Outcome)
	assert.Nil(t, d.Conflict)
}

func TestEvaluate_DuplicateSameDay(t *testing.T) {
	g := New(0, time.UTC)
	existing := []Mark{
		{StudentID: "ST001", Course: "BCA", Timestamp: base.Add(-2 * time.Hour)},
	}

	// Regardless of repetition, the duplicate always rejects.
	for i := 0; i < 3; i++ {
		d := g.Evaluate(Candidate{StudentID: "ST001", Course: "BCA", Now: base}, existing)
		assert.Equal(t, AlreadyMarked, d.Outcome)
		assert.NotNil(t, d.Conflict)
	}
}

func TestEvaluate_DifferentCourseOrDayIsNotDuplicate(t *testing.T) {
	g := New(0, time.UTC)

	d := g.Evaluate(Candidate{StudentID: "ST001", Course: "BBA", Now: base}, []Mark{
		{StudentID: "ST001", Course: "BCA", Timestamp: base.Add(-time.Hour)},
	})
	assert.Equal(t, Accept, d.Outcome)

	d = g.Evaluate(Candidate{StudentID: "ST001", Course: "BCA", Now: base}, []Mark{
		{StudentID: "ST001", Course: "BCA", Timestamp: base.AddDate(0, 0, -1)},
	})
	assert.Equal(t, Accept, d.Outcome)
}

func TestEvaluate_SuspiciousDeviceWithinWindow(t *testing.T) {
	g := New(0, time.UTC)
	existing := []Mark{
		{StudentID: "ST001", Course: "BCA", Timestamp: base.Add(-5 * time.Minute), Fingerprint: fpA()},
	}

	d := g.Evaluate(Candidate{StudentID: "ST002", Course: "BCA", Fingerprint: fpA(), Now: base}, existing)
	assert.Equal(t, SuspiciousDevice, d.Outcome)
	assert.Equal(t, "ST001", d.Conflict.StudentID)
}

func TestEvaluate_DeviceReuseOutsideWindow(t *testing.T) {
	g := New(0, time.UTC)
	existing := []Mark{
		{StudentID: "ST001", Course: "BCA", Timestamp: base.Add(-15 * time.Minute), Fingerprint: fpA()},
	}

	d := g.Evaluate(Candidate{StudentID: "ST002", Course: "BCA", Fingerprint: fpA(), Now: base}, existing)
	assert.Equal(t, Accept, d.Outcome)
}

func TestEvaluate_SameStudentSameDeviceIsFine(t *testing.T) {
	g := New(0, time.UTC)
	existing := []Mark{
		{StudentID: "ST001", Course: "BCA", Timestamp: base.Add(-5 * time.Minute), Fingerprint: fpA()},
	}

	// Same student on a different course: the device is theirs.
	d := g.Evaluate(Candidate{StudentID: "ST001", Course: "BBA", Fingerprint: fpA(), Now: base}, existing)
	assert.Equal(t, Accept, d.Outcome)
}

func TestEvaluate_FingerprintDetailsMustBothMatch(t *testing.T) {
	g := New(0, time.UTC)
	existing := []Mark{
		{StudentID: "ST001", Course: "BCA", Timestamp: base.Add(-5 * time.Minute), Fingerprint: fpA()},
	}

	other := fpA()
	other.ScreenDimensions = "1366x768"
	d := g.Evaluate(Candidate{StudentID: "ST002", Course: "BCA", Fingerprint: other, Now: base}, existing)
	assert.Equal(t, Accept, d.Outcome)

	other = fpA()
	other.CanvasHash = "different"
	d = g.Evaluate(Candidate{StudentID: "ST002", Course: "BCA", Fingerprint: other, Now: base}, existing)
	assert.Equal(t, Accept, d.Outcome)
}

func TestEvaluate_EmptyCanvasHashNeverMatches(t *testing.T) {
	g := New(0, time.UTC)
	blank := &Fingerprint{ScreenDimensions: "1920x1080"}
	existing := []Mark{
		{StudentID: "ST001", Course: "BCA", Timestamp: base.Add(-5 * time.Minute), Fingerprint: blank},
	}

	d := g.Evaluate(Candidate{StudentID: "ST002", Course: "BCA", Fingerprint: blank, Now: base}, existing)
	assert.Equal(t, Accept, d.Outcome)
}

func TestEvaluate_MissingFingerprintsSkipProxyCheck(t *testing.T) {
	g := New(0, time.UTC)
	existing := []Mark{
		{StudentID: "ST001", Course: "BCA", Timestamp: base.Add(-5 * time.Minute)},
	}

	d := g.Evaluate(Candidate{StudentID: "ST002", Course: "BCA", Fingerprint: fpA(), Now: base}, existing)
	assert.Equal(t, Accept, d.Outcome)

	d = g.Evaluate(Candidate{StudentID: "ST002", Course: "BCA", Now: base}, []Mark{
		{StudentID: "ST001", Course: "BCA", Timestamp: base.Add(-5 * time.Minute), Fingerprint: fpA()},
	})
	assert.Equal(t, Accept, d.Outcome)
}

func TestEvaluate_NegativeWindowDisablesProxyDetection(t *testing.T) {
	g := New(-1, time.UTC)
	existing := []Mark{
		{StudentID: "ST001", Course: "BCA", Timestamp: base.Add(-time.Minute), Fingerprint: fpA()},
	}

	d := g.Evaluate(Candidate{StudentID: "ST002", Course: "BCA", Fingerprint: fpA(), Now: base}, existing)
	assert.Equal(t, Accept, d.Outcome)
}

func TestEvaluate_DuplicateWinsOverProxySignal(t *testing.T) {
	g := New(0, time.UTC)
	existing := []Mark{
		{StudentID: "ST002", Course: "BCA", Timestamp: base.Add(-3 * time.Minute), Fingerprint: fpA()},
		{StudentID: "ST001", Course: "BCA", Timestamp: base.Add(-2 * time.Minute), Fingerprint: fpA()},
	}

	d := g.Evaluate(Candidate{StudentID: "ST001", Course: "BCA", Fingerprint: fpA(), Now: base}, existing)
	assert.Equal(t, AlreadyMarked, d.Outcome)
}
