package attendance

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classmark/internal/code"
	"classmark/internal/guard"
	"classmark/internal/queue"
	"classmark/internal/store"
)

var fingerprintFixture = guard.Fingerprint{
	ScreenDimensions: "1920x1080",
	Timezone:         "Asia/Kolkata",
	Locale:           "en-IN",
	Platform:         "Linux x86_64",
	UserAgent:        "Mozilla/5.0",
	CanvasHash:       "c4nv4s",
}

var locationFixture = guard.Location{Latitude: 12.97, Longitude: 77.59, Accuracy: 20}

func newTestService(remote, cache store.Store, q queue.Queue) *Service {
	validator := code.NewValidator(0, time.UTC)
	g := guard.New(0, time.UTC)
	repo := NewRepository(remote, cache, time.Second)
	return NewService(validator, g, repo, q)
}

func TestMark_AcceptThenDuplicate(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(store.NewMemory(), store.NewMemory(), nil)

	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	token, err := code.Issue("BCA", now)
	require.NoError(t, err)

	req := MarkRequest{
		StudentID:   "ST001",
		StudentName: "John Smith",
		Token:       token,
		Fingerprint: &fingerprintFixture,
		Location:    &locationFixture,
		IPAddress:   "203.0.113.9",
	}

	result, err := svc.Mark(ctx, req, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, result.Degraded)
	assert.Equal(t, "ST001", result.Record.StudentID)
	assert.Equal(t, "BCA", result.Record.Course)
	assert.Equal(t, StatusPresent, result.Record.Status)
	assert.NotEmpty(t, result.Record.ID)

	// Second attempt the same day: duplicate, a fresh code does not help.
	laterToken, err := code.Issue("BCA", now.Add(2*time.Hour))
	require.NoError(t, err)
	req.Token = laterToken
	_, err = svc.Mark(ctx, req, now.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrAlreadyMarked)
}

func TestMark_ExpiredToken(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(store.NewMemory(), store.NewMemory(), nil)

	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	token, err := code.Issue("BCA", now)
	require.NoError(t, err)

	_, err = svc.Mark(ctx, MarkRequest{StudentID: "ST001", StudentName: "John Smith", Token: token}, now.Add(301*time.Second))
	assert.ErrorIs(t, err, code.ErrCodeExpired)
}

func TestMark_ProxyDeviceRejected(t *testing.T) {
	ctx := context.Background()
	remote := store.NewMemory()
	svc := newTestService(remote, store.NewMemory(), nil)

	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

	// Student A marked five minutes ago on this device.
	prior := NewRecord("ST001", "John Smith", "BCA", now.Add(-5*time.Minute), &fingerprintFixture, nil, "")
	_, err := remote.Append(ctx, "attendance", prior)
	require.NoError(t, err)

	token, err := code.Issue("BCA", now)
	require.NoError(t, err)
	_, err = svc.Mark(ctx, MarkRequest{
		StudentID:   "ST002",
		StudentName: "Jane Doe",
		Token:       token,
		Fingerprint: &fingerprintFixture,
	}, now)
	assert.ErrorIs(t, err, ErrSuspiciousDevice)
}

func TestMark_DeviceReuseOutsideWindowAccepted(t *testing.T) {
	ctx := context.Background()
	remote := store.NewMemory()
	svc := newTestService(remote, store.NewMemory(), nil)

	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	prior := NewRecord("ST001", "John Smith", "BCA", now.Add(-15*time.Minute), &fingerprintFixture, nil, "")
	_, err := remote.Append(ctx, "attendance", prior)
	require.NoError(t, err)

	token, err := code.Issue("BCA", now)
	require.NoError(t, err)
	result, err := svc.Mark(ctx, MarkRequest{
		StudentID:   "ST002",
		StudentName: "Jane Doe",
		Token:       token,
		Fingerprint: &fingerprintFixture,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, "ST002", result.Record.StudentID)
}

func TestMark_MissingEnrichmentsStillAccepted(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(store.NewMemory(), store.NewMemory(), nil)

	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	token, err := code.Issue("BCA", now)
	require.NoError(t, err)

	result, err := svc.Mark(ctx, MarkRequest{StudentID: "ST001", StudentName: "John Smith", Token: token}, now)
	require.NoError(t, err)
	assert.Nil(t, result.Record.Fingerprint)
	assert.Nil(t, result.Record.Location)
	assert.Empty(t, result.Record.IPAddress)
}

func TestMark_DegradedRemoteStillAcceptsAndEnqueues(t *testing.T) {
	ctx := context.Background()
	q := queue.NewInMemory(4)
	svc := newTestService(failingStore{}, store.NewMemory(), q)

	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	token, err := code.Issue("BCA", now)
	require.NoError(t, err)

	result, err := svc.Mark(ctx, MarkRequest{StudentID: "ST001", StudentName: "John Smith", Token: token}, now)
	require.NoError(t, err)
	assert.True(t, result.Degraded)

	consumeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	messages, err := q.Consume(consumeCtx)
	require.NoError(t, err)
	select {
	case msg := <-messages:
		assert.Equal(t, SyncMessageType, msg.Type)
		var rec Record
		require.NoError(t, json.Unmarshal(msg.Body, &rec))
		assert.Equal(t, result.Record.ID, rec.ID)
	case <-consumeCtx.Done():
		t.Fatal("expected a sync message for the degraded record")
	}
}

func TestList_Filters(t *testing.T) {
	ctx := context.Background()
	remote := store.NewMemory()
	svc := newTestService(remote, store.NewMemory(), nil)

	day1 := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	for _, rec := range []Record{
		NewRecord("ST001", "John Smith", "BCA", day1, nil, nil, ""),
		NewRecord("ST002", "Jane Doe", "BBA", day1.Add(time.Minute), nil, nil, ""),
		NewRecord("ST001", "John Smith", "BCA", day2, nil, nil, ""),
	} {
		_, err := remote.Append(ctx, "attendance", rec)
		require.NoError(t, err)
	}

	records, _, err := svc.List(ctx, "", time.Time{})
	require.NoError(t, err)
	assert.Len(t, records, 3)

	records, _, err = svc.List(ctx, "BCA", time.Time{})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, _, err = svc.List(ctx, "BCA", code.Midnight(day1, time.UTC))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ST001", records[0].StudentID)
}
