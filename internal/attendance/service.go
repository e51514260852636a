package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"classmark/internal/code"
	"classmark/internal/guard"
	"classmark/internal/queue"
)

var (
	// ErrAlreadyMarked means attendance for this student, course and
	// calendar day already exists.
	ErrAlreadyMarked = errors.New("attendance already marked for this class today")
	// ErrSuspiciousDevice means the proxy-attendance heuristic fired.
	ErrSuspiciousDevice = errors.New("suspicious activity detected")
)

// SyncMessageType labels queue messages carrying a record whose remote
// write needs to be retried by the worker.
const SyncMessageType = "sync"

// MarkRequest is one marking attempt. Fingerprint, Location and
// IPAddress are best-effort enrichments; their absence never blocks or
// alters the decision.
type MarkRequest struct {
	StudentID   string
	StudentName string
	Token       string
	Fingerprint *guard.Fingerprint
	Location    *guard.Location
	IPAddress   string
}

// MarkResult is the outcome of an accepted mark. Degraded reports that
// the record only reached the local cache.
type MarkResult struct {
	Record   Record
	Degraded bool
}

// Service wires code validation, the attendance guard and persistence
// into the marking flow. The decision logic itself stays in the pure
// components; the service owns I/O and ordering.
type Service struct {
	validator *code.Validator
	guard     *guard.Guard
	repo      *Repository
	queue     queue.Queue
}

// NewService creates the marking service. q may be nil when no sync
// worker is deployed; degraded records then wait for the next manual
// save.
func NewService(validator *code.Validator, g *guard.Guard, repo *Repository, q queue.Queue) *Service {
	return &Service{validator: validator, guard: g, repo: repo, queue: q}
}

// Mark validates the class code, checks the candidate against the
// current record snapshot and persists the record on acceptance.
//
// Each call evaluates against the snapshot loaded for this attempt.
// Two sessions racing on the same (student, course, day) can therefore
// both be accepted; the backend offers no transaction to close that
// window and the roster view tolerates the duplicate.
func (s *Service) Mark(ctx context.Context, req MarkRequest, now time.Time) (MarkResult, error) {
	issued, err := s.validator.Validate(req.Token, now)
	if err != nil {
		return MarkResult{}, err
	}

	records, degraded, err := s.repo.Load(ctx)
	if err != nil {
		return MarkResult{}, err
	}

	decision := s.guard.Evaluate(guard.Candidate{
		StudentID:   req.StudentID,
		Course:      issued.Course,
		Fingerprint: req.Fingerprint,
		Now:         now,
	}, marks(records))
	switch decision.Outcome {
	case guard.AlreadyMarked:
		return MarkResult{}, ErrAlreadyMarked
	case guard.SuspiciousDevice:
		return MarkResult{}, ErrSuspiciousDevice
	}

	rec := NewRecord(req.StudentID, req.StudentName, issued.Course, now, req.Fingerprint, req.Location, req.IPAddress)
	if err := s.repo.Append(ctx, rec); err != nil {
		if !errors.Is(err, ErrPersistenceDegraded) {
			return MarkResult{}, err
		}
		degraded = true
		s.enqueueSync(ctx, rec)
	}

	return MarkResult{Record: rec, Degraded: degraded}, nil
}

// List returns the record set filtered by course and/or calendar day.
// Zero-value filters match everything.
func (s *Service) List(ctx context.Context, course string, day time.Time) ([]Record, bool, error) {
	records, degraded, err := s.repo.Load(ctx)
	if err != nil {
		return nil, degraded, err
	}
	filtered := records[:0:0]
	for _, rec := range records {
		if course != "" && rec.Course != course {
			continue
		}
		if !day.IsZero() && !sameDate(rec.Timestamp, day) {
			continue
		}
		filtered = append(filtered, rec)
	}
	return filtered, degraded, nil
}

func (s *Service) enqueueSync(ctx context.Context, rec Record) {
	if s.queue == nil {
		return
	}
	body, err := json.Marshal(rec)
	if err != nil {
		log.Printf("attendance: marshal sync record %s: %v", rec.ID, err)
		return
	}
	if err := s.queue.Publish(ctx, queue.Message{Type: SyncMessageType, Body: body}); err != nil {
		log.Printf("attendance: queue publish for record %s failed: %v", rec.ID, err)
	}
}

func marks(records []Record) []guard.Mark {
	out := make([]guard.Mark, len(records))
	for i, rec := range records {
		out[i] = rec.guardMark()
	}
	return out
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.In(b.Location()).Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
