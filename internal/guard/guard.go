package guard

import "time"

// DefaultProxyWindow is how far back fingerprint reuse is considered a
// proxy-attendance signal.
const DefaultProxyWindow = 10 * time.Minute

// Outcome is the guard's decision for one marking attempt.
type Outcome int

const (
	// Accept means the candidate may be recorded as present.
	Accept Outcome = iota
	// AlreadyMarked means a record for the same student, course and
	// calendar day already exists.
	AlreadyMarked
	// SuspiciousDevice means the candidate's device fingerprint was used
	// to mark a different student within the proxy window.
	SuspiciousDevice
)

func (o Outcome) String() string {
	switch o {
	case Accept:
		return "accept"
	case AlreadyMarked:
		return "already_marked"
	case SuspiciousDevice:
		return "suspicious_device"
	}
	return "unknown"
}

// Fingerprint identifies a marking device well enough for reuse
// comparison. It is never dereferenced to a person.
type Fingerprint struct {
	ScreenDimensions string `json:"screenDimensions"`
	Timezone         string `json:"timezone"`
	Locale           string `json:"locale"`
	Platform         string `json:"platform"`
	UserAgent        string `json:"userAgent"` // truncated by the client
	CanvasHash       string `json:"canvasHash"`
}

// SameDevice reports whether two fingerprints plausibly came from the
// same physical device. Only the rendering hash and screen dimensions
// participate; the remaining fields are too volatile across browsers.
func (f Fingerprint) SameDevice(other Fingerprint) bool {
	return f.CanvasHash != "" &&
		f.CanvasHash == other.CanvasHash &&
		f.ScreenDimensions == other.ScreenDimensions
}

// Location is a best-effort client geolocation. Absence never affects
// the marking decision; it is carried as record metadata only.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

// Candidate is one marking attempt to be judged.
type Candidate struct {
	StudentID   string
	Course      string
	Fingerprint *Fingerprint
	Now         time.Time
}

// Mark is the guard's view of an existing attendance record.
type Mark struct {
	StudentID   string
	Course      string
	Timestamp   time.Time
	Fingerprint *Fingerprint
}

// Decision is the result of evaluating a candidate. Conflict carries the
// existing record that triggered a rejection, nil on Accept.
type Decision struct {
	Outcome  Outcome
	Conflict *Mark
}

// Guard decides accept/reject for marking attempts. Each call is a pure
// function of the candidate and the supplied record snapshot.
type Guard struct {
	proxyWindow time.Duration
	loc         *time.Location
}

// New creates a guard. proxyWindow zero falls back to
// DefaultProxyWindow; a negative value disables proxy detection
// entirely, which matches the early deployments that captured no device
// fingerprints. A nil location falls back to the process-local timezone.
func New(proxyWindow time.Duration, loc *time.Location) *Guard {
	if proxyWindow == 0 {
		proxyWindow = DefaultProxyWindow
	}
	if loc == nil {
		loc = time.Local
	}
	return &Guard{proxyWindow: proxyWindow, loc: loc}
}

// Evaluate decides whether the candidate constitutes a valid, new,
// non-fraudulent presence record.
//
// The duplicate rule enforces the (student, course, calendar day)
// uniqueness invariant with a linear scan; record sets are at most a few
// thousand entries per day. The proxy rule flags the candidate when its
// fingerprint matches a record made for a different student within the
// trailing proxy window.
func (g *Guard) Evaluate(c Candidate, existing []Mark) Decision {
	for i := range existing {
		r := &existing[i]
		if r.StudentID == c.StudentID && r.Course == c.Course && g.sameDay(r.Timestamp, c.Now) {
			return Decision{Outcome: AlreadyMarked, Conflict: r}
		}
	}

	if g.proxyWindow > 0 && c.Fingerprint != nil {
		for i := range existing {
			r := &existing[i]
			if r.Fingerprint == nil || r.StudentID == c.StudentID {
				continue
			}
			if c.Now.Sub(r.Timestamp) > g.proxyWindow {
				continue
			}
			if c.Fingerprint.SameDevice(*r.Fingerprint) {
				return Decision{Outcome: SuspiciousDevice, Conflict: r}
			}
		}
	}

	return Decision{Outcome: Accept}
}

func (g *Guard) sameDay(a, b time.Time) bool {
	ay, am, ad := a.In(g.loc).Date()
	by, bm, bd := b.In(g.loc).Date()
	return ay == by && am == bm && ad == bd
}
