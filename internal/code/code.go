package code

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultTTL is how long a class code stays valid after issuance.
const DefaultTTL = 300 * time.Second

var (
	// ErrMalformedCode means the token does not match the
	// COURSE-YYYY-MM-DD[-millis] grammar.
	ErrMalformedCode = errors.New("class code is malformed")
	// ErrCodeExpired means the issuance window has passed.
	ErrCodeExpired = errors.New("class code has expired")
	// ErrWrongDate means the code was issued for a different calendar day.
	ErrWrongDate = errors.New("class code is not valid today")
)

// Issued is the payload of a successfully validated class code.
type Issued struct {
	Course    string
	ClassDate time.Time // midnight of the issuance day in the validator's location
	IssuedAt  time.Time // zero when the token carries no issue instant
}

// Validator checks class-code tokens against the clock and calendar.
// It holds no state beyond its configuration and performs no I/O.
type Validator struct {
	ttl time.Duration
	loc *time.Location
}

// NewValidator creates a validator. A non-positive ttl falls back to
// DefaultTTL; a nil location falls back to the process-local timezone,
// which is what the marking clients use for their calendar too.
func NewValidator(ttl time.Duration, loc *time.Location) *Validator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if loc == nil {
		loc = time.Local
	}
	return &Validator{ttl: ttl, loc: loc}
}

// Validate parses token and decides whether it grants a mark at instant now.
//
// The token is split on "-": course, year, month and day are mandatory,
// the fifth segment (issue instant, epoch millis) is optional. A token
// without an issue instant never expires by clock; every token is still
// bound to its issuance calendar day. Expiry is checked before the day
// rule, so a stale code for the wrong day reports expiry.
func (v *Validator) Validate(token string, now time.Time) (Issued, error) {
	parts := strings.Split(token, "-")
	if len(parts) < 4 {
		return Issued{}, ErrMalformedCode
	}
	course := parts[0]

	var issuedAt time.Time
	if len(parts) >= 5 {
		millis, err := strconv.ParseInt(parts[4], 10, 64)
		if err != nil {
			return Issued{}, fmt.Errorf("%w: issue instant %q", ErrMalformedCode, parts[4])
		}
		issuedAt = time.UnixMilli(millis)
		if now.Sub(issuedAt) > v.ttl {
			return Issued{}, ErrCodeExpired
		}
	}

	year, yerr := strconv.Atoi(parts[1])
	month, merr := strconv.Atoi(parts[2])
	day, derr := strconv.Atoi(parts[3])
	if yerr != nil || merr != nil || derr != nil {
		// An unparseable date can never match today.
		return Issued{}, ErrWrongDate
	}
	classDate := time.Date(year, time.Month(month), day, 0, 0, 0, 0, v.loc)
	if !classDate.Equal(Midnight(now, v.loc)) {
		return Issued{}, ErrWrongDate
	}

	return Issued{Course: course, ClassDate: classDate, IssuedAt: issuedAt}, nil
}

// Midnight truncates t to the start of its calendar day in loc.
func Midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Issue builds the class-code token for a course session starting at now.
// The course short code becomes the first token segment, so it must not
// contain the delimiter itself.
func Issue(course string, now time.Time) (string, error) {
	course = strings.TrimSpace(course)
	if course == "" {
		return "", errors.New("course required")
	}
	if strings.Contains(course, "-") {
		return "", errors.New("course must not contain '-'")
	}
	y, m, d := now.Date()
	return fmt.Sprintf("%s-%04d-%02d-%02d-%d", course, y, int(m), d, now.UnixMilli()), nil
}

// QRPNG renders a token as a QR code PNG for display to the class.
func QRPNG(token string, size int) ([]byte, error) {
	if size <= 0 {
		size = 200
	}
	return qrcode.Encode(token, qrcode.Medium, size)
}
