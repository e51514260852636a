package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"classmark/internal/auth"
)

var (
	// ErrUsernameTaken means an account with this username exists.
	ErrUsernameTaken = errors.New("username already exists")
	// ErrInvalidCredentials covers both unknown usernames and wrong
	// passwords, deliberately indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrPasswordTooShort rejects passwords under six characters.
	ErrPasswordTooShort = errors.New("password must be at least 6 characters")
	// ErrNotFound means no account matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrRetryRegistration means the generated student id collided
	// with an existing one. Ids are derived from the registration
	// instant, so an immediate retry gets a fresh id.
	ErrRetryRegistration = errors.New("could not allocate a student id, please try again")
)

// User is an authenticated account. Course is only set for students.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	Email        string    `json:"email,omitempty"`
	Course       string    `json:"course,omitempty"`
	Role         string    `json:"role"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Repository persists accounts in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the users table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			name          TEXT NOT NULL,
			email         TEXT NOT NULL DEFAULT '',
			course        TEXT NOT NULL DEFAULT '',
			role          TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			registered_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// RegisterStudent creates a student account. The generated student id
// is "ST" plus the last six digits of the creation instant in millis.
func (r *Repository) RegisterStudent(ctx context.Context, username, name, email, course, password string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" || name == "" {
		return User{}, errors.New("username and name required")
	}
	if len(password) < 6 {
		return User{}, ErrPasswordTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	now := time.Now()
	u := User{
		ID:           newStudentID(now),
		Username:     username,
		Name:         name,
		Email:        email,
		Course:       course,
		Role:         auth.RoleStudent,
		RegisteredAt: now.UTC(),
	}

	var taken bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username,
	).Scan(&taken); err != nil {
		return User{}, err
	}
	if taken {
		return User{}, ErrUsernameTaken
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, name, email, course, role, password_hash, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, u.Username, u.Name, u.Email, u.Course, u.Role, string(hash), u.RegisteredAt)
	if err != nil {
		return User{}, registerConflict(err)
	}
	return u, nil
}

// newStudentID derives a student id from the registration instant:
// "ST" plus the last six digits of the epoch millis.
func newStudentID(now time.Time) string {
	return fmt.Sprintf("ST%06d", now.UnixMilli()%1_000_000)
}

// pgUniqueViolation is the Postgres error code for unique-constraint
// violations.
const pgUniqueViolation = "23505"

// registerConflict maps insert-time unique violations to typed errors:
// a racing signup with the same username, or a collision on the
// instant-derived id (the id space repeats, so a retry resolves it).
func registerConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		if strings.Contains(pgErr.ConstraintName, "username") {
			return ErrUsernameTaken
		}
		return ErrRetryRegistration
	}
	return err
}

// EnsureTeacher creates the teacher account when missing, so a fresh
// deployment has a working roster login.
func (r *Repository) EnsureTeacher(ctx context.Context, username, name, password string) error {
	var taken bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username,
	).Scan(&taken); err != nil {
		return err
	}
	if taken {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, name, email, course, role, password_hash, registered_at)
		VALUES ($1, $2, $3, '', '', $4, $5, NOW())
	`, "T"+username, username, name, auth.RoleTeacher, string(hash))
	return err
}

// Authenticate verifies credentials and returns the account.
func (r *Repository) Authenticate(ctx context.Context, username, password string) (User, error) {
	var (
		u    User
		hash string
	)
	row := r.db.QueryRowContext(ctx, `
		SELECT id, username, name, email, course, role, password_hash, registered_at
		FROM users WHERE username = $1
	`, username)
	if err := row.Scan(&u.ID, &u.Username, &u.Name, &u.Email, &u.Course, &u.Role, &hash, &u.RegisteredAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

// GetByUsername returns the account for a token subject.
func (r *Repository) GetByUsername(ctx context.Context, username string) (User, error) {
	var u User
	row := r.db.QueryRowContext(ctx, `
		SELECT id, username, name, email, course, role, registered_at
		FROM users WHERE username = $1
	`, username)
	if err := row.Scan(&u.ID, &u.Username, &u.Name, &u.Email, &u.Course, &u.Role, &u.RegisteredAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}
