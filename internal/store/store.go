package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrInvalidRole rejects roles outside the known set.
var ErrInvalidRole = errors.New("store: invalid role")

// Roles.
const (
	RoleLearner = "learner"
	RoleAdmin   = "admin"
)

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	return role == RoleLearner || role == RoleAdmin
}

// User is an application account linked to an identity provider subject.
type User struct {
	ID          uuid.UUID `json:"id"`
	AuthSubject string    `json:"authSubject"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Attempt is one pronunciation practice attempt.
type Attempt struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"userId"`
	Phrase       string    `json:"phrase"`
	Score        *float32  `json:"score,omitempty"`
	RecordingKey *string   `json:"recordingKey,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// NewAttempt is the input to CreateAttempt.
type NewAttempt struct {
	UserID       uuid.UUID
	Phrase       string
	Score        *float32
	RecordingKey *string
}

// Store runs queries against Postgres.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New wraps an open pool.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id, auth_subject, email, display_name, role, created_at, updated_at`

// UpsertUserBySubject creates the user on first sign-in and refreshes the
// email afterwards. Display name and role are never overwritten.
func (s *Store) UpsertUserBySubject(ctx context.Context, subject, email, displayName string) (*User, error) {
	if subject == "" {
		return nil, errors.New("store: subject is required")
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, auth_subject, email, display_name, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'learner', $5, $5)
		ON CONFLICT (auth_subject) DO UPDATE
		   SET email = EXCLUDED.email,
		       updated_at = CASE WHEN users.email = EXCLUDED.email THEN users.updated_at ELSE EXCLUDED.updated_at END
		RETURNING `+userColumns,
		uuid.New(), subject, email, displayName, s.now().UTC(),
	)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

// GetUser loads a user by ID.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUserBySubject loads a user by identity provider subject.
func (s *Store) GetUserBySubject(ctx context.Context, subject string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE auth_subject = $1`, subject)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("get user by subject: %w", err)
	}
	return u, nil
}

// ListUsers returns users newest first.
func (s *Store) ListUsers(ctx context.Context, limit, offset int) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// UpdateUserRole changes a user's role.
func (s *Store) UpdateUserRole(ctx context.Context, id uuid.UUID, role string) (*User, error) {
	if !ValidRole(role) {
		return nil, ErrInvalidRole
	}
	row := s.db.QueryRowContext(ctx,
		`UPDATE users SET role = $2, updated_at = $3 WHERE id = $1 RETURNING `+userColumns,
		id, role, s.now().UTC(),
	)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("update role: %w", err)
	}
	return u, nil
}

// UpdateDisplayName changes a user's display name.
func (s *Store) UpdateDisplayName(ctx context.Context, id uuid.UUID, name string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE users SET display_name = $2, updated_at = $3 WHERE id = $1 RETURNING `+userColumns,
		id, strings.TrimSpace(name), s.now().UTC(),
	)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("update display name: %w", err)
	}
	return u, nil
}

const attemptColumns = `id, user_id, phrase, score, recording_key, created_at`

// CreateAttempt records a practice attempt.
func (s *Store) CreateAttempt(ctx context.Context, in NewAttempt) (*Attempt, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO practice_attempts (id, user_id, phrase, score, recording_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+attemptColumns,
		uuid.New(), in.UserID, in.Phrase, in.Score, in.RecordingKey, s.now().UTC(),
	)
	a, err := scanAttempt(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, fmt.Errorf("create attempt: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}
	return a, nil
}

// ListAttempts returns a user's attempts newest first.
func (s *Store) ListAttempts(ctx context.Context, userID uuid.UUID, limit int) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM practice_attempts WHERE user_id = $1 ORDER BY created_at DESC, id LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	attempts := []Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("list attempts: %w", err)
		}
		attempts = append(attempts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return attempts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.AuthSubject, &u.Email, &u.DisplayName, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func scanAttempt(row scanner) (*Attempt, error) {
	var (
		a     Attempt
		score sql.NullFloat64
		key   sql.NullString
	)
	err := row.Scan(&a.ID, &a.UserID, &a.Phrase, &score, &key, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if score.Valid {
		v := float32(score.Float64)
		a.Score = &v
	}
	if key.Valid {
		a.RecordingKey = &key.String
	}
	return &a, nil
}
