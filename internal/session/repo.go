package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

const sessionColumns = `id, subject_id, start_time, end_time, is_active, token, expires_at, created_at, updated_at`

// PostgresRepository persists sessions in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a scheduled session. Used by administrative seeding.
func (r *PostgresRepository) Create(ctx context.Context, subjectID string, start, end time.Time) (Session, error) {
	id := uuid.NewString()
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO class_sessions (id, subject_id, start_time, end_time)
		VALUES ($1, $2, $3, $4)
		RETURNING `+sessionColumns+`
	`, id, subjectID, start, end)
	return scanSession(row)
}

// GetByID returns a session row as stored, without expiry handling.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM class_sessions WHERE id = $1
	`, id)
	return scanSession(row)
}

// GetByToken returns the session currently holding the token.
func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM class_sessions WHERE token = $1
	`, token)
	return scanSession(row)
}

// Activate flips the session to active only if it is still inactive, so two
// concurrent activations cannot both succeed. Returns ErrAlreadyActive when
// another caller won the transition, ErrNotFound when the id is unknown.
func (r *PostgresRepository) Activate(ctx context.Context, id, token string, expiresAt time.Time) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE class_sessions
		SET is_active = TRUE, token = $2, expires_at = $3, updated_at = NOW()
		WHERE id = $1 AND is_active = FALSE
		RETURNING `+sessionColumns+`
	`, id, token, expiresAt)
	sess, err := scanSession(row)
	if errors.Is(err, ErrNotFound) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return Session{}, getErr
		}
		return Session{}, ErrAlreadyActive
	}
	return sess, err
}

// Deactivate clears the activation state unconditionally.
func (r *PostgresRepository) Deactivate(ctx context.Context, id string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE class_sessions
		SET is_active = FALSE, token = NULL, expires_at = NULL, updated_at = NOW()
		WHERE id = $1
		RETURNING `+sessionColumns+`
	`, id)
	return scanSession(row)
}

// ClearExpired deactivates only if the session still holds the given token,
// so a concurrent reactivation is never clobbered. Returns the row as it
// stands afterwards either way.
func (r *PostgresRepository) ClearExpired(ctx context.Context, id, token string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE class_sessions
		SET is_active = FALSE, token = NULL, expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND is_active = TRUE AND token = $2
		RETURNING `+sessionColumns+`
	`, id, token)
	sess, err := scanSession(row)
	if errors.Is(err, ErrNotFound) {
		return r.GetByID(ctx, id)
	}
	return sess, err
}

// ListHeld returns the subject's sessions that count as held at t.
func (r *PostgresRepository) ListHeld(ctx context.Context, subjectID string, t time.Time) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM class_sessions
		WHERE subject_id = $1 AND (end_time <= $2 OR is_active = TRUE)
		ORDER BY start_time
	`, subjectID, t)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		sess, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, sess)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row rowScanner) (Session, error) {
	var sess Session
	var token sql.NullString
	var expiresAt sql.NullTime
	if err := row.Scan(&sess.ID, &sess.SubjectID, &sess.StartTime, &sess.EndTime,
		&sess.IsActive, &token, &expiresAt, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return Session{}, err
	}
	if token.Valid {
		sess.Token = &token.String
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		sess.ExpiresAt = &t
	}
	return sess, nil
}

func scanSession(row *sql.Row) (Session, error) {
	sess, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return sess, err
}
