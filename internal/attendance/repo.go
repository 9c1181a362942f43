package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"classattend/internal/directory"
)

// Postgres class 23505, unique_violation.
const uniqueViolation = "23505"

// PostgresRepository persists attendance rows in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert writes one attendance row. A unique constraint violation on
// (student_id, session_id) comes back as ErrAlreadyRecorded, so a concurrent
// duplicate that slipped past the pre-check resolves to the same outcome.
func (r *PostgresRepository) Insert(ctx context.Context, studentID, sessionID string, at time.Time) (Attendance, error) {
	att := Attendance{
		ID:        uuid.NewString(),
		StudentID: studentID,
		SessionID: sessionID,
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendances (id, student_id, session_id, recorded_at)
		VALUES ($1, $2, $3, $4)
		RETURNING recorded_at
	`, att.ID, studentID, sessionID, at)
	if err := row.Scan(&att.Timestamp); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Attendance{}, ErrAlreadyRecorded
		}
		return Attendance{}, err
	}
	return att, nil
}

// Exists reports whether an attendance row already exists for the pair.
func (r *PostgresRepository) Exists(ctx context.Context, studentID, sessionID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM attendances WHERE student_id = $1 AND session_id = $2
	`, studentID, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

const joinedColumns = `
	a.id, a.student_id, a.session_id, a.recorded_at,
	u.id, u.first_name, u.last_name, u.email, COALESCE(u.index_number, '')`

// ListBySession returns a session's attendance with student detail, oldest first.
func (r *PostgresRepository) ListBySession(ctx context.Context, sessionID string) ([]Attendance, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+joinedColumns+`
		FROM attendances a
		JOIN users u ON u.id = a.student_id
		WHERE a.session_id = $1
		ORDER BY a.recorded_at ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	return collectJoined(rows)
}

// ListByStudent returns a student's attendance, newest first.
func (r *PostgresRepository) ListByStudent(ctx context.Context, studentID string) ([]Attendance, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+joinedColumns+`
		FROM attendances a
		JOIN users u ON u.id = a.student_id
		WHERE a.student_id = $1
		ORDER BY a.recorded_at DESC
	`, studentID)
	if err != nil {
		return nil, err
	}
	return collectJoined(rows)
}

// ListBySubject returns every attendance across the subject's sessions,
// joined with session start times. Statistics must see the full set, so no
// pagination here.
func (r *PostgresRepository) ListBySubject(ctx context.Context, subjectID string) ([]SubjectRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.student_id, a.session_id, cs.start_time,
		       u.id, u.first_name, u.last_name, u.email, COALESCE(u.index_number, '')
		FROM attendances a
		JOIN class_sessions cs ON cs.id = a.session_id
		JOIN users u ON u.id = a.student_id
		WHERE cs.subject_id = $1
	`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []SubjectRecord
	for rows.Next() {
		var rec SubjectRecord
		if err := rows.Scan(&rec.StudentID, &rec.SessionID, &rec.SessionStart,
			&rec.Student.ID, &rec.Student.FirstName, &rec.Student.LastName,
			&rec.Student.Email, &rec.Student.IndexNumber); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func collectJoined(rows *sql.Rows) ([]Attendance, error) {
	defer rows.Close()
	var res []Attendance
	for rows.Next() {
		var att Attendance
		var student struct {
			id, first, last, email, index string
		}
		if err := rows.Scan(&att.ID, &att.StudentID, &att.SessionID, &att.Timestamp,
			&student.id, &student.first, &student.last, &student.email, &student.index); err != nil {
			return nil, err
		}
		att.Student = &directory.StudentInfo{
			ID:          student.id,
			FirstName:   student.first,
			LastName:    student.last,
			Email:       student.email,
			IndexNumber: student.index,
		}
		res = append(res, att)
	}
	return res, rows.Err()
}
