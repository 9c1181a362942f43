// Package directory exposes the people side of the system: who a caller is,
// which students exist, who teaches a subject, and who is enrolled in it.
// The attendance core consumes these as read-only lookups; user, subject and
// enrollment management happens elsewhere.
package directory

import (
	"context"
	"database/sql"
	"errors"
)

// Role is the coarse permission level carried in the access token.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Identity is the authenticated caller of an operation.
type Identity struct {
	ID   string
	Role Role
}

// StudentInfo carries the display fields denormalized into attendance payloads.
type StudentInfo struct {
	ID          string `json:"id"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	IndexNumber string `json:"indexNumber,omitempty"`
}

// ErrUserNotFound is returned when a lookup matches no user.
var ErrUserNotFound = errors.New("user not found")

// Directory answers identity and enrollment questions from Postgres.
type Directory struct {
	db *sql.DB
}

// New creates a directory backed by the given database.
func New(db *sql.DB) *Directory {
	return &Directory{db: db}
}

// Exists reports whether the student is enrolled in the subject.
func (d *Directory) Exists(ctx context.Context, studentID, subjectID string) (bool, error) {
	var one int
	err := d.db.QueryRowContext(ctx, `
		SELECT 1 FROM enrollments WHERE student_id = $1 AND subject_id = $2
	`, studentID, subjectID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsTeacherOrAdminFor reports whether the caller may manage the subject:
// admins always, otherwise the teacher of record or an assigned co-teacher.
func (d *Directory) IsTeacherOrAdminFor(ctx context.Context, caller Identity, subjectID string) (bool, error) {
	if caller.Role == RoleAdmin {
		return true, nil
	}
	if caller.Role != RoleTeacher {
		return false, nil
	}
	var one int
	err := d.db.QueryRowContext(ctx, `
		SELECT 1 FROM subjects s
		LEFT JOIN subject_teachers st ON st.subject_id = s.id
		WHERE s.id = $1 AND (s.teacher_id = $2 OR st.teacher_id = $2)
		LIMIT 1
	`, subjectID, caller.ID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Student returns display fields for one user.
func (d *Directory) Student(ctx context.Context, id string) (*StudentInfo, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, email, COALESCE(index_number, '')
		FROM users WHERE id = $1
	`, id)
	var info StudentInfo
	if err := row.Scan(&info.ID, &info.FirstName, &info.LastName, &info.Email, &info.IndexNumber); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &info, nil
}

// FindByEmail resolves a user for token issuance.
func (d *Directory) FindByEmail(ctx context.Context, email string) (Identity, error) {
	row := d.db.QueryRowContext(ctx, `SELECT id, role FROM users WHERE email = $1`, email)
	var ident Identity
	if err := row.Scan(&ident.ID, &ident.Role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, ErrUserNotFound
		}
		return Identity{}, err
	}
	return ident, nil
}
