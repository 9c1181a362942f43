// Package attendance records scanned presence exactly once per student and
// session, serves the attendance read paths, and derives per-subject
// statistics.
package attendance

import (
	"errors"
	"time"

	"classattend/internal/directory"
)

// Attendance is one confirmed presence record. Immutable once created.
type Attendance struct {
	ID        string                 `json:"id"`
	StudentID string                 `json:"studentId"`
	SessionID string                 `json:"sessionId"`
	Timestamp time.Time              `json:"timestamp"`
	Student   *directory.StudentInfo `json:"student,omitempty"`
}

// SubjectRecord is one attendance joined with its session, the statistics input.
type SubjectRecord struct {
	StudentID    string
	SessionID    string
	SessionStart time.Time
	Student      directory.StudentInfo
}

// StudentStatistics is one student's attendance summary for a subject.
type StudentStatistics struct {
	Student              directory.StudentInfo `json:"student"`
	AttendedClasses      int                   `json:"attendedClasses"`
	TotalClasses         int                   `json:"totalClasses"`
	AttendancePercentage int                   `json:"attendancePercentage"`
	AttendedDates        []string              `json:"attendedDates"`
}

// SubjectStatistics aggregates a subject's attendance over its held sessions.
type SubjectStatistics struct {
	SubjectID         string              `json:"subjectId"`
	TotalHeldSessions int                 `json:"totalHeldSessions"`
	Statistics        []StudentStatistics `json:"statistics"`
	ClassDates        []string            `json:"classDates"`
}

var (
	// ErrInvalidToken is returned when no session holds the scanned token.
	ErrInvalidToken = errors.New("scan token is not valid")
	// ErrSessionInactive is returned when the token's session is not active.
	ErrSessionInactive = errors.New("session is not active")
	// ErrTokenExpired is returned when the token's validity window has passed.
	ErrTokenExpired = errors.New("scan token has expired")
	// ErrNotEnrolled is returned when the student is not enrolled in the subject.
	ErrNotEnrolled = errors.New("student is not enrolled in this subject")
	// ErrAlreadyRecorded is returned when attendance for the student and
	// session already exists, whichever side of the race detected it.
	ErrAlreadyRecorded = errors.New("attendance already recorded")
	// ErrUnauthorized is returned on role or ownership violations.
	ErrUnauthorized = errors.New("operation not allowed for this caller")
)
