package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"classattend/internal/broadcast"
	"classattend/internal/directory"
	"classattend/internal/metrics"
	"classattend/internal/session"
)

// Store is the persistence surface the service needs.
type Store interface {
	Insert(ctx context.Context, studentID, sessionID string, at time.Time) (Attendance, error)
	Exists(ctx context.Context, studentID, sessionID string) (bool, error)
	ListBySession(ctx context.Context, sessionID string) ([]Attendance, error)
	ListByStudent(ctx context.Context, studentID string) ([]Attendance, error)
	ListBySubject(ctx context.Context, subjectID string) ([]SubjectRecord, error)
}

// SessionStore exposes the raw session rows. Scan validation needs the stored
// state, not the lazily expired view, so it can distinguish an expired token
// from an inactive session.
type SessionStore interface {
	GetByID(ctx context.Context, id string) (session.Session, error)
	GetByToken(ctx context.Context, token string) (session.Session, error)
	ClearExpired(ctx context.Context, id, token string) (session.Session, error)
	ListHeld(ctx context.Context, subjectID string, t time.Time) ([]session.Session, error)
}

// EnrollmentChecker asserts a student may attend a subject's sessions.
type EnrollmentChecker interface {
	Exists(ctx context.Context, studentID, subjectID string) (bool, error)
}

// Authorizer mirrors the session package's management check.
type Authorizer interface {
	IsTeacherOrAdminFor(ctx context.Context, caller directory.Identity, subjectID string) (bool, error)
}

// StudentDirectory resolves display fields for broadcast payloads.
type StudentDirectory interface {
	Student(ctx context.Context, id string) (*directory.StudentInfo, error)
}

// Service validates scans, records attendance exactly once, and fans new
// records out to live observers.
type Service struct {
	store       Store
	sessions    SessionStore
	enrollments EnrollmentChecker
	authz       Authorizer
	students    StudentDirectory
	broadcaster broadcast.Broadcaster
	now         func() time.Time
}

// NewService creates a service.
func NewService(store Store, sessions SessionStore, enrollments EnrollmentChecker,
	authz Authorizer, students StudentDirectory, broadcaster broadcast.Broadcaster) *Service {
	return &Service{
		store:       store,
		sessions:    sessions,
		enrollments: enrollments,
		authz:       authz,
		students:    students,
		broadcaster: broadcaster,
		now:         time.Now,
	}
}

// WithClock overrides the service clock. For tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RecordScan validates the scanned token against session state, enrollment
// and prior attendance, then persists a single row. The Exists pre-check is a
// fast path only; the unique constraint is what guarantees at-most-once, and
// its violation surfaces as the same ErrAlreadyRecorded.
func (s *Service) RecordScan(ctx context.Context, token string, caller directory.Identity) (Attendance, error) {
	if caller.Role != directory.RoleStudent {
		metrics.ScansTotal.WithLabelValues("unauthorized").Inc()
		return Attendance{}, ErrUnauthorized
	}

	sess, err := s.sessions.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			metrics.ScansTotal.WithLabelValues("invalid_token").Inc()
			return Attendance{}, ErrInvalidToken
		}
		return Attendance{}, err
	}

	if !sess.IsActive {
		metrics.ScansTotal.WithLabelValues("inactive").Inc()
		return Attendance{}, ErrSessionInactive
	}

	if sess.Expired(s.now()) {
		// Deactivate now so later scans see an invalid token rather than
		// reporting expiry forever.
		if _, clearErr := s.sessions.ClearExpired(ctx, sess.ID, token); clearErr != nil {
			log.Printf("expired session cleanup failed for %s: %v", sess.ID, clearErr)
		}
		metrics.ScansTotal.WithLabelValues("expired").Inc()
		return Attendance{}, ErrTokenExpired
	}

	enrolled, err := s.enrollments.Exists(ctx, caller.ID, sess.SubjectID)
	if err != nil {
		return Attendance{}, err
	}
	if !enrolled {
		metrics.ScansTotal.WithLabelValues("not_enrolled").Inc()
		return Attendance{}, ErrNotEnrolled
	}

	if exists, err := s.store.Exists(ctx, caller.ID, sess.ID); err != nil {
		return Attendance{}, err
	} else if exists {
		metrics.ScansTotal.WithLabelValues("already_recorded").Inc()
		return Attendance{}, ErrAlreadyRecorded
	}

	att, err := s.store.Insert(ctx, caller.ID, sess.ID, s.now())
	if err != nil {
		if errors.Is(err, ErrAlreadyRecorded) {
			metrics.ScansTotal.WithLabelValues("already_recorded").Inc()
		}
		return Attendance{}, err
	}

	if student, err := s.students.Student(ctx, caller.ID); err != nil {
		log.Printf("student lookup failed for %s: %v", caller.ID, err)
	} else {
		att.Student = student
	}

	s.broadcaster.Publish(ctx, sess.ID, broadcast.Event{Attendance: broadcast.Attendance{
		ID:        att.ID,
		StudentID: att.StudentID,
		SessionID: att.SessionID,
		Timestamp: att.Timestamp.UTC().Format(time.RFC3339),
		Student:   att.Student,
	}})

	metrics.ScansTotal.WithLabelValues("recorded").Inc()
	return att, nil
}

// ForSession returns a session's attendance, oldest scan first. Restricted to
// the subject's teachers and admins.
func (s *Service) ForSession(ctx context.Context, sessionID string, caller directory.Identity) ([]Attendance, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ok, err := s.authz.IsTeacherOrAdminFor(ctx, caller, sess.SubjectID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnauthorized
	}
	return s.store.ListBySession(ctx, sessionID)
}

// ForStudent returns a student's attendance, newest first. Students may only
// see their own.
func (s *Service) ForStudent(ctx context.Context, studentID string, caller directory.Identity) ([]Attendance, error) {
	if caller.Role == directory.RoleStudent && caller.ID != studentID {
		return nil, ErrUnauthorized
	}
	return s.store.ListByStudent(ctx, studentID)
}

// Statistics computes each attending student's share of the subject's held
// sessions, with the dates attended in ascending order. Percentages are
// rounded to the nearest integer, 0 when nothing has been held yet.
func (s *Service) Statistics(ctx context.Context, subjectID string, caller directory.Identity) (SubjectStatistics, error) {
	ok, err := s.authz.IsTeacherOrAdminFor(ctx, caller, subjectID)
	if err != nil {
		return SubjectStatistics{}, err
	}
	if !ok {
		return SubjectStatistics{}, ErrUnauthorized
	}

	now := s.now()
	held, err := s.sessions.ListHeld(ctx, subjectID, now)
	if err != nil {
		return SubjectStatistics{}, fmt.Errorf("list held sessions: %w", err)
	}
	records, err := s.store.ListBySubject(ctx, subjectID)
	if err != nil {
		return SubjectStatistics{}, fmt.Errorf("list attendance: %w", err)
	}

	total := len(held)

	type agg struct {
		student directory.StudentInfo
		dates   []string
	}
	perStudent := make(map[string]*agg)
	var order []string
	for _, rec := range records {
		a, ok := perStudent[rec.StudentID]
		if !ok {
			a = &agg{student: rec.Student}
			perStudent[rec.StudentID] = a
			order = append(order, rec.StudentID)
		}
		a.dates = append(a.dates, rec.SessionStart.UTC().Format("2006-01-02"))
	}
	sort.Strings(order)

	stats := make([]StudentStatistics, 0, len(order))
	for _, studentID := range order {
		a := perStudent[studentID]
		sort.Strings(a.dates)
		attended := len(a.dates)
		pct := 0
		if total > 0 {
			pct = int(math.Round(float64(attended) / float64(total) * 100))
		}
		stats = append(stats, StudentStatistics{
			Student:              a.student,
			AttendedClasses:      attended,
			TotalClasses:         total,
			AttendancePercentage: pct,
			AttendedDates:        a.dates,
		})
	}

	classDates := make([]string, 0, len(held))
	for _, sess := range held {
		classDates = append(classDates, sess.StartTime.UTC().Format("2006-01-02"))
	}
	sort.Strings(classDates)

	return SubjectStatistics{
		SubjectID:         subjectID,
		TotalHeldSessions: total,
		Statistics:        stats,
		ClassDates:        classDates,
	}, nil
}
