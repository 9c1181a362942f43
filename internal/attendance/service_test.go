package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"classattend/internal/broadcast"
	"classattend/internal/directory"
	"classattend/internal/session"
)

var testNow = time.Date(2026, time.March, 9, 10, 0, 0, 0, time.UTC)

type fakeStore struct {
	existing  map[string]bool // studentID|sessionID
	insertErr error
	inserted  []Attendance
	bySubject []SubjectRecord
}

func key(studentID, sessionID string) string { return studentID + "|" + sessionID }

func (s *fakeStore) Insert(_ context.Context, studentID, sessionID string, at time.Time) (Attendance, error) {
	if s.insertErr != nil {
		return Attendance{}, s.insertErr
	}
	att := Attendance{ID: "att-1", StudentID: studentID, SessionID: sessionID, Timestamp: at}
	s.inserted = append(s.inserted, att)
	if s.existing == nil {
		s.existing = make(map[string]bool)
	}
	s.existing[key(studentID, sessionID)] = true
	return att, nil
}

func (s *fakeStore) Exists(_ context.Context, studentID, sessionID string) (bool, error) {
	return s.existing[key(studentID, sessionID)], nil
}

func (s *fakeStore) ListBySession(context.Context, string) ([]Attendance, error) {
	return s.inserted, nil
}

func (s *fakeStore) ListByStudent(context.Context, string) ([]Attendance, error) {
	return s.inserted, nil
}

func (s *fakeStore) ListBySubject(context.Context, string) ([]SubjectRecord, error) {
	return s.bySubject, nil
}

type fakeSessions struct {
	byToken   map[string]session.Session
	byID      map[string]session.Session
	held      []session.Session
	clearedID string
}

func (f *fakeSessions) GetByID(_ context.Context, id string) (session.Session, error) {
	s, ok := f.byID[id]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	return s, nil
}

func (f *fakeSessions) GetByToken(_ context.Context, token string) (session.Session, error) {
	s, ok := f.byToken[token]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	return s, nil
}

func (f *fakeSessions) ClearExpired(_ context.Context, id, token string) (session.Session, error) {
	f.clearedID = id
	s := f.byToken[token]
	s.IsActive = false
	s.Token = nil
	s.ExpiresAt = nil
	delete(f.byToken, token)
	if f.byID == nil {
		f.byID = make(map[string]session.Session)
	}
	f.byID[id] = s
	return s, nil
}

func (f *fakeSessions) ListHeld(context.Context, string, time.Time) ([]session.Session, error) {
	return f.held, nil
}

type fakeEnrollments struct{ enrolled bool }

func (f fakeEnrollments) Exists(context.Context, string, string) (bool, error) {
	return f.enrolled, nil
}

type fakeAuthz struct{ allow bool }

func (f fakeAuthz) IsTeacherOrAdminFor(context.Context, directory.Identity, string) (bool, error) {
	return f.allow, nil
}

type fakeStudents struct{}

func (fakeStudents) Student(_ context.Context, id string) (*directory.StudentInfo, error) {
	return &directory.StudentInfo{ID: id, FirstName: "Stela", LastName: "Student", Email: id + "@x"}, nil
}

type captureBroadcaster struct {
	events []broadcast.Event
	rooms  []string
}

func (c *captureBroadcaster) Publish(_ context.Context, sessionID string, evt broadcast.Event) {
	c.rooms = append(c.rooms, sessionID)
	c.events = append(c.events, evt)
}

func student() directory.Identity {
	return directory.Identity{ID: "stud-1", Role: directory.RoleStudent}
}

func activeSession(id, token string, expiresAt time.Time) session.Session {
	return session.Session{
		ID:        id,
		SubjectID: "subj-1",
		StartTime: testNow.Add(-10 * time.Minute),
		EndTime:   testNow.Add(80 * time.Minute),
		IsActive:  true,
		Token:     &token,
		ExpiresAt: &expiresAt,
	}
}

type deps struct {
	store    *fakeStore
	sessions *fakeSessions
	bcast    *captureBroadcaster
}

func newTestService(t *testing.T, sess session.Session, enrolled bool) (*Service, *deps) {
	t.Helper()
	d := &deps{
		store:    &fakeStore{},
		sessions: &fakeSessions{byToken: map[string]session.Session{}, byID: map[string]session.Session{sess.ID: sess}},
		bcast:    &captureBroadcaster{},
	}
	if sess.Token != nil {
		d.sessions.byToken[*sess.Token] = sess
	}
	svc := NewService(d.store, d.sessions, fakeEnrollments{enrolled: enrolled}, fakeAuthz{allow: true}, fakeStudents{}, d.bcast).
		WithClock(func() time.Time { return testNow })
	return svc, d
}

func TestRecordScanSuccess(t *testing.T) {
	svc, d := newTestService(t, activeSession("s1", "tok", testNow.Add(time.Minute)), true)

	att, err := svc.RecordScan(context.Background(), "tok", student())
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if att.StudentID != "stud-1" || att.SessionID != "s1" {
		t.Errorf("unexpected attendance %+v", att)
	}
	if att.Student == nil || att.Student.ID != "stud-1" {
		t.Error("attendance must carry student detail")
	}
	if len(d.bcast.events) != 1 {
		t.Fatalf("expected exactly one broadcast event, got %d", len(d.bcast.events))
	}
	if d.bcast.rooms[0] != "s1" {
		t.Errorf("event must target the session's room, got %q", d.bcast.rooms[0])
	}
	if d.bcast.events[0].Attendance.StudentID != "stud-1" {
		t.Errorf("event must carry the student id, got %+v", d.bcast.events[0])
	}
}

func TestRecordScanRequiresStudentRole(t *testing.T) {
	svc, d := newTestService(t, activeSession("s1", "tok", testNow.Add(time.Minute)), true)

	_, err := svc.RecordScan(context.Background(), "tok", directory.Identity{ID: "t1", Role: directory.RoleTeacher})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if len(d.store.inserted) != 0 {
		t.Error("no attendance row may be created")
	}
}

func TestRecordScanUnknownToken(t *testing.T) {
	svc, _ := newTestService(t, activeSession("s1", "tok", testNow.Add(time.Minute)), true)

	_, err := svc.RecordScan(context.Background(), "bogus", student())
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRecordScanInactiveSession(t *testing.T) {
	sess := activeSession("s1", "tok", testNow.Add(time.Minute))
	sess.IsActive = false
	svc, _ := newTestService(t, sess, true)

	_, err := svc.RecordScan(context.Background(), "tok", student())
	if !errors.Is(err, ErrSessionInactive) {
		t.Fatalf("expected ErrSessionInactive, got %v", err)
	}
}

func TestRecordScanExpiredTokenDeactivates(t *testing.T) {
	svc, d := newTestService(t, activeSession("s1", "tok", testNow.Add(-time.Second)), true)

	_, err := svc.RecordScan(context.Background(), "tok", student())
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if d.sessions.clearedID != "s1" {
		t.Error("expired scan must deactivate the session")
	}

	// The token is gone now, so the next scan reports an invalid token
	// rather than expiry forever.
	_, err = svc.RecordScan(context.Background(), "tok", student())
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after cleanup, got %v", err)
	}
	if len(d.store.inserted) != 0 {
		t.Error("expired scans must not create attendance")
	}
}

func TestRecordScanNotEnrolled(t *testing.T) {
	svc, d := newTestService(t, activeSession("s1", "tok", testNow.Add(time.Minute)), false)

	_, err := svc.RecordScan(context.Background(), "tok", student())
	if !errors.Is(err, ErrNotEnrolled) {
		t.Fatalf("expected ErrNotEnrolled, got %v", err)
	}
	if len(d.store.inserted) != 0 {
		t.Error("no attendance row may be created")
	}
	if len(d.bcast.events) != 0 {
		t.Error("nothing may be broadcast")
	}
}

func TestRecordScanDuplicateFastPath(t *testing.T) {
	svc, d := newTestService(t, activeSession("s1", "tok", testNow.Add(time.Minute)), true)
	d.store.existing = map[string]bool{key("stud-1", "s1"): true}

	_, err := svc.RecordScan(context.Background(), "tok", student())
	if !errors.Is(err, ErrAlreadyRecorded) {
		t.Fatalf("expected ErrAlreadyRecorded, got %v", err)
	}
	if len(d.bcast.events) != 0 {
		t.Error("duplicates must not broadcast")
	}
}

func TestRecordScanDuplicateConstraintBackstop(t *testing.T) {
	// A concurrent duplicate slips past the pre-check and the insert hits the
	// unique constraint. The caller must see the same outcome as the fast path.
	svc, d := newTestService(t, activeSession("s1", "tok", testNow.Add(time.Minute)), true)
	d.store.insertErr = ErrAlreadyRecorded

	_, err := svc.RecordScan(context.Background(), "tok", student())
	if !errors.Is(err, ErrAlreadyRecorded) {
		t.Fatalf("expected ErrAlreadyRecorded from constraint violation, got %v", err)
	}
	if len(d.bcast.events) != 0 {
		t.Error("a losing race must not broadcast")
	}
}

func TestScanThenDuplicateThenExpiry(t *testing.T) {
	// Session activated with a 2 minute token at T0. A scans at T0+30s and an
	// observer gets one event; A again at T0+31s is a duplicate with no second
	// event; at T0+3m the token has expired.
	t0 := testNow
	now := t0
	svc, d := newTestService(t, activeSession("s1", "tok", t0.Add(2*time.Minute)), true)
	svc.WithClock(func() time.Time { return now })

	now = t0.Add(30 * time.Second)
	if _, err := svc.RecordScan(context.Background(), "tok", student()); err != nil {
		t.Fatalf("first scan failed: %v", err)
	}
	if len(d.bcast.events) != 1 {
		t.Fatalf("expected one event, got %d", len(d.bcast.events))
	}

	now = t0.Add(31 * time.Second)
	if _, err := svc.RecordScan(context.Background(), "tok", student()); !errors.Is(err, ErrAlreadyRecorded) {
		t.Fatalf("expected ErrAlreadyRecorded, got %v", err)
	}
	if len(d.bcast.events) != 1 {
		t.Fatalf("duplicate must not emit a second event, got %d", len(d.bcast.events))
	}

	now = t0.Add(3 * time.Minute)
	if _, err := svc.RecordScan(context.Background(), "tok", directory.Identity{ID: "stud-2", Role: directory.RoleStudent}); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestForStudentSelfOnly(t *testing.T) {
	svc, _ := newTestService(t, activeSession("s1", "tok", testNow.Add(time.Minute)), true)

	_, err := svc.ForStudent(context.Background(), "someone-else", student())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("students may only read their own attendance, got %v", err)
	}
	if _, err := svc.ForStudent(context.Background(), "stud-1", student()); err != nil {
		t.Fatalf("self read failed: %v", err)
	}
}

func TestForSessionRequiresTeacherOrAdmin(t *testing.T) {
	sess := activeSession("s1", "tok", testNow.Add(time.Minute))
	d := &deps{
		store:    &fakeStore{},
		sessions: &fakeSessions{byID: map[string]session.Session{"s1": sess}},
		bcast:    &captureBroadcaster{},
	}
	svc := NewService(d.store, d.sessions, fakeEnrollments{}, fakeAuthz{allow: false}, fakeStudents{}, d.bcast)

	_, err := svc.ForSession(context.Background(), "s1", student())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
