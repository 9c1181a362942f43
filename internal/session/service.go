package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"classattend/internal/directory"
	"classattend/internal/metrics"
)

// Teachers may activate up to this long before the scheduled start.
const activationLead = 15 * time.Minute

// Token validity bounds in minutes; requested durations are clamped into them.
const (
	minDurationMinutes = 1
	maxDurationMinutes = 60
)

// Repository is the persistence surface the service needs.
type Repository interface {
	GetByID(ctx context.Context, id string) (Session, error)
	GetByToken(ctx context.Context, token string) (Session, error)
	Activate(ctx context.Context, id, token string, expiresAt time.Time) (Session, error)
	Deactivate(ctx context.Context, id string) (Session, error)
	ClearExpired(ctx context.Context, id, token string) (Session, error)
	ListHeld(ctx context.Context, subjectID string, t time.Time) ([]Session, error)
}

// Authorizer decides whether a caller may manage a subject's sessions.
type Authorizer interface {
	IsTeacherOrAdminFor(ctx context.Context, caller directory.Identity, subjectID string) (bool, error)
}

// Activated is an activation result: the session plus the fully qualified
// URL students scan.
type Activated struct {
	Session
	ScanURL string `json:"scanUrl"`
}

// Service drives the activation state machine.
type Service struct {
	repo            Repository
	authz           Authorizer
	defaultDuration int
	scanBaseURL     string
	now             func() time.Time
}

// NewService creates a service. defaultDurationMinutes applies when a caller
// does not request a duration; scanBaseURL is prepended to minted tokens.
func NewService(repo Repository, authz Authorizer, defaultDurationMinutes int, scanBaseURL string) *Service {
	if defaultDurationMinutes <= 0 {
		defaultDurationMinutes = 2
	}
	return &Service{
		repo:            repo,
		authz:           authz,
		defaultDuration: defaultDurationMinutes,
		scanBaseURL:     scanBaseURL,
		now:             time.Now,
	}
}

// WithClock overrides the service clock. For tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Activate mints a scan token for the session. It fails when the caller may
// not manage the subject, when the session is already active, or when now is
// outside [startTime-15m, endTime]. durationMinutes <= 0 selects the default;
// values are clamped to [1, 60].
func (s *Service) Activate(ctx context.Context, sessionID string, caller directory.Identity, durationMinutes int) (Activated, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return Activated{}, err
	}

	ok, err := s.authz.IsTeacherOrAdminFor(ctx, caller, sess.SubjectID)
	if err != nil {
		return Activated{}, err
	}
	if !ok {
		metrics.ActivationsTotal.WithLabelValues("unauthorized").Inc()
		return Activated{}, ErrUnauthorized
	}

	if sess.IsActive {
		metrics.ActivationsTotal.WithLabelValues("already_active").Inc()
		return Activated{}, ErrAlreadyActive
	}

	now := s.now()
	if now.Before(sess.StartTime.Add(-activationLead)) {
		metrics.ActivationsTotal.WithLabelValues("too_early").Inc()
		return Activated{}, ErrNotYetActivatable
	}
	if now.After(sess.EndTime) {
		metrics.ActivationsTotal.WithLabelValues("too_late").Inc()
		return Activated{}, ErrWindowElapsed
	}

	duration := durationMinutes
	if duration <= 0 {
		duration = s.defaultDuration
	}
	if duration < minDurationMinutes {
		duration = minDurationMinutes
	}
	if duration > maxDurationMinutes {
		duration = maxDurationMinutes
	}

	token := uuid.NewString()
	expiresAt := now.Add(time.Duration(duration) * time.Minute)

	activated, err := s.repo.Activate(ctx, sessionID, token, expiresAt)
	if err != nil {
		metrics.ActivationsTotal.WithLabelValues("conflict").Inc()
		return Activated{}, err
	}

	metrics.ActivationsTotal.WithLabelValues("activated").Inc()
	return Activated{Session: activated, ScanURL: s.scanBaseURL + token}, nil
}

// Deactivate clears the activation state. Deactivating an inactive session
// succeeds as a no-op.
func (s *Service) Deactivate(ctx context.Context, sessionID string, caller directory.Identity) (Session, error) {
	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}

	ok, err := s.authz.IsTeacherOrAdminFor(ctx, caller, sess.SubjectID)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, ErrUnauthorized
	}

	return s.repo.Deactivate(ctx, sessionID)
}

// Get returns the session, lazily deactivating it first when its token has
// expired. Scan-time validation independently re-checks expiry, so this is a
// consistency measure for readers, not the enforcement point.
func (s *Service) Get(ctx context.Context, sessionID string) (Session, error) {
	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	return s.expireIfDue(ctx, sess)
}

func (s *Service) expireIfDue(ctx context.Context, sess Session) (Session, error) {
	if !sess.Expired(s.now()) {
		return sess, nil
	}
	return s.repo.ClearExpired(ctx, sess.ID, *sess.Token)
}
