// Package session implements the activation state machine for class sessions:
// a teacher activates a scheduled session, which mints a scan token with an
// absolute expiry; the session deactivates on teacher request or lazily once
// the token has expired.
package session

import (
	"errors"
	"time"
)

// Session is one scheduled occurrence of a subject. Token and ExpiresAt are
// set if and only if IsActive is true.
type Session struct {
	ID        string     `json:"id"`
	SubjectID string     `json:"subjectId"`
	StartTime time.Time  `json:"startTime"`
	EndTime   time.Time  `json:"endTime"`
	IsActive  bool       `json:"isActive"`
	Token     *string    `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Expired reports whether the session's token has passed its expiry at t.
func (s Session) Expired(t time.Time) bool {
	return s.IsActive && s.ExpiresAt != nil && t.After(*s.ExpiresAt)
}

// Held reports whether the session counts toward attendance denominators:
// its scheduled end has passed, or it is currently active.
func (s Session) Held(t time.Time) bool {
	return s.IsActive || !s.EndTime.After(t)
}

var (
	// ErrNotFound is returned when no session matches the lookup.
	ErrNotFound = errors.New("session not found")
	// ErrAlreadyActive is returned when activating a session that is already active.
	ErrAlreadyActive = errors.New("session is already active")
	// ErrNotYetActivatable is returned when activation is attempted more than
	// 15 minutes before the scheduled start.
	ErrNotYetActivatable = errors.New("session cannot be activated yet")
	// ErrWindowElapsed is returned when activation is attempted after the
	// scheduled end.
	ErrWindowElapsed = errors.New("session time has already passed")
	// ErrUnauthorized is returned when the caller may not manage the session's subject.
	ErrUnauthorized = errors.New("not allowed to manage this session")
)
