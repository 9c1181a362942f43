// Package broadcast fans newly recorded attendance out to live observers of a
// session. Delivery is best effort and at most once per subscriber; nothing is
// persisted or replayed. A disconnected observer reconciles with a full read
// when it reconnects.
package broadcast

import (
	"context"

	"classattend/internal/directory"
)

// EventName is the name live attendance events are delivered under.
const EventName = "attendance.new"

// Event is the payload pushed to observers of a session's room.
type Event struct {
	Attendance Attendance `json:"attendance"`
}

// Attendance mirrors the recorded row with denormalized student fields.
type Attendance struct {
	ID        string                 `json:"id"`
	StudentID string                 `json:"studentId"`
	SessionID string                 `json:"sessionId"`
	Timestamp string                 `json:"timestamp"`
	Student   *directory.StudentInfo `json:"student,omitempty"`
}

// Broadcaster publishes events to a session's room. Publish never blocks the
// caller and never reports delivery failure; the attendance write that
// triggered it is authoritative regardless.
type Broadcaster interface {
	Publish(ctx context.Context, sessionID string, evt Event)
}
