package models

import "time"

// EventKind is the lifecycle transition an event reports
type EventKind string

const (
	EventOpened   EventKind = "opened"
	EventUpdated  EventKind = "updated"
	EventResolved EventKind = "resolved"
)

// LifecycleEvent is what the alert bus carries to live viewers
type LifecycleEvent struct {
	Kind EventKind `json:"event_kind"`
	// Sequence is monotonic per camera.
	Sequence  uint64    `json:"sequence"`
	EmittedAt time.Time `json:"emitted_at"`
	Violation Violation `json:"violation"`
}

func (e LifecycleEvent) CameraID() string {
	return e.Violation.CameraID
}

func (e LifecycleEvent) TrackKey() string {
	return TrackKey(e.Violation.Kind, e.Violation.Subject)
}

// ResolveOutcome reports what an explicit resolve did. None of the outcomes is an error.
type ResolveOutcome string

const (
	ResolveApplied         ResolveOutcome = "resolved"
	ResolveAlreadyResolved ResolveOutcome = "already_resolved"
	ResolveNotFound        ResolveOutcome = "not_found"
)
