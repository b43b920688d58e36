package models

import (
	"fmt"
	"time"
)

// HazardKind identifies which hazard condition a violation tracks
type HazardKind string

const (
	HazardGearMissing HazardKind = "gear_missing"
	HazardTooClose    HazardKind = "too_close"
)

// Valid reports whether k is one of the known hazard kinds
func (k HazardKind) Valid() bool {
	return k == HazardGearMissing || k == HazardTooClose
}

// ViolationStatus is monotonic: ongoing -> resolved, never back
type ViolationStatus string

const (
	StatusOngoing  ViolationStatus = "ongoing"
	StatusResolved ViolationStatus = "resolved"
)

// ResolveReason records what ended a violation
type ResolveReason string

const (
	ResolvedByTimeout       ResolveReason = "timeout"
	ResolvedByOperator      ResolveReason = "operator"
	ResolvedByCameraStopped ResolveReason = "camera_stopped"
	ResolvedByRestart       ResolveReason = "restart"
)

// SubjectKey is the camera-scoped identity of a worker, or of a worker/machine pair
type SubjectKey struct {
	CameraID  string `json:"camera_id"`
	WorkerID  string `json:"worker_id"`
	MachineID string `json:"machine_id,omitempty"`
}

func (k SubjectKey) String() string {
	if k.MachineID == "" {
		return fmt.Sprintf("%s/%s", k.CameraID, k.WorkerID)
	}
	return fmt.Sprintf("%s/%s/%s", k.CameraID, k.WorkerID, k.MachineID)
}

// TrackKey builds the state machine key for (camera, hazard kind, subject)
func TrackKey(kind HazardKind, subject SubjectKey) string {
	return fmt.Sprintf("%s:%s:%s", subject.CameraID, kind, subject.String())
}

// Attributes is the hazard-specific snapshot carried by signals and violations
type Attributes struct {
	MissingGear []string `json:"missing_gear,omitempty"`
	MachineID   string   `json:"machine_id,omitempty"`
	Distance    float64  `json:"distance,omitempty"`
}

func (a Attributes) Clone() Attributes {
	out := a
	if a.MissingGear != nil {
		out.MissingGear = append([]string(nil), a.MissingGear...)
	}
	return out
}

// Violation is the durable, alertable record of a sustained hazard
type Violation struct {
	ID         string          `json:"id"`
	CameraID   string          `json:"camera_id"`
	Kind       HazardKind      `json:"hazard_kind"`
	Subject    SubjectKey      `json:"subject"`
	SubjectKey string          `json:"subject_key"`
	Status     ViolationStatus `json:"status"`

	OpenedAt   time.Time  `json:"opened_at"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	DurationSeconds float64 `json:"duration_seconds"`

	Attributes Attributes    `json:"attributes"`
	Screenshot string        `json:"screenshot,omitempty"`
	ResolvedBy ResolveReason `json:"resolved_by,omitempty"`

	// Version increases on every mutation; stores drop writes carrying an older version.
	Version int64 `json:"version"`
	// UpdatedAt is the last-modified watermark used by reconciliation.
	UpdatedAt time.Time `json:"updated_at"`
}

// Duration is last_seen_at - opened_at
func (v *Violation) Duration() time.Duration {
	return v.LastSeenAt.Sub(v.OpenedAt)
}

func (v *Violation) IsResolved() bool {
	return v.Status == StatusResolved
}

// Watermark is the later of last_seen_at and resolved_at
func (v *Violation) Watermark() time.Time {
	if v.ResolvedAt != nil && v.ResolvedAt.After(v.LastSeenAt) {
		return *v.ResolvedAt
	}
	return v.LastSeenAt
}

// Clone returns a deep copy safe to hand to another goroutine
func (v *Violation) Clone() *Violation {
	out := *v
	out.Attributes = v.Attributes.Clone()
	if v.ResolvedAt != nil {
		t := *v.ResolvedAt
		out.ResolvedAt = &t
	}
	return &out
}
