package models

import (
	"encoding/json"
	"time"
)

// Frame is one timestamped camera frame. Payload carries the raw classifier output
// when inference already ran upstream; Image is the encoded frame used for screenshots.
type Frame struct {
	CameraID   string          `json:"camera_id"`
	Sequence   uint64          `json:"sequence"`
	CapturedAt time.Time       `json:"captured_at"`
	Image      []byte          `json:"image,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// CandidateSignal is a single-frame hazard observation. Never persisted.
type CandidateSignal struct {
	CameraID   string     `json:"camera_id"`
	Kind       HazardKind `json:"hazard_kind"`
	Subject    SubjectKey `json:"subject"`
	ObservedAt time.Time  `json:"observed_at"`
	Attributes Attributes `json:"attributes"`
}

func (s CandidateSignal) TrackKey() string {
	return TrackKey(s.Kind, s.Subject)
}
