package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
)

// ErrMalformedOutput is returned when a classifier result cannot be trusted
var ErrMalformedOutput = errors.New("classifier: malformed output")

// Classifier turns one frame into detected entities. Implementations may fail per frame.
type Classifier interface {
	Classify(ctx context.Context, frame *models.Frame) (*Result, error)
}

// Box is an axis-aligned bounding box in frame coordinates
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (b Box) Center() (float64, float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Distance is the euclidean distance between box centres
func (b Box) Distance(other Box) float64 {
	x1, y1 := b.Center()
	x2, y2 := other.Center()
	return math.Hypot(x1-x2, y1-y2)
}

func (b Box) valid() bool {
	for _, f := range []float64{b.X, b.Y, b.W, b.H} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return b.W >= 0 && b.H >= 0
}

type Worker struct {
	ID  string `json:"id"`
	Box Box    `json:"box"`
}

type Machine struct {
	ID  string `json:"id"`
	Box Box    `json:"box"`
}

// GearFlag reports whether a gear item was seen on a worker
type GearFlag struct {
	WorkerID string `json:"worker_id"`
	Item     string `json:"item"`
	Present  bool   `json:"present"`
}

// Result is the per-frame classifier output
type Result struct {
	Workers   []Worker   `json:"workers"`
	Machines  []Machine  `json:"machines"`
	GearFlags []GearFlag `json:"gear_flags"`
}

// Validate rejects results that would fabricate or mis-key signals
func (r *Result) Validate() error {
	workers := make(map[string]struct{}, len(r.Workers))
	for _, w := range r.Workers {
		if w.ID == "" {
			return fmt.Errorf("%w: worker without id", ErrMalformedOutput)
		}
		if _, dup := workers[w.ID]; dup {
			return fmt.Errorf("%w: duplicate worker %q", ErrMalformedOutput, w.ID)
		}
		if !w.Box.valid() {
			return fmt.Errorf("%w: invalid box for worker %q", ErrMalformedOutput, w.ID)
		}
		workers[w.ID] = struct{}{}
	}

	machines := make(map[string]struct{}, len(r.Machines))
	for _, m := range r.Machines {
		if m.ID == "" {
			return fmt.Errorf("%w: machine without id", ErrMalformedOutput)
		}
		if _, dup := machines[m.ID]; dup {
			return fmt.Errorf("%w: duplicate machine %q", ErrMalformedOutput, m.ID)
		}
		if !m.Box.valid() {
			return fmt.Errorf("%w: invalid box for machine %q", ErrMalformedOutput, m.ID)
		}
		machines[m.ID] = struct{}{}
	}

	for _, g := range r.GearFlags {
		if _, ok := workers[g.WorkerID]; !ok {
			return fmt.Errorf("%w: gear flag for unknown worker %q", ErrMalformedOutput, g.WorkerID)
		}
		if g.Item == "" {
			return fmt.Errorf("%w: gear flag without item for worker %q", ErrMalformedOutput, g.WorkerID)
		}
	}

	return nil
}

// GearFor returns item -> present for one worker. Items never reported are absent from the map.
func (r *Result) GearFor(workerID string) map[string]bool {
	gear := make(map[string]bool)
	for _, g := range r.GearFlags {
		if g.WorkerID != workerID {
			continue
		}
		// a single "missing" report for an item wins over a "present" report
		if present, seen := gear[g.Item]; seen && !present {
			continue
		}
		gear[g.Item] = g.Present
	}
	return gear
}

// EmbeddedClassifier reads the result an upstream inference worker attached to the frame
type EmbeddedClassifier struct{}

func NewEmbeddedClassifier() *EmbeddedClassifier {
	return &EmbeddedClassifier{}
}

func (c *EmbeddedClassifier) Classify(ctx context.Context, frame *models.Frame) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(frame.Payload) == 0 {
		return nil, fmt.Errorf("%w: frame %d from %s has no inference payload",
			ErrMalformedOutput, frame.Sequence, frame.CameraID)
	}

	var result Result
	if err := json.Unmarshal(frame.Payload, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	return &result, nil
}
