package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/classifier"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/detector"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
)

// ErrTransient marks a frame that could not be evaluated. The caller skips the tick.
var ErrTransient = errors.New("engine: transient evaluation error")

// Engine populated of detectors, evaluating one frame at a time
type Engine struct {
	classifier classifier.Classifier
	detectors  []detector.Detector
}

// Create a new evaluation engine around a classifier
func NewEngine(c classifier.Classifier) *Engine {
	return &Engine{
		classifier: c,
		detectors:  make([]detector.Detector, 0),
	}
}

// Add new detector to the engine
func (e *Engine) RegisterDetector(d detector.Detector) {
	e.detectors = append(e.detectors, d)
	log.Printf("Registered detector: %s (hazard: %s)", d.Name(), d.Kind())
}

// Evaluate classifies the frame and runs every detector on the result.
// On any failure it returns no signals and an error wrapping ErrTransient.
func (e *Engine) Evaluate(ctx context.Context, frame *models.Frame) (signals []models.CandidateSignal, err error) {
	if frame == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrTransient)
	}

	defer func() {
		if r := recover(); r != nil {
			signals = nil
			err = fmt.Errorf("%w: panic evaluating %s: %v", ErrTransient, describeFrame(frame), r)
		}
	}()

	result, err := e.classifier.Classify(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("%w: classify: %v", ErrTransient, err)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: classifier returned no result", ErrTransient)
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	seen := make(map[string]struct{})
	for _, det := range e.detectors {
		for _, signal := range det.Detect(frame, result) {
			key := signal.TrackKey()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			signals = append(signals, signal)
		}
	}

	return signals, nil
}

func describeFrame(frame *models.Frame) string {
	if frame == nil {
		return "nil frame"
	}
	return fmt.Sprintf("frame %d from %s", frame.Sequence, frame.CameraID)
}

// Returns list of registered detectors
func (e *Engine) GetRegisteredDetectors() []string {
	names := make([]string, len(e.detectors))
	for i, det := range e.detectors {
		names[i] = det.Name()
	}
	return names
}
