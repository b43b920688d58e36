package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/classifier"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/detector"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClassifier struct {
	result *classifier.Result
	err    error
}

func (s *stubClassifier) Classify(ctx context.Context, frame *models.Frame) (*classifier.Result, error) {
	return s.result, s.err
}

type panicDetector struct{}

func (panicDetector) Name() string            { return "panics" }
func (panicDetector) Kind() models.HazardKind { return models.HazardGearMissing }
func (panicDetector) Detect(*models.Frame, *classifier.Result) []models.CandidateSignal {
	panic("boom")
}

func newTestEngine(c classifier.Classifier) *Engine {
	eng := NewEngine(c)
	eng.RegisterDetector(detector.NewGearMissingDetector())
	eng.RegisterDetector(detector.NewProximityDetector())
	return eng
}

func frame() *models.Frame {
	return &models.Frame{CameraID: "cam-1", Sequence: 1, CapturedAt: time.Unix(50, 0)}
}

func TestEngine_RegisterDetector(t *testing.T) {
	eng := newTestEngine(&stubClassifier{})

	detectors := eng.GetRegisteredDetectors()

	assert.Len(t, detectors, 2)
	assert.Contains(t, detectors, "missing_safety_gear")
	assert.Contains(t, detectors, "worker_machine_proximity")
}

func TestEngine_Evaluate_BothHazards(t *testing.T) {
	eng := newTestEngine(&stubClassifier{result: &classifier.Result{
		Workers:   []classifier.Worker{{ID: "w1", Box: classifier.Box{X: 0, Y: 0, W: 10, H: 10}}},
		Machines:  []classifier.Machine{{ID: "m1", Box: classifier.Box{X: 20, Y: 0, W: 10, H: 10}}},
		GearFlags: []classifier.GearFlag{{WorkerID: "w1", Item: "helmet", Present: false}},
	}})

	signals, err := eng.Evaluate(context.Background(), frame())

	require.NoError(t, err)
	require.Len(t, signals, 2)
	assert.Equal(t, models.HazardGearMissing, signals[0].Kind)
	assert.Equal(t, models.HazardTooClose, signals[1].Kind)
}

func TestEngine_Evaluate_NoIssues(t *testing.T) {
	eng := newTestEngine(&stubClassifier{result: &classifier.Result{}})

	signals, err := eng.Evaluate(context.Background(), frame())

	assert.NoError(t, err)
	assert.Empty(t, signals)
}

func TestEngine_Evaluate_ClassifierFailureIsTransient(t *testing.T) {
	eng := newTestEngine(&stubClassifier{err: errors.New("inference timeout")})

	signals, err := eng.Evaluate(context.Background(), frame())

	assert.ErrorIs(t, err, ErrTransient)
	assert.Empty(t, signals)
}

func TestEngine_Evaluate_MalformedOutputIsTransient(t *testing.T) {
	eng := newTestEngine(&stubClassifier{result: &classifier.Result{
		Workers: []classifier.Worker{{ID: "w1"}, {ID: "w1"}},
	}})

	signals, err := eng.Evaluate(context.Background(), frame())

	assert.ErrorIs(t, err, ErrTransient)
	assert.Empty(t, signals)
}

func TestEngine_Evaluate_NilResultIsTransient(t *testing.T) {
	eng := newTestEngine(&stubClassifier{})

	_, err := eng.Evaluate(context.Background(), frame())

	assert.ErrorIs(t, err, ErrTransient)
}

func TestEngine_Evaluate_DetectorPanicIsTransient(t *testing.T) {
	eng := NewEngine(&stubClassifier{result: &classifier.Result{}})
	eng.RegisterDetector(panicDetector{})

	signals, err := eng.Evaluate(context.Background(), frame())

	assert.ErrorIs(t, err, ErrTransient)
	assert.Nil(t, signals)
}

func TestEngine_Evaluate_NilFrameIsTransient(t *testing.T) {
	eng := NewEngine(&stubClassifier{result: &classifier.Result{}})
	eng.RegisterDetector(panicDetector{})

	var signals []models.CandidateSignal
	var err error
	require.NotPanics(t, func() {
		signals, err = eng.Evaluate(context.Background(), nil)
	})

	assert.ErrorIs(t, err, ErrTransient)
	assert.Nil(t, signals)
}

func TestDescribeFrame(t *testing.T) {
	assert.Equal(t, "nil frame", describeFrame(nil))
	assert.Equal(t, "frame 1 from cam-1", describeFrame(frame()))
}

func TestEngine_Evaluate_DeduplicatesKeys(t *testing.T) {
	eng := NewEngine(&stubClassifier{result: &classifier.Result{
		Workers:   []classifier.Worker{{ID: "w1"}},
		GearFlags: []classifier.GearFlag{{WorkerID: "w1", Item: "vest", Present: false}},
	}})
	eng.RegisterDetector(detector.NewGearMissingDetector())
	eng.RegisterDetector(detector.NewGearMissingDetector())

	signals, err := eng.Evaluate(context.Background(), frame())

	require.NoError(t, err)
	assert.Len(t, signals, 1)
}
