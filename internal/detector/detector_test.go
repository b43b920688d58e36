package detector

import (
	"testing"
	"time"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/classifier"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame() *models.Frame {
	return &models.Frame{
		CameraID:   "cam-1",
		Sequence:   7,
		CapturedAt: time.Unix(1000, 0),
	}
}

func TestGearMissingDetector_MissingVest(t *testing.T) {
	d := NewGearMissingDetector()

	result := &classifier.Result{
		Workers: []classifier.Worker{{ID: "w1"}},
		GearFlags: []classifier.GearFlag{
			{WorkerID: "w1", Item: "helmet", Present: true},
			{WorkerID: "w1", Item: "vest", Present: false},
		},
	}

	signals := d.Detect(testFrame(), result)

	require.Len(t, signals, 1)
	assert.Equal(t, models.HazardGearMissing, signals[0].Kind)
	assert.Equal(t, []string{"vest"}, signals[0].Attributes.MissingGear)
	assert.Equal(t, "w1", signals[0].Subject.WorkerID)
	assert.Equal(t, time.Unix(1000, 0), signals[0].ObservedAt)
}

func TestGearMissingDetector_OneSignalPerWorker(t *testing.T) {
	d := NewGearMissingDetector()

	result := &classifier.Result{
		Workers: []classifier.Worker{{ID: "w1"}, {ID: "w2"}},
		GearFlags: []classifier.GearFlag{
			{WorkerID: "w1", Item: "helmet", Present: false},
			{WorkerID: "w1", Item: "vest", Present: false},
			{WorkerID: "w2", Item: "helmet", Present: true},
			{WorkerID: "w2", Item: "vest", Present: true},
		},
	}

	signals := d.Detect(testFrame(), result)

	require.Len(t, signals, 1, "compliant worker should not signal")
	assert.Equal(t, []string{"helmet", "vest"}, signals[0].Attributes.MissingGear)
}

func TestGearMissingDetector_UnreportedItemIsNotMissing(t *testing.T) {
	d := NewGearMissingDetector()

	result := &classifier.Result{Workers: []classifier.Worker{{ID: "w1"}}}

	assert.Empty(t, d.Detect(testFrame(), result))
}

func TestGearMissingDetector_SetRequiredGear(t *testing.T) {
	d := NewGearMissingDetector()
	d.SetRequiredGear([]string{"gloves"})

	result := &classifier.Result{
		Workers: []classifier.Worker{{ID: "w1"}},
		GearFlags: []classifier.GearFlag{
			{WorkerID: "w1", Item: "vest", Present: false},
			{WorkerID: "w1", Item: "gloves", Present: false},
		},
	}

	signals := d.Detect(testFrame(), result)

	require.Len(t, signals, 1)
	assert.Equal(t, []string{"gloves"}, signals[0].Attributes.MissingGear)

	d.SetRequiredGear(nil)
	assert.Equal(t, []string{"gloves"}, d.RequiredGear(), "empty list keeps previous setting")
}

func TestProximityDetector_TwoMachinesInRange(t *testing.T) {
	d := NewProximityDetector()

	// centres: worker (10,10), M1 (50,10) -> 40, M2 (80,10) -> 70
	result := &classifier.Result{
		Workers: []classifier.Worker{{ID: "W", Box: classifier.Box{X: 0, Y: 0, W: 20, H: 20}}},
		Machines: []classifier.Machine{
			{ID: "M1", Box: classifier.Box{X: 40, Y: 0, W: 20, H: 20}},
			{ID: "M2", Box: classifier.Box{X: 70, Y: 0, W: 20, H: 20}},
		},
	}

	signals := d.Detect(testFrame(), result)

	require.Len(t, signals, 2)
	assert.Equal(t, "M1", signals[0].Subject.MachineID)
	assert.InDelta(t, 40.0, signals[0].Attributes.Distance, 0.001)
	assert.Equal(t, "M2", signals[1].Subject.MachineID)
	assert.InDelta(t, 70.0, signals[1].Attributes.Distance, 0.001)
	assert.NotEqual(t, signals[0].TrackKey(), signals[1].TrackKey())
}

func TestProximityDetector_AtThresholdIsNotClose(t *testing.T) {
	d := NewProximityDetector()

	result := &classifier.Result{
		Workers:  []classifier.Worker{{ID: "W", Box: classifier.Box{X: 0, Y: 0}}},
		Machines: []classifier.Machine{{ID: "M1", Box: classifier.Box{X: 80, Y: 0}}},
	}

	assert.Empty(t, d.Detect(testFrame(), result))
}

func TestProximityDetector_SetThreshold(t *testing.T) {
	d := NewProximityDetector()
	d.SetThreshold(200)

	result := &classifier.Result{
		Workers:  []classifier.Worker{{ID: "W", Box: classifier.Box{X: 0, Y: 0}}},
		Machines: []classifier.Machine{{ID: "M1", Box: classifier.Box{X: 150, Y: 0}}},
	}

	assert.Len(t, d.Detect(testFrame(), result), 1)
	assert.Equal(t, 200.0, d.Threshold())
}
