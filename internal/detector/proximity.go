package detector

import (
	"math"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/classifier"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
)

const DefaultProximityThreshold = 80.0

type ProximityDetector struct {
	threshold float64
}

func NewProximityDetector() *ProximityDetector {
	return &ProximityDetector{
		threshold: DefaultProximityThreshold,
	}
}

func (d *ProximityDetector) Name() string {
	return "worker_machine_proximity"
}

func (d *ProximityDetector) Kind() models.HazardKind {
	return models.HazardTooClose
}

// Detect emits one signal per (worker, machine) pair closer than the threshold,
// not just the nearest machine.
func (d *ProximityDetector) Detect(frame *models.Frame, result *classifier.Result) []models.CandidateSignal {
	var signals []models.CandidateSignal

	for _, worker := range result.Workers {
		for _, machine := range result.Machines {
			distance := worker.Box.Distance(machine.Box)
			if distance >= d.threshold {
				continue
			}

			signals = append(signals, models.CandidateSignal{
				CameraID: frame.CameraID,
				Kind:     d.Kind(),
				Subject: models.SubjectKey{
					CameraID:  frame.CameraID,
					WorkerID:  worker.ID,
					MachineID: machine.ID,
				},
				ObservedAt: frame.CapturedAt,
				Attributes: models.Attributes{
					MachineID: machine.ID,
					Distance:  math.Round(distance*100) / 100,
				},
			})
		}
	}

	return signals
}

func (d *ProximityDetector) SetThreshold(threshold float64) {
	d.threshold = threshold
}

func (d *ProximityDetector) Threshold() float64 {
	return d.threshold
}
