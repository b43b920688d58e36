package detector

import (
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/classifier"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
)

// DefaultRequiredGear matches what the site checks on every worker
var DefaultRequiredGear = []string{"helmet", "vest"}

type GearMissingDetector struct {
	requiredGear []string
}

func NewGearMissingDetector() *GearMissingDetector {
	return &GearMissingDetector{
		requiredGear: append([]string(nil), DefaultRequiredGear...),
	}
}

func (d *GearMissingDetector) Name() string {
	return "missing_safety_gear"
}

func (d *GearMissingDetector) Kind() models.HazardKind {
	return models.HazardGearMissing
}

// Detect emits at most one signal per worker. Only items the classifier explicitly
// reported absent count as missing.
func (d *GearMissingDetector) Detect(frame *models.Frame, result *classifier.Result) []models.CandidateSignal {
	var signals []models.CandidateSignal

	for _, worker := range result.Workers {
		gear := result.GearFor(worker.ID)

		var missing []string
		for _, item := range d.requiredGear {
			if present, reported := gear[item]; reported && !present {
				missing = append(missing, item)
			}
		}

		if len(missing) == 0 {
			continue
		}

		signals = append(signals, models.CandidateSignal{
			CameraID: frame.CameraID,
			Kind:     d.Kind(),
			Subject: models.SubjectKey{
				CameraID: frame.CameraID,
				WorkerID: worker.ID,
			},
			ObservedAt: frame.CapturedAt,
			Attributes: models.Attributes{MissingGear: missing},
		})
	}

	return signals
}

func (d *GearMissingDetector) SetRequiredGear(items []string) {
	if len(items) == 0 {
		return
	}
	d.requiredGear = append([]string(nil), items...)
}

func (d *GearMissingDetector) RequiredGear() []string {
	return append([]string(nil), d.requiredGear...)
}
