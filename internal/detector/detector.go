package detector

import (
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/classifier"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
)

// Detector turns one frame's classifier output into candidate hazard signals.
// Detectors keep no memory of previous frames.
type Detector interface {
	Name() string
	Kind() models.HazardKind
	Detect(frame *models.Frame, result *classifier.Result) []models.CandidateSignal
}
