package capture

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
)

const DefaultQueueSize = 64

type job struct {
	path  string
	image []byte
}

// Stats counts screenshot outcomes
type Stats struct {
	Saved   uint64 `json:"saved"`
	Failed  uint64 `json:"failed"`
	Skipped uint64 `json:"skipped"`
}

// FileCapturer writes the opening frame of each violation under
// <dir>/<kind>/ and hands back a /violations/<kind>/<file> reference.
// Writes happen on a background goroutine so Capture never blocks a tick.
type FileCapturer struct {
	dir  string
	jobs chan job
	done chan struct{}

	mu     sync.RWMutex
	closed bool

	saved   uint64
	failed  uint64
	skipped uint64
}

func NewFileCapturer(dir string, queueSize int) (*FileCapturer, error) {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	for _, kind := range []models.HazardKind{models.HazardGearMissing, models.HazardTooClose} {
		if err := os.MkdirAll(filepath.Join(dir, string(kind)), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create screenshot dir: %w", err)
		}
	}

	c := &FileCapturer{
		dir:  dir,
		jobs: make(chan job, queueSize),
		done: make(chan struct{}),
	}
	go c.loop()
	return c, nil
}

// Capture queues the frame image and returns its reference, or "" when there is
// nothing to save or the queue is full.
func (c *FileCapturer) Capture(frame *models.Frame, v *models.Violation) string {
	if frame == nil || len(frame.Image) == 0 {
		atomic.AddUint64(&c.skipped, 1)
		return ""
	}

	name := Filename(v)
	j := job{
		path:  filepath.Join(c.dir, string(v.Kind), name),
		image: append([]byte(nil), frame.Image...),
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		atomic.AddUint64(&c.skipped, 1)
		return ""
	}

	select {
	case c.jobs <- j:
		return fmt.Sprintf("/violations/%s/%s", v.Kind, name)
	default:
		atomic.AddUint64(&c.skipped, 1)
		log.Printf("[Capture] Warning: queue full, no screenshot for %s", v.ID)
		return ""
	}
}

// Filename is <kind>_<camera>_<subject>_<timestamp>_<id prefix>.jpg
func Filename(v *models.Violation) string {
	subject := v.Subject.WorkerID
	if v.Subject.MachineID != "" {
		subject += "-" + v.Subject.MachineID
	}

	id := v.ID
	if len(id) > 8 {
		id = id[:8]
	}

	return fmt.Sprintf("%s_%s_%s_%s_%s.jpg",
		v.Kind, sanitize(v.CameraID), sanitize(subject), v.OpenedAt.UTC().Format("20060102_150405"), sanitize(id))
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, s)
}

func (c *FileCapturer) loop() {
	defer close(c.done)

	for j := range c.jobs {
		if err := os.WriteFile(j.path, j.image, 0o644); err != nil {
			atomic.AddUint64(&c.failed, 1)
			log.Printf("[Capture] Error saving screenshot %s: %v", j.path, err)
			continue
		}
		atomic.AddUint64(&c.saved, 1)
	}
}

func (c *FileCapturer) Stats() Stats {
	return Stats{
		Saved:   atomic.LoadUint64(&c.saved),
		Failed:  atomic.LoadUint64(&c.failed),
		Skipped: atomic.LoadUint64(&c.skipped),
	}
}

// Close flushes queued screenshots
func (c *FileCapturer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.jobs)
	c.mu.Unlock()

	<-c.done
}
