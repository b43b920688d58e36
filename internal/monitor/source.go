package monitor

import (
	"context"
	"sync"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
)

// FrameSource yields frames for one camera. Next blocks until a frame is
// available and returns io.EOF at end of stream.
type FrameSource interface {
	Next(ctx context.Context) (*models.Frame, error)
	Close() error
}

// SliceSource replays a fixed list of frames, then reports end of stream
type SliceSource struct {
	mu     sync.Mutex
	frames []*models.Frame
	closed bool
}

func NewSliceSource(frames ...*models.Frame) *SliceSource {
	return &SliceSource{frames: frames}
}

func (s *SliceSource) Next(ctx context.Context) (*models.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed || len(s.frames) == 0 {
		return nil, errEndOfStream
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *SliceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *SliceSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
