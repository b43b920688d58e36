package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
	"github.com/nats-io/nats.go"
)

const frameBuffer = 64

// FrameSource reads JSON frames for one camera from frames.<camera>
type FrameSource struct {
	cameraID     string
	messages     chan *nats.Msg
	subscription *nats.Subscription

	mu     sync.Mutex
	closed chan struct{}
}

func NewFrameSource(conn *nats.Conn, cameraID string) (*FrameSource, error) {
	s := &FrameSource{
		cameraID: cameraID,
		messages: make(chan *nats.Msg, frameBuffer),
		closed:   make(chan struct{}),
	}

	sub, err := conn.ChanSubscribe(FrameSubject(cameraID), s.messages)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to frames for %s: %w", cameraID, err)
	}
	// slow consumers drop frames rather than stall the connection
	if err := sub.SetPendingLimits(frameBuffer, 64*1024*1024); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("failed to set pending limits: %w", err)
	}
	s.subscription = sub

	log.Printf("[EventBus] Receiving frames for %s on '%s'", cameraID, FrameSubject(cameraID))
	return s, nil
}

// Next blocks for the next decodable frame. Undecodable messages are skipped.
func (s *FrameSource) Next(ctx context.Context) (*models.Frame, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closed:
			return nil, io.EOF
		case msg := <-s.messages:
			frame, err := DecodeFrame(s.cameraID, msg.Data)
			if err != nil {
				log.Printf("[EventBus] Camera %s: %v", s.cameraID, err)
				continue
			}
			return frame, nil
		}
	}
}

// DecodeFrame parses a frame message. A missing camera id is filled in from the subject.
func DecodeFrame(cameraID string, data []byte) (*models.Frame, error) {
	var frame models.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("undecodable frame: %w", err)
	}
	if frame.CameraID == "" {
		frame.CameraID = cameraID
	}
	if frame.CameraID != cameraID {
		return nil, fmt.Errorf("frame for %s published on %s", frame.CameraID, FrameSubject(cameraID))
	}
	if frame.CapturedAt.IsZero() {
		return nil, fmt.Errorf("frame %d has no capture time", frame.Sequence)
	}
	return &frame, nil
}

func (s *FrameSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.closed:
		return nil
	default:
	}
	close(s.closed)
	return s.subscription.Unsubscribe()
}
