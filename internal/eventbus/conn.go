package eventbus

import (
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// violations.<hazard_kind>.<event_kind>
	EventSubjectPrefix = "violations"
	ResolveSubject     = "violations.resolve"
	FrameSubjectPrefix = "frames"
)

// Connect dials NATS with the reconnect policy every SiteGuard component uses
func Connect(natsURL string, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[EventBus] Disconnected from NATS: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Printf("[EventBus] Reconnected to NATS at %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Printf("[EventBus] %s connected to NATS at %s", name, natsURL)
	return conn, nil
}

// FrameSubject is where frames for one camera are published
func FrameSubject(cameraID string) string {
	return FrameSubjectPrefix + "." + cameraID
}
