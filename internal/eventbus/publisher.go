package eventbus

import (
	"encoding/json"
	"fmt"
	"iter"
	"log"
	"sync/atomic"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
	"github.com/nats-io/nats.go"
)

// Publisher forwards lifecycle events from the alert bus to NATS
type Publisher struct {
	conn      *nats.Conn
	published uint64
	failed    uint64
}

func NewPublisher(conn *nats.Conn) *Publisher {
	return &Publisher{conn: conn}
}

// Subject is violations.<hazard_kind>.<event_kind>
func Subject(ev models.LifecycleEvent) string {
	return fmt.Sprintf("%s.%s.%s", EventSubjectPrefix, ev.Violation.Kind, ev.Kind)
}

func (p *Publisher) Publish(ev models.LifecycleEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.conn.Publish(Subject(ev), data); err != nil {
		atomic.AddUint64(&p.failed, 1)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	atomic.AddUint64(&p.published, 1)
	return nil
}

// Forward publishes every event of a bus subscription until it ends. NATS errors are
// logged and the event is skipped; live viewers recover through reconciliation.
func (p *Publisher) Forward(events iter.Seq[models.LifecycleEvent]) {
	for ev := range events {
		if err := p.Publish(ev); err != nil {
			log.Printf("[EventBus] Warning: %v (violation %s)", err, ev.Violation.ID)
			continue
		}
		if ev.Kind != models.EventUpdated {
			log.Printf("[EventBus] Published %s to %s", ev.Violation.ID, Subject(ev))
		}
	}
}

func (p *Publisher) Published() uint64 {
	return atomic.LoadUint64(&p.published)
}

func (p *Publisher) Failed() uint64 {
	return atomic.LoadUint64(&p.failed)
}

func (p *Publisher) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}
