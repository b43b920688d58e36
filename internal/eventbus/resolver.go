package eventbus

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
	"github.com/nats-io/nats.go"
)

const resolveTimeout = 5 * time.Second

// ResolveRequest is an operator resolve sent over NATS
type ResolveRequest struct {
	ViolationID string `json:"violation_id"`
}

// ResolveReply answers a request that carried a reply subject
type ResolveReply struct {
	ViolationID string                `json:"violation_id"`
	Outcome     models.ResolveOutcome `json:"outcome,omitempty"`
	Error       string                `json:"error,omitempty"`
}

type Resolver interface {
	Resolve(ctx context.Context, violationID string) (models.ResolveOutcome, error)
}

// ResolveSubscriber applies resolve requests arriving on violations.resolve
type ResolveSubscriber struct {
	conn         *nats.Conn
	subscription *nats.Subscription
	resolver     Resolver
}

func NewResolveSubscriber(conn *nats.Conn, resolver Resolver) *ResolveSubscriber {
	return &ResolveSubscriber{conn: conn, resolver: resolver}
}

func (s *ResolveSubscriber) Start() error {
	var err error

	s.subscription, err = s.conn.Subscribe(ResolveSubject, s.handleResolve)
	if err != nil {
		return err
	}

	log.Printf("[EventBus] Subscribed to '%s'", ResolveSubject)
	return nil
}

func (s *ResolveSubscriber) handleResolve(msg *nats.Msg) {
	var req ResolveRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil || req.ViolationID == "" {
		log.Printf("[EventBus] Ignoring malformed resolve request (%d bytes)", len(msg.Data))
		s.reply(msg, ResolveReply{Error: "malformed resolve request"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	outcome, err := s.resolver.Resolve(ctx, req.ViolationID)
	reply := ResolveReply{ViolationID: req.ViolationID, Outcome: outcome}
	if err != nil {
		log.Printf("[EventBus] Warning: resolve %s failed: %v", req.ViolationID, err)
		reply.Error = err.Error()
	} else {
		log.Printf("[EventBus] Resolve request for %s: %s", req.ViolationID, outcome)
	}

	s.reply(msg, reply)
}

func (s *ResolveSubscriber) reply(msg *nats.Msg, reply ResolveReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		log.Printf("[EventBus] Failed to reply to resolve request: %v", err)
	}
}

func (s *ResolveSubscriber) Close() {
	if s.subscription != nil {
		_ = s.subscription.Unsubscribe()
	}
}
