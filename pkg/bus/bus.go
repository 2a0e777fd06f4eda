// Package bus implements the in-process typed message bus: topic pub/sub
// with sequential per-topic dispatch (spec.md §4.3). It replaces the
// redesign-flagged "global mutable module" pattern (spec.md §9) with an
// explicit, constructed-once singleton passed by reference.
package bus

import (
	"context"
	"log/slog"
	"sync"
)

// Topic is one of the five fixed dispatch channels.
type Topic string

const (
	TopicPlan   Topic = "requirements.plan"
	TopicSolve  Topic = "requirements.solve"
	TopicVerify Topic = "requirements.verify"
	TopicDTO    Topic = "requirements.dto"
	TopicTrace  Topic = "requirements.trace"
)

var fixedTopics = map[Topic]bool{
	TopicPlan: true, TopicSolve: true, TopicVerify: true, TopicDTO: true, TopicTrace: true,
}

// MessageContext is propagated unchanged through every publish spawned
// from the same originating call (spec.md §4.3, §5).
type MessageContext struct {
	CorrelationID string
	ReqID         string
	SessionID     string
	TopicID       string
	OriginAgentID string
	Meta          map[string]string
}

// Handler processes one message published to a topic. A Handler must
// never panic to escape the bus — Publish recovers and logs any panic as
// a handler error (spec.md §7: "agent handlers never raise through the
// bus").
type Handler func(ctx context.Context, mctx MessageContext, message any) error

type subscription struct {
	agentType string
	handler   Handler
}

// Bus is the fixed-topic publish/subscribe dispatcher. Zero value is not
// usable; construct with New.
type Bus struct {
	mu   sync.Mutex
	subs map[Topic][]subscription

	// topicLocks serializes Publish calls per topic so dispatch is
	// sequential within a topic and independent across topics, matching
	// spec.md §4.3 and §5's ordering guarantees.
	topicLocks map[Topic]*sync.Mutex

	logger *slog.Logger
}

// New constructs a Bus with the five fixed topics pre-registered.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		subs:       make(map[Topic][]subscription),
		topicLocks: make(map[Topic]*sync.Mutex),
		logger:     logger,
	}
	for t := range fixedTopics {
		b.topicLocks[t] = &sync.Mutex{}
	}
	return b
}

// Subscribe registers handler for topic under agentType. Subscribing to a
// topic outside the fixed set is a programmer error and is ignored with a
// logged warning rather than a panic, keeping startup wiring resilient to
// typos in non-critical paths.
func (b *Bus) Subscribe(topic Topic, agentType string, handler Handler) {
	if !fixedTopics[topic] {
		b.logger.Warn("ignoring subscribe to unknown topic", "topic", topic, "agentType", agentType)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], subscription{agentType: agentType, handler: handler})
}

// Publish dispatches message to every handler subscribed to topic, one at
// a time, in subscription order. All handlers complete (or error) before
// Publish returns, providing within-topic ordering for deterministic
// reflection loops. Handler errors are logged with the
// (agentType, topic, correlationId) triple and never returned to the
// caller.
func (b *Bus) Publish(ctx context.Context, topic Topic, mctx MessageContext, message any) error {
	lock := b.topicLock(topic)
	lock.Lock()
	defer lock.Unlock()

	b.mu.Lock()
	subs := make([]subscription, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.Unlock()

	for _, sub := range subs {
		b.dispatchOne(ctx, topic, mctx, sub, message)
	}
	return nil
}

func (b *Bus) dispatchOne(ctx context.Context, topic Topic, mctx MessageContext, sub subscription, message any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panicked",
				"agentType", sub.agentType, "topic", topic, "correlationId", mctx.CorrelationID, "panic", r)
		}
	}()

	if err := sub.handler(ctx, mctx, message); err != nil {
		b.logger.Error("handler error",
			"agentType", sub.agentType, "topic", topic, "correlationId", mctx.CorrelationID, "error", err)
	}
}

func (b *Bus) topicLock(topic Topic) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.topicLocks[topic]
	if !ok {
		l = &sync.Mutex{}
		b.topicLocks[topic] = l
	}
	return l
}
