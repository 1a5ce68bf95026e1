// Package bus implements the two inter-layer message channels. The
// northbound bus carries telemetry up the hierarchy (L6 toward L1); the
// southbound bus carries directives down (L1 toward L6). Delivery is
// broadcast unless a message names a target layer, subscriber failures are
// isolated from the publisher, and each bus keeps a bounded recent-message
// log for debugging.
package bus

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tpanarchist/omen/internal/packet"
	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// Signal is a distinguished non-packet event carried on a bus.
type Signal string

// SignalUserInput is the northbound signal that a human responded to an
// escalated episode.
const SignalUserInput Signal = "user_input"

// Message wraps a packet (or a signal) with routing metadata.
type Message struct {
	Packet        *packet.Packet
	Signal        Signal
	SourceLayer   vocabulary.LayerID
	TargetLayer   vocabulary.LayerID // empty: broadcast
	CorrelationID string
	At            time.Time
}

// Kind returns the wrapped packet's kind, or empty for signals.
func (m Message) Kind() vocabulary.PacketKind {
	if m.Packet == nil {
		return ""
	}
	return m.Packet.Kind()
}

// Handler consumes a delivered message. Errors are logged by the bus and
// never propagate to the publisher.
type Handler func(Message) error

// DeliveryFailure records a subscriber that failed to process a message.
type DeliveryFailure struct {
	Layer vocabulary.LayerID
	Err   error
}

// Direction names a bus orientation.
type Direction string

const (
	Northbound Direction = "northbound"
	Southbound Direction = "southbound"
)

// Bus is a FIFO channel with direction-aware routing.
type Bus struct {
	mu        sync.Mutex
	log       *zap.Logger
	direction Direction
	carries   map[vocabulary.PacketKind]bool
	subs      map[vocabulary.LayerID]Handler
	subOrder  []vocabulary.LayerID
	recent    []Message
	limit     int
}

// Kinds carried per direction. Signals travel regardless.
var (
	northboundKinds = []vocabulary.PacketKind{
		vocabulary.KindObservation, vocabulary.KindTaskResult, vocabulary.KindBeliefUpdate,
		vocabulary.KindEscalation, vocabulary.KindIntegrityAlert,
	}
	southboundKinds = []vocabulary.PacketKind{
		vocabulary.KindDecision, vocabulary.KindVerificationPlan,
		vocabulary.KindToolAuthorization, vocabulary.KindTaskDirective,
	}
)

func newBus(direction Direction, kinds []vocabulary.PacketKind, log *zap.Logger, limit int) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	if limit <= 0 {
		limit = 256
	}
	carries := make(map[vocabulary.PacketKind]bool, len(kinds))
	for _, k := range kinds {
		carries[k] = true
	}
	return &Bus{
		log:       log,
		direction: direction,
		carries:   carries,
		subs:      make(map[vocabulary.LayerID]Handler),
		limit:     limit,
	}
}

// NewNorthbound builds the telemetry bus.
func NewNorthbound(log *zap.Logger, logLimit int) *Bus {
	return newBus(Northbound, northboundKinds, log, logLimit)
}

// NewSouthbound builds the directive bus.
func NewSouthbound(log *zap.Logger, logLimit int) *Bus {
	return newBus(Southbound, southboundKinds, log, logLimit)
}

// Direction returns the bus orientation.
func (b *Bus) Direction() Direction { return b.direction }

// Carries reports whether this bus transports the given kind.
func (b *Bus) Carries(kind vocabulary.PacketKind) bool { return b.carries[kind] }

// Subscribe registers a layer's handler. One handler per layer; a second
// subscription replaces the first.
func (b *Bus) Subscribe(layer vocabulary.LayerID, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.subs[layer]; !exists {
		b.subOrder = append(b.subOrder, layer)
	}
	b.subs[layer] = h
}

// Unsubscribe removes a layer's handler.
func (b *Bus) Unsubscribe(layer vocabulary.LayerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.subs[layer]; !exists {
		return
	}
	delete(b.subs, layer)
	for i, l := range b.subOrder {
		if l == layer {
			b.subOrder = append(b.subOrder[:i], b.subOrder[i+1:]...)
			break
		}
	}
}

// canRoute applies the direction rule. The integrity overlay sees all
// northbound traffic and may direct any layer southbound.
func (b *Bus) canRoute(from, to vocabulary.LayerID) bool {
	if b.direction == Northbound {
		if to == vocabulary.LayerIntegrity {
			return true
		}
		return routeOrder(to) < routeOrder(from)
	}
	if from == vocabulary.LayerIntegrity {
		return true
	}
	return routeOrder(to) > routeOrder(from)
}

// routeOrder places integrity above layer 1 so it observes everything.
func routeOrder(l vocabulary.LayerID) int {
	if l == vocabulary.LayerIntegrity {
		return 0
	}
	return l.Number()
}

// Publish delivers the message to every eligible subscriber, in subscription
// order. A failing handler is logged and skipped; delivery to the remaining
// subscribers continues.
func (b *Bus) Publish(msg Message) (delivered []vocabulary.LayerID, failures []DeliveryFailure) {
	b.mu.Lock()
	if msg.Packet != nil && !b.carries[msg.Packet.Kind()] {
		b.mu.Unlock()
		b.log.Warn("packet kind not carried by bus",
			zap.String("direction", string(b.direction)),
			zap.String("kind", string(msg.Kind())))
		return nil, nil
	}
	b.recent = append(b.recent, msg)
	if len(b.recent) > b.limit {
		b.recent = b.recent[len(b.recent)-b.limit:]
	}
	type target struct {
		layer   vocabulary.LayerID
		handler Handler
	}
	var targets []target
	for _, layer := range b.subOrder {
		if msg.TargetLayer != "" && layer != msg.TargetLayer {
			continue
		}
		if msg.Packet != nil && !b.canRoute(msg.SourceLayer, layer) {
			continue
		}
		targets = append(targets, target{layer, b.subs[layer]})
	}
	b.mu.Unlock()

	for _, t := range targets {
		if err := b.deliver(t.handler, msg); err != nil {
			failures = append(failures, DeliveryFailure{Layer: t.layer, Err: err})
			b.log.Error("bus delivery failed",
				zap.String("direction", string(b.direction)),
				zap.String("layer", string(t.layer)),
				zap.String("kind", string(msg.Kind())),
				zap.Error(err))
			continue
		}
		delivered = append(delivered, t.layer)
	}
	return delivered, failures
}

// deliver runs a handler, converting panics into delivery failures.
func (b *Bus) deliver(h Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return h(msg)
}

type panicError struct{ value any }

func (e *panicError) Error() string { return "handler panic" }

// Recent returns up to the last n messages matching the optional correlation
// filter, oldest first.
func (b *Bus) Recent(correlationID string, n int) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Message
	for _, m := range b.recent {
		if correlationID == "" || m.CorrelationID == correlationID {
			out = append(out, m)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}
