package events

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultQueueSize is the outbound queue capacity used when NewObserver is
// given a non-positive capacity.
const DefaultQueueSize = 64

type observerState uint8

const (
	stateIdle observerState = iota
	stateActive
	stateClosed
)

// Observer is the server side of one live connection watching a round.
//
// The transport adapter creates it, hands it to Hub.Register and drains
// Messages until the channel is closed. A handle is single use: once it has
// been unregistered (by the adapter, by slow-consumer eviction or by hub
// shutdown) it cannot be registered again.
type Observer struct {
	id    uuid.UUID
	topic string
	queue chan []byte

	// state is only touched by the hub loop.
	state   observerState
	evicted atomic.Bool
}

func NewObserver(topic string, capacity int) *Observer {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &Observer{
		id:    uuid.New(),
		topic: topic,
		queue: make(chan []byte, capacity),
	}
}

// ID identifies the observer in logs. Hub membership uses pointer identity.
func (o *Observer) ID() uuid.UUID { return o.id }

func (o *Observer) Topic() string { return o.topic }

// Messages yields queued payloads in publish order. The channel is closed
// when the observer leaves the hub.
func (o *Observer) Messages() <-chan []byte { return o.queue }

// Cap returns the outbound queue capacity.
func (o *Observer) Cap() int { return cap(o.queue) }

// Prime enqueues payload ahead of registration, typically the latest known
// state of the round. It reports false if the queue is already full.
// Prime must not be called after Register.
func (o *Observer) Prime(payload []byte) bool {
	select {
	case o.queue <- payload:
		return true
	default:
		return false
	}
}

// Evicted reports whether the hub dropped the observer because its queue was
// full when a payload arrived.
func (o *Observer) Evicted() bool { return o.evicted.Load() }
