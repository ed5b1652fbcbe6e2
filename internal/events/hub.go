package events

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	// ErrNotRunning is returned when the hub is used before Run was called.
	ErrNotRunning = errors.New("events: hub is not running")
	// ErrClosed is returned once Run has returned.
	ErrClosed = errors.New("events: hub is closed")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("events: hub is already running")
)

const defaultPublishBuffer = 256

// Sink accepts payloads addressed to a round.
type Sink interface {
	Publish(topic string, payload []byte) error
}

// Hub keeps per-round observers and fans score updates out to them.
//
// Every membership change and every fan-out decision is made by the single
// goroutine running Run, so the membership map needs no lock. Enqueueing to
// an observer never blocks: an observer whose queue is full is evicted.
type Hub struct {
	log *slog.Logger

	rounds map[string]map[*Observer]struct{}

	register   chan *Observer
	unregister chan *Observer
	publish    chan message

	running atomic.Bool
	started chan struct{}
	done    chan struct{}

	// counts mirrors rounds for readers outside the loop.
	mu     sync.RWMutex
	counts map[string]int

	registered atomic.Uint64
	evicted    atomic.Uint64
	published  atomic.Uint64
	delivered  atomic.Uint64
}

type message struct {
	topic   string
	payload []byte
}

// Stats is a point-in-time view of hub activity.
type Stats struct {
	Topics     int    `json:"topics"`
	Observers  int    `json:"observers"`
	Registered uint64 `json:"registered"`
	Evicted    uint64 `json:"evicted"`
	Published  uint64 `json:"published"`
	Delivered  uint64 `json:"delivered"`
}

type Option func(*Hub)

// WithPublishBuffer sets how many publishes may wait for the loop before
// Publish blocks. A returned Publish is sequenced against other calls only
// once the loop takes it, so with n > 0 an observer registered right after
// may still receive it. n = 0 makes every returned Publish precede any
// Register that starts later.
func WithPublishBuffer(n int) Option {
	return func(h *Hub) {
		if n >= 0 {
			h.publish = make(chan message, n)
		}
	}
}

func NewHub(log *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		log:        log,
		rounds:     make(map[string]map[*Observer]struct{}),
		register:   make(chan *Observer),
		unregister: make(chan *Observer),
		publish:    make(chan message, defaultPublishBuffer),
		started:    make(chan struct{}),
		done:       make(chan struct{}),
		counts:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run processes registrations, unregistrations and publishes until ctx is
// done. It must be called exactly once, on its own goroutine. On return every
// remaining observer has been closed and further calls fail with ErrClosed.
func (h *Hub) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	close(h.started)
	h.log.Info("hub started")
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case o := <-h.register:
			h.add(o)
		case o := <-h.unregister:
			h.remove(o)
		case msg := <-h.publish:
			h.fanout(msg)
		}
	}
}

// Ready is closed once Run has started accepting work.
func (h *Hub) Ready() <-chan struct{} { return h.started }

// Done is closed after the hub has shut down.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Register subscribes o to its topic. Registering the same handle twice, or a
// handle that was already unregistered, is logged and ignored.
func (h *Hub) Register(o *Observer) error {
	if o == nil {
		panic("events: Register called with nil observer")
	}
	return submit(h, h.register, o)
}

// Unregister removes o and closes its queue. Unknown or already removed
// observers are ignored.
func (h *Hub) Unregister(o *Observer) error {
	if o == nil {
		panic("events: Unregister called with nil observer")
	}
	return submit(h, h.unregister, o)
}

// Publish hands payload to every observer of topic. Publishing to a topic
// nobody watches is a no-op. The payload is shared between observers and must
// not be modified afterwards.
func (h *Hub) Publish(topic string, payload []byte) error {
	return submit(h, h.publish, message{topic: topic, payload: payload})
}

func submit[T any](h *Hub, ch chan T, v T) error {
	select {
	case <-h.started:
	default:
		return ErrNotRunning
	}
	select {
	case <-h.done:
		return ErrClosed
	default:
	}
	select {
	case ch <- v:
		return nil
	case <-h.done:
		return ErrClosed
	}
}

// Topics returns the rounds that currently have at least one observer.
func (h *Hub) Topics() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	topics := make([]string, 0, len(h.counts))
	for t := range h.counts {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

func (h *Hub) ObserverCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.counts[topic]
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	s := Stats{Topics: len(h.counts)}
	for _, n := range h.counts {
		s.Observers += n
	}
	h.mu.RUnlock()

	s.Registered = h.registered.Load()
	s.Evicted = h.evicted.Load()
	s.Published = h.published.Load()
	s.Delivered = h.delivered.Load()
	return s
}

func (h *Hub) add(o *Observer) {
	switch o.state {
	case stateActive:
		h.log.Warn("observer already registered",
			slog.String("observer", o.id.String()),
			slog.String("topic", o.topic),
		)
		return
	case stateClosed:
		h.log.Warn("observer handle reused after unregister",
			slog.String("observer", o.id.String()),
			slog.String("topic", o.topic),
		)
		return
	}

	set, ok := h.rounds[o.topic]
	if !ok {
		set = make(map[*Observer]struct{})
		h.rounds[o.topic] = set
	}
	set[o] = struct{}{}
	o.state = stateActive
	h.registered.Add(1)
	h.setCount(o.topic, len(set))
}

func (h *Hub) remove(o *Observer) bool {
	set, ok := h.rounds[o.topic]
	if !ok {
		return false
	}
	if _, ok := set[o]; !ok {
		return false
	}
	delete(set, o)
	if len(set) == 0 {
		delete(h.rounds, o.topic)
	}
	h.setCount(o.topic, len(set))

	o.state = stateClosed
	close(o.queue)
	return true
}

func (h *Hub) fanout(msg message) {
	h.published.Add(1)
	for o := range h.rounds[msg.topic] {
		select {
		case o.queue <- msg.payload:
			h.delivered.Add(1)
		default:
			o.evicted.Store(true)
			h.remove(o)
			h.evicted.Add(1)
			h.log.Warn("slow observer evicted",
				slog.String("observer", o.id.String()),
				slog.String("topic", o.topic),
				slog.Int("queue", cap(o.queue)),
			)
		}
	}
}

func (h *Hub) setCount(topic string, n int) {
	h.mu.Lock()
	if n == 0 {
		delete(h.counts, topic)
	} else {
		h.counts[topic] = n
	}
	h.mu.Unlock()
}

func (h *Hub) shutdown() {
	close(h.done)

	n := 0
	for topic, set := range h.rounds {
		for o := range set {
			o.state = stateClosed
			close(o.queue)
			n++
		}
		delete(h.rounds, topic)
	}

	h.mu.Lock()
	clear(h.counts)
	h.mu.Unlock()

	h.log.Info("hub stopped", slog.Int("closed_observers", n))
}
