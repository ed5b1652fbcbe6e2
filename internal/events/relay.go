package events

import (
	"context"
	"errors"
)

// ErrNoRound is returned when a relayed payload cannot be routed to a round.
var ErrNoRound = errors.New("events: payload has no round id")

// Relay carries score updates from publishers to the local hub. Brokered
// relays let every gateway instance see updates submitted to any other one.
type Relay interface {
	// Publish hands payload for round to the relay. Delivery to observers
	// is fire-and-forget.
	Publish(ctx context.Context, round string, payload []byte) error
	// Run forwards relayed payloads to the sink until ctx is done.
	Run(ctx context.Context) error
	Close() error
}

// LocalRelay delivers straight to the sink within the process.
type LocalRelay struct {
	sink Sink
}

var _ Relay = (*LocalRelay)(nil)

func NewLocalRelay(sink Sink) *LocalRelay {
	return &LocalRelay{sink: sink}
}

func (r *LocalRelay) Publish(ctx context.Context, round string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.sink.Publish(round, payload)
}

func (r *LocalRelay) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (r *LocalRelay) Close() error { return nil }
