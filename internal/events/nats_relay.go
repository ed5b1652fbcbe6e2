package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// roundHeader carries the round id next to the opaque payload.
const roundHeader = "Round-Id"

// NATSRelay uses core NATS subjects. Nothing is persisted: instances that are
// down while an update is published never see it.
type NATSRelay struct {
	nc      *nats.Conn
	subject string
	sink    Sink
	log     *slog.Logger
}

var _ Relay = (*NATSRelay)(nil)

func NewNATSRelay(url, subject string, sink Sink, log *slog.Logger) (*NATSRelay, error) {
	if subject == "" {
		return nil, fmt.Errorf("nats subject is required")
	}
	nc, err := nats.Connect(url, nats.Name("score-gateway"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	log.Info("nats connected", slog.String("url", url), slog.String("subject", subject))
	return &NATSRelay{nc: nc, subject: subject, sink: sink, log: log}, nil
}

func (r *NATSRelay) Publish(ctx context.Context, round string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := nats.NewMsg(r.subject)
	msg.Header.Set(roundHeader, round)
	msg.Data = payload
	if err := r.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", r.subject, err)
	}
	return nil
}

func (r *NATSRelay) Run(ctx context.Context) error {
	sub, err := r.nc.Subscribe(r.subject, func(m *nats.Msg) {
		if err := r.handle(m); err != nil && !errors.Is(err, ErrNoRound) {
			r.log.Warn("nats relay delivery failed", slog.String("err", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", r.subject, err)
	}
	<-ctx.Done()
	return sub.Unsubscribe()
}

func (r *NATSRelay) handle(m *nats.Msg) error {
	round := m.Header.Get(roundHeader)
	if round == "" {
		var ok bool
		if round, ok = RoundID(m.Data); !ok {
			return ErrNoRound
		}
	}
	return r.sink.Publish(round, m.Data)
}

func (r *NATSRelay) Close() error {
	r.nc.Close()
	return nil
}
