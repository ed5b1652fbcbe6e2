package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// maxNotifyPayload is PostgreSQL's NOTIFY payload limit.
const maxNotifyPayload = 8000

// ErrPayloadTooLarge is returned when a payload exceeds the NOTIFY limit.
var ErrPayloadTooLarge = errors.New("events: payload exceeds PostgreSQL NOTIFY limit of 8000 bytes")

// PostgresRelay uses LISTEN/NOTIFY on a single channel. Notifications carry
// only the payload, so rounds are resolved from its round_id field.
type PostgresRelay struct {
	pool    *pgxpool.Pool
	channel string
	sink    Sink
	log     *slog.Logger
}

var _ Relay = (*PostgresRelay)(nil)

func NewPostgresRelay(ctx context.Context, url, channel string, sink Sink, log *slog.Logger) (*PostgresRelay, error) {
	if channel == "" {
		return nil, fmt.Errorf("postgres channel is required")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &PostgresRelay{pool: pool, channel: channel, sink: sink, log: log}, nil
}

func (r *PostgresRelay) Publish(ctx context.Context, round string, payload []byte) error {
	if len(payload) > maxNotifyPayload {
		return ErrPayloadTooLarge
	}
	if id, ok := RoundID(payload); !ok || id != round {
		return ErrNoRound
	}
	if _, err := r.pool.Exec(ctx, "SELECT pg_notify($1, $2)", r.channel, string(payload)); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

func (r *PostgresRelay) Run(ctx context.Context) error {
	for {
		err := r.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrClosed) {
			return nil
		}
		r.log.Warn("postgres listen failed", slog.String("err", err.Error()))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (r *PostgresRelay) listen(ctx context.Context) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{r.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", r.channel, err)
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if err := r.handle(n); errors.Is(err, ErrClosed) {
			return err
		}
	}
}

func (r *PostgresRelay) handle(n *pgconn.Notification) error {
	payload := []byte(n.Payload)
	round, ok := RoundID(payload)
	if !ok {
		r.log.Debug("notification without round", slog.String("channel", n.Channel))
		return ErrNoRound
	}
	return r.sink.Publish(round, payload)
}

func (r *PostgresRelay) Close() error {
	r.pool.Close()
	return nil
}
