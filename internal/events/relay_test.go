package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"
)

type delivery struct {
	topic   string
	payload string
}

type recordingSink struct {
	mu  sync.Mutex
	got []delivery
	err error
}

func (s *recordingSink) Publish(topic string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, delivery{topic: topic, payload: string(payload)})
	return nil
}

func (s *recordingSink) deliveries() []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery(nil), s.got...)
}

func TestRoundID(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		ok      bool
	}{
		{"score update", `{"type":"score","round_id":"r-1","hole_number":3}`, "r-1", true},
		{"missing field", `{"type":"score"}`, "", false},
		{"empty id", `{"round_id":""}`, "", false},
		{"not json", `score:1`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RoundID([]byte(tt.payload))
			if got != tt.want || ok != tt.ok {
				t.Errorf("RoundID(%s) = %q, %v; want %q, %v", tt.payload, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestLocalRelay(t *testing.T) {
	sink := &recordingSink{}
	relay := NewLocalRelay(sink)

	if err := relay.Publish(context.Background(), "r-1", []byte("a")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	got := sink.deliveries()
	if len(got) != 1 || got[0] != (delivery{"r-1", "a"}) {
		t.Fatalf("unexpected deliveries %v", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := relay.Publish(ctx, "r-1", []byte("b")); !errors.Is(err, context.Canceled) {
		t.Errorf("Publish with canceled ctx: got %v", err)
	}
	if err := relay.Run(ctx); err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestLocalRelayThroughHub(t *testing.T) {
	hub := startHub(t)
	o := NewObserver("r-1", 4)
	mustRegister(t, hub, o)

	if err := NewLocalRelay(hub).Publish(context.Background(), "r-1", []byte("score")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := receive(t, o); got != "score" {
		t.Fatalf("got %q, want score", got)
	}
}

func TestNewKafkaRelayValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  KafkaRelayConfig
		want string
	}{
		{"no brokers", KafkaRelayConfig{Topic: "t", GroupID: "g"}, "brokers"},
		{"no topic", KafkaRelayConfig{Brokers: []string{"b:9092"}, GroupID: "g"}, "topic"},
		{"no group", KafkaRelayConfig{Brokers: []string{"b:9092"}, Topic: "t"}, "group"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewKafkaRelay(tt.cfg, &recordingSink{}, discardLogger())
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestKafkaRelaysUseDistinctGroups(t *testing.T) {
	cfg := KafkaRelayConfig{Brokers: []string{"127.0.0.1:9092"}, Topic: "score-updates", GroupID: "score-gateway"}

	first, err := NewKafkaRelay(cfg, &recordingSink{}, discardLogger())
	if err != nil {
		t.Fatalf("NewKafkaRelay: %v", err)
	}
	t.Cleanup(func() { first.Close() })
	second, err := NewKafkaRelay(cfg, &recordingSink{}, discardLogger())
	if err != nil {
		t.Fatalf("NewKafkaRelay: %v", err)
	}
	t.Cleanup(func() { second.Close() })

	if first.groupID == second.groupID {
		t.Fatalf("both relays joined group %q", first.groupID)
	}
	for _, r := range []*KafkaRelay{first, second} {
		if !strings.HasPrefix(r.groupID, "score-gateway-") {
			t.Errorf("group %q does not carry the configured prefix", r.groupID)
		}
		if got := r.reader.Config().GroupID; got != r.groupID {
			t.Errorf("reader group = %q, want %q", got, r.groupID)
		}
	}
}

func TestKafkaRelayHandle(t *testing.T) {
	sink := &recordingSink{}
	relay := &KafkaRelay{sink: sink, log: discardLogger()}

	if err := relay.handle(kafka.Message{Key: []byte("r-1"), Value: []byte("opaque")}); err != nil {
		t.Fatalf("keyed message: %v", err)
	}
	if err := relay.handle(kafka.Message{Value: []byte(`{"round_id":"r-2"}`)}); err != nil {
		t.Fatalf("unkeyed message: %v", err)
	}
	if err := relay.handle(kafka.Message{Value: []byte("garbage")}); !errors.Is(err, ErrNoRound) {
		t.Errorf("unroutable message: got %v, want ErrNoRound", err)
	}

	got := sink.deliveries()
	want := []delivery{{"r-1", "opaque"}, {"r-2", `{"round_id":"r-2"}`}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivery %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestKafkaRelayHandleClosedHub(t *testing.T) {
	relay := &KafkaRelay{sink: &recordingSink{err: ErrClosed}, log: discardLogger()}
	if err := relay.handle(kafka.Message{Key: []byte("r-1")}); !errors.Is(err, ErrClosed) {
		t.Errorf("got %v, want ErrClosed", err)
	}
}

func TestNATSRelayHandle(t *testing.T) {
	sink := &recordingSink{}
	relay := &NATSRelay{subject: "scores", sink: sink, log: discardLogger()}

	withHeader := nats.NewMsg("scores")
	withHeader.Header.Set(roundHeader, "r-1")
	withHeader.Data = []byte("opaque")
	if err := relay.handle(withHeader); err != nil {
		t.Fatalf("header message: %v", err)
	}

	if err := relay.handle(&nats.Msg{Subject: "scores", Data: []byte(`{"round_id":"r-2"}`)}); err != nil {
		t.Fatalf("payload message: %v", err)
	}
	if err := relay.handle(&nats.Msg{Subject: "scores", Data: []byte("x")}); !errors.Is(err, ErrNoRound) {
		t.Errorf("got %v, want ErrNoRound", err)
	}

	got := sink.deliveries()
	if len(got) != 2 || got[0].topic != "r-1" || got[1].topic != "r-2" {
		t.Fatalf("unexpected deliveries %v", got)
	}
}

func TestPostgresRelayHandle(t *testing.T) {
	sink := &recordingSink{}
	relay := &PostgresRelay{channel: "score_updates", sink: sink, log: discardLogger()}

	if err := relay.handle(&pgconn.Notification{Channel: "score_updates", Payload: `{"round_id":"r-1"}`}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := relay.handle(&pgconn.Notification{Channel: "score_updates", Payload: "x"}); !errors.Is(err, ErrNoRound) {
		t.Errorf("got %v, want ErrNoRound", err)
	}
	if got := sink.deliveries(); len(got) != 1 || got[0].topic != "r-1" {
		t.Fatalf("unexpected deliveries %v", got)
	}
}

func TestPostgresRelayPublishRejects(t *testing.T) {
	relay := &PostgresRelay{channel: "score_updates", log: discardLogger()}
	ctx := context.Background()

	big := []byte(`{"round_id":"r-1","pad":"` + strings.Repeat("x", maxNotifyPayload) + `"}`)
	if err := relay.Publish(ctx, "r-1", big); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("oversized payload: got %v", err)
	}
	if err := relay.Publish(ctx, "r-1", []byte(`{"round_id":"r-2"}`)); !errors.Is(err, ErrNoRound) {
		t.Errorf("mismatched round: got %v", err)
	}
}

func TestSnapshots(t *testing.T) {
	snaps, err := NewSnapshots(1<<20, time.Minute)
	if err != nil {
		t.Fatalf("NewSnapshots: %v", err)
	}
	defer snaps.Close()

	if _, ok := snaps.Latest("r-1"); ok {
		t.Fatal("expected empty cache")
	}

	sink := &recordingSink{}
	s := NewSnapshotSink(sink, snaps)
	for _, p := range []string{"first", "second"} {
		if err := s.Publish("r-1", []byte(p)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	got, ok := snaps.Latest("r-1")
	if !ok || string(got) != "second" {
		t.Fatalf("Latest = %q, %v; want second", got, ok)
	}
	if n := len(sink.deliveries()); n != 2 {
		t.Errorf("forwarded %d payloads, want 2", n)
	}
}

func TestNewSnapshotsRejectsZeroSize(t *testing.T) {
	if _, err := NewSnapshots(0, time.Minute); err == nil {
		t.Fatal("expected error")
	}
}
