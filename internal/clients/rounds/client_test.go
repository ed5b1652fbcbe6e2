package rounds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewValidation(t *testing.T) {
	for _, base := range []string{"", "/rounds-only-path", "://bad"} {
		if _, err := New(base, time.Second); err == nil {
			t.Errorf("New(%q): expected error", base)
		}
	}
}

func TestGetLeaderboard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/rounds/round 1/leaderboard" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"type":"leaderboard","round_id":"round 1"}`))
	}))
	defer srv.Close()

	client, err := New(srv.URL+"/api/", time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := client.GetLeaderboard(context.Background(), "round 1")
	if err != nil {
		t.Fatalf("GetLeaderboard: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if string(resp.Body) != `{"type":"leaderboard","round_id":"round 1"}` {
		t.Errorf("body = %s", resp.Body)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("content type = %q", resp.Header.Get("Content-Type"))
	}
}
