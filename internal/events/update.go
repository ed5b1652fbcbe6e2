package events

import (
	"encoding/json"
	"time"
)

// UpdateTypeScore tags a single hole score entered for a player.
const UpdateTypeScore = "score"

// ScoreUpdate is the payload published when a score is entered during a
// round. Observers receive it as JSON.
type ScoreUpdate struct {
	Type       string    `json:"type"`
	RoundID    string    `json:"round_id"`
	PlayerID   string    `json:"player_id"`
	HoleNumber int       `json:"hole_number"`
	GrossScore int       `json:"gross_score"`
	NetScore   int       `json:"net_score"`
	EnteredBy  string    `json:"entered_by,omitempty"`
	EnteredAt  time.Time `json:"entered_at"`
}

type roundEnvelope struct {
	RoundID string `json:"round_id"`
}

// RoundID extracts the round a JSON payload belongs to.
func RoundID(payload []byte) (string, bool) {
	var env roundEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", false
	}
	if env.RoundID == "" {
		return "", false
	}
	return env.RoundID, true
}
