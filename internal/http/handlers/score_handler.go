package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/immxrtalbeast/score-gateway/internal/events"
	"github.com/immxrtalbeast/score-gateway/internal/http/middleware"
)

// ScorePublisher hands a serialized score update to the live feed.
type ScorePublisher interface {
	Publish(ctx context.Context, round string, payload []byte) error
}

type ScoreHandler struct {
	log       *slog.Logger
	publisher ScorePublisher
	timeout   time.Duration
	now       func() time.Time
}

func NewScoreHandler(log *slog.Logger, publisher ScorePublisher, timeout time.Duration) *ScoreHandler {
	return &ScoreHandler{log: log, publisher: publisher, timeout: timeout, now: time.Now}
}

type submitScoreRequest struct {
	PlayerID   string `json:"player_id"`
	HoleNumber int    `json:"hole_number"`
	GrossScore int    `json:"gross_score"`
	NetScore   *int   `json:"net_score"`
}

// SubmitScore publishes a hole score to everyone watching the round.
func (h *ScoreHandler) SubmitScore(c *gin.Context) {
	roundID := roundParam(c)
	if roundID == "" {
		writeError(c, http.StatusBadRequest, "round id is required")
		return
	}

	var req submitScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json payload")
		return
	}
	req.PlayerID = strings.TrimSpace(req.PlayerID)
	if req.PlayerID == "" {
		writeError(c, http.StatusBadRequest, "player_id is required")
		return
	}
	if req.HoleNumber < 1 || req.HoleNumber > 18 {
		writeError(c, http.StatusBadRequest, "hole_number must be between 1 and 18")
		return
	}
	if req.GrossScore < 1 {
		writeError(c, http.StatusBadRequest, "gross_score must be positive")
		return
	}
	net := req.GrossScore
	if req.NetScore != nil {
		net = *req.NetScore
	}

	update := events.ScoreUpdate{
		Type:       events.UpdateTypeScore,
		RoundID:    roundID,
		PlayerID:   req.PlayerID,
		HoleNumber: req.HoleNumber,
		GrossScore: req.GrossScore,
		NetScore:   net,
		EnteredBy:  c.GetString(middleware.ContextUserID),
		EnteredAt:  h.now().UTC(),
	}
	payload, err := json.Marshal(update)
	if err != nil {
		h.log.Error("score marshal failed", slog.String("err", err.Error()))
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	if err := h.publisher.Publish(ctx, roundID, payload); err != nil {
		h.log.Error("score publish failed",
			slog.String("round", roundID),
			slog.String("err", err.Error()),
		)
		switch {
		case errors.Is(err, events.ErrClosed), errors.Is(err, events.ErrNotRunning):
			writeError(c, http.StatusServiceUnavailable, "live updates unavailable")
		case errors.Is(err, events.ErrPayloadTooLarge):
			writeError(c, http.StatusRequestEntityTooLarge, "score update too large")
		default:
			writeError(c, http.StatusBadGateway, "score relay error")
		}
		return
	}

	writeJSON(c, http.StatusAccepted, update)
}
