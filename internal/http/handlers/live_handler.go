package handlers

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"log/slog"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/immxrtalbeast/score-gateway/internal/clients/rounds"
	"github.com/immxrtalbeast/score-gateway/internal/events"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// LiveHub is the part of events.Hub the live endpoints use.
type LiveHub interface {
	Register(o *events.Observer) error
	Unregister(o *events.Observer) error
	Topics() []string
	ObserverCount(topic string) int
	Stats() events.Stats
}

// SnapshotSource returns the latest payload published to a round.
type SnapshotSource interface {
	Latest(round string) ([]byte, bool)
}

// LeaderboardFetcher loads the current standings of a round from the
// scoring backend.
type LeaderboardFetcher interface {
	GetLeaderboard(ctx context.Context, roundID string) (*rounds.Response, error)
}

type LiveOptions struct {
	QueueSize      int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

// LiveHandler bridges websocket and event-stream connections to hub
// observers. Each connection owns one observer for its lifetime.
type LiveHandler struct {
	log       *slog.Logger
	hub       LiveHub
	snapshots SnapshotSource
	rounds    LeaderboardFetcher
	opts      LiveOptions
	origins   []string
}

// NewLiveHandler creates the handler. snapshots and fetcher are optional.
func NewLiveHandler(log *slog.Logger, hub LiveHub, snapshots SnapshotSource, fetcher LeaderboardFetcher, opts LiveOptions) *LiveHandler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &LiveHandler{
		log:       log,
		hub:       hub,
		snapshots: snapshots,
		rounds:    fetcher,
		opts:      opts,
		origins:   originPatterns(opts.AllowedOrigins),
	}
}

// StreamWS upgrades the request and streams score updates for the round as
// text frames until either side goes away.
func (h *LiveHandler) StreamWS(c *gin.Context) {
	roundID := roundParam(c)
	if roundID == "" {
		writeError(c, http.StatusBadRequest, "round id is required")
		return
	}

	ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.log.Warn("websocket accept failed", slog.String("err", err.Error()))
		return
	}
	defer ws.CloseNow()

	obs := h.newObserver(c.Request.Context(), roundID)
	if err := h.hub.Register(obs); err != nil {
		h.log.Error("observer register failed", slog.String("err", err.Error()))
		ws.Close(websocket.StatusTryAgainLater, "live updates unavailable")
		return
	}
	defer h.hub.Unregister(obs)

	log := h.log.With(
		slog.String("observer", obs.ID().String()),
		slog.String("round", roundID),
	)
	log.Info("websocket observer connected", slog.String("remote", c.Request.RemoteAddr))

	ctx := ws.CloseRead(c.Request.Context())
	ping := time.NewTicker(h.opts.PingInterval)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-obs.Messages():
			if !ok {
				if obs.Evicted() {
					log.Warn("websocket observer evicted")
					ws.Close(websocket.StatusPolicyViolation, "slow consumer")
					return
				}
				ws.Close(websocket.StatusGoingAway, "stream closed")
				return
			}
			if err := h.write(ctx, ws, msg); err != nil {
				log.Debug("websocket write failed", slog.String("err", err.Error()))
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
			err := ws.Ping(pctx)
			cancel()
			if err != nil {
				log.Debug("websocket ping failed", slog.String("err", err.Error()))
				return
			}
		case <-ctx.Done():
			log.Info("websocket observer disconnected")
			return
		}
	}
}

// StreamSSE is the Server-Sent Events fallback for clients without
// websocket support.
func (h *LiveHandler) StreamSSE(c *gin.Context) {
	roundID := roundParam(c)
	if roundID == "" {
		writeError(c, http.StatusBadRequest, "round id is required")
		return
	}

	obs := h.newObserver(c.Request.Context(), roundID)
	if err := h.hub.Register(obs); err != nil {
		h.log.Error("observer register failed", slog.String("err", err.Error()))
		writeError(c, http.StatusServiceUnavailable, "live updates unavailable")
		return
	}
	defer h.hub.Unregister(obs)

	h.log.Info("event-stream observer connected",
		slog.String("observer", obs.ID().String()),
		slog.String("round", roundID),
	)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	ctx := c.Request.Context()
	ping := time.NewTicker(h.opts.PingInterval)
	defer ping.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case msg, ok := <-obs.Messages():
			if !ok {
				if obs.Evicted() {
					c.SSEvent("evicted", "slow consumer")
				}
				return false
			}
			c.SSEvent("score", string(msg))
			return true
		case <-ping.C:
			c.SSEvent("ping", "")
			return true
		case <-ctx.Done():
			return false
		}
	})
}

type roundSummary struct {
	RoundID   string `json:"round_id"`
	Observers int    `json:"observers"`
}

// ListRounds reports the rounds that currently have live observers.
func (h *LiveHandler) ListRounds(c *gin.Context) {
	topics := h.hub.Topics()
	summaries := make([]roundSummary, 0, len(topics))
	for _, t := range topics {
		n := h.hub.ObserverCount(t)
		if n == 0 {
			continue
		}
		summaries = append(summaries, roundSummary{RoundID: t, Observers: n})
	}
	writeJSON(c, http.StatusOK, gin.H{
		"rounds": summaries,
		"stats":  h.hub.Stats(),
	})
}

func (h *LiveHandler) write(ctx context.Context, ws *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, msg)
}

func (h *LiveHandler) newObserver(ctx context.Context, roundID string) *events.Observer {
	obs := events.NewObserver(roundID, h.opts.QueueSize)
	if state := h.initialState(ctx, roundID); len(state) > 0 {
		obs.Prime(state)
	}
	return obs
}

// initialState prefers the full leaderboard and falls back to the latest
// cached update when the rounds service is absent or failing.
func (h *LiveHandler) initialState(ctx context.Context, roundID string) []byte {
	if board := h.leaderboard(ctx, roundID); len(board) > 0 {
		return board
	}
	if h.snapshots != nil {
		if snap, ok := h.snapshots.Latest(roundID); ok {
			return snap
		}
	}
	return nil
}

func (h *LiveHandler) leaderboard(ctx context.Context, roundID string) []byte {
	if h.rounds == nil {
		return nil
	}
	resp, err := h.rounds.GetLeaderboard(ctx, roundID)
	if err != nil {
		h.log.Warn("leaderboard fetch failed",
			slog.String("round", roundID),
			slog.String("err", err.Error()),
		)
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		h.log.Debug("leaderboard unavailable",
			slog.String("round", roundID),
			slog.Int("status", resp.StatusCode),
		)
		return nil
	}
	return resp.Body
}

// originPatterns turns CORS origins into the host patterns websocket.Accept
// matches against.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, o)
	}
	return patterns
}
