package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/immxrtalbeast/score-gateway/internal/clients/rounds"
	"github.com/immxrtalbeast/score-gateway/internal/config"
	"github.com/immxrtalbeast/score-gateway/internal/events"
	"github.com/immxrtalbeast/score-gateway/internal/health"
	"github.com/immxrtalbeast/score-gateway/internal/http/handlers"
	"github.com/immxrtalbeast/score-gateway/internal/http/middleware"
	"github.com/immxrtalbeast/score-gateway/lib/logger/slogpretty"
	"github.com/joho/godotenv"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
)

func main() {
	dotenvErr := godotenv.Load(".env")
	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)
	log.Info("starting score gateway", slog.String("relay", cfg.Relay.Driver))
	if dotenvErr != nil {
		log.Warn(".env not loaded", slog.String("err", dotenvErr.Error()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := events.NewHub(log, events.WithPublishBuffer(cfg.Live.PublishBuffer))

	snapshots, err := events.NewSnapshots(cfg.Live.SnapshotMaxBytes, cfg.Live.SnapshotTTL)
	if err != nil {
		log.Error("failed to init snapshot cache", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer snapshots.Close()
	sink := events.NewSnapshotSink(hub, snapshots)

	relay, err := setupRelay(ctx, cfg, sink, log)
	if err != nil {
		log.Error("failed to init relay", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer relay.Close()

	var fetcher handlers.LeaderboardFetcher
	if cfg.Rounds.BaseURL != "" {
		client, err := rounds.New(cfg.Rounds.BaseURL, cfg.Rounds.Timeout)
		if err != nil {
			log.Error("failed to init rounds client", slog.String("err", err.Error()))
			os.Exit(1)
		}
		fetcher = client
	}

	scoreHandler := handlers.NewScoreHandler(log, relay, cfg.Relay.PublishTimeout)
	liveHandler := handlers.NewLiveHandler(log, hub, snapshots, fetcher, handlers.LiveOptions{
		QueueSize:      cfg.Live.QueueSize,
		PingInterval:   cfg.Live.PingInterval,
		WriteTimeout:   cfg.Live.WriteTimeout,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})
	authMiddleware := middleware.AuthMiddleware(cfg.AppSecret)

	router := setupRouter(cfg.Env, log, cfg.HTTP.AllowedOrigins, scoreHandler, liveHandler, authMiddleware)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		log.Error("failed to listen", slog.String("addr", srv.Addr), slog.String("err", err.Error()))
		os.Exit(1)
	}
	if cfg.HTTP.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.HTTP.MaxConnections)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})

	if cfg.GRPC.Enabled {
		healthSrv := health.New(log)
		grpcLn, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port))
		if err != nil {
			log.Error("failed to listen grpc", slog.String("err", err.Error()))
			os.Exit(1)
		}
		g.Go(func() error {
			healthSrv.Track(gctx, hub.Ready(), hub.Done())
			return nil
		})
		g.Go(func() error {
			return healthSrv.Serve(grpcLn)
		})
		g.Go(func() error {
			<-gctx.Done()
			healthSrv.Stop()
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown error", slog.String("err", err.Error()))
		}
		return nil
	})
	g.Go(func() error {
		log.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("gateway stopped", slog.String("err", err.Error()))
		os.Exit(1)
	}
	log.Info("gateway stopped")
}

func setupRelay(ctx context.Context, cfg *config.Config, sink events.Sink, log *slog.Logger) (events.Relay, error) {
	switch cfg.Relay.Driver {
	case config.RelayKafka:
		return events.NewKafkaRelay(events.KafkaRelayConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.UpdatesTopic,
			GroupID: cfg.Kafka.GroupID,
			MaxWait: cfg.Kafka.MaxWait,
		}, sink, log)
	case config.RelayNATS:
		return events.NewNATSRelay(cfg.NATS.URL, cfg.NATS.Subject, sink, log)
	case config.RelayPostgres:
		return events.NewPostgresRelay(ctx, cfg.Postgres.URL, cfg.Postgres.Channel, sink, log)
	default:
		return events.NewLocalRelay(sink), nil
	}
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)
		status := c.Writer.Status()
		msg := "request completed"
		if status >= http.StatusBadRequest {
			log.Warn(msg,
				slog.String("method", c.Request.Method),
				slog.String("path", c.Request.URL.Path),
				slog.Int("status", status),
				slog.Duration("duration", duration),
				slog.String("client", c.ClientIP()),
				slog.String("error", c.Errors.String()),
			)
			return
		}
		log.Info(msg,
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Duration("duration", duration),
			slog.String("client", c.ClientIP()),
		)
	}
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}

func setupRouter(
	env string,
	log *slog.Logger,
	allowedOrigins []string,
	scoreHandler *handlers.ScoreHandler,
	liveHandler *handlers.LiveHandler,
	authMiddleware gin.HandlerFunc,
) *gin.Engine {
	mode := gin.ReleaseMode
	if env == envLocal {
		mode = gin.DebugMode
	}
	gin.SetMode(mode)

	router := gin.New()
	config := cors.DefaultConfig()
	config.AllowOrigins = allowedOrigins
	config.AllowCredentials = true
	config.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"Origin",
		"Accept",
	}
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	router.Use(cors.New(config))
	if env == envLocal {
		router.Use(gin.Logger())
	}
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	roundsGroup := router.Group("/api/rounds")
	roundsGroup.Use(authMiddleware)
	{
		roundsGroup.POST("/:id/scores", scoreHandler.SubmitScore)
		roundsGroup.GET("/:id/live", liveHandler.StreamWS)
		roundsGroup.GET("/:id/events", liveHandler.StreamSSE)
	}

	live := router.Group("/api/live")
	live.Use(authMiddleware, middleware.RequireRole("admin"))
	{
		live.GET("/rounds", liveHandler.ListRounds)
	}

	return router
}
