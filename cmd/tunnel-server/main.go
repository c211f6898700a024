// Command tunnel-server runs the wingman reverse tunnel: the public HTTP
// ingress, the management API, and the control-channel WebSocket endpoint
// that tunnel clients register against.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/glamp/wingman-tunnel/internal/api"
	"github.com/glamp/wingman-tunnel/internal/config"
	"github.com/glamp/wingman-tunnel/internal/connection"
	"github.com/glamp/wingman-tunnel/internal/logger"
	"github.com/glamp/wingman-tunnel/internal/pending"
	"github.com/glamp/wingman-tunnel/internal/proxy"
	"github.com/glamp/wingman-tunnel/internal/session"
	"github.com/glamp/wingman-tunnel/internal/signaling"
	"github.com/glamp/wingman-tunnel/internal/wsserver"
)

func main() {
	cfg := config.Load()
	logger.Initialize(cfg.LogLevel, cfg.IsDevelopment())
	log := logger.GetLogger()

	log.Info().Str("env", cfg.Env).Int("port", cfg.Port).Msg("starting wingman tunnel server")

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		log.Info().Msg("connecting to redis for multi-replica presence mirroring")
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		redisClient = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unreachable, continuing in single-replica mode")
			redisClient.Close()
			redisClient = nil
		}
		cancel()
	} else {
		log.Info().Msg("redis disabled, running in single-replica mode")
	}

	sessions := session.New(cfg.TunnelBaseURL, cfg.IdleTTL, cfg.StorageDir)
	pendingTable := pending.New()
	conns := connection.New(pendingTable, sessions, cfg.P2PSettleWindow, redisClient)
	proxyEngine := proxy.New(conns, pendingTable, cfg.RequestTimeout, cfg.MaxRequestBytes)
	signalingRelay := signaling.New(conns)
	wsSrv := wsserver.New(sessions, conns, pendingTable, signalingRelay, proxyEngine.Relay(), cfg.HeartbeatInterval)

	router := api.NewRouter(api.RouterConfig{
		Sessions:   sessions,
		Proxy:      proxyEngine,
		WSServer:   wsSrv,
		BaseDomain: cfg.TunnelBaseURL,
		DevMode:    cfg.IsDevelopment(),
		CORSExtras: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	cleanupCtx, cancelCleanup := context.WithCancel(context.Background())
	go runCleanupLoop(cleanupCtx, sessions, cfg.CleanupInterval)

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	receivedSignal := <-quit
	log.Info().Str("signal", receivedSignal.String()).Msg("shutting down")

	cancelCleanup()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server did not shut down cleanly")
	}

	// http.Server.Shutdown does not close hijacked connections such as
	// upgraded WebSockets, so the control channels are closed explicitly.
	wsSrv.CloseAll()
	pendingTable.Cleanup()

	if redisClient != nil {
		_ = redisClient.Close()
	}

	log.Info().Msg("shutdown complete")
}

func runCleanupLoop(ctx context.Context, sessions *session.Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log := logger.Tunnel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := sessions.CleanupExpiredSessions()
			if len(expired) > 0 {
				log.Info().Int("count", len(expired)).Msg("expired sessions cleaned up")
			}
		}
	}
}
