package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/glamp/wingman-tunnel/internal/logger"
	"github.com/glamp/wingman-tunnel/internal/tunnelclient"
)

var connectConfiguration struct {
	serverURL         string
	targetPort        int
	sessionID         string
	developerID       string
	heartbeatInterval time.Duration
	reconnectInterval time.Duration
	maxReconnects     int
	logLevel          string
}

var connectCommand = &cobra.Command{
	Use:   "connect",
	Short: "Dial the tunnel server and forward requests to a local port",
	RunE:  connectMain,
}

func init() {
	flags := connectCommand.Flags()
	flags.StringVar(&connectConfiguration.serverURL, "tunnel-server-url", envOr("TUNNEL_SERVER_URL", "http://localhost:8787"), "tunnel server base URL")
	flags.IntVar(&connectConfiguration.targetPort, "target-port", 0, "local port to forward requests to")
	flags.StringVar(&connectConfiguration.sessionID, "session-id", os.Getenv("TUNNEL_SESSION_ID"), "existing session id to attach to")
	flags.StringVar(&connectConfiguration.developerID, "developer-id", os.Getenv("TUNNEL_DEVELOPER_ID"), "developer identifier reported on registration")
	flags.DurationVar(&connectConfiguration.heartbeatInterval, "heartbeat-interval", 30*time.Second, "expected server heartbeat interval")
	flags.DurationVar(&connectConfiguration.reconnectInterval, "reconnect-interval", 5*time.Second, "base delay between reconnect attempts")
	flags.IntVar(&connectConfiguration.maxReconnects, "max-reconnect-attempts", 10, "give up after this many control-channel drops or failed dials; the count is not reset by a successful reconnect")
	flags.StringVar(&connectConfiguration.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

func connectMain(command *cobra.Command, arguments []string) error {
	logger.Initialize(connectConfiguration.logLevel, true)

	if connectConfiguration.targetPort == 0 {
		if p := os.Getenv("TUNNEL_TARGET_PORT"); p != "" {
			fmt.Sscanf(p, "%d", &connectConfiguration.targetPort)
		}
	}
	if connectConfiguration.targetPort == 0 {
		return fmt.Errorf("--target-port is required")
	}
	if connectConfiguration.sessionID == "" {
		return fmt.Errorf("--session-id is required")
	}

	client := tunnelclient.New(tunnelclient.Options{
		ServerURL:            connectConfiguration.serverURL,
		SessionID:            connectConfiguration.sessionID,
		DeveloperID:          connectConfiguration.developerID,
		TargetPort:           connectConfiguration.targetPort,
		HeartbeatInterval:    connectConfiguration.heartbeatInterval,
		ReconnectInterval:    connectConfiguration.reconnectInterval,
		MaxReconnectAttempts: connectConfiguration.maxReconnects,
	})

	color.Green("wingman tunnel client connecting session %s -> localhost:%d", connectConfiguration.sessionID, connectConfiguration.targetPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		color.Yellow("shutting down")
		cancel()
	}()

	reportTicker := time.NewTicker(30 * time.Second)
	defer reportTicker.Stop()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-reportTicker.C:
				snap := client.Stats()
				color.Cyan("requests=%d ok=%d failed=%d avg=%s", snap.TotalRequests, snap.SuccessfulRequests, snap.FailedRequests, humanize.FormatFloat("#,###.#", snap.AverageLatencyMs)+"ms")
			}
		}
	}()

	err := client.Run(ctx)
	close(done)
	if err != nil {
		color.Red("tunnel client exiting: %v", err)
		return err
	}
	color.Green("tunnel client stopped cleanly")
	return nil
}
