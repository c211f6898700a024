package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the global logger instance.
var Log zerolog.Logger

// Initialize sets up the global logger with configuration.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().
		Str("service", "wingman-tunnel").
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// GetLogger returns the global logger instance.
func GetLogger() *zerolog.Logger {
	return &Log
}

// Tunnel creates a logger scoped to session/control-channel lifecycle events.
func Tunnel() *zerolog.Logger {
	l := Log.With().Str("component", "tunnel").Logger()
	return &l
}

// Proxy creates a logger scoped to the HTTP proxy engine.
func Proxy() *zerolog.Logger {
	l := Log.With().Str("component", "proxy").Logger()
	return &l
}

// Signaling creates a logger scoped to the P2P signaling relay.
func Signaling() *zerolog.Logger {
	l := Log.With().Str("component", "signaling").Logger()
	return &l
}

// WS creates a logger scoped to control-channel WebSocket plumbing.
func WS() *zerolog.Logger {
	l := Log.With().Str("component", "websocket").Logger()
	return &l
}

// HTTP creates a logger for the public HTTP API.
func HTTP() *zerolog.Logger {
	l := Log.With().Str("component", "http").Logger()
	return &l
}

// Client creates a logger for the developer-side tunnel client.
func Client() *zerolog.Logger {
	l := Log.With().Str("component", "client").Logger()
	return &l
}
