// Command tunnel-client is the developer-side process: it dials a tunnel
// server, registers a session, and forwards inbound requests to a local
// target port until interrupted or the reconnect budget is exhausted.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCommand = &cobra.Command{
	Use:   "tunnel-client",
	Short: "Connect a local server to a wingman tunnel session",
}

func init() {
	cobra.EnableCommandSorting = false
	rootCommand.AddCommand(connectCommand)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
