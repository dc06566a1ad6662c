package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "spserver",
		Short: "Event-driven HTTP/1.1 server",
		Long: `spserver is an event-driven HTTP/1.1 server with one worker per
thread. Each worker owns its event loop, listening socket, route cache
and static file cache.

Settings come from flags, SPSERVER_* environment variables and an
optional JSON file, in that order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
