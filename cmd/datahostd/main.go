// Command datahostd runs one node of a replicated, transactional,
// multi-model data host.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/cuemby/datahost/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information, set via ldflags during build.
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:     "datahostd",
	Short:   "datahostd serves a replicated, transactional, multi-model data host",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"datahostd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// exitCode maps a setup failure to the process exit codes: 1 for an I/O or
// configuration error, 2 for a peer bootstrap failure, chosen by the
// sentinel errors serve.go returns.
func exitCode(err error) int {
	if errors.Is(err, errPeerBootstrap) {
		return 2
	}
	return 1
}
