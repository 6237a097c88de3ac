// Package cmd implements the command-line interface for the scenesync
// persistence service.
//
// The package is organized into subpackages:
//
//   - serve: Commands for starting and configuring the service
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See scenesync -help for a list of all commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scenesync/scenesync/cmd/serve"
)

const (
	Version = "1.2.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "scenesync",
		Short: "scene object persistence service",
		Long: fmt.Sprintf(`scenesync (v%s)

A synchronization bridge between a scene-object event stream and a
durable document store. It persists flagged objects, expires them when
their TTL runs out, instantiates template scenes and serves the
persisted state over MQTT and REST.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of scenesync",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("scenesync v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
