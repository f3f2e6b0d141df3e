package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gymote-relay",
	Short: "Pairing and relay server for gyroscope remote sessions",
	Long: `gymote-relay pairs a screen device with up to two phone remotes over
websockets and relays motion telemetry and viewport metadata between them,
so a phone can drive a pointer on a shared screen.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
