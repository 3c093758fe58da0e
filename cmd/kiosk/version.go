package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Set via -ldflags at build time.
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the kiosk version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("face-checkin-go %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
