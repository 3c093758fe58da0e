package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "kiosk",
	Short: "Self-service face check-in kiosk",
	Long: `face-checkin-go runs a self-service check-in kiosk: it captures faces
from a camera or uploaded images, polls an external face detection engine
and submits descriptors to a remote check-in service.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/config/config.yaml", "Path to the YAML configuration file")
}
