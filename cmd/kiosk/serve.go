package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"face-checkin-go/internal/announce"
	"face-checkin-go/internal/backend"
	"face-checkin-go/internal/config"
	"face-checkin-go/internal/detect"
	"face-checkin-go/internal/history"
	"face-checkin-go/internal/kiosk"
	"face-checkin-go/internal/logger"
	"face-checkin-go/internal/server"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the check-in kiosk",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Log); err != nil {
		log.Errorf("Failed to initialize logger completely: %v", err)
	}

	// Attempt history (optional)
	var hist *history.Store
	if cfg.History.Enabled {
		hist, err = history.Open(cfg.History)
		if err != nil {
			log.Fatalf("Failed to open attempt history: %v", err)
		}
		hist.StartBackgroundPrune(24 * time.Hour)
		defer hist.StopBackgroundPrune()
	} else {
		log.Info("Attempt history is disabled in config.")
	}

	// MQTT announcer (optional)
	announcer, err := announce.NewClient(cfg.MQTT)
	if err != nil {
		log.Warnf("Failed to initialize MQTT announcer: %v. Continuing without MQTT.", err)
		announcer = nil
	}
	if announcer != nil {
		if err := announcer.Start(); err != nil {
			log.Warnf("MQTT announcer could not connect: %v. Continuing without MQTT.", err)
		}
		defer announcer.Stop()
	}

	// Detection engine: await model readiness before the first poll.
	engine := detect.NewClient(cfg.Detector)
	readyCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Detector.ReadyTimeoutSec)*time.Second)
	defer cancel()
	if err := engine.WaitReady(readyCtx); err != nil {
		log.Fatalf("Detection engine unavailable: %v", err)
	}

	be := backend.NewClient(cfg.Backend)

	opts := kiosk.Options{History: hist}
	if announcer != nil {
		opts.Announcer = announcer
	}
	ctrl := kiosk.New(cfg, engine, be, opts)
	defer ctrl.Stop()

	startMode, err := kiosk.ParseMode(cfg.Kiosk.StartMode)
	if err != nil {
		log.Warnf("Invalid start mode %q, defaulting to live", cfg.Kiosk.StartMode)
		startMode = kiosk.ModeLive
	}
	if err := ctrl.SetMode(startMode); err != nil {
		// Capture unavailable is terminal for live mode but the kiosk still
		// serves: the UI can switch to still mode.
		log.Errorf("Could not enter %s mode: %v", startMode, err)
	}

	srv := server.New(cfg, ctrl, hist)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Infof("Received signal %v, shutting down", sig)
		return nil
	}
}
