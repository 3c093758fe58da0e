// Package history keeps a local audit log of check-in and registration
// attempts. Customer records live on the backend; this log only stores what
// the kiosk itself observed.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"face-checkin-go/internal/config"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var logFields = log.Fields{
	"component": "history",
}

// Attempt kinds.
const (
	KindCheckIn      = "checkin"
	KindRegistration = "registration"
)

// Attempt outcomes.
const (
	OutcomeMatched   = "matched"
	OutcomeSucceeded = "succeeded"
	OutcomeRejected  = "rejected"
	OutcomeTransport = "transport_failure"
	OutcomeLocal     = "local_error"
)

// Attempt is one recorded check-in or registration attempt.
type Attempt struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	UUID      string         `gorm:"size:36;uniqueIndex" json:"uuid"`
	Kind      string         `gorm:"size:16;index" json:"kind"`
	Mode      string         `gorm:"size:8" json:"mode"`
	Outcome   string         `gorm:"size:24;index" json:"outcome"`
	Message   string         `json:"message"`
	Distance  *float64       `json:"distance,omitempty"`
	Customer  datatypes.JSON `json:"customer,omitempty"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

// Store is the SQLite-backed attempt log.
type Store struct {
	db *gorm.DB

	retentionDays int
	stopPrune     chan struct{}
}

// Open opens (or creates) the attempt database and migrates the schema.
func Open(cfg config.HistoryConfig) (*Store, error) {
	dir := filepath.Dir(cfg.File)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create history directory '%s': %w", dir, err)
	}

	db, err := gorm.Open(sqlite.Open(cfg.File), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	if err := db.AutoMigrate(&Attempt{}); err != nil {
		return nil, fmt.Errorf("failed to migrate history schema: %w", err)
	}

	log.WithFields(logFields).Infof("Attempt history database ready at %s", cfg.File)
	return &Store{db: db, retentionDays: cfg.RetentionDays}, nil
}

// Record stores one attempt. A missing UUID is filled in.
func (s *Store) Record(a *Attempt) error {
	if a.UUID == "" {
		a.UUID = uuid.NewString()
	}
	if err := s.db.Create(a).Error; err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// Recent returns the most recent attempts, newest first.
func (s *Store) Recent(limit int) ([]Attempt, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var attempts []Attempt
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("failed to load attempts: %w", err)
	}
	return attempts, nil
}

// Prune deletes attempts older than the retention window and returns how
// many were removed.
func (s *Store) Prune() (int64, error) {
	if s.retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	res := s.db.Where("created_at < ?", cutoff).Delete(&Attempt{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune attempts: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// StartBackgroundPrune prunes on the given interval until StopBackgroundPrune
// is called.
func (s *Store) StartBackgroundPrune(interval time.Duration) {
	if s.stopPrune != nil {
		return
	}
	s.stopPrune = make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		log.WithFields(logFields).Infof("Background history pruning every %v (retention %d days)", interval, s.retentionDays)
		for {
			select {
			case <-s.stopPrune:
				return
			case <-ticker.C:
				if n, err := s.Prune(); err != nil {
					log.WithFields(logFields).Errorf("History pruning failed: %v", err)
				} else if n > 0 {
					log.WithFields(logFields).Infof("Pruned %d old attempts", n)
				}
			}
		}
	}()
}

// StopBackgroundPrune stops the background pruning loop.
func (s *Store) StopBackgroundPrune() {
	if s.stopPrune != nil {
		close(s.stopPrune)
		s.stopPrune = nil
	}
}
