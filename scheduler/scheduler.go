// Package scheduler triggers a full scan once a day at a configured
// time.
package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"stock_screener_backend/services/scanner"
)

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron     *gocron.Scheduler
	scanner  *scanner.Scanner
	schedule string
}

// NewScheduler creates a scheduler. schedule is a "HH:MM" daily trigger
// time; empty disables the scan job.
func NewScheduler(sc *scanner.Scanner, schedule string) *Scheduler {
	return &Scheduler{
		cron:     gocron.NewScheduler(time.UTC),
		scanner:  sc,
		schedule: schedule,
	}
}

// Start starts all scheduled jobs
func (s *Scheduler) Start() {
	if s.schedule == "" {
		log.Println("SCAN_SCHEDULE not set, daily scan job disabled")
		return
	}

	log.Printf("Starting scheduler: daily scan at %s UTC", s.schedule)
	if _, err := s.cron.Every(1).Day().At(s.schedule).Do(s.runScheduledScan); err != nil {
		log.Printf("Failed to schedule daily scan: %v", err)
		return
	}

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

func (s *Scheduler) runScheduledScan() {
	scanID, err := s.scanner.Start(context.Background())
	if err != nil {
		if errors.Is(err, scanner.ErrScanInProgress) {
			log.Println("Scheduled scan skipped: a scan is already running")
			return
		}
		log.Printf("Scheduled scan failed to start: %v", err)
		return
	}
	log.Printf("Scheduled scan started (scan_id=%d)", scanID)
}
