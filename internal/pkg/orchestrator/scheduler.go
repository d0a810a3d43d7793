package orchestrator

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"

	"github.com/VitalCareHQ/VitalCare/internal/pkg/env"
)

// Scheduler runs the recurring billing scan on a cron cadence.
type Scheduler struct {
	cron *cron.Cron
	orc  *Orchestrator
	spec string
}

// NewScheduler creates a scheduler. The cadence comes from BILLING_CRON
// (default hourly at minute 5, after most processor webhooks have settled).
func NewScheduler(orc *Orchestrator) *Scheduler {
	spec := env.GetEnv("BILLING_CRON", "5 * * * *")
	return &Scheduler{
		cron: cron.New(),
		orc:  orc,
		spec: spec,
	}
}

// Start registers the billing job and starts the cron loop in its own
// goroutine.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := s.orc.ProcessRecurringBilling(ctx); err != nil {
			log.Errorf("[Scheduler] Recurring billing run failed: %v", err)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	log.Infof("[Scheduler] Recurring billing scheduled with cadence %q", s.spec)
	return nil
}

// Stop stops the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("[Scheduler] Stopped")
}
