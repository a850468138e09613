package auth

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/turnstile/pkg/observability"
)

// Janitor periodically removes stale index entries left behind when record
// keys expire. Expiry itself needs no help; only the index sets accumulate
// dead members.
type Janitor struct {
	service  *Service
	schedule string
	cron     *cron.Cron
	logger   *observability.Logger
}

// NewJanitor creates a janitor running on the given cron schedule
func NewJanitor(service *Service, schedule string, logger *observability.Logger) *Janitor {
	if schedule == "" {
		schedule = "@every 10m"
	}
	return &Janitor{
		service:  service,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start begins the background prune schedule
func (j *Janitor) Start() error {
	_, err := j.cron.AddFunc(j.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		j.RunOnce(ctx)
	})
	if err != nil {
		return err
	}
	j.cron.Start()
	j.logger.WithField("schedule", j.schedule).Info("index janitor started")
	return nil
}

// RunOnce performs a single prune pass
func (j *Janitor) RunOnce(ctx context.Context) {
	pruned, err := j.service.PruneIndexes(ctx)
	if err != nil {
		j.logger.WithError(err).Error("index prune failed")
		return
	}
	if pruned > 0 {
		j.logger.WithField("pruned", pruned).Info("pruned stale index entries")
	}
}

// Stop halts the schedule and waits for any running pass to finish
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}
