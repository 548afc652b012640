package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultSchedule fires every day at 08:00 in the scheduler's zone.
const DefaultSchedule = "0 8 * * *"

// Scheduler triggers a Job on a cron schedule. A trigger that fires while the previous run
// is still going is skipped.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	log    logrus.FieldLogger
}

// NewScheduler registers job under spec, a standard five-field expression or a descriptor
// such as "@daily" or "@every 1h", evaluated in loc.
func NewScheduler(job *Job, spec string, loc *time.Location, logger logrus.FieldLogger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "reminder-scheduler")

	cronLogger := cron.PrintfLogger(logger)
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: c, ctx: ctx, cancel: cancel, log: logger}

	if _, err := c.AddFunc(spec, func() { s.trigger(job) }); err != nil {
		cancel()
		return nil, fmt.Errorf("reminder schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) trigger(job *Job) {
	s.log.Info("reminder run triggered")
	if _, err := job.Run(s.ctx); err != nil {
		s.log.WithError(err).Error("scheduled reminder run failed")
	}
}

// Start begins firing in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, entry := range s.cron.Entries() {
		s.log.WithField("next", entry.Next).Info("reminder scheduler started")
	}
}

// Stop prevents new runs and waits for a running one to finish or for ctx to expire, in
// which case the in-flight run is cancelled.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.cancel()
		<-done.Done()
	}
	s.cancel()
	s.log.Info("reminder scheduler stopped")
}
