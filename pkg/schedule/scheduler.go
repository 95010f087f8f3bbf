// Package schedule triggers the scheduled catalog scan once a day at the
// configured hour and minute.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trionica/catalog-enricher/pkg/config"
	"github.com/trionica/catalog-enricher/pkg/runner"
	"github.com/trionica/catalog-enricher/pkg/storage"
)

// DefaultTick is how often the scheduler checks whether a scan is due
const DefaultTick = time.Minute

// Job runs one scheduled scan
type Job func(ctx context.Context) (runner.Summary, error)

// Scheduler re-reads the active configuration on every tick, so changes to
// the hour, minute or cron_active toggle apply without a restart
type Scheduler struct {
	configs storage.ConfigStore
	job     Job
	state   *StateManager
	tick    time.Duration
	now     func() time.Time
	started time.Time
	log     *logrus.Entry
}

// NewScheduler creates a scheduler persisting its state under stateDir
func NewScheduler(configs storage.ConfigStore, job Job, stateDir string, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		configs: configs,
		job:     job,
		state:   NewStateManager(stateDir),
		tick:    DefaultTick,
		now:     time.Now,
		log:     log,
	}
}

// WithTick overrides the check interval
func (s *Scheduler) WithTick(d time.Duration) *Scheduler {
	if d > 0 {
		s.tick = d
	}
	return s
}

// WithClock overrides the clock
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// SlotAt returns the most recent daily hour:minute at or before now, in now's location
func SlotAt(sched config.ScheduleConfig, now time.Time) time.Time {
	slot := time.Date(now.Year(), now.Month(), now.Day(), sched.Hour, sched.Minute, 0, 0, now.Location())
	if slot.After(now) {
		slot = slot.AddDate(0, 0, -1)
	}
	return slot
}

// NextRun returns when the next scan is due given the last run time
func NextRun(sched config.ScheduleConfig, last, now time.Time) time.Time {
	slot := SlotAt(sched, now)
	if last.Before(slot) {
		return slot
	}
	return slot.AddDate(0, 0, 1)
}

// ShouldRun reports whether a slot has passed since last
func ShouldRun(sched config.ScheduleConfig, last, now time.Time) bool {
	if !sched.CronActive {
		return false
	}
	return last.Before(SlotAt(sched, now))
}

// lastRun treats a scheduler that never ran as having run at start-up, so
// the first scan happens at the next slot rather than immediately
func (s *Scheduler) lastRun() time.Time {
	if st, ok := s.state.Last(); ok {
		return st.LastRunTime
	}
	return s.started
}

// Run blocks until ctx is done, running the job whenever a slot is due
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.state.Load(); err != nil {
		s.log.Warnf("Failed to load schedule state: %v (starting fresh)", err)
	}
	s.started = s.now()
	s.log.Infof("Scheduler started, checking every %v", s.tick)
	s.CheckOnce(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Scheduler shutting down...")
			return nil
		case <-ticker.C:
			s.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs the job if a scan is due. It reports whether the job ran.
func (s *Scheduler) CheckOnce(ctx context.Context) bool {
	if s.started.IsZero() {
		s.started = s.now()
	}
	cfg, err := s.configs.GetActive(ctx)
	if err != nil {
		s.log.Errorf("Scheduler could not read the active configuration: %v", err)
		return false
	}
	now := s.now()
	if !cfg.Enabled || !cfg.Schedule.CronActive {
		s.log.Debug("Scheduled scan inactive")
		return false
	}
	if !ShouldRun(cfg.Schedule, s.lastRun(), now) {
		return false
	}

	s.log.Infof("Scheduled scan due (slot %s)", SlotAt(cfg.Schedule, now).Format("2006-01-02 15:04"))
	sum, runErr := s.job(ctx)
	if runErr != nil {
		s.log.Errorf("Scheduled scan failed: %v", runErr)
	}
	s.state.Record(now, sum.BatchID, sum.Processed, runErr)
	if err := s.state.Save(); err != nil {
		s.log.Errorf("Failed to save schedule state: %v", err)
	}
	s.logNextRun(cfg.Schedule, now)
	return true
}

// Status describes the schedule for display
type Status struct {
	Active   bool
	Slot     string // "HH:MM"
	LastRun  RunState
	NeverRun bool
	NextRun  time.Time
}

// Status reports the current schedule and the last recorded scan
func (s *Scheduler) Status(ctx context.Context) (Status, error) {
	if err := s.state.Load(); err != nil {
		return Status{}, err
	}
	cfg, err := s.configs.GetActive(ctx)
	if err != nil {
		return Status{}, err
	}
	last, ok := s.state.Last()
	now := s.now()
	ref := last.LastRunTime
	if !ok {
		ref = now
	}
	return Status{
		Active:   cfg.Enabled && cfg.Schedule.CronActive,
		Slot:     fmt.Sprintf("%02d:%02d", cfg.Schedule.Hour, cfg.Schedule.Minute),
		LastRun:  last,
		NeverRun: !ok,
		NextRun:  NextRun(cfg.Schedule, ref, now),
	}, nil
}

func (s *Scheduler) logNextRun(sched config.ScheduleConfig, now time.Time) {
	next := NextRun(sched, now, now)
	s.log.Infof("Next scheduled scan in %s (at %s)", FormatInterval(next.Sub(now)), next.Format("2006-01-02 15:04"))
}

// FormatInterval formats a duration for display
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	if mins > 0 {
		return fmt.Sprintf("%dh%dm", hours, mins)
	}
	return fmt.Sprintf("%dh", hours)
}
