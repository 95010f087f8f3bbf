package schedule

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trionica/catalog-enricher/pkg/config"
	"github.com/trionica/catalog-enricher/pkg/runner"
)

func TestSlotAndNextRun(t *testing.T) {
	sched := config.ScheduleConfig{CronActive: true, Hour: 2, Minute: 30}
	loc := time.UTC

	tests := []struct {
		name     string
		last     time.Time
		now      time.Time
		wantSlot time.Time
		wantNext time.Time
		wantRun  bool
	}{
		{
			name:     "before today's slot, ran yesterday",
			last:     time.Date(2024, 5, 9, 2, 30, 5, 0, loc),
			now:      time.Date(2024, 5, 10, 1, 0, 0, 0, loc),
			wantSlot: time.Date(2024, 5, 9, 2, 30, 0, 0, loc),
			wantNext: time.Date(2024, 5, 10, 2, 30, 0, 0, loc),
			wantRun:  false,
		},
		{
			name:     "slot just passed",
			last:     time.Date(2024, 5, 9, 2, 30, 5, 0, loc),
			now:      time.Date(2024, 5, 10, 2, 31, 0, 0, loc),
			wantSlot: time.Date(2024, 5, 10, 2, 30, 0, 0, loc),
			wantNext: time.Date(2024, 5, 10, 2, 30, 0, 0, loc),
			wantRun:  true,
		},
		{
			name:     "already ran today",
			last:     time.Date(2024, 5, 10, 2, 30, 1, 0, loc),
			now:      time.Date(2024, 5, 10, 9, 0, 0, 0, loc),
			wantSlot: time.Date(2024, 5, 10, 2, 30, 0, 0, loc),
			wantNext: time.Date(2024, 5, 11, 2, 30, 0, 0, loc),
			wantRun:  false,
		},
		{
			name:     "missed several days catches up once",
			last:     time.Date(2024, 5, 1, 2, 30, 0, 0, loc),
			now:      time.Date(2024, 5, 10, 9, 0, 0, 0, loc),
			wantSlot: time.Date(2024, 5, 10, 2, 30, 0, 0, loc),
			wantNext: time.Date(2024, 5, 10, 2, 30, 0, 0, loc),
			wantRun:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SlotAt(sched, tt.now); !got.Equal(tt.wantSlot) {
				t.Errorf("SlotAt() = %v, want %v", got, tt.wantSlot)
			}
			if got := NextRun(sched, tt.last, tt.now); !got.Equal(tt.wantNext) {
				t.Errorf("NextRun() = %v, want %v", got, tt.wantNext)
			}
			if got := ShouldRun(sched, tt.last, tt.now); got != tt.wantRun {
				t.Errorf("ShouldRun() = %v, want %v", got, tt.wantRun)
			}
		})
	}

	inactive := sched
	inactive.CronActive = false
	if ShouldRun(inactive, time.Time{}, time.Date(2024, 5, 10, 9, 0, 0, 0, loc)) {
		t.Error("ShouldRun() must be false when cron is inactive")
	}
}

func TestFormatInterval(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{time.Hour, "1h"},
		{90 * time.Minute, "1h30m"},
		{23*time.Hour + 59*time.Minute, "23h59m"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := FormatInterval(tt.input); got != tt.expected {
				t.Errorf("FormatInterval(%v) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestStateManager(t *testing.T) {
	tmpDir := t.TempDir()
	sm := NewStateManager(tmpDir)

	if err := sm.Load(); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if _, ok := sm.Last(); ok {
		t.Error("Last() should report no run for a fresh state")
	}

	started := time.Date(2024, 5, 10, 2, 30, 0, 0, time.UTC)
	sm.Record(started, "scheduled_20240510_023000", 12, errors.New("budget exhausted"))
	if err := sm.Save(); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, stateFileName)); os.IsNotExist(err) {
		t.Error("State file should exist after Save()")
	}

	sm2 := NewStateManager(tmpDir)
	if err := sm2.Load(); err != nil {
		t.Fatalf("Load() from saved state failed: %v", err)
	}
	st, ok := sm2.Last()
	if !ok {
		t.Fatal("Last() should report a run after Load()")
	}
	if !st.LastRunTime.Equal(started) || st.ItemsProcessed != 12 || st.LastRunSuccess {
		t.Errorf("unexpected state after reload: %+v", st)
	}
	if st.ErrorMessage != "budget exhausted" {
		t.Errorf("ErrorMessage = %q", st.ErrorMessage)
	}
}

type staticConfigs struct{ cfg config.FetchConfig }

func (s *staticConfigs) GetActive(context.Context) (*config.FetchConfig, error) {
	return s.cfg.Clone(), nil
}
func (s *staticConfigs) SaveActive(_ context.Context, cfg *config.FetchConfig) error {
	s.cfg = *cfg
	return nil
}

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestScheduler_CheckOnce(t *testing.T) {
	cfg := config.DefaultFetchConfig()
	cfg.Schedule = config.ScheduleConfig{CronActive: true, Hour: 2, Minute: 0}
	configs := &staticConfigs{cfg: cfg}

	runs := 0
	job := func(context.Context) (runner.Summary, error) {
		runs++
		return runner.Summary{BatchID: "scheduled_x", Processed: 3}, nil
	}

	now := time.Date(2024, 5, 10, 1, 0, 0, 0, time.UTC)
	stateDir := t.TempDir()
	s := NewScheduler(configs, job, stateDir, discardLogger()).WithClock(func() time.Time { return now })
	ctx := context.Background()

	if s.CheckOnce(ctx) {
		t.Fatal("first check before the slot must not run")
	}
	now = now.Add(90 * time.Minute) // 02:30
	if !s.CheckOnce(ctx) {
		t.Fatal("check after the slot must run")
	}
	now = now.Add(time.Hour)
	if s.CheckOnce(ctx) {
		t.Fatal("second check on the same day must not run")
	}
	if runs != 1 {
		t.Errorf("runs = %d, want 1", runs)
	}

	// A restarted scheduler reads the persisted run and does not repeat it
	s2 := NewScheduler(configs, job, stateDir, discardLogger()).WithClock(func() time.Time { return now })
	if err := s2.state.Load(); err != nil {
		t.Fatal(err)
	}
	if s2.CheckOnce(ctx) {
		t.Error("restarted scheduler repeated today's scan")
	}

	configs.cfg.Schedule.CronActive = false
	now = now.Add(24 * time.Hour)
	if s.CheckOnce(ctx) {
		t.Error("inactive cron must not run")
	}

	st, err := s.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Active || st.Slot != "02:00" || st.NeverRun || st.LastRun.BatchID != "scheduled_x" {
		t.Errorf("unexpected status: %+v", st)
	}
}
