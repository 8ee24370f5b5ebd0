package scheduler

import (
	"testing"

	"github.com/edwardrichtofen115/subscout/internal/config"
)

func TestSweeperRestart(t *testing.T) {
	cfg := &config.WatchConfig{RenewalWindowHours: 24, SweepIntervalMinutes: 60}
	sweeper := NewSweeper(cfg, nil, nil, nil)

	if err := sweeper.Start(); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if !sweeper.IsRunning() {
		t.Fatalf("sweeper should be running after Start")
	}
	if err := sweeper.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if sweeper.IsRunning() {
		t.Fatalf("sweeper should not be running after Stop")
	}
	if err := sweeper.Start(); err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	if !sweeper.IsRunning() {
		t.Fatalf("sweeper should be running after second Start")
	}
	// context should be active
	if sweeper.ctx == nil || sweeper.ctx.Err() != nil {
		t.Fatalf("sweeper context should be active after restart")
	}
	sweeper.Stop()
}

func TestSweeperDoubleStart(t *testing.T) {
	cfg := &config.WatchConfig{RenewalWindowHours: 24, SweepIntervalMinutes: 60}
	sweeper := NewSweeper(cfg, nil, nil, nil)

	if err := sweeper.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := sweeper.Start(); err == nil {
		t.Fatalf("second start without stop should fail")
	}
	sweeper.Stop()
}

func TestSweeperNextRun(t *testing.T) {
	cfg := &config.WatchConfig{RenewalWindowHours: 24, SweepIntervalMinutes: 15}
	sweeper := NewSweeper(cfg, nil, nil, nil)

	if !sweeper.GetNextRun().IsZero() {
		t.Fatalf("next run should be zero when stopped")
	}

	if err := sweeper.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer sweeper.Stop()

	if sweeper.GetNextRun().IsZero() {
		t.Fatalf("next run should be scheduled after Start")
	}
}
