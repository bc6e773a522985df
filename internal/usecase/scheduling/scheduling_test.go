package scheduling

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func TestAddTask_UnknownAction(t *testing.T) {
	s := NewScheduler(slog.Default())
	err := s.AddTask(MaintenanceTask{Name: "x", Schedule: "1h", Action: "nope"})
	if err == nil {
		t.Fatal("AddTask with unregistered action succeeded")
	}
}

func TestAddTask_InvalidSchedule(t *testing.T) {
	s := NewScheduler(slog.Default())
	s.RegisterAction(ActionPruneActivities, func(context.Context) error { return nil })
	err := s.AddTask(MaintenanceTask{Name: "x", Schedule: "whenever", Action: ActionPruneActivities})
	if err == nil {
		t.Fatal("AddTask with bad schedule succeeded")
	}
}

func TestScheduler_RunsDurationTask(t *testing.T) {
	s := NewScheduler(slog.Default())

	var runs atomic.Int32
	s.RegisterAction(ActionTrimScreenshots, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	if err := s.AddTask(MaintenanceTask{
		Name:     "trim",
		Schedule: "10ms",
		Action:   ActionTrimScreenshots,
	}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Fatal("task never ran")
	}
}

func TestScheduler_StopSkipsPendingRuns(t *testing.T) {
	s := NewScheduler(slog.Default())

	var runs atomic.Int32
	s.RegisterAction(ActionPruneActivities, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	if err := s.AddTask(MaintenanceTask{
		Name:     "prune",
		Schedule: "10ms",
		Action:   ActionPruneActivities,
	}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	settled := runs.Load()
	time.Sleep(50 * time.Millisecond)
	if runs.Load() != settled {
		t.Errorf("task ran after Stop: %d -> %d", settled, runs.Load())
	}
}

func TestParseSchedule(t *testing.T) {
	if _, err := parseSchedule("0 3 * * *"); err != nil {
		t.Errorf("cron expression rejected: %v", err)
	}
	if _, err := parseSchedule("@daily"); err != nil {
		t.Errorf("descriptor rejected: %v", err)
	}
	if _, err := parseSchedule("90m"); err != nil {
		t.Errorf("duration rejected: %v", err)
	}
	if _, err := parseSchedule(""); err == nil {
		t.Error("empty schedule accepted")
	}
	if _, err := parseSchedule("-5m"); err == nil {
		t.Error("negative duration accepted")
	}
}
