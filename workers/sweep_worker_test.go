package workers

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"game-session-system/services"
)

type countingSweeper struct{ runs atomic.Int32 }

func (s *countingSweeper) Run(context.Context) (*services.SweepReport, error) {
	s.runs.Add(1)
	return &services.SweepReport{}, nil
}

func TestSweepWorkerRunsUntilCancelled(t *testing.T) {
	sweeper := &countingSweeper{}
	worker := NewSweepWorker(sweeper, 20*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for sweeper.runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	if sweeper.runs.Load() < 2 {
		t.Fatalf("ran %d sweeps, want at least 2", sweeper.runs.Load())
	}
}

func TestSweepWorkerRejectsBadInterval(t *testing.T) {
	worker := NewSweepWorker(&countingSweeper{}, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := worker.Start(context.Background()); err == nil {
		t.Fatal("zero interval should fail")
	}
}
