package scan

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestWorkerPoolRunsAllJobs(t *testing.T) {
	p := NewWorkerPool(2, 8)
	p.Start()

	var count atomic.Int32
	for i := 0; i < 5; i++ {
		if err := p.Submit(func(context.Context) error {
			count.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	p.Stop()

	if got := count.Load(); got != 5 {
		t.Errorf("jobs run = %d, want 5", got)
	}
}

func TestWorkerPoolQueueFull(t *testing.T) {
	p := NewWorkerPool(1, 1)
	// Not started yet, so the queue holds exactly one job.
	if err := p.Submit(func(context.Context) error { return nil }); err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	if err := p.Submit(func(context.Context) error { return nil }); !errors.Is(err, ErrQueueFull) {
		t.Errorf("second Submit() error = %v, want ErrQueueFull", err)
	}
	p.Start()
	p.Stop()
}

func TestWorkerPoolRecoversFromPanic(t *testing.T) {
	p := NewWorkerPool(1, 4)
	p.Start()

	var ran atomic.Bool
	_ = p.Submit(func(context.Context) error { panic("boom") })
	_ = p.Submit(func(context.Context) error {
		ran.Store(true)
		return nil
	})
	p.Stop()

	if !ran.Load() {
		t.Error("job after a panicking job never ran")
	}
}
