package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"polymarket-copytrader/models"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls []models.CopyIntent
	delay time.Duration
	err   error
}

func (f *fakeExecutor) Execute(ctx context.Context, intent models.CopyIntent) (string, float64, float64, error) {
	f.mu.Lock()
	f.calls = append(f.calls, intent)
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return "", 0, 0, f.err
	}
	return "order-1", 0.5, 200, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func waitResult(t *testing.T, ch <-chan ExecutionResult) ExecutionResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("no result delivered")
		return ExecutionResult{}
	}
}

func TestScheduleAndExecute(t *testing.T) {
	exec := &fakeExecutor{}
	results := make(chan ExecutionResult, 1)
	s := NewScheduler(exec, 0, 0, func(res ExecutionResult) { results <- res })
	defer s.Shutdown()

	intent, ok := s.Schedule(testTrade(models.SideBuy, 1000, 0.1), 100, false)
	if !ok {
		t.Fatal("schedule refused")
	}
	if intent.Status != models.IntentScheduled {
		t.Errorf("status = %q, want scheduled", intent.Status)
	}
	if intent.ID == "" {
		t.Error("intent has no ID")
	}

	res := waitResult(t, results)
	if res.Intent.Status != models.IntentExecuted {
		t.Fatalf("terminal status = %q, want executed (err %v)", res.Intent.Status, res.Err)
	}
	if res.OrderID != "order-1" {
		t.Errorf("order id = %q", res.OrderID)
	}
	if !floatEquals(res.FillPrice, 0.5, 0.001) || !floatEquals(res.FillSize, 200, 0.001) {
		t.Errorf("fill = %.2f @ %.2f", res.FillSize, res.FillPrice)
	}
}

func TestScheduleDelayWithinBounds(t *testing.T) {
	exec := &fakeExecutor{}
	results := make(chan ExecutionResult, 1)
	minD, maxD := 20*time.Millisecond, 60*time.Millisecond
	s := NewScheduler(exec, minD, maxD, func(res ExecutionResult) { results <- res })
	defer s.Shutdown()

	intent, _ := s.Schedule(testTrade(models.SideBuy, 1000, 0.1), 100, false)
	delay := intent.ScheduledTime.Sub(intent.DecisionTime)
	if delay < minD || delay > maxD {
		t.Errorf("delay %v outside [%v, %v]", delay, minD, maxD)
	}

	if exec.callCount() != 0 {
		t.Error("executed before delay elapsed")
	}
	waitResult(t, results)
	if exec.callCount() != 1 {
		t.Errorf("executor called %d times", exec.callCount())
	}
}

func TestExecutionFailure(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("order rejected: insufficient balance")}
	results := make(chan ExecutionResult, 1)
	s := NewScheduler(exec, 0, 0, func(res ExecutionResult) { results <- res })
	defer s.Shutdown()

	s.Schedule(testTrade(models.SideBuy, 1000, 0.1), 100, false)

	res := waitResult(t, results)
	if res.Intent.Status != models.IntentFailed {
		t.Fatalf("status = %q, want failed", res.Intent.Status)
	}
	if res.Err == nil {
		t.Error("failed result carries no error")
	}
}

func TestCancelBeforeExecution(t *testing.T) {
	exec := &fakeExecutor{}
	results := make(chan ExecutionResult, 1)
	s := NewScheduler(exec, time.Hour, time.Hour, func(res ExecutionResult) { results <- res })
	defer s.Shutdown()

	intent, _ := s.Schedule(testTrade(models.SideBuy, 1000, 0.1), 100, false)
	if !s.Cancel(intent.ID) {
		t.Fatal("cancel refused")
	}

	res := waitResult(t, results)
	if res.Intent.Status != models.IntentCancelled {
		t.Fatalf("status = %q, want cancelled", res.Intent.Status)
	}
	if exec.callCount() != 0 {
		t.Error("cancelled intent executed")
	}
	if s.Cancel(intent.ID) {
		t.Error("second cancel succeeded")
	}
}

func TestShutdownCancelsScheduled(t *testing.T) {
	exec := &fakeExecutor{}
	results := make(chan ExecutionResult, 4)
	s := NewScheduler(exec, time.Hour, time.Hour, func(res ExecutionResult) { results <- res })

	for i := 0; i < 3; i++ {
		s.Schedule(testTrade(models.SideBuy, 1000, 0.1), 100, false)
	}
	s.Shutdown()

	for i := 0; i < 3; i++ {
		res := waitResult(t, results)
		if res.Intent.Status != models.IntentCancelled {
			t.Errorf("result %d status = %q, want cancelled", i, res.Intent.Status)
		}
	}
	if exec.callCount() != 0 {
		t.Errorf("executor ran %d times during shutdown", exec.callCount())
	}
	if s.PendingCount() != 0 {
		t.Errorf("pending = %d after shutdown", s.PendingCount())
	}

	// New work is refused after shutdown.
	if _, ok := s.Schedule(testTrade(models.SideBuy, 1000, 0.1), 100, false); ok {
		t.Error("schedule accepted after shutdown")
	}
}

func TestShutdownWaitsForInFlight(t *testing.T) {
	exec := &fakeExecutor{delay: 50 * time.Millisecond}
	results := make(chan ExecutionResult, 1)
	s := NewScheduler(exec, 0, 0, func(res ExecutionResult) { results <- res })

	s.Schedule(testTrade(models.SideBuy, 1000, 0.1), 100, false)

	// Let the timer fire and the execution begin.
	for exec.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	s.Shutdown()

	// Shutdown returned only after the in-flight order finished, so its
	// result must already be buffered.
	select {
	case res := <-results:
		if res.Intent.Status != models.IntentExecuted {
			t.Errorf("status = %q, want executed", res.Intent.Status)
		}
	default:
		t.Fatal("shutdown returned before in-flight execution completed")
	}
}
