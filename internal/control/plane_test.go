package control

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestControlPlane_PauseResume(t *testing.T) {
	cp := New()

	if cp.IsPaused() {
		t.Error("Should not be paused initially")
	}

	cp.Pause()
	if !cp.IsPaused() {
		t.Error("Should be paused after Pause()")
	}

	cp.Resume()
	if cp.IsPaused() {
		t.Error("Should not be paused after Resume()")
	}
}

func TestControlPlane_WaitIfPaused(t *testing.T) {
	cp := New()
	ctx := context.Background()

	start := time.Now()
	err := cp.WaitIfPaused(ctx)
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Error("Should return immediately when not paused")
	}

	cp.Pause()
	done := make(chan struct{})
	go func() {
		cp.WaitIfPaused(ctx)
		close(done)
	}()

	select {
	case <-done:
		t.Error("Should be waiting")
	case <-time.After(50 * time.Millisecond):
		// Expected
	}

	cp.Resume()
	select {
	case <-done:
		// Expected
	case <-time.After(100 * time.Millisecond):
		t.Error("Should have resumed")
	}
}

func TestControlPlane_WaitIfPaused_CancelUnblocks(t *testing.T) {
	cp := New()
	cp.Pause()

	done := make(chan error, 1)
	go func() {
		done <- cp.WaitIfPaused(context.Background())
	}()

	select {
	case err := <-done:
		t.Fatalf("expected WaitIfPaused to block, got err=%v", err)
	case <-time.After(50 * time.Millisecond):
		// Expected
	}

	cp.Cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after cancel, got nil")
		}
		if !strings.Contains(err.Error(), "CANCELLED") {
			t.Fatalf("expected CANCELLED error, got %v", err)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected WaitIfPaused to unblock after cancel")
	}
}

func TestControlPlane_Cancel(t *testing.T) {
	cp := New()

	if cp.IsCancelled() {
		t.Error("Should not be cancelled initially")
	}

	if err := cp.CheckCancelled(); err != nil {
		t.Errorf("Should not return error initially: %v", err)
	}

	forced := cp.Cancel()
	if forced {
		t.Error("first cancel should not be a force-quit")
	}

	if !cp.IsCancelled() {
		t.Error("Should be cancelled")
	}

	if err := cp.CheckCancelled(); err == nil {
		t.Error("Should return error after cancel")
	}
}

func TestControlPlane_DoubleCancelWithinWindowForcesQuit(t *testing.T) {
	cp := New()

	if forced := cp.Cancel(); forced {
		t.Fatal("first cancel should not force-quit")
	}
	if cp.IsForceQuit() {
		t.Fatal("should not be a force-quit yet")
	}

	if forced := cp.Cancel(); !forced {
		t.Fatal("second cancel within the window should force-quit")
	}
	if !cp.IsForceQuit() {
		t.Error("should be a force-quit after the second cancel")
	}
}

func TestControlPlane_CancelWhilePausedUnblocksWait(t *testing.T) {
	cp := New()
	cp.Pause()

	done := make(chan error, 1)
	go func() {
		done <- cp.WaitIfPaused(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	cp.Cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("cancel while paused should unblock WaitIfPaused")
	}
	if cp.IsPaused() {
		t.Error("cancel should clear paused state so the loop can exit")
	}
}

func TestControlPlane_Status(t *testing.T) {
	cp := New()

	status := cp.Status()
	if status.Paused {
		t.Error("Status.Paused should be false initially")
	}
	if status.Cancelled {
		t.Error("Status.Cancelled should be false initially")
	}

	cp.Pause()
	status = cp.Status()
	if !status.Paused {
		t.Error("Status.Paused should be true after pause")
	}
}

func TestControlPlane_PausedCh(t *testing.T) {
	cp := New()

	ch := cp.PausedCh()
	select {
	case <-ch:
		t.Error("Channel should not be closed when not paused")
	default:
		// Expected
	}

	cp.Pause()
	ch = cp.PausedCh()
	select {
	case <-ch:
		// Expected - channel is closed
	default:
		t.Error("Channel should be closed when paused")
	}
}

func TestControlPlane_WaitIfPaused_ContextCancellation(t *testing.T) {
	cp := New()
	cp.Pause()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := cp.WaitIfPaused(ctx)
	if err != context.DeadlineExceeded {
		t.Errorf("Expected context.DeadlineExceeded, got %v", err)
	}
}

func TestControlPlane_DoublePause(t *testing.T) {
	cp := New()

	cp.Pause()
	cp.Pause()
	if !cp.IsPaused() {
		t.Error("Should still be paused after double pause")
	}
}

func TestControlPlane_DoubleResume(t *testing.T) {
	cp := New()

	cp.Pause()
	cp.Resume()
	cp.Resume() // Should be a no-op
	if cp.IsPaused() {
		t.Error("Should not be paused after double resume")
	}
}

type fakePausable struct {
	paused, resumed int
}

func (f *fakePausable) Pause() { f.paused++ }
func (f *fakePausable) Resume() { f.resumed++ }

func TestControlPlane_BindForwardsPauseResume(t *testing.T) {
	cp := New()
	target := &fakePausable{}
	cp.Bind(target)

	cp.Pause()
	if target.paused != 1 {
		t.Errorf("expected bound target to see 1 Pause call, got %d", target.paused)
	}

	cp.Resume()
	if target.resumed != 1 {
		t.Errorf("expected bound target to see 1 Resume call, got %d", target.resumed)
	}
}

func TestControlPlane_ProvideUserInputUnknownRequest(t *testing.T) {
	cp := New()
	if err := cp.ProvideUserInput("nonexistent", "answer"); err == nil {
		t.Error("expected error for nonexistent request")
	}
}

func TestControlPlane_CancelUserInputUnknownRequest(t *testing.T) {
	cp := New()
	if err := cp.CancelUserInput("nonexistent"); err == nil {
		t.Error("expected error for nonexistent request")
	}
}

func TestControlPlane_RequestAndProvideUserInput(t *testing.T) {
	cp := New()

	done := make(chan InputResponse, 1)
	go func() {
		resp, _ := cp.RequestUserInput(context.Background(), InputRequest{
			ID: "req-1",
			Prompt: "Continue?",
		})
		done <- resp
	}()

	select {
	case req := <-cp.InputRequests():
		if req.ID != "req-1" {
			t.Errorf("got request ID %q", req.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for request")
	}

	if err := cp.ProvideUserInput("req-1", "yes"); err != nil {
		t.Fatalf("ProvideUserInput failed: %v", err)
	}

	select {
	case resp := <-done:
		if resp.Input != "yes" {
			t.Errorf("got input %q", resp.Input)
		}
		if resp.Cancelled {
			t.Error("should not be cancelled")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestControlPlane_RequestUserInputContextCancelled(t *testing.T) {
	cp := New()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := cp.RequestUserInput(ctx, InputRequest{ID: "req-timeout", Prompt: "Will timeout"}); err == nil {
		t.Error("expected error from context cancellation")
	}
}
