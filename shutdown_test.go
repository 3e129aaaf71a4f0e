package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"
)

func TestExitOnSecondSignal(t *testing.T) {
	// Keep the default SIGUSR1 action from killing the test binary.
	guard := make(chan os.Signal, 16)
	signal.Notify(guard, syscall.SIGUSR1)
	defer signal.Stop(guard)

	exited := make(chan int, 1)
	forceExit = func(code int) { exited <- code }
	defer func() { forceExit = os.Exit }()

	ctx, cancel := context.WithCancel(context.Background())
	disarm := exitOnSecondSignal(ctx, testLogger(t), syscall.SIGUSR1)
	defer disarm()
	cancel()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case code := <-exited:
			if code != 130 {
				t.Errorf("exit code = %d, want 130", code)
			}
			return
		case <-tick.C:
			if err := syscall.Kill(os.Getpid(), syscall.SIGUSR1); err != nil {
				t.Fatalf("kill: %v", err)
			}
		case <-deadline:
			t.Fatal("repeated signal did not force an exit")
		}
	}
}

func TestExitOnSecondSignalDisarmed(t *testing.T) {
	exited := make(chan int, 1)
	forceExit = func(code int) { exited <- code }
	defer func() { forceExit = os.Exit }()

	disarm := exitOnSecondSignal(context.Background(), testLogger(t), syscall.SIGUSR2)
	disarm()
	select {
	case code := <-exited:
		t.Errorf("disarmed watcher exited with %d", code)
	case <-time.After(50 * time.Millisecond):
	}
}
