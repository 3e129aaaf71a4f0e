package main

import (
	"context"
	"os"
	"os/signal"
)

// forceExit is replaced in tests.
var forceExit = os.Exit

// exitOnSecondSignal arms a hard exit once ctx is done: the first signal
// starts a graceful stop, a repeat of any of sigs exits immediately with
// status 130 even if an output write is still blocked. The returned func
// disarms it.
func exitOnSecondSignal(ctx context.Context, log Logger, sigs ...os.Signal) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, sigs...)
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			log.Warnf("received %s again, exiting without flushing", sig)
			forceExit(130)
		case <-done:
		}
	}()
	return func() { close(done) }
}
