package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// NotifyContext returns a context that is cancelled on SIGTERM or SIGHUP.
// SIGINT is left to OnInterrupt. The returned stop function should be
// called to release resources.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGHUP)
}

// OnInterrupt calls fn for every SIGINT until stop is called. Unlike
// NotifyContext it keeps the process alive, so an interrupt can cancel one
// ask and leave the caller running.
func OnInterrupt(fn func()) (stop func()) {
	return onSignals(fn, os.Interrupt)
}

func onSignals(fn func(), sigs ...os.Signal) func() {
	ch := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(ch, sigs...)
	go func() {
		for {
			select {
			case <-ch:
				fn()
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
