package signal

import (
	"context"
	"syscall"
	"testing"
	"time"
)

func TestOnSignalsCallsUntilStopped(t *testing.T) {
	calls := make(chan struct{}, 4)
	stop := onSignals(func() { calls <- struct{}{} }, syscall.SIGUSR1)

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatal(err)
	}
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}

	stop()
	stop2 := onSignals(func() {}, syscall.SIGUSR1) // keep SIGUSR1 from killing the test binary
	defer stop2()
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatal(err)
	}
	select {
	case <-calls:
		t.Fatal("handler called after stop")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNotifyContextCancelsOnHangup(t *testing.T) {
	ctx, stop := NotifyContext(context.Background())
	defer stop()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled by SIGHUP")
	}
}
