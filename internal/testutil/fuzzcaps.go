package testutil

import (
	"fmt"
	"runtime/debug"
	"testing"
	"time"
)

const (
	// MaxFuzzDatagram is the largest payload a single UDP datagram can carry.
	MaxFuzzDatagram = 65507
	FuzzTimeout     = 100 * time.Millisecond
)

// Datagram truncates fuzz input to what the socket could ever deliver.
func Datagram(b []byte) []byte {
	if len(b) > MaxFuzzDatagram {
		return b[:MaxFuzzDatagram]
	}
	return b
}

// Bounded runs fn on its own goroutine and fails the test if it panics or
// does not return within d.
func Bounded(t testing.TB, d time.Duration, fn func()) {
	t.Helper()
	if d <= 0 {
		d = FuzzTimeout
	}
	done := make(chan string, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Sprintf("panic: %v\n%s", r, debug.Stack())
				return
			}
			done <- ""
		}()
		fn()
	}()
	select {
	case msg := <-done:
		if msg != "" {
			t.Fatal(msg)
		}
	case <-time.After(d):
		t.Fatalf("timeout after %s", d)
	}
}
