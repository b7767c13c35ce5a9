package debuglog

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger is the logging surface the node components depend on. Both
// *logrus.Logger and *logrus.Entry satisfy it.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

var (
	std     = newStd()
	rlMu    sync.Mutex
	rlLast  = make(map[string]time.Time)
	rlSweep = time.Now()
)

func newStd() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if enabled() {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

func enabled() bool {
	return os.Getenv("PULSAR_DEBUG") == "1"
}

// For tags every line with the emitting component.
func For(component string) Logger {
	return std.WithField("component", component)
}

// New builds a standalone logger, e.g. one per node in tests.
func New(w io.Writer, level string) (Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(lvl)
	return l, nil
}

func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	std.SetLevel(lvl)
	return nil
}

func SetDebug(on bool) {
	if on {
		std.SetLevel(logrus.DebugLevel)
		return
	}
	std.SetLevel(logrus.InfoLevel)
}

func Warnf(format string, args ...any) {
	std.Warnf(format, args...)
}

// RateLimitedf emits at most one warning per key and interval, so hostile
// traffic cannot turn into a log flood.
func RateLimitedf(l Logger, key string, interval time.Duration, format string, args ...any) {
	if l == nil || key == "" {
		return
	}
	if !allow(key, interval, time.Now()) {
		return
	}
	l.Warnf(format, args...)
}

func allow(key string, interval time.Duration, now time.Time) bool {
	rlMu.Lock()
	defer rlMu.Unlock()
	last := rlLast[key]
	if now.Sub(last) < interval {
		return false
	}
	rlLast[key] = now
	if now.Sub(rlSweep) > 2*interval {
		for k, ts := range rlLast {
			if now.Sub(ts) > 4*interval {
				delete(rlLast, k)
			}
		}
		rlSweep = now
	}
	return true
}
