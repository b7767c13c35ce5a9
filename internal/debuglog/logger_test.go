package debuglog

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimitedfSuppressesRepeats(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "warn")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		RateLimitedf(l, "test:repeat", time.Hour, "malformed datagram %d", i)
	}
	require.Equal(t, 1, strings.Count(buf.String(), "malformed datagram"))

	RateLimitedf(l, "test:other", time.Hour, "other key")
	require.Contains(t, buf.String(), "other key")
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "loud")
	require.Error(t, err)
}

func TestNewHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "info")
	require.NoError(t, err)
	l.Debugf("hidden")
	l.Infof("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")
}
