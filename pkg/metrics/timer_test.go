package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTimerObserveDuration(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_timer_histogram"})
	timer := NewTimer()
	time.Sleep(time.Millisecond)
	timer.ObserveDuration(h)

	require.Equal(t, uint64(1), testutil.CollectAndCount(h))
}

func TestTimerDurationIsMonotonic(t *testing.T) {
	timer := NewTimer()
	time.Sleep(time.Millisecond)
	require.Greater(t, timer.Duration(), time.Duration(0))
}
