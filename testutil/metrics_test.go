/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRequireSamplesCountInCounter(t *testing.T) {
	rejected := prometheus.NewCounter(prometheus.CounterOpts{Name: "rejected_total"})
	rejected.Add(3)

	mockT := &MockT{}
	RequireSamplesCountInCounter(mockT, rejected, 2)
	require.True(t, mockT.Failed)

	mockT = &MockT{}
	RequireSamplesCountInCounter(mockT, rejected, 3)
	require.False(t, mockT.Failed)
}

func TestRequireSamplesCountInHistogram(t *testing.T) {
	sweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "sweep_duration_seconds", Buckets: []float64{0.001, 0.01, 0.1},
	})
	sweepDuration.Observe(0.005)
	sweepDuration.Observe(0.05)

	mockT := &MockT{}
	RequireSamplesCountInHistogram(mockT, sweepDuration, 1)
	require.True(t, mockT.Failed)

	mockT = &MockT{}
	RequireSamplesCountInHistogram(mockT, sweepDuration, 2)
	require.False(t, mockT.Failed)
}

func TestWaitListeningServer(t *testing.T) {
	addr := GetLocalAddrWithFreeTCPPort()
	require.Error(t, WaitListeningServer(addr, 0))
}
