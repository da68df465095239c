/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatherSingle registers the collector in a new registry and returns its only metric.
func gatherSingle(t assert.TestingT, c prometheus.Collector) (*dto.Metric, bool) {
	reg := prometheus.NewPedanticRegistry()
	if !assert.NoError(t, reg.Register(c)) {
		return nil, false
	}
	families, err := reg.Gather()
	if !assert.NoError(t, err) || !assert.Len(t, families, 1) || !assert.Len(t, families[0].GetMetric(), 1) {
		return nil, false
	}
	return families[0].GetMetric()[0], true
}

// AssertSamplesCountInHistogram asserts that the histogram has observed exactly wantSamplesCount values.
func AssertSamplesCountInHistogram(t assert.TestingT, hist prometheus.Histogram, wantSamplesCount int) bool {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	m, ok := gatherSingle(t, hist)
	if !ok {
		return false
	}
	return assert.Equal(t, wantSamplesCount, int(m.GetHistogram().GetSampleCount()))
}

// RequireSamplesCountInHistogram is the same as AssertSamplesCountInHistogram but stops the test on failure.
func RequireSamplesCountInHistogram(t require.TestingT, hist prometheus.Histogram, wantSamplesCount int) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	if !AssertSamplesCountInHistogram(t, hist, wantSamplesCount) {
		t.FailNow()
	}
}

// AssertSamplesCountInCounter asserts that the counter value equals wantCount.
func AssertSamplesCountInCounter(t assert.TestingT, counter prometheus.Counter, wantCount int) bool {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	m, ok := gatherSingle(t, counter)
	if !ok {
		return false
	}
	return assert.Equal(t, wantCount, int(m.GetCounter().GetValue()))
}

// RequireSamplesCountInCounter is the same as AssertSamplesCountInCounter but stops the test on failure.
func RequireSamplesCountInCounter(t require.TestingT, counter prometheus.Counter, wantCount int) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	if !AssertSamplesCountInCounter(t, counter, wantCount) {
		t.FailNow()
	}
}
