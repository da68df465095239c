/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package logtest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-admission/log"
)

func TestRecorder(t *testing.T) {
	logRecorder := NewRecorder()
	logRecorder.Warn("registry is full", log.Int("max_keys", 1000), log.String("evicted_key", "tenant-1"))
	logRecorder.Info("idle keys swept")

	require.Len(t, logRecorder.Entries(), 2)

	_, found := logRecorder.FindEntry("unknown")
	require.False(t, found)

	entry, found := logRecorder.FindEntry("registry is full")
	require.True(t, found)
	require.Equal(t, log.LevelWarn, entry.Level)

	maxKeys, found := entry.FindField("max_keys")
	require.True(t, found)
	require.Equal(t, 1000, int(maxKeys.Int))
	evictedKey, found := entry.FindField("evicted_key")
	require.True(t, found)
	require.Equal(t, "tenant-1", string(evictedKey.Bytes))
	_, found = entry.FindField("unknown")
	require.False(t, found)

	entry, found = logRecorder.FindEntryByFilter(func(e RecordedEntry) bool { return strings.HasPrefix(e.Text, "idle") })
	require.True(t, found)
	require.Equal(t, log.LevelInfo, entry.Level)

	logRecorder.Reset()
	require.Empty(t, logRecorder.Entries())
}

func TestRecorder_DerivedLoggers(t *testing.T) {
	logRecorder := NewRecorder()

	sweeperLogger := logRecorder.With(log.String("worker", "admission_sweeper"))
	sweeperLogger.Info("sweep pass finished")
	sweeperLogger.WithLevel(log.LevelWarn).Info("must be skipped")
	sweeperLogger.WithLevel(log.LevelWarn).Error("sweep pass failed")

	entries := logRecorder.Entries()
	require.Len(t, entries, 2)
	for _, entry := range entries {
		worker, found := entry.FindField("worker")
		require.True(t, found)
		require.Equal(t, "admission_sweeper", string(worker.Bytes))
	}
	require.Equal(t, log.LevelError, entries[1].Level)
}
