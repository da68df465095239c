/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package logtest

import (
	"sync"
	"time"

	"github.com/ssgreg/logf"

	"github.com/acronis/go-admission/log"
)

// RecordedEntry is a logged entry captured by Recorder.
type RecordedEntry struct {
	LoggerName string
	Fields     []log.Field
	Level      log.Level
	Time       time.Time
	Text       string
}

// FindField returns the first field of the entry with the given key.
func (re *RecordedEntry) FindField(key string) (*log.Field, bool) {
	for i := range re.Fields {
		if re.Fields[i].Key == key {
			return &re.Fields[i], true
		}
	}
	return nil, false
}

type entriesStorage struct {
	mu      sync.RWMutex
	entries []RecordedEntry
}

//nolint:gocritic // logf.EntryWriter interface
func (s *entriesStorage) WriteEntry(e logf.Entry) {
	fields := make([]log.Field, 0, len(e.Fields)+len(e.DerivedFields))
	fields = append(fields, e.Fields...)
	fields = append(fields, e.DerivedFields...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, RecordedEntry{
		LoggerName: e.LoggerName,
		Fields:     fields,
		Level:      levelFromLogf(e.Level),
		Time:       e.Time,
		Text:       e.Text,
	})
}

// Recorder is log.FieldLogger that keeps all logged entries in memory, so tests can inspect them.
// Loggers derived by With and WithLevel share the storage with the parent one.
type Recorder struct {
	*log.LogfAdapter
	storage *entriesStorage
}

var _ log.FieldLogger = (*Recorder)(nil)

// NewRecorder returns a new Recorder that records entries of all levels.
func NewRecorder() *Recorder {
	storage := &entriesStorage{}
	return &Recorder{&log.LogfAdapter{Logger: logf.NewLogger(logf.LevelDebug, storage)}, storage}
}

// With returns a derived Recorder with the additional fields.
func (r *Recorder) With(fs ...log.Field) log.FieldLogger {
	return &Recorder{r.LogfAdapter.With(fs...).(*log.LogfAdapter), r.storage}
}

// WithLevel returns a derived Recorder that ignores entries below the level.
func (r *Recorder) WithLevel(level log.Level) log.FieldLogger {
	return &Recorder{r.LogfAdapter.WithLevel(level).(*log.LogfAdapter), r.storage}
}

// Entries returns a copy of all recorded entries.
func (r *Recorder) Entries() []RecordedEntry {
	r.storage.mu.RLock()
	defer r.storage.mu.RUnlock()
	return append([]RecordedEntry(nil), r.storage.entries...)
}

// FindEntry returns the first recorded entry with the given message.
func (r *Recorder) FindEntry(msg string) (RecordedEntry, bool) {
	return r.FindEntryByFilter(func(entry RecordedEntry) bool { return entry.Text == msg })
}

// FindEntryByFilter returns the first recorded entry for which filter returns true.
func (r *Recorder) FindEntryByFilter(filter func(entry RecordedEntry) bool) (RecordedEntry, bool) {
	for _, entry := range r.Entries() {
		if filter(entry) {
			return entry, true
		}
	}
	return RecordedEntry{}, false
}

// Reset forgets all recorded entries.
func (r *Recorder) Reset() {
	r.storage.mu.Lock()
	r.storage.entries = nil
	r.storage.mu.Unlock()
}

func levelFromLogf(level logf.Level) log.Level {
	switch level {
	case logf.LevelError:
		return log.LevelError
	case logf.LevelWarn:
		return log.LevelWarn
	case logf.LevelDebug:
		return log.LevelDebug
	default:
		return log.LevelInfo
	}
}
