/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package logtest

import (
	"io"
	"os"
	"sync"

	"github.com/ssgreg/logf"

	"github.com/acronis/go-admission/log"
)

// LoggerOpts represents options for the test logger.
type LoggerOpts struct {
	// Output is a destination of JSON-encoded entries, os.Stderr is used if it's nil.
	Output io.Writer
}

// NewLogger returns a logger for tests that synchronously writes JSON entries of all levels to stderr.
// It's slow and must not be used in production.
func NewLogger() log.FieldLogger {
	return NewLoggerWithOpts(LoggerOpts{})
}

// NewLoggerWithOpts is a more configurable version of NewLogger.
func NewLoggerWithOpts(opts LoggerOpts) log.FieldLogger {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	w := &syncJSONWriter{
		encoder: logf.NewJSONEncoder(logf.JSONEncoderConfig{
			FieldKeyTime: "time",
			EncodeTime:   logf.RFC3339NanoTimeEncoder,
		}),
		output: opts.Output,
	}
	return &log.LogfAdapter{Logger: logf.NewLogger(logf.LevelDebug, w)}
}

type syncJSONWriter struct {
	mu      sync.Mutex
	encoder logf.Encoder
	output  io.Writer
}

//nolint:gocritic // logf.EntryWriter interface
func (w *syncJSONWriter) WriteEntry(e logf.Entry) {
	var buf logf.Buffer
	err := w.encoder.Encode(&buf, e)
	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		_, _ = io.WriteString(w.output, err.Error())
		return
	}
	_, _ = w.output.Write(buf.Data)
}
