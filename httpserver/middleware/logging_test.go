/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-admission/log"
	"github.com/acronis/go-admission/log/logtest"
)

type mockLoggingNextHandler struct {
	called     int
	statusCode int
	body       string
	logger     log.FieldLogger
}

func (h *mockLoggingNextHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	h.called++
	h.logger = GetLoggerFromContext(r.Context())
	if h.statusCode != 0 {
		rw.WriteHeader(h.statusCode)
	}
	_, _ = rw.Write([]byte(h.body))
}

func TestLoggingHandler_ServeHTTP(t *testing.T) {
	t.Run("response is logged with request fields", func(t *testing.T) {
		logger := logtest.NewRecorder()
		next := &mockLoggingNextHandler{statusCode: http.StatusTooManyRequests, body: `{"error":{}}`}

		req := httptest.NewRequest(http.MethodPost, "/orders?limit=10", nil)
		req.Header.Set(headerForwardedFor, "203.0.113.9, 10.0.0.1")
		req = req.WithContext(NewContextWithRequestID(req.Context(), "ext-id"))
		resp := httptest.NewRecorder()
		Logging(logger)(next).ServeHTTP(resp, req)

		require.Equal(t, 1, next.called)
		require.NotNil(t, next.logger)
		require.Len(t, logger.Entries(), 1)
		logEntry := logger.Entries()[0]
		require.True(t, strings.HasPrefix(logEntry.Text, "response completed in "))

		for key, want := range map[string]string{
			"method":      http.MethodPost,
			"uri":         "/orders?limit=10",
			"remote_addr": "192.0.2.1:1234",
			"origin_addr": "203.0.113.9",
			"request_id":  "ext-id",
		} {
			logField, found := logEntry.FindField(key)
			require.True(t, found, key)
			require.Equal(t, want, string(logField.Bytes), key)
		}
		logField, found := logEntry.FindField("status")
		require.True(t, found)
		require.Equal(t, http.StatusTooManyRequests, int(logField.Int))
		logField, found = logEntry.FindField("bytes_sent")
		require.True(t, found)
		require.Equal(t, len(next.body), int(logField.Int))
	})

	t.Run("request start and implicit status", func(t *testing.T) {
		logger := logtest.NewRecorder()
		next := &mockLoggingNextHandler{}

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		LoggingWithOpts(logger, LoggingOpts{RequestStart: true})(next).ServeHTTP(httptest.NewRecorder(), req)

		require.Len(t, logger.Entries(), 2)
		require.Equal(t, "request started", logger.Entries()[0].Text)
		logField, found := logger.Entries()[1].FindField("status")
		require.True(t, found)
		require.Equal(t, http.StatusOK, int(logField.Int))
	})

	t.Run("excluded endpoint", func(t *testing.T) {
		logger := logtest.NewRecorder()
		opts := LoggingOpts{ExcludedEndpoints: []string{"/healthz"}}

		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		LoggingWithOpts(logger, opts)(&mockLoggingNextHandler{}).ServeHTTP(httptest.NewRecorder(), req)
		require.Empty(t, logger.Entries())

		// Errors are logged even for excluded endpoints.
		req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
		next := &mockLoggingNextHandler{statusCode: http.StatusServiceUnavailable}
		LoggingWithOpts(logger, opts)(next).ServeHTTP(httptest.NewRecorder(), req)
		require.Len(t, logger.Entries(), 1)
	})
}

func TestGetOriginAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.Empty(t, getOriginAddr(req))

	req.Header.Set(headerRealIP, " 198.51.100.1 ")
	require.Equal(t, "198.51.100.1", getOriginAddr(req))

	req.Header.Set(headerForwardedFor, "203.0.113.9")
	require.Equal(t, "203.0.113.9", getOriginAddr(req))
}
