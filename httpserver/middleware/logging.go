/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/acronis/go-admission/log"
)

const (
	headerForwardedFor = "X-Forwarded-For"
	headerRealIP       = "X-Real-IP"
)

// LoggingOpts represents an options for Logging middleware.
type LoggingOpts struct {
	RequestStart      bool
	ExcludedEndpoints []string
}

type loggingHandler struct {
	next   http.Handler
	logger log.FieldLogger
	opts   LoggingOpts
}

// Logging is a middleware that logs info about HTTP request and response.
// Also, it puts logger (with external and internal request's ids in fields) into request's context,
// so the next handlers (RateLimited middleware included) log within the request scope.
func Logging(logger log.FieldLogger) func(next http.Handler) http.Handler {
	return LoggingWithOpts(logger, LoggingOpts{})
}

// LoggingWithOpts is a more configurable version of Logging middleware.
func LoggingWithOpts(logger log.FieldLogger, opts LoggingOpts) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return &loggingHandler{next: next, logger: logger, opts: opts}
	}
}

func (h *loggingHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	logFields := []log.Field{
		log.String("request_id", GetRequestIDFromContext(ctx)),
		log.String("int_request_id", GetInternalRequestIDFromContext(ctx)),
		log.String("method", r.Method),
		log.String("uri", r.RequestURI),
		log.String("remote_addr", r.RemoteAddr),
	}
	if originAddr := getOriginAddr(r); originAddr != "" {
		logFields = append(logFields, log.String("origin_addr", originAddr))
	}
	logger := h.logger.With(logFields...)

	noLog := isLoggingDisabled(r.URL.Path, h.opts.ExcludedEndpoints)
	if h.opts.RequestStart && !noLog {
		logger.Info("request started")
	}

	wrw := chimw.NewWrapResponseWriter(rw, r.ProtoMajor)
	h.next.ServeHTTP(wrw, r.WithContext(NewContextWithLogger(ctx, logger)))

	status := wrw.Status()
	if status == 0 {
		status = http.StatusOK
	}
	if noLog && status < http.StatusBadRequest {
		return
	}
	duration := time.Since(startTime)
	fields := []log.Field{
		log.Int64("duration_ms", duration.Milliseconds()),
		log.Int("status", status),
		log.Int("bytes_sent", wrw.BytesWritten()),
	}
	logger.Info(fmt.Sprintf("response completed in %.3fs", duration.Seconds()), fields...)
}

func isLoggingDisabled(urlPath string, noLogEndpoints []string) bool {
	for _, endpoint := range noLogEndpoints {
		if urlPath == endpoint {
			return true
		}
	}
	return false
}

func getOriginAddr(r *http.Request) string {
	if forwardFor := r.Header.Get(headerForwardedFor); forwardFor != "" {
		if first := strings.IndexByte(forwardFor, ','); first != -1 {
			forwardFor = forwardFor[:first]
		}
		return strings.TrimSpace(forwardFor)
	}
	return strings.TrimSpace(r.Header.Get(headerRealIP))
}
