/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/acronis/go-admission/httpserver/middleware"
	"github.com/acronis/go-admission/log"
	"github.com/acronis/go-admission/restapi"
)

// StatusClientClosedRequest is a special HTTP status code used by Nginx to show that the client
// closed the request before the server could send a response
const StatusClientClosedRequest = 499

// HealthCheckStatus is a resulting status of the health-check.
type HealthCheckStatus int

// Health-check statuses.
const (
	HealthCheckStatusOK HealthCheckStatus = iota
	HealthCheckStatusFail
)

// HealthCheckResult maps a component name to its status.
type HealthCheckResult = map[string]HealthCheckStatus

// HealthCheck returns statuses of the service components.
type HealthCheck = func(ctx context.Context) (HealthCheckResult, error)

type healthCheckResponseData struct {
	Components map[string]bool `json:"components"`
}

// HealthCheckHandler implements http.Handler and does health-check of a service.
type HealthCheckHandler struct {
	healthCheckFn HealthCheck
}

// NewHealthCheckHandler creates a new http.Handler for doing health-check.
// 200 is responded if all components are healthy, 503 otherwise.
func NewHealthCheckHandler(fn HealthCheck) *HealthCheckHandler {
	if fn == nil {
		fn = func(ctx context.Context) (HealthCheckResult, error) {
			return HealthCheckResult{}, ctx.Err()
		}
	}
	return &HealthCheckHandler{fn}
}

// ServeHTTP serves heath-check HTTP request.
func (h *HealthCheckHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLoggerFromContext(r.Context())

	hcResult, err := h.healthCheckFn(r.Context())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			rw.WriteHeader(StatusClientClosedRequest)
			return
		}
		if logger != nil {
			logger.Error("error while checking health", log.Error(err))
		}
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}

	respStatus := http.StatusOK
	respData := healthCheckResponseData{Components: make(map[string]bool, len(hcResult))}
	for name, status := range hcResult {
		respData.Components[name] = status == HealthCheckStatusOK
		if status != HealthCheckStatusOK {
			respStatus = http.StatusServiceUnavailable
		}
	}
	restapi.RespondCodeAndJSON(rw, respStatus, respData, logger)
}
