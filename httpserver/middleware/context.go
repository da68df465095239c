/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"context"

	"github.com/acronis/go-admission/admission"
	"github.com/acronis/go-admission/log"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyInternalRequestID
	ctxKeyLogger
	ctxKeyAdmissionDecision
)

func getStringFromContext(ctx context.Context, key ctxKey) string {
	value, _ := ctx.Value(key).(string)
	return value
}

// NewContextWithRequestID creates a new context with external request id.
func NewContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

// GetRequestIDFromContext extracts external request id from the context.
func GetRequestIDFromContext(ctx context.Context) string {
	return getStringFromContext(ctx, ctxKeyRequestID)
}

// NewContextWithInternalRequestID creates a new context with internal request id.
func NewContextWithInternalRequestID(ctx context.Context, internalRequestID string) context.Context {
	return context.WithValue(ctx, ctxKeyInternalRequestID, internalRequestID)
}

// GetInternalRequestIDFromContext extracts internal request id from the context.
func GetInternalRequestIDFromContext(ctx context.Context) string {
	return getStringFromContext(ctx, ctxKeyInternalRequestID)
}

// NewContextWithLogger creates a new context with logger.
func NewContextWithLogger(ctx context.Context, logger log.FieldLogger) context.Context {
	return context.WithValue(ctx, ctxKeyLogger, logger)
}

// GetLoggerFromContext extracts logger from the context.
func GetLoggerFromContext(ctx context.Context) log.FieldLogger {
	logger, _ := ctx.Value(ctxKeyLogger).(log.FieldLogger)
	return logger
}

// AdmissionInfo describes the admission decision made for the request by RateLimited middleware.
type AdmissionInfo struct {
	Key      string
	Limit    RateLimited
	Decision admission.Decision
}

// NewContextWithAdmissionInfo creates a new context with the admission decision.
func NewContextWithAdmissionInfo(ctx context.Context, info AdmissionInfo) context.Context {
	return context.WithValue(ctx, ctxKeyAdmissionDecision, info)
}

// GetAdmissionInfoFromContext extracts the admission decision from the context.
// The second return value is false if the request didn't pass through RateLimited middleware
// or the middleware bypassed it.
func GetAdmissionInfoFromContext(ctx context.Context) (AdmissionInfo, bool) {
	info, ok := ctx.Value(ctxKeyAdmissionDecision).(AdmissionInfo)
	return info, ok
}
