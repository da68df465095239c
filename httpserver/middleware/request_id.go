/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"

	"github.com/rs/xid"
)

const (
	headerRequestID         = "X-Request-ID"
	headerInternalRequestID = "X-Int-Request-ID"
)

// RequestIDDefaultMaxLength is the default max length of X-Request-ID accepted from clients.
const RequestIDDefaultMaxLength = 128

// RequestIDOpts represents options for RequestID middleware.
type RequestIDOpts struct {
	// GenerateID generates the external request id when the request doesn't have a valid one.
	GenerateID func() string
	// GenerateInternalID generates the internal request id, it's always generated.
	GenerateInternalID func() string
	// MaxLength is the max length of X-Request-ID accepted from clients, longer ones are replaced.
	// Zero means RequestIDDefaultMaxLength, negative value disables the check.
	MaxLength int
}

func newXID() string {
	return xid.New().String()
}

// RequestID returns a middleware that puts two ids into the request's context and the response headers:
// the external one (X-Request-ID) is taken from the request or generated, the internal one (X-Int-Request-ID)
// is always generated. Both are xid strings by default.
func RequestID() func(next http.Handler) http.Handler {
	return RequestIDWithOpts(RequestIDOpts{})
}

// RequestIDWithOpts is a more configurable version of RequestID middleware.
func RequestIDWithOpts(opts RequestIDOpts) func(next http.Handler) http.Handler {
	if opts.GenerateID == nil {
		opts.GenerateID = newXID
	}
	if opts.GenerateInternalID == nil {
		opts.GenerateInternalID = newXID
	}
	if opts.MaxLength == 0 {
		opts.MaxLength = RequestIDDefaultMaxLength
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(headerRequestID)
			if requestID == "" || (opts.MaxLength > 0 && len(requestID) > opts.MaxLength) {
				requestID = opts.GenerateID()
			}
			internalRequestID := opts.GenerateInternalID()

			rw.Header().Set(headerRequestID, requestID)
			rw.Header().Set(headerInternalRequestID, internalRequestID)

			ctx := NewContextWithInternalRequestID(NewContextWithRequestID(r.Context(), requestID), internalRequestID)
			next.ServeHTTP(rw, r.WithContext(ctx))
		})
	}
}
