/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/acronis/go-admission/log"
	"github.com/acronis/go-admission/restapi"
)

// RecoveryDefaultStackSize is the default max size of the logged stack.
const RecoveryDefaultStackSize = 8192

// RecoveryOpts represents options for Recovery middleware.
type RecoveryOpts struct {
	// StackSize is the max size of the logged stack, the stack isn't logged if it's 0.
	StackSize int
}

// Recovery returns a middleware that recovers from panics in the next handlers.
// The panic is logged (with the stack and the admission key of the request if any)
// and 500 HTTP status code is returned with the internal error in the body.
// http.ErrAbortHandler is re-panicked, so http.Server could abort the response.
func Recovery(errDomain string) func(next http.Handler) http.Handler {
	return RecoveryWithOpts(errDomain, RecoveryOpts{StackSize: RecoveryDefaultStackSize})
}

// RecoveryWithOpts is a more configurable version of Recovery middleware.
func RecoveryWithOpts(errDomain string, opts RecoveryOpts) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				logger := GetLoggerFromContext(r.Context())
				if p == http.ErrAbortHandler { //nolint:errorlint // sentinel panic value
					if logger != nil {
						logger.Warn("request has been aborted", log.Error(http.ErrAbortHandler))
					}
					panic(p)
				}
				if logger != nil {
					logger.Error(fmt.Sprintf("Panic: %+v", p), panicLogFields(r, opts.StackSize)...)
				}
				restapi.RespondError(rw, http.StatusInternalServerError, restapi.NewInternalError(errDomain), logger)
			}()
			next.ServeHTTP(rw, r)
		})
	}
}

func panicLogFields(r *http.Request, stackSize int) []log.Field {
	var fields []log.Field
	if stackSize > 0 {
		stack := make([]byte, stackSize)
		fields = append(fields, log.Bytes("stack", stack[:runtime.Stack(stack, false)]))
	}
	if info, ok := GetAdmissionInfoFromContext(r.Context()); ok {
		fields = append(fields, log.String("admission_key", info.Key))
	}
	return fields
}
