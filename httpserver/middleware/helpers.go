/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RoutePatternGetterFunc is a function for getting route pattern from the request.
// The pattern (e.g. "/orders/{id}") keeps the number of admission keys bounded
// while still giving each endpoint its own limiter.
type RoutePatternGetterFunc func(r *http.Request) string

// GetChiRoutePattern returns the route pattern matched by chi router so far.
// When the middleware is attached with chi.Router.With, the pattern is complete by the time it runs.
func GetChiRoutePattern(r *http.Request) string {
	chiCtx := chi.RouteContext(r.Context())
	if chiCtx == nil {
		return ""
	}
	return chiCtx.RoutePattern()
}
