/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/acronis/go-admission/admission"
	"github.com/acronis/go-admission/log"
	"github.com/acronis/go-admission/restapi"
)

// RateLimitedLogFieldKey is the name of the logged field that contains the admission key of the request.
const RateLimitedLogFieldKey = "admission_key"

// RateLimited declares the admission limit of an endpoint.
// Zero Algorithm means token bucket.
type RateLimited struct {
	Capacity  int
	Window    time.Duration
	Algorithm admission.Algorithm
}

// LimiterConfig converts the declaration into the engine configuration, resolving the default algorithm.
func (l RateLimited) LimiterConfig() admission.LimiterConfig {
	alg := l.Algorithm
	if alg == 0 {
		alg = admission.AlgorithmTokenBucket
	}
	return admission.LimiterConfig{Capacity: l.Capacity, Window: l.Window, Algorithm: alg}
}

// Acquirer makes admission decisions. *admission.Controller implements it.
type Acquirer interface {
	Acquire(key string, cfg admission.LimiterConfig) (admission.Decision, error)
}

// RateLimitedParams contains data that relates to the admission of a single request
// and could be used for rejecting it or for handling an occurred error.
type RateLimitedParams struct {
	ErrDomain          string
	ResponseStatusCode int
	Rule               string
	Key                string
	Limit              RateLimited
	RetryAfter         time.Duration
}

// RateLimitedGetKeyFunc is a function that is called for getting the admission key of the request.
// If bypass is true, the request is served without admission.
type RateLimitedGetKeyFunc func(r *http.Request) (key string, bypass bool, err error)

// RateLimitedOnRejectFunc is a function that is called when the request is not admitted.
type RateLimitedOnRejectFunc func(
	rw http.ResponseWriter, r *http.Request, params RateLimitedParams, next http.Handler, logger log.FieldLogger)

// RateLimitedOnErrorFunc is a function that is called when the key cannot be obtained or the engine fails.
type RateLimitedOnErrorFunc func(
	rw http.ResponseWriter, r *http.Request, params RateLimitedParams, err error, next http.Handler, logger log.FieldLogger)

// RateLimitedOpts represents an options for the RateLimited middleware.
type RateLimitedOpts struct {
	// Rule is a name of the limit, used as a metrics label and as a prefix of admission keys.
	Rule string

	// GetKey returns the admission key. By default, the remote host followed by the route pattern is used.
	GetKey RateLimitedGetKeyFunc

	// GetRoutePattern is used by the default GetKey. GetChiRoutePattern is used if not set.
	GetRoutePattern RoutePatternGetterFunc

	// ResponseStatusCode is sent for rejected requests. 429 is used if not set.
	ResponseStatusCode int

	// DryRun makes rejected requests be logged and served anyway.
	DryRun bool

	OnReject         RateLimitedOnRejectFunc
	OnRejectInDryRun RateLimitedOnRejectFunc
	OnError          RateLimitedOnErrorFunc

	MetricsCollector RateLimitedMetricsCollector
}

type rateLimitedHandler struct {
	next      http.Handler
	acquirer  Acquirer
	limit     RateLimited
	cfg       admission.LimiterConfig
	errDomain string
	opts      RateLimitedOpts
	onReject  RateLimitedOnRejectFunc
	onError   RateLimitedOnErrorFunc
}

// RateLimitedMiddleware is a middleware that asks the admission engine about every request
// and serves only admitted ones.
// The limit is validated here, so a misconfigured endpoint fails at startup and not on the first request.
func RateLimitedMiddleware(
	acquirer Acquirer, limit RateLimited, errDomain string, opts RateLimitedOpts,
) (func(next http.Handler) http.Handler, error) {
	cfg := limit.LimiterConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rate limited %q: %w", opts.Rule, err)
	}
	if opts.GetRoutePattern == nil {
		opts.GetRoutePattern = GetChiRoutePattern
	}
	if opts.GetKey == nil {
		opts.GetKey = MakeRemoteHostAndRouteKeyFunc(opts.GetRoutePattern)
	}
	if opts.ResponseStatusCode == 0 {
		opts.ResponseStatusCode = http.StatusTooManyRequests
	}
	if opts.MetricsCollector == nil {
		opts.MetricsCollector = disabledRateLimitedMetrics{}
	}
	limit.Algorithm = cfg.Algorithm

	return func(next http.Handler) http.Handler {
		return &rateLimitedHandler{
			next:      next,
			acquirer:  acquirer,
			limit:     limit,
			cfg:       cfg,
			errDomain: errDomain,
			opts:      opts,
			onReject:  makeRateLimitedOnRejectFunc(opts),
			onError:   makeRateLimitedOnErrorFunc(opts),
		}
	}, nil
}

// MustRateLimitedMiddleware is a version of RateLimitedMiddleware that panics if an error occurs.
func MustRateLimitedMiddleware(
	acquirer Acquirer, limit RateLimited, errDomain string, opts RateLimitedOpts,
) func(next http.Handler) http.Handler {
	mw, err := RateLimitedMiddleware(acquirer, limit, errDomain, opts)
	if err != nil {
		panic(err)
	}
	return mw
}

func (h *rateLimitedHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	params := RateLimitedParams{
		ErrDomain:          h.errDomain,
		ResponseStatusCode: h.opts.ResponseStatusCode,
		Rule:               h.opts.Rule,
		Limit:              h.limit,
	}
	logger := GetLoggerFromContext(r.Context())

	key, bypass, err := h.opts.GetKey(r)
	if err != nil {
		h.onError(rw, r, params, fmt.Errorf("get admission key: %w", err), h.next, logger)
		return
	}
	if bypass {
		h.next.ServeHTTP(rw, r)
		return
	}
	if h.opts.Rule != "" {
		key = h.opts.Rule + ":" + key
	}
	params.Key = key

	decision, err := h.acquirer.Acquire(key, h.cfg)
	if err != nil {
		h.onError(rw, r, params, fmt.Errorf("acquire admission: %w", err), h.next, logger)
		return
	}
	r = r.WithContext(NewContextWithAdmissionInfo(r.Context(), AdmissionInfo{Key: key, Limit: h.limit, Decision: decision}))
	if decision.Admitted {
		h.next.ServeHTTP(rw, r)
		return
	}

	h.opts.MetricsCollector.IncRejects(h.opts.Rule, h.opts.DryRun)
	params.RetryAfter = decision.RetryAfter
	h.onReject(rw, r, params, h.next, logger)
}

// MakeRemoteHostAndRouteKeyFunc returns a function that builds the admission key from the remote host
// and the route pattern. URL path is used when the route pattern is unknown.
func MakeRemoteHostAndRouteKeyFunc(getRoutePattern RoutePatternGetterFunc) RateLimitedGetKeyFunc {
	return func(r *http.Request) (string, bool, error) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		route := ""
		if getRoutePattern != nil {
			route = getRoutePattern(r)
		}
		if route == "" {
			route = r.URL.Path
		}
		return host + ":" + route, false, nil
	}
}

// RetryAfterSeconds converts the engine's retry hint into the value of the Retry-After header.
// The value is rounded up and is never less than 1 second.
func RetryAfterSeconds(retryAfter time.Duration) int {
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// DefaultRateLimitedOnReject responds with the configured status code, the Retry-After header
// and the "tooManyRequests" error in the body.
func DefaultRateLimitedOnReject(
	rw http.ResponseWriter, r *http.Request, params RateLimitedParams, _ http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger = logger.With(log.String(RateLimitedLogFieldKey, params.Key), log.String("user_agent", r.UserAgent()))
	}
	retryAfter := RetryAfterSeconds(params.RetryAfter)
	rw.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	apiErr := restapi.NewTooManyRequestsError(params.ErrDomain).AddContext("retryAfterSeconds", retryAfter)
	restapi.RespondError(rw, params.ResponseStatusCode, apiErr, logger)
}

// DefaultRateLimitedOnRejectInDryRun logs the rejection and serves the request.
func DefaultRateLimitedOnRejectInDryRun(
	rw http.ResponseWriter, r *http.Request, params RateLimitedParams, next http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger.Warn("too many requests, serving will be continued because of dry run mode",
			log.String(RateLimitedLogFieldKey, params.Key),
			log.Duration("retry_after", params.RetryAfter),
		)
	}
	next.ServeHTTP(rw, r)
}

// DefaultRateLimitedOnError logs the error and responds with 500.
func DefaultRateLimitedOnError(
	rw http.ResponseWriter, _ *http.Request, params RateLimitedParams, err error, _ http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger.Error("admission failed", log.Error(err), log.String(RateLimitedLogFieldKey, params.Key))
	}
	restapi.RespondInternalError(rw, params.ErrDomain, logger)
}

func makeRateLimitedOnRejectFunc(opts RateLimitedOpts) RateLimitedOnRejectFunc {
	if opts.DryRun {
		if opts.OnRejectInDryRun != nil {
			return opts.OnRejectInDryRun
		}
		return DefaultRateLimitedOnRejectInDryRun
	}
	if opts.OnReject != nil {
		return opts.OnReject
	}
	return DefaultRateLimitedOnReject
}

func makeRateLimitedOnErrorFunc(opts RateLimitedOpts) RateLimitedOnErrorFunc {
	if opts.OnError != nil {
		return opts.OnError
	}
	return DefaultRateLimitedOnError
}
