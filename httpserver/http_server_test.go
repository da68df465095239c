/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-admission/admission"
	"github.com/acronis/go-admission/clock"
	"github.com/acronis/go-admission/httpserver/middleware"
	"github.com/acronis/go-admission/log/logtest"
	"github.com/acronis/go-admission/restapi"
	"github.com/acronis/go-admission/testutil"
)

const testErrDomain = "AdmissionDemo"

func startTestServer(t *testing.T, routes func(router chi.Router)) *HTTPServer {
	t.Helper()

	cfg := NewDefaultConfig()
	cfg.Address = testutil.GetLocalAddrWithFreeTCPPort()
	logger := logtest.NewLogger()
	httpServer := New(cfg, logger, NewRouter(logger, RouterOpts{ErrorDomain: testErrDomain, Routes: routes}))

	fatalErr := make(chan error, 1)
	go httpServer.Start(fatalErr)
	require.NoError(t, testutil.WaitListeningServer(cfg.Address, time.Second*3))
	t.Cleanup(func() {
		require.NoError(t, httpServer.Stop(false))
		require.Empty(t, fatalErr)
	})
	return httpServer
}

func serverURL(s *HTTPServer) string {
	return fmt.Sprintf("http://127.0.0.1:%d", s.GetPort())
}

func TestHTTPServer_Start(t *testing.T) {
	httpServer := startTestServer(t, func(router chi.Router) {
		router.Get("/hello", func(rw http.ResponseWriter, r *http.Request) {
			restapi.RespondJSON(rw, map[string]string{"message": "hello"}, middleware.GetLoggerFromContext(r.Context()))
		})
		router.Post("/panic", func(rw http.ResponseWriter, r *http.Request) {
			panic("PANIC!!!")
		})
	})
	require.Greater(t, httpServer.GetPort(), 0)
	baseURL := serverURL(httpServer)

	resp, err := http.Get(baseURL + "/hello")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.JSONEq(t, `{"message":"hello"}`, string(respBody))
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(baseURL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	resp, err = http.Get(baseURL + "/metrics")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	resp, err = http.Post(baseURL+"/panic", restapi.ContentTypeAppJSON, nil)
	require.NoError(t, err)
	testutil.RequireErrorInResponse(t, resp, http.StatusInternalServerError, testErrDomain, restapi.ErrCodeInternal)
	require.NoError(t, resp.Body.Close())

	resp, err = http.Get(baseURL + "/unknown")
	require.NoError(t, err)
	testutil.RequireErrorInResponse(t, resp, http.StatusNotFound, testErrDomain, restapi.ErrCodeNotFound)
	require.NoError(t, resp.Body.Close())

	resp, err = http.Post(baseURL+"/hello", restapi.ContentTypeAppJSON, nil)
	require.NoError(t, err)
	testutil.RequireErrorInResponse(t, resp, http.StatusMethodNotAllowed, testErrDomain, "methodNotAllowed")
	require.NoError(t, resp.Body.Close())
}

func TestHTTPServer_RateLimitedRoute(t *testing.T) {
	fakeClock := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	controller, err := admission.New(nil, admission.Opts{Clock: fakeClock})
	require.NoError(t, err)

	limit := middleware.RateLimited{Capacity: 2, Window: 10 * time.Second, Algorithm: admission.AlgorithmFixedWindow}
	httpServer := startTestServer(t, func(router chi.Router) {
		router.With(middleware.MustRateLimitedMiddleware(controller, limit, testErrDomain, middleware.RateLimitedOpts{
			Rule: "items",
		})).Get("/items/{id}", func(rw http.ResponseWriter, r *http.Request) {
			rw.WriteHeader(http.StatusNoContent)
		})
	})
	baseURL := serverURL(httpServer)

	get := func(path string) *http.Response {
		resp, err := http.Get(baseURL + path)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		return resp
	}

	// Both paths match the same route pattern, so they share the key.
	require.Equal(t, http.StatusNoContent, get("/items/1").StatusCode)
	require.Equal(t, http.StatusNoContent, get("/items/2").StatusCode)
	resp := get("/items/3")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "10", resp.Header.Get("Retry-After"))

	require.True(t, controller.Contains("items:127.0.0.1:/items/{id}"))
	require.Equal(t, 1, controller.Len())

	fakeClock.Advance(10 * time.Second)
	require.Equal(t, http.StatusNoContent, get("/items/4").StatusCode)
}

func TestHTTPServer_Stop(t *testing.T) {
	const sleepTime = time.Millisecond * 500
	routes := func(router chi.Router) {
		router.Get("/sleep", func(rw http.ResponseWriter, r *http.Request) {
			time.Sleep(sleepTime)
			restapi.RespondJSON(rw, map[string]string{"message": "done"}, middleware.GetLoggerFromContext(r.Context()))
		})
	}

	t.Run("gracefully", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Address = testutil.GetLocalAddrWithFreeTCPPort()
		logger := logtest.NewLogger()
		httpServer := New(cfg, logger, NewRouter(logger, RouterOpts{Routes: routes}))
		fatalErr := make(chan error, 1)
		go httpServer.Start(fatalErr)
		require.NoError(t, testutil.WaitListeningServer(cfg.Address, time.Second*3))

		done := make(chan error, 1)
		go func() {
			c := http.Client{Timeout: time.Second * 5}
			resp, err := c.Get("http://" + cfg.Address + "/sleep")
			if err == nil {
				err = resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					err = fmt.Errorf("unexpected status code %d", resp.StatusCode)
				}
			}
			done <- err
		}()

		time.Sleep(sleepTime / 2) // Give time to send request.
		require.NoError(t, httpServer.Stop(true))
		require.NoError(t, <-done, "in-flight request should be served before shutdown")
		require.Empty(t, fatalErr)
	})

	t.Run("without start", func(t *testing.T) {
		logger := logtest.NewLogger()
		httpServer := New(NewDefaultConfig(), logger, NewRouter(logger, RouterOpts{}))
		require.NoError(t, httpServer.Stop(true))
		require.NoError(t, httpServer.Stop(false))
	})
}

func TestHTTPServer_Start_AddressInUse(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { require.NoError(t, listener.Close()) }()

	cfg := NewDefaultConfig()
	cfg.Address = listener.Addr().String()
	httpServer := New(cfg, logtest.NewLogger(), http.NotFoundHandler())

	fatalErr := make(chan error, 1)
	httpServer.Start(fatalErr)
	select {
	case err = <-fatalErr:
		require.True(t, strings.Contains(err.Error(), "address already in use"), err.Error())
	default:
		t.Fatal("fatal error is expected")
	}
}
