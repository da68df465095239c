/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"

	"github.com/stretchr/testify/require"
)

const contentTypeAppJSON = "application/json"

type errorRespData struct {
	Error struct {
		Domain string `json:"domain"`
		Code   string `json:"code"`
	} `json:"error"`
}

// RequireErrorInRecorder asserts that passing httptest.ResponseRecorder contains error.
func RequireErrorInRecorder(t require.TestingT, resp *httptest.ResponseRecorder, wantHTTPCode int, wantErrDomain, wantErrCode string) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	requireErrorInResponse(t, resp.Code, resp.Header(), resp.Body, wantHTTPCode, wantErrDomain, wantErrCode)
}

// RequireErrorInResponse asserts that passing http.Response contains the error.
func RequireErrorInResponse(t require.TestingT, resp *http.Response, wantHTTPCode int, wantErrDomain, wantErrCode string) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	requireErrorInResponse(t, resp.StatusCode, resp.Header, resp.Body, wantHTTPCode, wantErrDomain, wantErrCode)
}

func requireErrorInResponse(
	t require.TestingT, code int, header http.Header, body io.Reader, wantHTTPCode int, wantErrDomain, wantErrCode string,
) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	require.Equal(t, wantHTTPCode, code)
	require.Equal(t, contentTypeAppJSON, header.Get("Content-Type"))
	var errResp errorRespData
	require.NoError(t, json.NewDecoder(body).Decode(&errResp))
	require.Equal(t, wantErrDomain, errResp.Error.Domain)
	require.Equal(t, wantErrCode, errResp.Error.Code)
}

// RequireRetryAfterInRecorder asserts that the Retry-After header holds the expected number of whole seconds.
func RequireRetryAfterInRecorder(t require.TestingT, resp *httptest.ResponseRecorder, wantSeconds int) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	raw := resp.Header().Get("Retry-After")
	require.NotEmpty(t, raw, "Retry-After header is missing")
	got, err := strconv.Atoi(raw)
	require.NoError(t, err)
	require.Equal(t, wantSeconds, got)
}

// RequireEmptyBodyInRecorder asserts that passing httptest.ResponseRecorder contains empty body.
func RequireEmptyBodyInRecorder(t require.TestingT, resp *httptest.ResponseRecorder) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	bodyBytes, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, 0, len(bodyBytes))
}

// RequireJSONInRecorder asserts that passing httptest.ResponseRecorder contains the data in json format.
func RequireJSONInRecorder(t require.TestingT, resp *httptest.ResponseRecorder, want, dest interface{}) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	require.Equal(t, contentTypeAppJSON, resp.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), dest))
	require.Equal(t, want, dest)
}
