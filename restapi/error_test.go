/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHttpCode2ErrorCode(t *testing.T) {
	tests := []struct {
		httpCode    int
		wantErrCode string
	}{
		{http.StatusInternalServerError, "internalError"},
		{http.StatusNotFound, "notFound"},
		{http.StatusBadRequest, "badRequest"},
		{http.StatusTooManyRequests, "tooManyRequests"},
		{http.StatusServiceUnavailable, "serviceUnavailable"},
		{http.StatusRequestEntityTooLarge, "requestEntityTooLarge"},
	}

	for _, tt := range tests {
		t.Run(tt.wantErrCode, func(t *testing.T) {
			assert.Equal(t, tt.wantErrCode, httpCode2ErrorCode(tt.httpCode))
		})
	}
}

func TestNewTooManyRequestsError(t *testing.T) {
	apiErr := NewTooManyRequestsError("Gateway").AddContext("retryAfterSeconds", 3)
	require.Equal(t, "Gateway", apiErr.Domain)
	require.Equal(t, ErrCodeTooManyRequests, apiErr.Code)
	require.Equal(t, NewErrorFromStatus("Gateway", http.StatusTooManyRequests, ErrMessageTooManyRequests).Code, apiErr.Code)
	require.Equal(t, map[string]interface{}{"retryAfterSeconds": 3}, apiErr.Context)
}
