package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rlsbridge/pkg/errcode"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]bool{"success": true}

	err := WriteJSON(w, http.StatusOK, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
}

func TestWriteFailure(t *testing.T) {
	tests := []struct {
		code       errcode.Code
		message    string
		wantStatus int
		wantCode   errcode.Code
		wantError  string
	}{
		{errcode.InvalidBody, "externalToken is required", http.StatusBadRequest, errcode.InvalidBody, "externalToken is required"},
		{errcode.JWTAudienceInvalid, "aud mismatch", http.StatusUnauthorized, errcode.JWTInvalid, "invalid token"},
		{errcode.JWTInvalid, "token is expired", http.StatusUnauthorized, errcode.JWTInvalid, "invalid token"},
		{errcode.RateLimited, "slow down", http.StatusTooManyRequests, errcode.RateLimited, "slow down"},
		{errcode.BootstrapRPCMissing, "run setup", http.StatusInternalServerError, errcode.BootstrapRPCMissing, "run setup"},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteFailure(w, tt.code, tt.message)

			assert.Equal(t, tt.wantStatus, w.Code)
			var body FailureResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.Equal(t, tt.wantError, body.Error)
		})
	}
}

func TestWriteError(t *testing.T) {
	t.Run("untyped error is hidden", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, errors.New("dial tcp 10.0.0.5:5432: connection refused"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), `"code":"internal_error"`)
		assert.NotContains(t, w.Body.String(), "10.0.0.5")
	})

	t.Run("cause is surfaced redacted", func(t *testing.T) {
		w := httptest.NewRecorder()
		err := errcode.Wrap(errcode.BootstrapFailed, "failed to create table profiles",
			errors.New("connect postgres://admin:hunter22@db/app failed, key sk-service-key"))
		WriteError(w, err, "sk-service-key")

		body := w.Body.String()
		assert.Contains(t, body, "failed to create table profiles")
		assert.NotContains(t, body, "hunter22")
		assert.NotContains(t, body, "sk-service-key")
	})
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}
