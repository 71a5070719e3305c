package json

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteErrors(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter)
		wantStatus int
		wantError  string
	}{
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "nope") }, http.StatusBadRequest, "bad_request"},
		{"gateway timeout", func(w http.ResponseWriter) { WriteError(w, http.StatusGatewayTimeout, "nope") }, http.StatusGatewayTimeout, "gateway_timeout"},
		{"unavailable", func(w http.ResponseWriter) { WriteServiceUnavailable(w, "nope") }, http.StatusServiceUnavailable, "service_unavailable"},
		{"internal", func(w http.ResponseWriter) { WriteInternalServerError(w, "nope") }, http.StatusInternalServerError, "internal_server_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantError, resp.Error)
			assert.Equal(t, "nope", resp.Message)
		})
	}
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "method_not_allowed", ErrorCode(http.StatusMethodNotAllowed))
	assert.Equal(t, "unauthorized", ErrorCode(http.StatusUnauthorized))
	assert.Equal(t, "error", ErrorCode(599))
}

func TestWriteUnauthorized(t *testing.T) {
	w := httptest.NewRecorder()

	WriteUnauthorized(w, "Test error")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, `Bearer realm="bxm"`, w.Header().Get("WWW-Authenticate"))
}

func TestWriteMethodNotAllowed(t *testing.T) {
	w := httptest.NewRecorder()

	WriteMethodNotAllowed(w, http.MethodGet, http.MethodPost)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "GET, POST", w.Header().Get("Allow"))
}

func TestDecode(t *testing.T) {
	t.Run("valid body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"command":"bxm:signOut"}`))
		var v struct {
			Command string `json:"command"`
		}
		require.NoError(t, Decode(r, &v))
		assert.Equal(t, "bxm:signOut", v.Command)
	})

	t.Run("oversized body is truncated and rejected", func(t *testing.T) {
		big := `{"command":"` + strings.Repeat("x", MaxBodySize) + `"}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
		var v map[string]any
		assert.Error(t, Decode(r, &v))
	})
}
