package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/xnode/pkg/state"
	"github.com/cuemby/xnode/pkg/xrayconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	cfg xrayconfig.Config
}

func (f fakeSource) Config() xrayconfig.Config { return f.cfg }

func TestConfigHandler(t *testing.T) {
	tests := []struct {
		name     string
		source   ConfigSource
		method   string
		status   int
		expected map[string]any
	}{
		{
			name:     "nothing accepted yet",
			source:   fakeSource{},
			method:   http.MethodGet,
			status:   http.StatusOK,
			expected: map[string]any{},
		},
		{
			name:     "empty store",
			source:   state.NewStore(1),
			method:   http.MethodGet,
			status:   http.StatusOK,
			expected: map[string]any{},
		},
		{
			name: "accepted configuration",
			source: fakeSource{cfg: xrayconfig.Config{
				"log": map[string]any{"loglevel": "warning"},
			}},
			method: http.MethodGet,
			status: http.StatusOK,
			expected: map[string]any{
				"log": map[string]any{"loglevel": "warning"},
			},
		},
		{
			name:   "POST rejected",
			source: fakeSource{},
			method: http.MethodPost,
			status: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := NewInternalServer(tt.source)

			req := httptest.NewRequest(tt.method, ConfigPath, nil)
			w := httptest.NewRecorder()
			is.GetHandler().ServeHTTP(w, req)

			require.Equal(t, tt.status, w.Code)
			if tt.expected == nil {
				return
			}

			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			var body map[string]any
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.expected, body)
		})
	}
}

func TestLoopbackOnly(t *testing.T) {
	handler := loopbackOnly(NewInternalServer(fakeSource{}).GetHandler())

	tests := []struct {
		remoteAddr string
		status     int
	}{
		{remoteAddr: "127.0.0.1:40000", status: http.StatusOK},
		{remoteAddr: "[::1]:40000", status: http.StatusOK},
		{remoteAddr: "10.0.0.5:40000", status: http.StatusForbidden},
		{remoteAddr: "garbage", status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.remoteAddr, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, ConfigPath, nil)
			req.RemoteAddr = tt.remoteAddr
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestConfigURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:61001/internal/get-config", ConfigURL(61001))
}
