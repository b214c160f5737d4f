package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddr(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "empty uses default", raw: "", want: "127.0.0.1:3001"},
		{name: "bind all ipv4", raw: "0.0.0.0:3001", want: "127.0.0.1:3001"},
		{name: "bind all ipv6", raw: "[::]:9000", want: "127.0.0.1:9000"},
		{name: "empty host", raw: ":4000", want: "127.0.0.1:4000"},
		{name: "explicit host kept", raw: "10.0.0.5:3001", want: "10.0.0.5:3001"},
		{name: "missing port uses default", raw: "localhost", want: "127.0.0.1:3001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeAddr(tt.raw))
		})
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr string
	}{
		{name: "healthy", status: http.StatusOK},
		{name: "degraded", status: http.StatusServiceUnavailable, wantErr: "status 503"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				w.WriteHeader(tt.status)
			}))
			t.Cleanup(server.Close)

			err := check(context.Background(), server.Client(), strings.TrimPrefix(server.URL, "http://"))

			assert.Equal(t, "/api/v1/health", gotPath)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCheck_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(server.URL, "http://")
	server.Close()

	err := check(context.Background(), http.DefaultClient, addr)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "request health")
}
