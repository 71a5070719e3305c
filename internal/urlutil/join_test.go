package urlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinPath(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		paths   []string
		want    string
		wantErr bool
	}{
		{
			name:  "backend endpoint",
			base:  "https://api.example.com",
			paths: []string{"backend-manager"},
			want:  "https://api.example.com/backend-manager",
		},
		{
			name:  "base with path",
			base:  "https://example.com/base",
			paths: []string{"runtime", "message"},
			want:  "https://example.com/base/runtime/message",
		},
		{
			name:  "leading slash in element",
			base:  "http://localhost:8787/",
			paths: []string{"/runtime/events"},
			want:  "http://localhost:8787/runtime/events",
		},
		{
			name:  "trailing slash preserved",
			base:  "https://example.com",
			paths: []string{"token/"},
			want:  "https://example.com/token/",
		},
		{
			name: "no elements",
			base: "https://example.com",
			want: "https://example.com",
		},
		{
			name:    "relative base",
			base:    "/runtime",
			paths:   []string{"message"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JoinPath(tt.base, tt.paths...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, IsLoopback("http://localhost:8787"))
	assert.True(t, IsLoopback("http://127.0.0.1/backend-manager"))
	assert.False(t, IsLoopback("https://api.example.com"))
	assert.False(t, IsLoopback("::not a url"))
}
