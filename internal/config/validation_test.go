package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBytes(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		wantErrors   []string
		wantWarnings []string
	}{
		{
			name: "valid minimal",
			content: `{"version": "v1",
				"identity": {"signingKey": {"$env": "BXM_SIGNING_KEY"}},
				"backend": {"serve": true}}`,
		},
		{
			name:       "invalid json",
			content:    `{"version": `,
			wantErrors: []string{"invalid JSON"},
		},
		{
			name:       "missing everything",
			content:    `{}`,
			wantErrors: []string{"version field is required", "identity section is required", "backend section is required"},
		},
		{
			name: "inline secret",
			content: `{"version": "v1",
				"identity": {"signingKey": "plaintext"},
				"backend": {"apiURL": "https://api.example.com"}}`,
			wantErrors: []string{`Hint: {"$env": "BXM_SIGNING_KEY"}`},
		},
		{
			name: "bash style reference",
			content: `{"version": "v1",
				"identity": {"signingKey": {"$env": "BXM_SIGNING_KEY"}},
				"backend": {"apiURL": "${BACKEND_URL}"}}`,
			wantWarnings: []string{`use {"$env": "BACKEND_URL"} instead`},
		},
		{
			name: "bad durations and storage",
			content: `{"version": "v1",
				"identity": {"signingKey": {"$env": "BXM_SIGNING_KEY"}, "customTokenTtl": "forever"},
				"backend": {"serve": true},
				"mirror": {"storage": "sqlite", "ttl": "-1m"}}`,
			wantErrors: []string{"invalid duration 'forever'", "storage must be one of", "invalid duration '-1m'"},
		},
		{
			name: "mirror ttl beyond token ttl",
			content: `{"version": "v1",
				"identity": {"signingKey": {"$env": "BXM_SIGNING_KEY"}, "customTokenTtl": "30m"},
				"backend": {"serve": true},
				"mirror": {"ttl": "45m"}}`,
			wantErrors: []string{"ttl must not exceed identity.customTokenTtl (30m0s)"},
		},
		{
			name: "wildcard origin and mirror mode without section",
			content: `{"version": "v1",
				"authority": {"mode": "mirror", "allowedOrigins": ["*"]},
				"identity": {"signingKey": {"$env": "BXM_SIGNING_KEY"}},
				"backend": {"serve": true}}`,
			wantWarnings: []string{"wildcard origin", "in-memory storage"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateBytes([]byte(tt.content))
			require.NotNil(t, result)

			assert.Equal(t, len(tt.wantErrors) == 0, result.IsValid(), "errors: %+v", result.Errors)
			assertMessages(t, tt.wantErrors, result.Errors)
			assertMessages(t, tt.wantWarnings, result.Warnings)
		})
	}
}

func assertMessages(t *testing.T, want []string, got []ValidationError) {
	t.Helper()
	for _, w := range want {
		found := false
		for _, g := range got {
			if strings.Contains(g.Message, w) {
				found = true
				break
			}
		}
		assert.True(t, found, "expected message containing %q in %+v", w, got)
	}
}

func TestValidateFile_MissingFile(t *testing.T) {
	_, err := ValidateFile("/nonexistent/bxm.json")
	assert.Error(t, err)
}
