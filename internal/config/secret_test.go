package config

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretRedaction(t *testing.T) {
	tests := []struct {
		name   string
		secret Secret
		want   string
	}{
		{name: "non-empty secret", secret: Secret("super-secret-password"), want: "***"},
		{name: "empty secret", secret: Secret(""), want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.secret.String())
			assert.Equal(t, "value: "+tt.want, fmt.Sprintf("value: %s", tt.secret))

			data, err := json.Marshal(tt.secret)
			require.NoError(t, err)
			assert.Equal(t, `"`+tt.want+`"`, string(data))
		})
	}
}

func TestSecretInConfigJSON(t *testing.T) {
	cfg := Config{
		Identity: IdentityConfig{SigningKey: "abcdefghijklmnopqrstuvwxyz0123456789"},
		Mirror:   &MirrorConfig{RedisPassword: "hunter2"},
	}

	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "abcdefghijklmnopqrstuvwxyz")
	assert.NotContains(t, string(data), "hunter2")
	assert.Contains(t, string(data), `"signingKey":"***"`)
}
