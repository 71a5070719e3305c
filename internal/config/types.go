package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Version is the only config version this build accepts
const Version = "v1"

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// Mode selects how Contexts follow the Authority
type Mode string

const (
	// ModeDirect syncs over the message channel only
	ModeDirect Mode = "direct"

	// ModeMirror also writes the legacy persisted auth record
	ModeMirror Mode = "mirror"
)

// StorageKind selects the mirror record store
type StorageKind string

const (
	StorageMemory    StorageKind = "memory"
	StorageRedis     StorageKind = "redis"
	StorageFirestore StorageKind = "firestore"
)

// PersistenceKind selects where identity clients keep their session
type PersistenceKind string

const (
	PersistenceMemory  PersistenceKind = "memory"
	PersistenceKeyring PersistenceKind = "keyring"
)

// BroadcastConfig bounds broadcast fan-out
type BroadcastConfig struct {
	Concurrency int           `json:"concurrency"`
	Timeout     time.Duration `json:"timeout"`
}

// AuthorityConfig configures the background process
type AuthorityConfig struct {
	Addr           string          `json:"addr"`
	BaseURL        string          `json:"baseURL"`
	Name           string          `json:"name"`
	Mode           Mode            `json:"mode"`
	AllowedOrigins []string        `json:"allowedOrigins"`
	Broadcast      BroadcastConfig `json:"broadcast"`
}

// IdentityConfig configures the identity provider
type IdentityConfig struct {
	SigningKey     Secret          `json:"signingKey"`
	Issuer         string          `json:"issuer"`
	CustomTokenTTL time.Duration   `json:"customTokenTtl"`
	IDTokenTTL     time.Duration   `json:"idTokenTtl"`
	Persistence    PersistenceKind `json:"persistence"`
	KeyringService string          `json:"keyringService"`
}

// BackendConfig configures custom token issuance
type BackendConfig struct {
	APIURL  string        `json:"apiURL"`
	Timeout time.Duration `json:"timeout"`

	// Serve mounts the token endpoint on the Authority's own server
	Serve bool `json:"serve"`
}

// MirrorConfig configures the legacy persisted record
type MirrorConfig struct {
	Storage             StorageKind   `json:"storage"`
	Key                 string        `json:"key"`
	TTL                 time.Duration `json:"ttl"`
	GCPProject          string        `json:"gcpProject,omitempty"`
	FirestoreDatabase   string        `json:"firestoreDatabase,omitempty"`
	FirestoreCollection string        `json:"firestoreCollection,omitempty"`
	CredentialsFile     string        `json:"credentialsFile,omitempty"`
	RedisAddr           string        `json:"redisAddr,omitempty"`
	RedisPassword       Secret        `json:"redisPassword,omitempty"`
	RedisDB             int           `json:"redisDb,omitempty"`
}

// SurfaceConfig configures Context processes
type SurfaceConfig struct {
	AuthorityURL  string        `json:"authorityURL"`
	SyncTimeout   time.Duration `json:"syncTimeout"`
	SettleTimeout time.Duration `json:"settleTimeout"`
	AuthDomain    string        `json:"authDomain"`
}

// Config represents the config structure with resolved values
type Config struct {
	Authority AuthorityConfig `json:"authority"`
	Identity  IdentityConfig  `json:"identity"`
	Backend   BackendConfig   `json:"backend"`
	Mirror    *MirrorConfig   `json:"mirror,omitempty"`
	Surface   SurfaceConfig   `json:"surface"`
}

// ParseConfigValue parses a JSON value that is either a plain string or an
// {"$env": "VAR"} reference, resolving the reference immediately.
func ParseConfigValue(raw json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}

	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}
