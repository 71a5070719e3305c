package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/dgellow/bxm/internal/envutil"
	"github.com/dgellow/bxm/internal/log"
	"github.com/dgellow/bxm/internal/urlutil"
)

const (
	DefaultAddr            = "127.0.0.1:8787"
	DefaultName            = "background"
	DefaultIssuer          = "bxm"
	DefaultCustomTokenTTL  = time.Hour
	DefaultIDTokenTTL      = time.Hour
	DefaultKeyringService  = "bxm"
	DefaultBackendTimeout  = 10 * time.Second
	DefaultSyncTimeout     = 5 * time.Second
	DefaultSettleTimeout   = 10 * time.Second
	DefaultConcurrency     = 8
	DefaultDeliveryTimeout = 5 * time.Second
	DefaultMirrorKey       = "bxm:authState"
	DefaultMirrorTTL       = 55 * time.Minute

	minSigningKeyLength = 32
)

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse processes raw config bytes the same way Load does
func Parse(data []byte) (Config, error) {
	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if version != Version {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	// The custom UnmarshalJSON methods resolve env vars immediately
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	ApplyDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	log.LogInfoWithFields("config", "Config loaded", map[string]any{
		"mode":      config.Authority.Mode,
		"addr":      config.Authority.Addr,
		"persisted": config.Identity.Persistence,
	})

	return config, nil
}

// secretFields lists values that may only be given as env references
var secretFields = []struct {
	section  string
	name     string
	required bool
}{
	{"identity", "signingKey", true},
	{"mirror", "redisPassword", false},
}

// validateRawConfig validates the config structure before environment resolution
func validateRawConfig(rawConfig map[string]any) error {
	for _, secret := range secretFields {
		section, ok := rawConfig[secret.section].(map[string]any)
		if !ok {
			if secret.required {
				return fmt.Errorf("%s section is required", secret.section)
			}
			continue
		}
		value, exists := section[secret.name]
		if !exists {
			if secret.required {
				return fmt.Errorf("%s.%s is required", secret.section, secret.name)
			}
			continue
		}
		if _, isString := value.(string); isString {
			return fmt.Errorf("%s.%s must use environment variable reference for security", secret.section, secret.name)
		}
		if refMap, isMap := value.(map[string]any); isMap {
			if _, hasEnv := refMap["$env"]; !hasEnv {
				return fmt.Errorf("%s.%s must use {\"$env\": \"VAR_NAME\"} format", secret.section, secret.name)
			}
		}
	}
	return nil
}

// ApplyDefaults fills zero values with their defaults
func ApplyDefaults(config *Config) {
	a := &config.Authority
	if a.Addr == "" {
		a.Addr = DefaultAddr
	}
	if a.BaseURL == "" {
		a.BaseURL = "http://" + a.Addr
	}
	if a.Name == "" {
		a.Name = DefaultName
	}
	if a.Mode == "" {
		a.Mode = ModeDirect
	}
	if a.Broadcast.Concurrency == 0 {
		a.Broadcast.Concurrency = DefaultConcurrency
	}
	if a.Broadcast.Timeout == 0 {
		a.Broadcast.Timeout = DefaultDeliveryTimeout
	}

	i := &config.Identity
	if i.Issuer == "" {
		i.Issuer = DefaultIssuer
	}
	if i.CustomTokenTTL == 0 {
		i.CustomTokenTTL = DefaultCustomTokenTTL
	}
	if i.IDTokenTTL == 0 {
		i.IDTokenTTL = DefaultIDTokenTTL
	}
	if i.Persistence == "" {
		i.Persistence = PersistenceMemory
	}
	if i.KeyringService == "" {
		i.KeyringService = DefaultKeyringService
	}

	if config.Backend.Timeout == 0 {
		config.Backend.Timeout = DefaultBackendTimeout
	}
	if config.Backend.APIURL == "" && config.Backend.Serve {
		config.Backend.APIURL = a.BaseURL
	}

	if a.Mode == ModeMirror && config.Mirror == nil {
		config.Mirror = &MirrorConfig{}
	}
	if m := config.Mirror; m != nil {
		if m.Storage == "" {
			m.Storage = StorageMemory
		}
		if m.Key == "" {
			m.Key = DefaultMirrorKey
		}
		if m.TTL == 0 {
			m.TTL = min(DefaultMirrorTTL, i.CustomTokenTTL)
		}
	}

	s := &config.Surface
	if s.AuthorityURL == "" {
		s.AuthorityURL = a.BaseURL
	}
	if s.SyncTimeout == 0 {
		s.SyncTimeout = DefaultSyncTimeout
	}
	if s.SettleTimeout == 0 {
		s.SettleTimeout = DefaultSettleTimeout
	}
}

// ValidateConfig checks a resolved config for semantic errors
func ValidateConfig(config *Config) error {
	switch config.Authority.Mode {
	case ModeDirect, ModeMirror:
	default:
		return fmt.Errorf("authority.mode must be %q or %q, got %q", ModeDirect, ModeMirror, config.Authority.Mode)
	}
	if config.Authority.Broadcast.Concurrency < 0 {
		return fmt.Errorf("authority.broadcast.concurrency must not be negative")
	}

	if len(config.Identity.SigningKey) < minSigningKeyLength {
		return fmt.Errorf("identity.signingKey must be at least %d characters", minSigningKeyLength)
	}
	switch config.Identity.Persistence {
	case PersistenceMemory, PersistenceKeyring:
	default:
		return fmt.Errorf("identity.persistence must be %q or %q, got %q", PersistenceMemory, PersistenceKeyring, config.Identity.Persistence)
	}

	if config.Backend.APIURL == "" {
		return fmt.Errorf("backend.apiURL is required unless backend.serve is set")
	}
	if err := validateURL(config.Backend.APIURL, "backend.apiURL"); err != nil {
		return err
	}
	if err := validateURL(config.Surface.AuthorityURL, "surface.authorityURL"); err != nil {
		return err
	}

	if m := config.Mirror; m != nil {
		switch m.Storage {
		case StorageMemory:
		case StorageRedis:
			if m.RedisAddr == "" {
				return fmt.Errorf("mirror.redisAddr is required for redis storage")
			}
		case StorageFirestore:
			if m.GCPProject == "" {
				return fmt.Errorf("mirror.gcpProject is required for firestore storage")
			}
		default:
			return fmt.Errorf("unsupported mirror.storage %q", m.Storage)
		}
		if m.TTL > config.Identity.CustomTokenTTL {
			return fmt.Errorf("mirror.ttl (%s) must not exceed identity.customTokenTtl (%s)", m.TTL, config.Identity.CustomTokenTTL)
		}
	}

	return nil
}

// validateURL requires https except for loopback hosts or development mode
func validateURL(raw, field string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", field)
	}
	if u.Scheme == "https" || envutil.IsDev() || urlutil.IsLoopback(raw) {
		return nil
	}
	return fmt.Errorf("%s must use https for non-loopback hosts", field)
}
