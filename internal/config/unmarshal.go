package config

import (
	"encoding/json"
	"fmt"
	"time"
)

func parseOptionalValue(raw json.RawMessage, field string) (string, error) {
	if raw == nil {
		return "", nil
	}
	value, err := ParseConfigValue(raw)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", field, err)
	}
	return value, nil
}

func parseOptionalDuration(s, field string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", field, err)
	}
	return d, nil
}

// UnmarshalJSON implements custom unmarshaling for BroadcastConfig
func (b *BroadcastConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Concurrency int    `json:"concurrency"`
		Timeout     string `json:"timeout"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	timeout, err := parseOptionalDuration(raw.Timeout, "timeout")
	if err != nil {
		return err
	}
	b.Concurrency = raw.Concurrency
	b.Timeout = timeout
	return nil
}

// UnmarshalJSON implements custom unmarshaling for AuthorityConfig
func (a *AuthorityConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Addr           json.RawMessage `json:"addr"`
		BaseURL        json.RawMessage `json:"baseURL"`
		Name           string          `json:"name"`
		Mode           Mode            `json:"mode"`
		AllowedOrigins []string        `json:"allowedOrigins"`
		Broadcast      BroadcastConfig `json:"broadcast"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var err error
	if a.Addr, err = parseOptionalValue(raw.Addr, "addr"); err != nil {
		return err
	}
	if a.BaseURL, err = parseOptionalValue(raw.BaseURL, "baseURL"); err != nil {
		return err
	}
	a.Name = raw.Name
	a.Mode = raw.Mode
	a.AllowedOrigins = raw.AllowedOrigins
	a.Broadcast = raw.Broadcast
	return nil
}

// UnmarshalJSON implements custom unmarshaling for IdentityConfig
func (i *IdentityConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		SigningKey     json.RawMessage `json:"signingKey"`
		Issuer         string          `json:"issuer"`
		CustomTokenTTL string          `json:"customTokenTtl"`
		IDTokenTTL     string          `json:"idTokenTtl"`
		Persistence    PersistenceKind `json:"persistence"`
		KeyringService string          `json:"keyringService"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	key, err := parseOptionalValue(raw.SigningKey, "signingKey")
	if err != nil {
		return err
	}
	customTTL, err := parseOptionalDuration(raw.CustomTokenTTL, "customTokenTtl")
	if err != nil {
		return err
	}
	idTTL, err := parseOptionalDuration(raw.IDTokenTTL, "idTokenTtl")
	if err != nil {
		return err
	}

	i.SigningKey = Secret(key)
	i.Issuer = raw.Issuer
	i.CustomTokenTTL = customTTL
	i.IDTokenTTL = idTTL
	i.Persistence = raw.Persistence
	i.KeyringService = raw.KeyringService
	return nil
}

// UnmarshalJSON implements custom unmarshaling for BackendConfig
func (b *BackendConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		APIURL  json.RawMessage `json:"apiURL"`
		Timeout string          `json:"timeout"`
		Serve   bool            `json:"serve"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	apiURL, err := parseOptionalValue(raw.APIURL, "apiURL")
	if err != nil {
		return err
	}
	timeout, err := parseOptionalDuration(raw.Timeout, "timeout")
	if err != nil {
		return err
	}

	b.APIURL = apiURL
	b.Timeout = timeout
	b.Serve = raw.Serve
	return nil
}

// UnmarshalJSON implements custom unmarshaling for MirrorConfig
func (m *MirrorConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Storage             StorageKind     `json:"storage"`
		Key                 string          `json:"key"`
		TTL                 string          `json:"ttl"`
		GCPProject          json.RawMessage `json:"gcpProject"`
		FirestoreDatabase   string          `json:"firestoreDatabase"`
		FirestoreCollection string          `json:"firestoreCollection"`
		CredentialsFile     json.RawMessage `json:"credentialsFile"`
		RedisAddr           json.RawMessage `json:"redisAddr"`
		RedisPassword       json.RawMessage `json:"redisPassword"`
		RedisDB             int             `json:"redisDb"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	ttl, err := parseOptionalDuration(raw.TTL, "ttl")
	if err != nil {
		return err
	}
	if m.GCPProject, err = parseOptionalValue(raw.GCPProject, "gcpProject"); err != nil {
		return err
	}
	if m.CredentialsFile, err = parseOptionalValue(raw.CredentialsFile, "credentialsFile"); err != nil {
		return err
	}
	if m.RedisAddr, err = parseOptionalValue(raw.RedisAddr, "redisAddr"); err != nil {
		return err
	}
	password, err := parseOptionalValue(raw.RedisPassword, "redisPassword")
	if err != nil {
		return err
	}

	m.Storage = raw.Storage
	m.Key = raw.Key
	m.TTL = ttl
	m.FirestoreDatabase = raw.FirestoreDatabase
	m.FirestoreCollection = raw.FirestoreCollection
	m.RedisPassword = Secret(password)
	m.RedisDB = raw.RedisDB
	return nil
}

// UnmarshalJSON implements custom unmarshaling for SurfaceConfig
func (s *SurfaceConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		AuthorityURL  json.RawMessage `json:"authorityURL"`
		SyncTimeout   string          `json:"syncTimeout"`
		SettleTimeout string          `json:"settleTimeout"`
		AuthDomain    string          `json:"authDomain"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	authorityURL, err := parseOptionalValue(raw.AuthorityURL, "authorityURL")
	if err != nil {
		return err
	}
	syncTimeout, err := parseOptionalDuration(raw.SyncTimeout, "syncTimeout")
	if err != nil {
		return err
	}
	settleTimeout, err := parseOptionalDuration(raw.SettleTimeout, "settleTimeout")
	if err != nil {
		return err
	}

	s.AuthorityURL = authorityURL
	s.SyncTimeout = syncTimeout
	s.SettleTimeout = settleTimeout
	s.AuthDomain = raw.AuthDomain
	return nil
}
