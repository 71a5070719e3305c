package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// ValidationError is a single problem found in a config file
type ValidationError struct {
	Path    string
	Message string
}

// ValidationResult collects errors and warnings from ValidateFile
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid reports whether no errors were found
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) addWarning(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// ValidateFile checks a config file's structure without resolving env vars
func ValidateFile(path string) (*ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ValidateBytes(data), nil
}

// ValidateBytes is ValidateFile on in-memory content
func ValidateBytes(data []byte) *ValidationResult {
	result := &ValidationResult{}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.addError("", "invalid JSON: %v", err)
		return result
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.addError("version", "version field is required. Hint: Add \"version\": %q", Version)
	} else if version != Version {
		result.addError("version", "unsupported version '%s' - use '%s'", version, Version)
	}

	validateAuthorityStructure(rawConfig, result)
	validateIdentityStructure(rawConfig, result)
	validateBackendStructure(rawConfig, result)
	validateMirrorStructure(rawConfig, result)
	validateSurfaceStructure(rawConfig, result)

	return result
}

func section(rawConfig map[string]any, name string, result *ValidationResult) (map[string]any, bool) {
	raw, exists := rawConfig[name]
	if !exists {
		return nil, false
	}
	m, ok := raw.(map[string]any)
	if !ok {
		result.addError(name, "%s must be an object", name)
		return nil, false
	}
	return m, true
}

func validateAuthorityStructure(rawConfig map[string]any, result *ValidationResult) {
	authority, ok := section(rawConfig, "authority", result)
	if !ok {
		return
	}

	if mode, exists := authority["mode"]; exists {
		s, _ := mode.(string)
		if s != string(ModeDirect) && s != string(ModeMirror) {
			result.addError("authority.mode", "mode must be '%s' or '%s'", ModeDirect, ModeMirror)
		}
		if s == string(ModeMirror) {
			if _, hasMirror := rawConfig["mirror"]; !hasMirror {
				result.addWarning("mirror", "mirror mode without a mirror section uses in-memory storage, which other processes cannot see")
			}
		}
	}

	if origins, exists := authority["allowedOrigins"]; exists {
		list, ok := origins.([]any)
		if !ok {
			result.addError("authority.allowedOrigins", "allowedOrigins must be an array of strings")
		}
		for i, o := range list {
			if s, ok := o.(string); !ok || s == "" {
				result.addError(fmt.Sprintf("authority.allowedOrigins[%d]", i), "origin must be a non-empty string")
			} else if s == "*" {
				result.addWarning(fmt.Sprintf("authority.allowedOrigins[%d]", i), "wildcard origin lets any page drive sign-in and sign-out")
			}
		}
	}

	if broadcast, ok := authority["broadcast"].(map[string]any); ok {
		validateDurationField(broadcast, "timeout", "authority.broadcast.timeout", result)
		if c, exists := broadcast["concurrency"]; exists {
			if n, ok := c.(float64); !ok || n < 1 {
				result.addError("authority.broadcast.concurrency", "concurrency must be a positive number")
			}
		}
	}
}

func validateIdentityStructure(rawConfig map[string]any, result *ValidationResult) {
	identity, ok := section(rawConfig, "identity", result)
	if !ok {
		result.addError("identity", "identity section is required")
		return
	}

	key, exists := identity["signingKey"]
	if !exists {
		result.addError("identity.signingKey", "signingKey is required. Hint: {\"$env\": \"BXM_SIGNING_KEY\"}")
	} else if err := validateEnvVarReference(key, "signingKey", "identity.signingKey"); err != nil {
		result.Errors = append(result.Errors, *err)
	}

	validateDurationField(identity, "customTokenTtl", "identity.customTokenTtl", result)
	validateDurationField(identity, "idTokenTtl", "identity.idTokenTtl", result)

	if p, exists := identity["persistence"]; exists {
		s, _ := p.(string)
		if s != string(PersistenceMemory) && s != string(PersistenceKeyring) {
			result.addError("identity.persistence", "persistence must be '%s' or '%s'", PersistenceMemory, PersistenceKeyring)
		}
	}
}

func validateBackendStructure(rawConfig map[string]any, result *ValidationResult) {
	backend, ok := section(rawConfig, "backend", result)
	if !ok {
		result.addError("backend", "backend section is required")
		return
	}

	_, hasURL := backend["apiURL"]
	serve, _ := backend["serve"].(bool)
	if !hasURL && !serve {
		result.addError("backend.apiURL", "apiURL is required unless serve is true")
	}
	validateDurationField(backend, "timeout", "backend.timeout", result)
}

func validateMirrorStructure(rawConfig map[string]any, result *ValidationResult) {
	mirror, ok := section(rawConfig, "mirror", result)
	if !ok {
		return
	}

	storage, _ := mirror["storage"].(string)
	switch StorageKind(storage) {
	case "", StorageMemory:
	case StorageRedis:
		if _, ok := mirror["redisAddr"]; !ok {
			result.addError("mirror.redisAddr", "redisAddr is required for redis storage")
		}
	case StorageFirestore:
		if _, ok := mirror["gcpProject"]; !ok {
			result.addError("mirror.gcpProject", "gcpProject is required for firestore storage")
		}
	default:
		result.addError("mirror.storage", "storage must be one of 'memory', 'redis', 'firestore'")
	}

	if password, exists := mirror["redisPassword"]; exists {
		if err := validateEnvVarReference(password, "redisPassword", "mirror.redisPassword"); err != nil {
			result.Errors = append(result.Errors, *err)
		}
	}

	ttl := validateDurationField(mirror, "ttl", "mirror.ttl", result)
	if identity, ok := rawConfig["identity"].(map[string]any); ok && ttl > 0 {
		customTTL := validateDurationField(identity, "customTokenTtl", "", nil)
		if customTTL == 0 {
			customTTL = DefaultCustomTokenTTL
		}
		if ttl > customTTL {
			result.addError("mirror.ttl", "ttl must not exceed identity.customTokenTtl (%s)", customTTL)
		}
	}
}

func validateSurfaceStructure(rawConfig map[string]any, result *ValidationResult) {
	surface, ok := section(rawConfig, "surface", result)
	if !ok {
		return
	}
	validateDurationField(surface, "syncTimeout", "surface.syncTimeout", result)
	validateDurationField(surface, "settleTimeout", "surface.settleTimeout", result)
}

// validateDurationField returns the parsed duration, or zero when absent or invalid.
// A nil result suppresses error reporting.
func validateDurationField(m map[string]any, key, path string, result *ValidationResult) time.Duration {
	raw, exists := m[key]
	if !exists {
		return 0
	}
	s, ok := raw.(string)
	if !ok {
		if result != nil {
			result.addError(path, "%s must be a duration string like \"30s\"", key)
		}
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		if result != nil {
			result.addError(path, "invalid duration '%s'", s)
		}
		return 0
	}
	return d
}

func validateEnvVarReference(value any, fieldName, path string) *ValidationError {
	switch v := value.(type) {
	case string:
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must use environment variable reference for security. Hint: {\"$env\": \"%s\"}", fieldName, envHint(fieldName)),
		}
	case map[string]any:
		if _, ok := v["$env"].(string); !ok {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("%s must use {\"$env\": \"VAR_NAME\"} format", fieldName),
			}
		}
		return nil
	default:
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must be an environment variable reference", fieldName),
		}
	}
}

var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

func envHint(fieldName string) string {
	return "BXM_" + strings.ToUpper(camelBoundary.ReplaceAllString(fieldName, "${1}_${2}"))
}

var bashStyleRegex = regexp.MustCompile(`\$\{?[A-Z_][A-Z0-9_]*\}?`)

func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.addWarning(path, "found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", match, varName)
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		for key, val := range v {
			newPath := key
			if path != "" {
				newPath = path + "." + key
			}
			checkBashStyleSyntax(val, newPath, result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
