package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgellow/bxm/internal/crypto"
	"github.com/dgellow/bxm/internal/identity"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultCustomTokenTTL is the validity window of a custom token
	DefaultCustomTokenTTL = time.Hour

	// DefaultIDTokenTTL is the validity window of an ID token
	DefaultIDTokenTTL = time.Hour

	// DefaultIssuer is the iss claim of every token
	DefaultIssuer = "bxm"

	// MinSecretLength is the minimum signing secret size in bytes
	MinSecretLength = 32

	customTokenAudience = "bxm:custom-token"
	idTokenAudience     = "bxm:id-token"
)

// Ensure Issuer can back identity clients
var _ identity.Exchanger = (*Issuer)(nil)

// Claims carries the session summary inside a token
type Claims struct {
	jwt.RegisteredClaims
	Email         string `json:"email,omitempty"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
}

// Session returns the session described by the claims
func (c *Claims) Session() identity.Session {
	return identity.Session{
		UID:           c.Subject,
		Email:         c.Email,
		DisplayName:   c.Name,
		PhotoURL:      c.Picture,
		EmailVerified: c.EmailVerified,
	}
}

// Issuer mints and verifies the two token kinds of the identity provider:
// single-use-window custom tokens and ID tokens. Each kind is signed with its
// own key derived from one secret, so neither can stand in for the other.
type Issuer struct {
	issuer         string
	customKey      []byte
	idKey          []byte
	customTokenTTL time.Duration
	idTokenTTL     time.Duration
	now            func() time.Time
}

// Option configures an Issuer
type Option func(*Issuer)

// WithIssuer sets the iss claim
func WithIssuer(iss string) Option {
	return func(i *Issuer) {
		i.issuer = iss
	}
}

// WithCustomTokenTTL sets the custom token validity window
func WithCustomTokenTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		i.customTokenTTL = ttl
	}
}

// WithIDTokenTTL sets the ID token validity window
func WithIDTokenTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		i.idTokenTTL = ttl
	}
}

// WithClock overrides the time source (for testing)
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// NewIssuer creates an Issuer from a signing secret
func NewIssuer(secret []byte, opts ...Option) (*Issuer, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("signing secret must be at least %d bytes (got %d)", MinSecretLength, len(secret))
	}

	customKey, err := crypto.DeriveKey(secret, customTokenAudience)
	if err != nil {
		return nil, err
	}
	idKey, err := crypto.DeriveKey(secret, idTokenAudience)
	if err != nil {
		return nil, err
	}

	i := &Issuer{
		issuer:         DefaultIssuer,
		customKey:      customKey,
		idKey:          idKey,
		customTokenTTL: DefaultCustomTokenTTL,
		idTokenTTL:     DefaultIDTokenTTL,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// CustomTokenTTL returns the custom token validity window
func (i *Issuer) CustomTokenTTL() time.Duration {
	return i.customTokenTTL
}

// MintCustomToken issues a short-lived credential for s
func (i *Issuer) MintCustomToken(s identity.Session) (string, error) {
	return i.mint(s, customTokenAudience, i.customKey, i.customTokenTTL)
}

// MintIDToken issues a bearer ID token for s
func (i *Issuer) MintIDToken(s identity.Session) (string, error) {
	return i.mint(s, idTokenAudience, i.idKey, i.idTokenTTL)
}

func (i *Issuer) mint(s identity.Session, audience string, key []byte, ttl time.Duration) (string, error) {
	if s.UID == "" {
		return "", fmt.Errorf("session uid is required")
	}

	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   s.UID,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Email:         s.Email,
		Name:          s.DisplayName,
		Picture:       s.PhotoURL,
		EmailVerified: s.EmailVerified,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

func (i *Issuer) parse(token, audience string, key []byte) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)

	var claims Claims
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return key, nil
	}); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token missing subject")
	}
	return &claims, nil
}

// VerifyCustomToken validates a custom token. Errors wrap
// identity.ErrCustomTokenExpired or identity.ErrInvalidCustomToken.
func (i *Issuer) VerifyCustomToken(token string) (identity.Session, error) {
	claims, err := i.parse(token, customTokenAudience, i.customKey)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return identity.Session{}, fmt.Errorf("%w: %v", identity.ErrCustomTokenExpired, err)
		}
		return identity.Session{}, fmt.Errorf("%w: %v", identity.ErrInvalidCustomToken, err)
	}
	return claims.Session(), nil
}

// VerifyIDToken validates an ID token
func (i *Issuer) VerifyIDToken(_ context.Context, token string) (identity.Session, error) {
	claims, err := i.parse(token, idTokenAudience, i.idKey)
	if err != nil {
		return identity.Session{}, fmt.Errorf("%w: %v", identity.ErrInvalidIDToken, err)
	}
	return claims.Session(), nil
}

// ExchangeCustomToken verifies a custom token and issues an ID token for it
func (i *Issuer) ExchangeCustomToken(_ context.Context, customToken string) (identity.Session, string, error) {
	session, err := i.VerifyCustomToken(customToken)
	if err != nil {
		return identity.Session{}, "", err
	}
	idToken, err := i.MintIDToken(session)
	if err != nil {
		return identity.Session{}, "", err
	}
	return session, idToken, nil
}

// RefreshIDToken issues a fresh ID token for session
func (i *Issuer) RefreshIDToken(_ context.Context, session identity.Session) (string, error) {
	return i.MintIDToken(session)
}
