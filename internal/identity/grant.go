// Package identity verifies caller grants. A grant is a short-lived EdDSA
// JWT naming the account the bearer acts as; the transport layer exchanges
// it for the caller identity every dispatched operation observes.
package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/stagegate/stagegate/internal/platform/errors"
)

// grantEnv holds raw env values before post-parse validation.
type grantEnv struct {
	Issuer    string `env:"STAGEGATE_IDENTITY_ISSUER"`
	Audience  string `env:"STAGEGATE_IDENTITY_AUDIENCE"`
	PublicKey string `env:"STAGEGATE_IDENTITY_PUBLIC_KEY"`
}

// Config defines how caller grants are verified.
type Config struct {
	Issuer   string
	Audience string
	Key      ed25519.PublicKey
	Now      func() time.Time
}

// Enabled reports whether a verification key is configured.
func (c Config) Enabled() bool {
	return len(c.Key) == ed25519.PublicKeySize
}

// Claims captures a validated caller grant.
type Claims struct {
	Account   string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	JWTID     string
}

// grantClaims is the internal claims type used for JWT parsing.
type grantClaims struct {
	jwt.RegisteredClaims
	Account string `json:"account"`
}

// LoadConfigFromEnv reads grant verification configuration. An empty public
// key disables verification; issuer and audience become required once a key
// is set.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw grantEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse identity env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	publicKey := strings.TrimSpace(raw.PublicKey)
	if now == nil {
		now = time.Now
	}
	if publicKey == "" {
		return Config{Now: now}, nil
	}
	if issuer == "" {
		return Config{}, fmt.Errorf("STAGEGATE_IDENTITY_ISSUER is required")
	}
	if audience == "" {
		return Config{}, fmt.Errorf("STAGEGATE_IDENTITY_AUDIENCE is required")
	}
	keyBytes, err := decodeBase64(publicKey)
	if err != nil {
		return Config{}, fmt.Errorf("decode identity public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return Config{}, fmt.Errorf("identity public key must be %d bytes", ed25519.PublicKeySize)
	}
	return Config{
		Issuer:   issuer,
		Audience: audience,
		Key:      ed25519.PublicKey(keyBytes),
		Now:      now,
	}, nil
}

// Verify checks a caller grant and returns its validated claims.
func Verify(grant string, cfg Config) (Claims, error) {
	grant = strings.TrimSpace(grant)
	if grant == "" {
		return Claims{}, apperrors.New(apperrors.CodeIdentityGrantInvalid, "caller grant is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Issuer == "" || cfg.Audience == "" || !cfg.Enabled() {
		return Claims{}, errors.New("grant verifier is not configured")
	}

	var parsed grantClaims
	_, err := jwt.ParseWithClaims(grant, &parsed, func(token *jwt.Token) (any, error) {
		return cfg.Key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != cfg.Issuer {
		return Claims{}, apperrors.WithMetadata(apperrors.CodeIdentityGrantInvalid,
			"caller grant issuer mismatch",
			map[string]string{"field": "issuer"})
	}
	if !audienceContains(parsed.Audience, cfg.Audience) {
		return Claims{}, apperrors.WithMetadata(apperrors.CodeIdentityGrantInvalid,
			"caller grant audience mismatch",
			map[string]string{"field": "audience"})
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, apperrors.New(apperrors.CodeIdentityGrantInvalid, "caller grant exp is required")
	}

	now := cfg.Now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return Claims{}, apperrors.New(apperrors.CodeIdentityGrantExpired, "caller grant is expired")
	}
	if parsed.NotBefore != nil && now.Before(parsed.NotBefore.Time.UTC()) {
		return Claims{}, apperrors.New(apperrors.CodeIdentityGrantInvalid, "caller grant not active yet")
	}

	account := strings.TrimSpace(parsed.Account)
	if account == "" {
		account = strings.TrimSpace(parsed.Subject)
	}
	if account == "" {
		return Claims{}, apperrors.New(apperrors.CodeIdentityGrantInvalid, "caller grant names no account")
	}

	claims := Claims{
		Account:   account,
		Issuer:    parsed.Issuer,
		Audience:  []string(parsed.Audience),
		ExpiresAt: exp,
		JWTID:     parsed.ID,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// Sign issues a caller grant for an account. Used by operator tooling and
// tests; the audience is the single configured value.
func Sign(key ed25519.PrivateKey, issuer, audience, account string, ttl time.Duration, now func() time.Time) (string, error) {
	if len(key) != ed25519.PrivateKeySize {
		return "", errors.New("grant signer is not configured")
	}
	if now == nil {
		now = time.Now
	}
	issued := now().UTC()
	claims := grantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   account,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(issued),
		},
		Account: account,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign caller grant: %w", err)
	}
	return signed, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeIdentityGrantInvalid, "caller grant signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeIdentityGrantInvalid, "caller grant alg is invalid")
	}
	return apperrors.New(apperrors.CodeIdentityGrantInvalid, "caller grant is invalid")
}

// audienceContains reports whether the audience list contains the value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
