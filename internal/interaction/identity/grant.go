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

	apperrors "github.com/torchlit/gametable/internal/platform/errors"
)

// sessionGrantEnv holds raw env values before post-parse validation.
type sessionGrantEnv struct {
	Issuer    string `env:"GAMETABLE_SESSION_GRANT_ISSUER"`
	Audience  string `env:"GAMETABLE_SESSION_GRANT_AUDIENCE"`
	PublicKey string `env:"GAMETABLE_SESSION_GRANT_PUBLIC_KEY"`
}

// GrantConfig defines how session grants are verified.
type GrantConfig struct {
	Issuer   string
	Audience string
	Key      ed25519.PublicKey
	Now      func() time.Time
}

// GrantExpectation defines the expected identity for a session grant.
type GrantExpectation struct {
	SessionID string
	UserID    string
}

// GrantClaims captures validated session grant claims.
type GrantClaims struct {
	Issuer     string
	Audience   []string
	ExpiresAt  time.Time
	NotBefore  time.Time
	IssuedAt   time.Time
	JWTID      string
	SessionID  string
	UserID     string
	EntityID   string
	GameMaster bool
}

// Principal converts validated claims into an acting principal.
func (c GrantClaims) Principal() Principal {
	return Principal{UserID: c.UserID, GameMaster: c.GameMaster}
}

// sessionGrantClaims is the internal claims type used for JWT parsing.
type sessionGrantClaims struct {
	jwt.RegisteredClaims
	SessionID  string `json:"session_id"`
	UserID     string `json:"user_id"`
	EntityID   string `json:"entity_id,omitempty"`
	GameMaster bool   `json:"gm,omitempty"`
}

// LoadGrantConfigFromEnv reads session grant verification configuration.
func LoadGrantConfigFromEnv(now func() time.Time) (GrantConfig, error) {
	var raw sessionGrantEnv
	if err := env.Parse(&raw); err != nil {
		return GrantConfig{}, fmt.Errorf("parse session grant env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	publicKey := strings.TrimSpace(raw.PublicKey)
	if issuer == "" {
		return GrantConfig{}, fmt.Errorf("GAMETABLE_SESSION_GRANT_ISSUER is required")
	}
	if audience == "" {
		return GrantConfig{}, fmt.Errorf("GAMETABLE_SESSION_GRANT_AUDIENCE is required")
	}
	if publicKey == "" {
		return GrantConfig{}, fmt.Errorf("GAMETABLE_SESSION_GRANT_PUBLIC_KEY is required")
	}
	keyBytes, err := decodeBase64(publicKey)
	if err != nil {
		return GrantConfig{}, fmt.Errorf("decode session grant public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return GrantConfig{}, fmt.Errorf("session grant public key must be %d bytes", ed25519.PublicKeySize)
	}
	if now == nil {
		now = time.Now
	}
	return GrantConfig{
		Issuer:   issuer,
		Audience: audience,
		Key:      ed25519.PublicKey(keyBytes),
		Now:      now,
	}, nil
}

// ValidateSessionGrant verifies a session grant token and validates expected
// claims.
func ValidateSessionGrant(grant string, expected GrantExpectation, cfg GrantConfig) (GrantClaims, error) {
	grant = strings.TrimSpace(grant)
	if grant == "" {
		return GrantClaims{}, apperrors.New(apperrors.CodeGrantInvalid, "session grant is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Issuer == "" || cfg.Audience == "" || len(cfg.Key) != ed25519.PublicKeySize {
		return GrantClaims{}, errors.New("session grant verifier is not configured")
	}

	var parsed sessionGrantClaims
	_, err := jwt.ParseWithClaims(grant, &parsed, func(token *jwt.Token) (any, error) {
		return cfg.Key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return GrantClaims{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != cfg.Issuer {
		return GrantClaims{}, apperrors.WithMetadata(
			apperrors.CodeGrantMismatch,
			"session grant issuer mismatch",
			map[string]string{"Field": "issuer"},
		)
	}
	if !audienceContains(parsed.Audience, cfg.Audience) {
		return GrantClaims{}, apperrors.WithMetadata(
			apperrors.CodeGrantMismatch,
			"session grant audience mismatch",
			map[string]string{"Field": "audience"},
		)
	}

	if parsed.ID == "" {
		return GrantClaims{}, apperrors.New(apperrors.CodeGrantInvalid, "session grant jti is required")
	}
	if parsed.ExpiresAt == nil {
		return GrantClaims{}, apperrors.New(apperrors.CodeGrantInvalid, "session grant exp is required")
	}

	now := cfg.Now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return GrantClaims{}, apperrors.New(apperrors.CodeGrantExpired, "session grant is expired")
	}
	if parsed.NotBefore != nil {
		nbf := parsed.NotBefore.Time.UTC()
		if now.Before(nbf) {
			return GrantClaims{}, apperrors.New(apperrors.CodeGrantInvalid, "session grant not active yet")
		}
	}

	if strings.TrimSpace(parsed.SessionID) == "" || parsed.SessionID != expected.SessionID {
		return GrantClaims{}, apperrors.WithMetadata(
			apperrors.CodeGrantMismatch,
			"session grant session mismatch",
			map[string]string{"Field": "session_id"},
		)
	}
	if strings.TrimSpace(parsed.UserID) == "" || parsed.UserID != expected.UserID {
		return GrantClaims{}, apperrors.WithMetadata(
			apperrors.CodeGrantMismatch,
			"session grant user mismatch",
			map[string]string{"Field": "user_id"},
		)
	}

	claims := GrantClaims{
		Issuer:     parsed.Issuer,
		Audience:   []string(parsed.Audience),
		ExpiresAt:  exp,
		JWTID:      parsed.ID,
		SessionID:  parsed.SessionID,
		UserID:     parsed.UserID,
		EntityID:   parsed.EntityID,
		GameMaster: parsed.GameMaster,
	}
	if parsed.NotBefore != nil {
		claims.NotBefore = parsed.NotBefore.Time.UTC()
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// IssueSessionGrant signs a session grant for one user joining one session.
// The campaign service normally issues grants; the engine exposes this for
// tooling and tests.
func IssueSessionGrant(key ed25519.PrivateKey, cfg GrantConfig, claims GrantClaims, ttl time.Duration) (string, error) {
	if len(key) != ed25519.PrivateKeySize {
		return "", errors.New("session grant private key is invalid")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if strings.TrimSpace(claims.SessionID) == "" || strings.TrimSpace(claims.UserID) == "" {
		return "", errors.New("session grant session id and user id are required")
	}
	if claims.JWTID == "" {
		return "", errors.New("session grant jti is required")
	}
	if ttl <= 0 {
		return "", errors.New("session grant ttl must be positive")
	}

	now := cfg.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, sessionGrantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        claims.JWTID,
		},
		SessionID:  claims.SessionID,
		UserID:     claims.UserID,
		EntityID:   claims.EntityID,
		GameMaster: claims.GameMaster,
	})
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign session grant: %w", err)
	}
	return signed, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeGrantInvalid, "session grant signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeGrantInvalid, "session grant alg is invalid")
	}
	return apperrors.New(apperrors.CodeGrantInvalid, "session grant is invalid")
}

// audienceContains reports whether the audience list contains the given value.
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
