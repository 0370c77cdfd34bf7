package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrExpiredToken = errors.New("auth: token expired")
)

// Identity is the subject of an access token
type Identity struct {
	UserID   string
	Username string
	Name     string
	Role     string
}

// AccessClaims are carried by the short-lived access token
type AccessClaims struct {
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// RefreshClaims are carried by the refresh token. RotationID must match the
// value stored on the profile for the token to be honored.
type RefreshClaims struct {
	RotationID string `json:"rid"`
	jwt.RegisteredClaims
}

// TokenPair is the result of a login or refresh
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	RotationID       string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Audience      string
}

// Tokens issues and verifies HS256 access and refresh tokens signed with separate secrets
type Tokens struct {
	cfg TokenConfig
	now func() time.Time
}

func NewTokens(cfg TokenConfig) *Tokens {
	return &Tokens{cfg: cfg, now: time.Now}
}

// AccessTTL is the lifetime of issued access tokens
func (t *Tokens) AccessTTL() time.Duration { return t.cfg.AccessTTL }

// RefreshTTL is the lifetime of issued refresh tokens
func (t *Tokens) RefreshTTL() time.Duration { return t.cfg.RefreshTTL }

// Issue signs a new access token and a refresh token bound to a fresh rotation id
func (t *Tokens) Issue(id Identity) (*TokenPair, error) {
	now := t.now()
	pair := &TokenPair{
		RotationID:       uuid.NewString(),
		AccessExpiresAt:  now.Add(t.cfg.AccessTTL),
		RefreshExpiresAt: now.Add(t.cfg.RefreshTTL),
	}

	access := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		Username: id.Username,
		Name:     id.Name,
		Role:     id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    t.cfg.Issuer,
			Audience:  jwt.ClaimStrings{t.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(pair.AccessExpiresAt),
			ID:        uuid.NewString(),
		},
	})
	var err error
	if pair.AccessToken, err = access.SignedString([]byte(t.cfg.AccessSecret)); err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, RefreshClaims{
		RotationID: pair.RotationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    t.cfg.Issuer,
			Audience:  jwt.ClaimStrings{t.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(pair.RefreshExpiresAt),
		},
	})
	if pair.RefreshToken, err = refresh.SignedString([]byte(t.cfg.RefreshSecret)); err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return pair, nil
}

// VerifyAccess validates signature, expiry, issuer and audience of an access token
func (t *Tokens) VerifyAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := t.parse(token, t.cfg.AccessSecret, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefresh validates a refresh token. The rotation id is checked by the caller.
func (t *Tokens) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := t.parse(token, t.cfg.RefreshSecret, claims); err != nil {
		return nil, err
	}
	if claims.RotationID == "" {
		return nil, fmt.Errorf("%w: missing rotation id", ErrInvalidToken)
	}
	return claims, nil
}

func (t *Tokens) parse(token, secret string, claims jwt.Claims) error {
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.cfg.Issuer),
		jwt.WithAudience(t.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: %v", ErrExpiredToken, err)
		}
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return nil
}
