package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

type Claims struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
	jwt.RegisteredClaims
}

type RefreshClaims struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies access and refresh tokens. The two kinds use
// different keys so one can never be replayed as the other.
type TokenCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	now           func() time.Time
}

func NewTokenCodec(accessSecret, refreshSecret, issuer string) (*TokenCodec, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("jwt secrets must not be empty")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}
	return &TokenCodec{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		issuer:        issuer,
		now:           time.Now,
	}, nil
}

// WithClock replaces the time source used for issuing and validating.
func (tc *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	cp := *tc
	cp.now = now
	return &cp
}

func (tc *TokenCodec) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := tc.now()
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    tc.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (tc *TokenCodec) SignAccessToken(userID, email, role, deviceID string, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID:           userID,
		Email:            email,
		Role:             role,
		DeviceID:         deviceID,
		RegisteredClaims: tc.registered(userID, ttl),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tc.accessSecret)
}

// SignRefreshToken binds the token to one device. The random jti keeps two
// rotations inside the same second from producing identical tokens.
func (tc *TokenCodec) SignRefreshToken(userID, deviceID string, ttl time.Duration) (string, error) {
	claims := RefreshClaims{
		UserID:           userID,
		DeviceID:         deviceID,
		RegisteredClaims: tc.registered(userID, ttl),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tc.refreshSecret)
}

func (tc *TokenCodec) VerifyAccessToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	if err := tc.parse(tokenStr, claims, tc.accessSecret); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (tc *TokenCodec) VerifyRefreshToken(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := tc.parse(tokenStr, claims, tc.refreshSecret); err != nil {
		return nil, err
	}
	if claims.UserID == "" || claims.DeviceID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (tc *TokenCodec) parse(tokenStr string, claims jwt.Claims, secret []byte) error {
	if tokenStr == "" {
		return ErrTokenInvalid
	}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(tc.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return ErrTokenInvalid
	}
	return nil
}
