package core

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenClaims is the session claim embedded in a bearer token.
type TokenClaims struct {
	UserID int64 `json:"uid"`
	jwt.RegisteredClaims
}

// TokenCodec issues and verifies HS256 bearer tokens. It keeps no server-side state.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenCodec(secret []byte, ttl time.Duration) *TokenCodec {
	return &TokenCodec{secret: secret, ttl: ttl, now: time.Now}
}

// Issue signs a token for userID that expires after the codec's TTL.
func (c *TokenCodec) Issue(userID int64) (string, time.Time, error) {
	now := c.now()
	expiresAt := now.Add(c.ttl)
	claims := TokenClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature and expiry and returns the user id carried by the token.
// Every failure wraps ErrInvalidToken.
func (c *TokenCodec) Verify(tokenString string) (int64, error) {
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			return c.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID <= 0 {
		return 0, ErrInvalidToken
	}
	if claims.Subject != "" && claims.Subject != strconv.FormatInt(claims.UserID, 10) {
		return 0, ErrInvalidToken
	}
	return claims.UserID, nil
}
