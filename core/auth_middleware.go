package core

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxUserIDKey = "userID"

// TokenVerifier is the part of AuthService the bearer middleware needs.
type TokenVerifier interface {
	VerifyToken(token string) (int64, error)
}

// RequireAuth rejects requests without a valid bearer token (401) and stores
// the resolved user id on the context.
func RequireAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		userID, err := verifier.VerifyToken(token)
		if err != nil {
			abortWithError(c, ErrInvalidToken)
			return
		}
		c.Set(ctxUserIDKey, userID)
		c.Next()
	}
}

// bearerToken extracts the credential from an Authorization header value.
func bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, found := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return "", ErrInvalidToken
	}
	token = strings.TrimSpace(token)
	if !found || token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

func currentUserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(ctxUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
