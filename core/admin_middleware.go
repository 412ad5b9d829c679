package core

import (
	"github.com/gin-gonic/gin"
)

// AdminOnly must run after RequireAuth. It loads the caller and answers 403
// unless their role is admin. A token for a deleted user is treated as invalid.
func AdminOnly(auth AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := currentUserID(c)
		if !ok {
			abortWithError(c, ErrMissingToken)
			return
		}
		u, err := auth.CurrentUser(c.Request.Context(), uid)
		if err != nil {
			if KindOf(err) == KindNotFound {
				abortWithError(c, ErrInvalidToken)
				return
			}
			abortWithError(c, err)
			return
		}
		if !IsAdmin(u) {
			abortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}
