package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/dentora/orderchat/internal/auth"
	"github.com/dentora/orderchat/internal/common"
)

const (
	UserIDKey = "user_id"
	RoleKey   = "user_role"
	NameKey   = "user_name"
)

// AuthRequired rejects requests without a valid bearer token. An expired
// token gets its own code so clients can force re-authentication instead
// of treating it as a transient failure.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			c.Abort()
			return
		}
		claims, err := auth.ParseJWT(strings.TrimPrefix(h, "Bearer "), secret)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				common.Fail(c, http.StatusUnauthorized, 40102, "token expired")
			} else {
				common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			}
			c.Abort()
			return
		}
		c.Set(UserIDKey, claims.UserID)
		c.Set(RoleKey, claims.Role)
		c.Set(NameKey, claims.DisplayName)
		c.Next()
	}
}
