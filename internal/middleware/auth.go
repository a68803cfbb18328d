package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thereayou/roomkit/pkg/auth"
)

const (
	UserIDKey = "userID"
	ClaimsKey = "claims"
	TokenKey  = "token"
)

// AuthMiddleware accepts a Bearer token from the Authorization header.
func AuthMiddleware(jwtManager *auth.JWTManager, blacklist *auth.Blacklist, l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractTokenFromHeader(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		authenticate(c, token, jwtManager, blacklist, l)
	}
}

// WSAuthMiddleware reads the token from the ?token= query parameter, since
// browsers cannot set headers on a WebSocket handshake. A missing or bad
// token is rejected before the upgrade.
func WSAuthMiddleware(jwtManager *auth.JWTManager, blacklist *auth.Blacklist, l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		authenticate(c, token, jwtManager, blacklist, l)
	}
}

func authenticate(c *gin.Context, token string, jwtManager *auth.JWTManager, blacklist *auth.Blacklist, l *slog.Logger) {
	claims, err := jwtManager.Verify(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	userID, err := claims.UserID()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid user id"})
		return
	}

	revoked, err := blacklist.IsRevoked(c.Request.Context(), token)
	if err != nil {
		// Redis being down must not lock everybody out.
		l.Warn("token blacklist unavailable", "error", err)
	}
	if revoked {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token is revoked"})
		return
	}

	c.Set(UserIDKey, userID)
	c.Set(ClaimsKey, claims)
	c.Set(TokenKey, token)
	c.Next()
}

// UserID returns the authenticated user; handlers behind the middleware can rely on ok.
func UserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok
}
