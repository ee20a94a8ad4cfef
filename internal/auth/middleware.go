package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type ownerKey struct{}

// Middleware resolves the caller identity from a bearer token or the auth
// cookie and aborts with 401 when it is missing or rejected. The owner id is
// attached to the request context for downstream handlers.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := s.extractToken(c.Request)
		if token == "" {
			unauthorized(c)
			return
		}
		ownerID, err := s.ValidateToken(c.Request.Context(), token)
		if err != nil {
			s.log.Debug("token rejected", "path", c.FullPath(), "error", err)
			unauthorized(c)
			return
		}
		c.Request = c.Request.WithContext(WithOwnerID(c.Request.Context(), ownerID))
		c.Next()
	}
}

// WithOwnerID returns a copy of ctx carrying the caller identity.
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// OwnerID returns the caller identity stored by WithOwnerID.
func OwnerID(ctx context.Context) (string, bool) {
	ownerID, ok := ctx.Value(ownerKey{}).(string)
	return ownerID, ok && ownerID != ""
}

// OwnerIDFromContext retrieves the authenticated caller id for a gin request.
func OwnerIDFromContext(c *gin.Context) (string, bool) {
	if c.Request == nil {
		return "", false
	}
	return OwnerID(c.Request.Context())
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
}

func (s *Service) extractToken(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get(s.headerName), " "); ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(token)
	}
	if cookie, err := r.Cookie(s.cookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}
