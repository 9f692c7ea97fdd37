package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/GTDGit/gtd_ticketing/internal/utils"
)

// Context keys set by the auth middlewares.
const (
	ctxUserID   = "user_id"
	ctxEmail    = "email"
	ctxAuthType = "auth_type"
	ctxOperator = "operator"

	authTypeUser    = "user"
	authTypeService = "service"
)

// bearerToken extracts the token from an Authorization header. ok is false when
// the header is present but not a bearer credential.
func bearerToken(c *gin.Context) (token string, present, ok bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return "", false, true
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", true, false
	}
	return strings.TrimSpace(token), true, true
}

// RequireUser rejects requests without a valid user token.
func (m *AuthMiddleware) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, present, ok := bearerToken(c)
		if !present || !ok {
			m.handleAuthError(c, "UNAUTHORIZED", "Missing or invalid authorization header")
			return
		}
		if !m.setUser(c, token) {
			m.handleAuthError(c, utils.ErrInvalidToken.Code, utils.ErrInvalidToken.Message)
			return
		}
		c.Next()
	}
}

// OptionalUser identifies the user when a token is sent. A malformed or invalid
// token is still rejected; only an absent one is allowed through.
func (m *AuthMiddleware) OptionalUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, present, ok := bearerToken(c)
		if !present {
			c.Next()
			return
		}
		if !ok {
			m.handleAuthError(c, "UNAUTHORIZED", "Invalid authorization header")
			return
		}
		if !m.setUser(c, token) {
			m.handleAuthError(c, utils.ErrInvalidToken.Code, utils.ErrInvalidToken.Message)
			return
		}
		c.Next()
	}
}

func (m *AuthMiddleware) setUser(c *gin.Context, token string) bool {
	claims, err := utils.ValidateJWT(token, m.jwtSecret)
	if err != nil {
		return false
	}
	c.Set(ctxUserID, claims.UserID())
	c.Set(ctxEmail, claims.Email)
	c.Set(ctxAuthType, authTypeUser)
	c.Set(ctxOperator, claims.IsOperator())
	return true
}

// RequireOperator accepts the service secret or a user token with an operator role.
// Valid tokens without the role are refused with 403 and do not count toward the
// invalid auth rate limit.
func (m *AuthMiddleware) RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, present, ok := bearerToken(c)
		if !present || !ok {
			m.handleAuthError(c, "UNAUTHORIZED", "Missing or invalid authorization header")
			return
		}
		if m.isServiceToken(token) {
			c.Set(ctxAuthType, authTypeService)
			c.Next()
			return
		}
		if !m.setUser(c, token) {
			m.handleAuthError(c, utils.ErrInvalidToken.Code, utils.ErrInvalidToken.Message)
			return
		}
		if !c.GetBool(ctxOperator) {
			utils.RespondError(c, utils.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetUserID returns the authenticated user id, or "" when the caller is anonymous
// or a service.
func GetUserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

// IsServiceCall reports whether the request authenticated with the service secret.
func IsServiceCall(c *gin.Context) bool {
	return c.GetString(ctxAuthType) == authTypeService
}
