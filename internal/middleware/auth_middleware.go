package middleware

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GTDGit/gtd_ticketing/internal/utils"
)

// AuthMiddleware authenticates users by JWT and internal jobs by a shared secret.
type AuthMiddleware struct {
	jwtSecret   string
	cronSecret  string
	rateLimiter *InvalidAuthRateLimiter
}

// NewAuthMiddleware constructs a new AuthMiddleware.
func NewAuthMiddleware(jwtSecret, cronSecret string) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSecret:   jwtSecret,
		cronSecret:  cronSecret,
		rateLimiter: NewInvalidAuthRateLimiter(5, time.Minute),
	}
}

// RequireCron accepts only the static cron secret as bearer token.
func (m *AuthMiddleware) RequireCron() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, present, ok := bearerToken(c)
		if !present || !ok || !m.isServiceToken(token) {
			m.handleAuthError(c, "UNAUTHORIZED", "Invalid cron credentials")
			return
		}
		c.Set(ctxAuthType, authTypeService)
		c.Next()
	}
}

// RequireUserOrService accepts a user JWT or the cron secret.
func (m *AuthMiddleware) RequireUserOrService() gin.HandlerFunc {
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
		c.Next()
	}
}

func (m *AuthMiddleware) isServiceToken(token string) bool {
	if m.cronSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(m.cronSecret)) == 1
}

func (m *AuthMiddleware) handleAuthError(c *gin.Context, code, message string) {
	// Apply rate limit for invalid auth attempts
	if !m.rateLimiter.Allow(c.ClientIP()) {
		utils.Error(c, http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "Too many invalid authentication attempts")
		c.Abort()
		return
	}

	utils.Error(c, http.StatusUnauthorized, code, message)
	c.Abort()
}
