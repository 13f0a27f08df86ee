package testutil

import (
	"strings"

	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/support-chat-api/middleware"
)

// MockValidatedClaims creates a mock ValidatedClaims for testing
func MockValidatedClaims(subject, issuer string, scopes []string) *validator.ValidatedClaims {
	return &validator.ValidatedClaims{
		RegisteredClaims: validator.RegisteredClaims{
			Issuer:  issuer,
			Subject: subject,
		},
		CustomClaims: &middleware.CustomClaims{
			Scope: strings.Join(scopes, " "),
		},
	}
}

// MockAuthMiddleware sets up the context exactly as EnsureValidToken does for subject
func MockAuthMiddleware(subject string, scopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextUserIDKey, subject)
		c.Set(middleware.ContextClaimsKey, MockValidatedClaims(subject, "https://test.auth0.com/", scopes))
		c.Next()
	}
}

// MockAuthSession is MockAuthMiddleware plus the role claim and raw access token that
// account registration reads
func MockAuthSession(subject, role, accessToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := MockValidatedClaims(subject, "https://test.auth0.com/", nil)
		claims.CustomClaims.(*middleware.CustomClaims).Role = role

		c.Set(middleware.ContextUserIDKey, subject)
		c.Set(middleware.ContextClaimsKey, claims)
		if accessToken != "" {
			c.Set(middleware.ContextTokenKey, accessToken)
		}
		c.Next()
	}
}
