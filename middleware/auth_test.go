package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/support-chat-api/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staffClaims() *validator.ValidatedClaims {
	return &validator.ValidatedClaims{
		RegisteredClaims: validator.RegisteredClaims{
			Issuer:  "https://test.auth0.com/",
			Subject: "auth0|staff-1",
		},
		CustomClaims: &CustomClaims{Role: "staff"},
	}
}

func TestContextAccessors(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		setup      func(*gin.Context)
		wantUserID string
		wantToken  string
		wantRole   string
		wantClaims bool
	}{
		{
			name: "authenticated staff request",
			setup: func(c *gin.Context) {
				c.Set(ContextUserIDKey, "auth0|staff-1")
				c.Set(ContextClaimsKey, staffClaims())
				c.Set(ContextTokenKey, "raw.jwt.token")
			},
			wantUserID: "auth0|staff-1",
			wantToken:  "raw.jwt.token",
			wantRole:   "staff",
			wantClaims: true,
		},
		{
			name:  "nothing in context",
			setup: func(c *gin.Context) {},
		},
		{
			name: "values of the wrong type",
			setup: func(c *gin.Context) {
				c.Set(ContextUserIDKey, 12345)
				c.Set(ContextClaimsKey, "invalid")
				c.Set(ContextTokenKey, 42)
			},
		},
		{
			name: "empty token and foreign custom claims",
			setup: func(c *gin.Context) {
				c.Set(ContextClaimsKey, &validator.ValidatedClaims{})
				c.Set(ContextTokenKey, "")
			},
			wantClaims: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			tt.setup(c)

			userID, err := GetUserID(c)
			assert.Equal(t, tt.wantUserID, userID)
			assert.Equal(t, tt.wantUserID == "", err != nil)

			token, err := GetAccessToken(c)
			assert.Equal(t, tt.wantToken, token)
			assert.Equal(t, tt.wantToken == "", err != nil)

			claims, err := GetClaims(c)
			assert.Equal(t, tt.wantClaims, claims != nil)
			assert.Equal(t, !tt.wantClaims, err != nil)

			assert.Equal(t, tt.wantRole, GetRole(c))
		})
	}
}

func TestAccessorErrorCodes(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	_, err := GetUserID(c)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "MISSING_USER_ID", authErr.Code)

	_, err = GetAccessToken(c)
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "MISSING_TOKEN", authErr.Code)
	assert.Equal(t, "Access token not found in context", err.Error())
}

func TestEnsureValidTokenRejectsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)

	auth, err := EnsureValidToken(&config.Config{
		Auth0Domain:   "test.auth0.com",
		Auth0Audience: "https://support-chat-api",
	}, zerolog.Nop())
	require.NoError(t, err)

	reached := false
	router := gin.New()
	router.GET("/private", auth, func(c *gin.Context) {
		reached = true
		c.Status(http.StatusOK)
	})

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"malformed token", "Bearer not-a-jwt"},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/private", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.False(t, reached)

			var body struct {
				Success bool `json:"success"`
				Error   struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.Equal(t, "INVALID_TOKEN", body.Error.Code)
		})
	}
}
