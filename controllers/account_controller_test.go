package controllers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/support-chat-api/models"
	"github.com/kendall-kelly/support-chat-api/services"
	"github.com/kendall-kelly/support-chat-api/tests/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMockAuth0Server serves /userinfo with a profile chosen by the bearer token
func setupMockAuth0Server(t *testing.T) *httptest.Server {
	t.Helper()

	profiles := map[string]services.Auth0UserInfo{
		"Bearer token-carol":   {Sub: "auth0|carol", Email: "carol.new@example.com", Name: "Carol", Picture: "https://example.com/carol.png"},
		"Bearer token-sam":     {Sub: "auth0|sam", Email: "sam.new@example.com", Name: "Sam"},
		"Bearer token-noemail": {Sub: "auth0|noemail", Name: "No Email"},
		"Bearer token-noname":  {Sub: "auth0|noname", Email: "noname@example.com"},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/userinfo" {
			http.NotFound(w, r)
			return
		}
		profile, ok := profiles[r.Header.Get("Authorization")]
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_token"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(profile)
	}))
	t.Cleanup(server.Close)
	return server
}

func accountRouter(f *apiFixture, auth0URL string, auth gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	v1 := router.Group("/api/v1", auth)
	NewAccountController(f.directory, services.NewAuth0Service(auth0URL), zerolog.Nop()).Register(v1)
	return router
}

func TestCreateAccount(t *testing.T) {
	f := newAPIFixture(t)
	server := setupMockAuth0Server(t)

	tests := []struct {
		name         string
		subject      string
		role         string
		token        string
		expectStatus int
		expectCode   string
		expectRole   string
	}{
		{"customer from token", "auth0|carol-new", "", "token-carol", http.StatusCreated, "", models.RoleCustomer},
		{"staff from role claim", "auth0|sam-new", models.RoleStaff, "token-sam", http.StatusCreated, "", models.RoleStaff},
		{"unknown role claim", "auth0|weird", "admin", "token-sam", http.StatusBadRequest, "VALIDATION_ERROR", ""},
		{"missing access token", "auth0|notoken", "", "", http.StatusUnauthorized, "MISSING_TOKEN", ""},
		{"auth0 rejects token", "auth0|bad", "", "token-unknown", http.StatusInternalServerError, "AUTH0_ERROR", ""},
		{"missing email", "auth0|noemail", "", "token-noemail", http.StatusBadRequest, "MISSING_EMAIL", ""},
		{"missing name", "auth0|noname", "", "token-noname", http.StatusBadRequest, "MISSING_NAME", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := accountRouter(f, server.URL, testutil.MockAuthSession(tt.subject, tt.role, tt.token))
			w, env := performJSON(t, router, http.MethodPost, "/api/v1/accounts", nil)

			assert.Equal(t, tt.expectStatus, w.Code)
			if tt.expectCode != "" {
				assert.False(t, env.Success)
				assert.Equal(t, tt.expectCode, env.Error.Code)
				return
			}

			var account models.Account
			decodeData(t, env, &account)
			assert.Equal(t, tt.subject, account.Auth0ID)
			assert.Equal(t, tt.expectRole, account.Role)
			assert.NotZero(t, account.ID)
		})
	}

	t.Run("duplicate account", func(t *testing.T) {
		router := accountRouter(f, server.URL, testutil.MockAuthSession("auth0|carol-new", "", "token-carol"))
		w, env := performJSON(t, router, http.MethodPost, "/api/v1/accounts", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "CONFLICT", env.Error.Code)
	})
}

func TestGetAndUpdateMyAccount(t *testing.T) {
	f := newAPIFixture(t)
	server := setupMockAuth0Server(t)

	stranger := accountRouter(f, server.URL, testutil.MockAuthMiddleware("auth0|stranger"))
	w, env := performJSON(t, stranger, http.MethodGet, "/api/v1/accounts/me", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "USER_NOT_FOUND", env.Error.Code)

	router := accountRouter(f, server.URL, testutil.MockAuthMiddleware(f.customer.Auth0ID))
	w, env = performJSON(t, router, http.MethodGet, "/api/v1/accounts/me", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me models.Account
	decodeData(t, env, &me)
	assert.Equal(t, f.customer.ID, me.ID)
	assert.Equal(t, f.customer.Email, me.Email)

	w, env = performJSON(t, router, http.MethodPut, "/api/v1/accounts/me", gin.H{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	w, env = performJSON(t, router, http.MethodPut, "/api/v1/accounts/me", gin.H{"email": f.staff.Email})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", env.Error.Code)

	w, env = performJSON(t, router, http.MethodPut, "/api/v1/accounts/me", gin.H{
		"name":       "Carol Jones",
		"avatar_url": "https://example.com/c.png",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var updated models.Account
	decodeData(t, env, &updated)
	assert.Equal(t, "Carol Jones", updated.Name)
	assert.Equal(t, "https://example.com/c.png", updated.AvatarURL)
	assert.Equal(t, f.customer.Email, updated.Email)
}
