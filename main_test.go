package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/support-chat-api/config"
	"github.com/kendall-kelly/support-chat-api/models"
	"github.com/kendall-kelly/support-chat-api/tests/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHealthCheck is a unit test for the healthCheck handler function
func TestHealthCheck(t *testing.T) {
	// Set Gin to test mode
	gin.SetMode(gin.TestMode)

	// Create a test context and response recorder
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	// Call the handler
	healthCheck(c)

	// Assert the status code
	assert.Equal(t, http.StatusOK, w.Code, "Expected status code 200")

	// Parse the response body
	var response map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err, "Response should be valid JSON")

	// Assert the response structure
	assert.Equal(t, true, response["success"], "Expected success to be true")
	assert.Equal(t, "Support Chat API is running", response["message"], "Expected correct message")
}

// TestHealthCheckResponseFormat tests the exact JSON format
func TestHealthCheckResponseFormat(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	healthCheck(c)

	// Verify JSON content type
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))

	// Verify response has exactly 2 fields
	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Len(t, response, 2, "Response should have exactly 2 fields")
	assert.Contains(t, response, "success")
	assert.Contains(t, response, "message")
}

// TestDatabaseStatus lists the migrated tables of the test database
func TestDatabaseStatus(t *testing.T) {
	testutil.RequireTestEnvironment(t)
	gin.SetMode(gin.TestMode)

	db := testutil.NewTestDB(t)
	router := gin.New()
	router.GET("/api/v1/database/status", databaseStatus(db))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/database/status", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var response struct {
		Success bool     `json:"success"`
		Tables  []string `json:"tables"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.Success)
	for _, table := range []string{
		models.ChatRoom{}.TableName(),
		models.ChatMessage{}.TableName(),
		models.NotificationBox{}.TableName(),
	} {
		assert.Contains(t, response.Tables, table)
	}
}

func TestCORSConfig(t *testing.T) {
	all := corsConfig(&config.Config{CORSAllowedOrigins: []string{"*"}})
	assert.True(t, all.AllowAllOrigins)
	assert.Empty(t, all.AllowOrigins)
	assert.NoError(t, all.Validate())

	listed := corsConfig(&config.Config{CORSAllowedOrigins: []string{"https://app.example.com"}})
	assert.False(t, listed.AllowAllOrigins)
	assert.Equal(t, []string{"https://app.example.com"}, listed.AllowOrigins)
	assert.Contains(t, listed.AllowHeaders, "Authorization")
	assert.NoError(t, listed.Validate())
}

func TestWaitForStop(t *testing.T) {
	t.Run("signal is a clean stop", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.False(t, waitForStop(ctx, zerolog.Nop(), make(chan error), make(chan error, 1)))
	})

	t.Run("server closed by shutdown is a clean stop", func(t *testing.T) {
		serverDone := make(chan error, 1)
		serverDone <- http.ErrServerClosed
		assert.False(t, waitForStop(context.Background(), zerolog.Nop(), serverDone, make(chan error, 1)))
	})

	t.Run("server failure", func(t *testing.T) {
		serverDone := make(chan error, 1)
		serverDone <- errors.New("listen tcp :8080: bind: address already in use")
		assert.True(t, waitForStop(context.Background(), zerolog.Nop(), serverDone, make(chan error, 1)))
	})

	t.Run("worker failure keeps its error for shutdown", func(t *testing.T) {
		workerErr := errors.New("broker consumer closed unexpectedly")
		workerDone := make(chan error, 1)
		workerDone <- workerErr

		assert.True(t, waitForStop(context.Background(), zerolog.Nop(), make(chan error), workerDone))
		select {
		case err := <-workerDone:
			assert.Equal(t, workerErr, err)
		default:
			t.Fatal("worker error was not put back")
		}
	})
}
