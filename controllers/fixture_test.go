package controllers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/support-chat-api/broker"
	"github.com/kendall-kelly/support-chat-api/config"
	"github.com/kendall-kelly/support-chat-api/models"
	"github.com/kendall-kelly/support-chat-api/repository"
	"github.com/kendall-kelly/support-chat-api/services"
	"github.com/kendall-kelly/support-chat-api/tests/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type apiFixture struct {
	db            *gorm.DB
	directory     *services.GormAccountDirectory
	hub           *services.MockPushHub
	images        *services.MockImageService
	notifications *repository.NotificationStore
	manager       *services.ChatRoomManager
	chat          *services.ChatService

	customer models.Account
	staff    models.Account
	staff2   models.Account
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	testutil.RequireTestEnvironment(t)
	gin.SetMode(gin.TestMode)

	db := testutil.NewTestDB(t)
	f := &apiFixture{
		db:            db,
		directory:     services.NewGormAccountDirectory(db),
		hub:           services.NewMockPushHub(),
		images:        services.NewMockImageService(),
		notifications: repository.NewNotificationStore(db),
	}
	store := repository.NewChatStore(db)
	publisher := services.NewNotificationPublisher(broker.NewMemory(), config.BrokerConfig{EmailQueue: "email", PushQueue: "push"})
	f.manager = services.NewChatRoomManager(store, f.directory, f.hub, publisher, zerolog.Nop())
	f.chat = services.NewChatService(store, f.manager, f.directory, f.hub, publisher, f.images, zerolog.Nop())

	f.customer = testutil.CreateAccount(t, db, "carol", models.RoleCustomer)
	f.staff = testutil.CreateAccount(t, db, "sam", models.RoleStaff)
	f.staff2 = testutil.CreateAccount(t, db, "sasha", models.RoleStaff)

	t.Cleanup(f.chat.Wait)
	return f
}

// routerAs builds the API with every request authenticated as the given account
func (f *apiFixture) routerAs(account models.Account) *gin.Engine {
	return f.router(testutil.MockAuthMiddleware(account.Auth0ID))
}

func (f *apiFixture) router(auth gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	v1 := router.Group("/api/v1", auth)
	NewSupportController(f.manager, f.directory, zerolog.Nop()).Register(v1)
	NewChatController(f.chat, f.manager, f.directory, f.images, zerolog.Nop()).Register(v1)
	NewNotificationController(f.notifications, f.directory, zerolog.Nop()).Register(v1)
	return router
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func perform(t *testing.T, router http.Handler, method, path string, body io.Reader, contentType string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "body: %s", w.Body.String())
	return w, env
}

func performJSON(t *testing.T, router http.Handler, method, path string, payload interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	if payload == nil {
		return perform(t, router, method, path, nil, "")
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return perform(t, router, method, path, bytes.NewReader(data), "application/json")
}

func decodeData(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, v))
}
