package push

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"callsignal-backend/internal/middleware"
	apperrors "callsignal-backend/pkg/errors"
	"callsignal-backend/pkg/push"
)

// MockTokenService is a mock implementation of TokenService
type MockTokenService struct {
	mock.Mock
}

func (m *MockTokenService) RegisterToken(ctx context.Context, token *push.Token) error {
	return m.Called(ctx, token).Error(0)
}

func (m *MockTokenService) UnregisterToken(ctx context.Context, userID uuid.UUID, token string) error {
	return m.Called(ctx, userID, token).Error(0)
}

func setupRouter(svc TokenService, userID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		c.Next()
	})
	h := NewHandler(svc)
	r.POST("/v1/push/tokens", h.RegisterToken)
	r.DELETE("/v1/push/tokens", h.UnregisterToken)
	return r
}

func send(r http.Handler, method string, body any) *httptest.ResponseRecorder {
	buf, _ := json.Marshal(body)
	req := httptest.NewRequest(method, "/v1/push/tokens", bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterToken(t *testing.T) {
	svc := new(MockTokenService)
	user := uuid.New()
	svc.On("RegisterToken", mock.Anything, mock.MatchedBy(func(tok *push.Token) bool {
		return tok.UserID == user && tok.Token == "device-token" &&
			tok.Type == push.TokenTypeAPNs && tok.Active && tok.ID != uuid.Nil
	})).Return(nil)

	w := send(setupRouter(svc, user), http.MethodPost, gin.H{
		"token":    "device-token",
		"type":     "apns",
		"platform": "ios",
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	svc.AssertExpectations(t)
}

func TestRegisterToken_Invalid(t *testing.T) {
	svc := new(MockTokenService)
	r := setupRouter(svc, uuid.New())

	assert.Equal(t, http.StatusBadRequest, send(r, http.MethodPost, gin.H{"token": "x", "type": "pager"}).Code)
	assert.Equal(t, http.StatusBadRequest, send(r, http.MethodPost, gin.H{"token": "x", "type": "fcm", "platform": "tv"}).Code)
	assert.Equal(t, http.StatusBadRequest, send(r, http.MethodPost, gin.H{"type": "fcm"}).Code)
	svc.AssertNotCalled(t, "RegisterToken", mock.Anything, mock.Anything)
}

func TestUnregisterToken(t *testing.T) {
	svc := new(MockTokenService)
	user := uuid.New()
	svc.On("UnregisterToken", mock.Anything, user, "mine").Return(nil)
	svc.On("UnregisterToken", mock.Anything, user, "theirs").Return(apperrors.NotFoundError("Push token"))

	r := setupRouter(svc, user)
	assert.Equal(t, http.StatusOK, send(r, http.MethodDelete, gin.H{"token": "mine"}).Code)

	w := send(r, http.MethodDelete, gin.H{"token": "theirs"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}
