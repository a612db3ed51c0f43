package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "callsignal-backend/pkg/errors"
)

type body struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
	Meta struct {
		RequestID string `json:"request_id"`
	} `json:"meta"`
}

func serve(t *testing.T, h gin.HandlerFunc) (*httptest.ResponseRecorder, body) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", func(c *gin.Context) {
		c.Set("request_id", "req-1")
		c.Next()
	}, h, func(c *gin.Context) {
		c.Header("X-After", "ran")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	var b body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b), w.Body.String())
	return w, b
}

func TestSuccess(t *testing.T) {
	w, b := serve(t, func(c *gin.Context) {
		Success(c, http.StatusCreated, gin.H{"call_id": "abc"})
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, b.Success)
	assert.JSONEq(t, `{"call_id":"abc"}`, string(b.Data))
	assert.Nil(t, b.Error)
	assert.Equal(t, "req-1", b.Meta.RequestID)
	assert.Equal(t, "ran", w.Header().Get("X-After"))
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"not found", apperrors.CallNotFoundError(), http.StatusNotFound, "CALL_NOT_FOUND", apperrors.CallNotFoundError().Message},
		{"conflict", apperrors.CallInProgressError(), http.StatusConflict, "CALL_IN_PROGRESS", apperrors.CallInProgressError().Message},
		{"dependency", apperrors.DependencyError("media", errors.New("boom")), http.StatusServiceUnavailable, "DEPENDENCY_UNAVAILABLE", "media unavailable"},
		{"plain error", errors.New("pq: secret detail"), http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, b := serve(t, func(c *gin.Context) { FromError(c, tt.err) })

			assert.Equal(t, tt.status, w.Code)
			assert.False(t, b.Success)
			require.NotNil(t, b.Error)
			assert.Equal(t, tt.code, b.Error.Code)
			assert.Equal(t, tt.message, b.Error.Message)
			assert.Empty(t, w.Header().Get("X-After"), "error responses abort the chain")
		})
	}
}

func TestFromError_Details(t *testing.T) {
	err := apperrors.ValidationError("invalid input").WithDetails(map[string]any{"fields": []string{"CallType"}})

	w, b := serve(t, func(c *gin.Context) { FromError(c, err) })

	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, b.Error)
	assert.Equal(t, []any{"CallType"}, b.Error.Details["fields"])
}
