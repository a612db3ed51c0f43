// Package response writes the JSON envelope every call-service endpoint
// answers with.
package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "callsignal-backend/pkg/errors"
	"callsignal-backend/pkg/logger"
)

// Response is the envelope. Exactly one of Data and Error is set.
type Response struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
	Meta    Meta         `json:"meta"`
}

// ErrorDetail carries a machine-readable code (CALL_NOT_FOUND, ...) and a
// message safe to show to users
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Meta contains response metadata
type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// Success sends data with statusCode
func Success(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, Response{
		Success: true,
		Data:    data,
		Meta:    meta(c),
	})
}

// Error sends an error envelope and stops the handler chain
func Error(c *gin.Context, statusCode int, errorCode, errorMessage string) {
	abort(c, statusCode, &ErrorDetail{Code: errorCode, Message: errorMessage})
}

// ValidationError sends a validation error response (400)
func ValidationError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, string(apperrors.ErrCodeValidation), message)
}

// Unauthorized sends unauthorized error (401)
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, string(apperrors.ErrCodeUnauthorized), message)
}

// InternalError sends internal server error (500)
func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, string(apperrors.ErrCodeInternal), message)
}

// FromError renders err using the code, status and details of the AppError
// it carries. Anything else becomes a 500 without leaking the cause, which is
// logged instead.
func FromError(c *gin.Context, err error) {
	appErr := apperrors.GetAppError(err)

	if appErr.StatusCode >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", string(appErr.Code)),
			zap.Error(err))
	}

	message := appErr.Message
	if appErr.Code == apperrors.ErrCodeInternal {
		message = "Internal server error"
	}
	abort(c, appErr.StatusCode, &ErrorDetail{
		Code:    string(appErr.Code),
		Message: message,
		Details: appErr.Details,
	})
}

func abort(c *gin.Context, statusCode int, detail *ErrorDetail) {
	c.AbortWithStatusJSON(statusCode, Response{
		Success: false,
		Error:   detail,
		Meta:    meta(c),
	})
}

func meta(c *gin.Context) Meta {
	return Meta{
		Timestamp: time.Now().UTC(),
		RequestID: requestID(c),
	}
}

// requestID prefers the id set by the request logger and falls back to the
// one carried on the request context
func requestID(c *gin.Context) string {
	if v, exists := c.Get("request_id"); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	if c.Request != nil {
		return logger.RequestIDFromContext(c.Request.Context())
	}
	return ""
}
