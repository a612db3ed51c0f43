package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "callsignal-backend/pkg/errors"
	"callsignal-backend/pkg/jwt"
	"callsignal-backend/pkg/logger"
	"callsignal-backend/pkg/response"
)

// Gin context keys set by AuthMiddleware
const (
	ContextUserID   = "user_id"
	ContextUsername = "username"
	ContextRole     = "role"
)

// ErrTokenRevoked is returned by Authenticate for blacklisted tokens
var ErrTokenRevoked = errors.New("token revoked")

// RevocationChecker defines interface for checking if a token is revoked (blacklisted)
type RevocationChecker interface {
	// IsTokenRevoked checks if a JWT token has been revoked/blacklisted
	IsTokenRevoked(ctx context.Context, tokenString string) (bool, error)
}

// Authenticate validates an access token and checks revocation. A failing
// revocation check lets the token through; signature and expiry were
// already verified.
func Authenticate(ctx context.Context, jwtManager *jwt.JWTManager, revocationChecker RevocationChecker, tokenString string) (*jwt.Claims, error) {
	claims, err := jwtManager.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	if revocationChecker != nil {
		revoked, err := revocationChecker.IsTokenRevoked(ctx, tokenString)
		if err != nil {
			logger.FromContext(ctx).Warn("Revocation check failed, allowing token",
				zap.String("user_id", claims.UserID.String()),
				zap.Error(err))
			return claims, nil
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}
	return claims, nil
}

// AuthError maps an Authenticate failure to the error sent to the client
func AuthError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, ErrTokenRevoked):
		return apperrors.InvalidTokenError("Token revoked")
	case jwt.IsExpired(err):
		return apperrors.ExpiredTokenError()
	default:
		return apperrors.InvalidTokenError("Invalid token")
	}
}

// AuthMiddleware creates a Gin middleware that validates the bearer token.
// If valid, it sets user_id, username, and role in the Gin context.
// revocationChecker may be nil.
func AuthMiddleware(jwtManager *jwt.JWTManager, revocationChecker RevocationChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.FromError(c, apperrors.UnauthorizedError("Authorization header required"))
			return
		}

		scheme, tokenString, ok := strings.Cut(authHeader, " ")
		if !ok || scheme != "Bearer" || tokenString == "" {
			response.FromError(c, apperrors.UnauthorizedError("Invalid authorization header format"))
			return
		}

		claims, err := Authenticate(c.Request.Context(), jwtManager, revocationChecker, tokenString)
		if err != nil {
			response.FromError(c, AuthError(err))
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUsername, claims.Username)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// RequireAdmin rejects callers without the admin role. It must run after
// AuthMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRole) != "admin" {
			response.FromError(c, apperrors.ForbiddenError("Admin role required"))
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated user of the request
func UserID(c *gin.Context) (uuid.UUID, bool) {
	val, exists := c.Get(ContextUserID)
	if !exists {
		return uuid.Nil, false
	}
	id, ok := val.(uuid.UUID)
	return id, ok && id != uuid.Nil
}
