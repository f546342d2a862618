package middleware

import (
	"net/http"
	"strings"

	"translation-gateway/internal/apperrors"
	"translation-gateway/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuthMiddleware verifies installation identity and request integrity on
// protected routes. The authenticated installation id lands in the context.
func AuthMiddleware(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var bearer string
		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			bearer = strings.TrimPrefix(authHeader, "Bearer ")
		}

		identity, err := authService.Verify(c.Request.Context(),
			c.GetHeader("X-Installation-Id"),
			c.GetHeader("X-Timestamp"),
			c.GetHeader("X-Signature"),
			bearer,
		)
		if err != nil {
			apperrors.Respond(c, err)
			return
		}

		c.Set("install_id", identity.InstallID)
		c.Next()
	}
}

// AdminKeyMiddleware guards ops endpoints with the configured admin key.
func AdminKeyMiddleware(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Admin-Key")
		if key == "" {
			key = c.Query("admin_key")
		}
		if !authService.VerifyAdminKey(key) {
			apperrors.Respond(c, apperrors.Authentication("invalid_admin_key", "admin key required"))
			return
		}
		c.Next()
	}
}

// RequestIDMiddleware tags every request for error envelopes and logs.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-Id")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-Id", requestID)
		c.Next()
	}
}

// BodyLimitMiddleware rejects oversized payloads from the declared
// content-length before any JSON parsing happens, with a signal distinct
// from validation failure.
func BodyLimitMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			apperrors.Respond(c, apperrors.PayloadTooLarge(maxBytes))
			return
		}
		// Chunked bodies carry no declared length; cap the reader too.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// ContentTypeMiddleware requires JSON bodies on mutating requests.
func ContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodPost || c.Request.Method == http.MethodPut {
			contentType := c.GetHeader("Content-Type")
			if !strings.Contains(contentType, "application/json") {
				apperrors.Respond(c, apperrors.Validation("invalid_content_type", "Content-Type must be application/json"))
				return
			}
		}
		c.Next()
	}
}
