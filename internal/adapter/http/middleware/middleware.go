package middleware

import (
	"net/http"
	"time"

	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/pkg/apperror"
	"chainpay-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	// Header names for API key authentication
	HeaderAPIKeyID     = "X-Api-Key-Id"
	HeaderAPIKeySecret = "X-Api-Key-Secret"

	// Context keys
	CtxStoreID  = "store_id"
	CtxAPIKeyID = "api_key_id"
	CtxStoreKey = "store"
)

// APIKeyAuth creates a middleware that authenticates merchant API requests
// with the store's API key pair. The secret is verified against its Argon2id
// hash on every request; stores that fail or are suspended never reach the
// handler.
func APIKeyAuth(stores ports.StoreRepository, hashSvc ports.HashService, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		keyID := c.GetHeader(HeaderAPIKeyID)
		secret := c.GetHeader(HeaderAPIKeySecret)
		if keyID == "" || secret == "" {
			response.Error(c, apperror.ErrInvalidCredentials())
			c.Abort()
			return
		}

		store, err := stores.GetByAPIKeyID(c.Request.Context(), keyID)
		if err != nil {
			log.Error().Err(err).Msg("failed to fetch store")
			response.Error(c, apperror.InternalError(err))
			c.Abort()
			return
		}
		if store == nil {
			response.Error(c, apperror.ErrInvalidCredentials())
			c.Abort()
			return
		}

		ok, err := hashSvc.Verify(secret, store.APIKeyHash)
		if err != nil {
			log.Error().Err(err).Msg("api key hash verification failed")
			response.Error(c, apperror.InternalError(err))
			c.Abort()
			return
		}
		if !ok {
			response.Error(c, apperror.ErrInvalidCredentials())
			c.Abort()
			return
		}
		if !store.IsActive() {
			response.Error(c, apperror.ErrStoreSuspended())
			c.Abort()
			return
		}

		c.Set(CtxStoreID, store.ID)
		c.Set(CtxAPIKeyID, store.APIKeyID)
		c.Set(CtxStoreKey, store)
		c.Next()
	}
}

// JWTAuth creates a middleware that validates JWT tokens for the dashboard
// and admin routes.
func JWTAuth(tokenSvc ports.TokenService, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || len(authHeader) < 8 || authHeader[:7] != "Bearer " {
			response.Error(c, apperror.ErrInvalidToken())
			c.Abort()
			return
		}

		tokenStr := authHeader[7:]
		claims, err := tokenSvc.Validate(tokenStr)
		if err != nil {
			response.Error(c, apperror.ErrInvalidToken())
			c.Abort()
			return
		}

		c.Set(CtxStoreID, claims.StoreID)
		c.Set(CtxAPIKeyID, claims.APIKeyID)
		c.Next()
	}
}

// RequestLogger creates a middleware that logs every HTTP request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}

// Recovery creates a panic recovery middleware.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error_code": "SYS_001",
					"message":    "Internal server error",
				})
			}
		}()
		c.Next()
	}
}

// MaxBodySize returns middleware that limits the request body size.
// Once the limit is exceeded the reader returns an error and the
// request is rejected with 413 Payload Too Large.
func MaxBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
