// Package middleware provides HTTP middleware for the application
package middleware

import (
	"crypto/subtle"
	"strings"
	"time"

	app_errors "vigil/internal/errors"
	"vigil/internal/response"
	"vigil/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Logger creates a request logging middleware.
func Logger(config types.LogConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		method := c.Request.Method
		statusCode := c.Writer.Status()

		// Health checks only show up on failure to keep logs quiet
		if isMonitoringEndpoint(path) {
			if statusCode >= 400 {
				logrus.Warnf("%s %s - %d - %v", method, path, statusCode, latency)
			}
			return
		}

		switch {
		case statusCode >= 500:
			logrus.Errorf("%s %s - %d - %v", method, path, statusCode, latency)
		case statusCode >= 400:
			logrus.Warnf("%s %s - %d - %v", method, path, statusCode, latency)
		default:
			logrus.Infof("%s %s - %d - %v", method, path, statusCode, latency)
		}
	}
}

// CORS creates a CORS middleware with preflight handling.
func CORS(config types.CORSConfig) gin.HandlerFunc {
	allowedMethods := strings.Join(config.AllowedMethods, ", ")
	allowedHeaders := strings.Join(config.AllowedHeaders, ", ")

	allowedOrigins := make(map[string]bool, len(config.AllowedOrigins))
	hasWildcard := false
	for _, origin := range config.AllowedOrigins {
		if origin == "*" {
			hasWildcard = true
		} else {
			allowedOrigins[origin] = true
		}
	}
	if config.AllowCredentials && hasWildcard && len(config.AllowedOrigins) == 1 {
		logrus.Warn("CORS uses AllowedOrigins=['*'] with AllowCredentials=true; configure explicit origins instead.")
	}

	setHeaders := func(c *gin.Context, origin string) bool {
		allowed := (hasWildcard && !config.AllowCredentials) || allowedOrigins[origin]
		if !allowed {
			return false
		}
		if hasWildcard && !config.AllowCredentials {
			c.Header("Access-Control-Allow-Origin", "*")
		} else {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", allowedMethods)
		c.Header("Access-Control-Allow-Headers", allowedHeaders)
		if config.AllowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		return true
	}

	return func(c *gin.Context) {
		if !config.Enabled {
			c.Next()
			return
		}

		origin := c.Request.Header.Get("Origin")
		if c.Request.Method == "OPTIONS" {
			if setHeaders(c, origin) {
				c.Header("Access-Control-Max-Age", "86400")
			}
			c.AbortWithStatus(204)
			return
		}

		setHeaders(c, origin)
		c.Next()
	}
}

// Auth creates an authentication middleware for the management API.
func Auth(authConfig types.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isMonitoringEndpoint(c.Request.URL.Path) {
			c.Next()
			return
		}

		key := extractAuthKey(c)
		isValid := key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(authConfig.Key)) == 1
		if !isValid {
			response.Error(c, app_errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Next()
	}
}

// Recovery creates a recovery middleware with custom error handling.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logrus.Errorf("Panic recovered: %v", recovered)
		response.Error(c, app_errors.ErrInternalServer)
		c.Abort()
	})
}

// RateLimiter creates a semaphore-based concurrency limiter.
func RateLimiter(config types.PerformanceConfig) gin.HandlerFunc {
	semaphore := make(chan struct{}, config.MaxConcurrentRequests)

	return func(c *gin.Context) {
		select {
		case semaphore <- struct{}{}:
			defer func() { <-semaphore }()
			c.Next()
		default:
			response.Error(c, app_errors.NewAPIError(app_errors.ErrInternalServer, "Too many concurrent requests"))
			c.Abort()
		}
	}
}

// ErrorHandler surfaces errors attached to the gin context as API responses.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err
			if apiErr, ok := err.(*app_errors.APIError); ok {
				response.Error(c, apiErr)
				return
			}
			logrus.Errorf("Unhandled error: %v", err)
			response.Error(c, app_errors.ErrInternalServer)
		}
	}
}

// SecurityHeaders adds standard hardening headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("X-Frame-Options", "SAMEORIGIN")
		c.Next()
	}
}

// isMonitoringEndpoint checks if the path is a monitoring endpoint.
func isMonitoringEndpoint(path string) bool {
	return path == "/health"
}

// extractAuthKey extracts the auth key from header or query.
func extractAuthKey(c *gin.Context) string {
	if key := c.Query("key"); key != "" {
		query := c.Request.URL.Query()
		query.Del("key")
		c.Request.URL.RawQuery = query.Encode()
		return key
	}

	authHeader := c.GetHeader("Authorization")
	const bearerPrefix = "Bearer "
	if strings.HasPrefix(authHeader, bearerPrefix) {
		return authHeader[len(bearerPrefix):]
	}

	return c.GetHeader("X-Api-Key")
}
