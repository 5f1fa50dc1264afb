package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"churn-insight/internal/cache"
	"churn-insight/internal/services"
)

type TokenValidator interface {
	ValidateToken(token string) (*services.Claims, error)
}

// AuthMiddleware admits requests carrying a valid admin bearer token.
func AuthMiddleware(auth TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			c.Abort()
			return
		}
		claims, err := auth.ValidateToken(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}
		c.Set("role", claims.Role)
		c.Next()
	}
}

// Counter is a windowed counter, such as the shared cache.
type Counter interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimitMiddleware caps requests per client IP per clock hour.
func RateLimitMiddleware(counter Counter, limitPerHour int) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := services.GetClientIPv4(c)
		key := fmt.Sprintf("%s%s:%s", cache.PrefixRateLimit, ip, time.Now().Format("2006-01-02-15"))

		count, err := counter.Increment(c.Request.Context(), key, time.Hour)
		if err != nil {
			// If cache fails, continue without rate limiting
			c.Next()
			return
		}

		if count > int64(limitPerHour) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":     "Rate limit exceeded",
				"limit":     limitPerHour,
				"remaining": 0,
			})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", limitPerHour))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", limitPerHour-int(count)))

		c.Next()
	}
}

// ValidationMiddleware requires a JSON content type on POST and PUT requests
// that carry a body.
func ValidationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if (c.Request.Method == http.MethodPost || c.Request.Method == http.MethodPut) && c.Request.ContentLength != 0 {
			contentType := c.GetHeader("Content-Type")
			if !strings.Contains(contentType, "application/json") {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Content-Type must be application/json"})
				c.Abort()
				return
			}
		}
		c.Next()
	}
}

// CORSMiddleware allows the dashboard to call the API from another origin.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
