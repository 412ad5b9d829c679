package core

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	requestIDHeader = "X-Request-ID"
	ctxRequestIDKey = "request_id"
	maxBodyBytes    = 2 << 20
)

// CORSMiddleware answers preflights and sets CORS headers. An empty allow-list
// accepts any origin; otherwise unknown origins get 403.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := map[string]struct{}{}
	for _, o := range allowedOrigins {
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	isAllowed := func(origin string) bool {
		if len(allowed) == 0 {
			return true
		}
		_, ok := allowed[strings.ToLower(origin)]
		return ok
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		if !isAllowed(origin) {
			abortWithError(c, &AppError{Kind: KindAuthorization, Message: "origin not allowed"})
			return
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Vary", "Origin")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Expose-Headers", requestIDHeader)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestID propagates a caller-supplied X-Request-ID or mints a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(ctxRequestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// RequestLogger attaches a request-scoped logger and writes one access line per request.
func RequestLogger(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqLog := base.With(zap.String("request_id", c.GetString(ctxRequestIDKey)))
		c.Set(ctxLoggerKey, reqLog)

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if uid, ok := currentUserID(c); ok {
			fields = append(fields, zap.Int64("user_id", uid))
		}
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			reqLog.Error("request", fields...)
		case status >= http.StatusBadRequest:
			reqLog.Warn("request", fields...)
		default:
			reqLog.Info("request", fields...)
		}
	}
}

// LimitBody caps request bodies so oversized payloads fail binding.
func LimitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// Recovery turns a panic into a 500 through the common error boundary.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		abortWithError(c, fmt.Errorf("panic: %v", recovered))
	})
}
