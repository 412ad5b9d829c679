package core

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const ctxLoggerKey = "logger"

// respondError sends unified error payload {"error": {"code", "message"}}.
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// writeError is the one error boundary: it classifies err, logs server-side
// failures and writes the client-safe payload.
func writeError(c *gin.Context, err error) {
	status, code, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		loggerFrom(c).Error("request failed",
			zap.Int("status", status),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	respondError(c, status, code, message)
}

// abortWithError writes the error and stops the handler chain.
func abortWithError(c *gin.Context, err error) {
	writeError(c, err)
	c.Abort()
}

func loggerFrom(c *gin.Context) *zap.Logger {
	if v, ok := c.Get(ctxLoggerKey); ok {
		if l, ok := v.(*zap.Logger); ok {
			return l
		}
	}
	return zap.NewNop()
}

// bindJSON decodes the body into dst and reports binding failures as validation errors.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(c, validationError("request body too large"))
			return false
		}
		writeError(c, &AppError{Kind: KindValidation, Message: "invalid request body", Err: err})
		return false
	}
	return true
}

// parseIDParam reads a positive int64 path parameter.
func parseIDParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, validationError("invalid %s", name))
		return 0, false
	}
	return id, true
}

func parsePagination(pageStr, perPageStr string) (int, int, error) {
	page := 1
	perPage := 20
	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p <= 0 {
			return 0, 0, validationError("page must be a positive integer")
		}
		page = p
	}
	if perPageStr != "" {
		pp, err := strconv.Atoi(perPageStr)
		if err != nil || pp <= 0 || pp > 100 {
			return 0, 0, validationError("per_page must be between 1 and 100")
		}
		perPage = pp
	}
	return page, perPage, nil
}

func calcTotalPages(total, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}
