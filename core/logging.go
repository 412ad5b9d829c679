package core

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SetupLogging builds a JSON zap logger writing to both stdout and cfg.LogDir/filename.
// gin's own writers are pointed at the same sink. Caller should Sync the logger and
// close the returned io.Closer on shutdown.
func SetupLogging(cfg Config, filename string) (*zap.Logger, io.Closer, error) {
	dir := cfg.LogDir
	if dir == "" {
		dir = "./var/log"
	}
	if filename == "" {
		filename = "app.log"
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log dir %s: %w", dir, err)
	}

	path := filepath.Join(dir, filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	sink := zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stdout), zapcore.AddSync(f))
	zc := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, level)
	logger := zap.New(zc, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	mw := io.MultiWriter(os.Stdout, f)
	gin.DefaultWriter = mw
	gin.DefaultErrorWriter = mw

	return logger, f, nil
}
