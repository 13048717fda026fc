package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const logFileName = "rust-builder.log"

// newLogger logs to stderr and, when logsDir is set, as JSON to
// <logsDir>/rust-builder.log. The returned func flushes and closes the file.
func newLogger(level, logsDir string) (*zap.Logger, func(), error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), zapcore.Lock(os.Stderr), lvl),
	}

	var logFile *os.File
	if logsDir != "" {
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create logs directory: %w", err)
		}
		logFile, err = os.OpenFile(filepath.Join(logsDir, logFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(logFile), lvl))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	closer := func() {
		logger.Sync()
		if logFile != nil {
			logFile.Close()
		}
	}
	return logger, closer, nil
}
