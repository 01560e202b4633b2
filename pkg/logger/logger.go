// Package logger builds the process-wide zap logger: a human-readable
// console core plus an optional JSON file core. No global state; the logger
// is constructed once in main and injected everywhere.
package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger at the given level ("debug", "info", "warn", "error").
// When file is non-empty a JSON core appending to that file is added; parent
// directories are created. The returned func flushes buffered entries.
func New(level, file string, console bool) (*zap.SugaredLogger, func(), error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: invalid level %q: %w", level, err)
	}

	var cores []zapcore.Core

	if console {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stderr),
			lvl,
		))
	}

	var closeFile func()
	if file != "" {
		if dir := filepath.Dir(file); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("logger: create log dir: %w", err)
			}
		}
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("logger: open log file: %w", err)
		}
		closeFile = func() { f.Close() }
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(f),
			lvl,
		))
	}

	if len(cores) == 0 {
		return zap.NewNop().Sugar(), func() {}, nil
	}

	log := zap.New(zapcore.NewTee(cores...))
	cleanup := func() {
		_ = log.Sync()
		if closeFile != nil {
			closeFile()
		}
	}
	return log.Sugar(), cleanup, nil
}
