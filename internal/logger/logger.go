/*
 *
 * Copyright 2025 The ns3-platform Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	zapLogger *zap.Logger
	level     = zap.NewAtomicLevel()
)

// Log is the process-wide sugared logger. It discards output until
// InitLogger runs.
var Log = zap.NewNop().Sugar()

// InitLogger builds the JSON logger once and returns it.
func InitLogger() (*zap.SugaredLogger, error) {
	if zapLogger != nil {
		Log = zapLogger.Sugar()
		return Log, nil
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.LevelKey = "level"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	level.SetLevel(GetZapLevelFromEnv())
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(os.Stderr),
		level,
	)

	zapLogger = zap.New(core)
	Log = zapLogger.Sugar()
	return Log, nil
}

// GetZapLevelFromEnv maps LOG_LEVEL to a zap level, defaulting to info.
func GetZapLevelFromEnv() zapcore.Level {
	return ParseLevel(os.Getenv("LOG_LEVEL"))
}

// ParseLevel maps a level name to a zap level, defaulting to info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel // fallback
	}
}

// SetLevel changes the level of the running logger. An empty name keeps
// the current level.
func SetLevel(name string) {
	if name == "" {
		return
	}
	level.SetLevel(ParseLevel(name))
}

// Level returns the current log level.
func Level() zapcore.Level {
	return level.Level()
}

// SyncLogger flushes buffered log entries.
func SyncLogger() {
	if zapLogger != nil {
		_ = zapLogger.Sync()
	}
}
