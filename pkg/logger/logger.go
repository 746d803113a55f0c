// Package logger はzapによる構造化ロガーの生成を提供する。
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 出力形式。
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config はロガーの設定。
type Config struct {
	// Level はログレベル（debug, info, warn, error）。空の場合はinfo。
	Level string
	// Format は出力形式（json, console）。空の場合はjson。
	Format string
}

// New は設定からロガーを生成する。
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, fmt.Errorf("ログレベルの解析に失敗: %w", err)
		}
	}

	var zc zap.Config
	switch format := strings.ToLower(cfg.Format); format {
	case "", FormatJSON:
		zc = zap.NewProductionConfig()
		zc.EncoderConfig = encoderConfig()
	case FormatConsole:
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("未対応のログ形式: %s", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	l, err := zc.Build(zap.AddStacktrace(zap.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("ロガーの生成に失敗: %w", err)
	}
	return l, nil
}

// encoderConfig はJSON出力のエンコーダー設定を返す。
func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}
