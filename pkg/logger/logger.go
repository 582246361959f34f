// Package logger 依設定建立 zap logger。
//
// development 使用彩色 console 格式，production 使用 JSON 格式；
// 指定 File 時同時輸出到檔案，並由 lumberjack 負責輪替。
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 定義 logger 的配置
type Config struct {
	// Env: "development" 或 "production"
	Env string `yaml:"env"`
	// Level: debug/info/warn/error
	Level string `yaml:"level"`
	// File: 日誌檔路徑，空字串代表只輸出到 stdout
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// New 依配置建立 logger
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		if cfg.Env == "production" {
			level = zapcore.InfoLevel
		} else {
			level = zapcore.DebugLevel
		}
	}

	var encoder zapcore.Encoder
	if cfg.Env == "production" {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "timestamp"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	sink := zapcore.AddSync(os.Stdout)
	if cfg.File != "" {
		// 檔案一律使用 JSON，方便收集
		fileEnc := zap.NewProductionEncoderConfig()
		fileEnc.EncodeTime = zapcore.ISO8601TimeEncoder
		fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(fileEnc), zapcore.AddSync(newRotator(cfg)), level)
		stdoutCore := zapcore.NewCore(encoder, sink, level)
		return zap.New(zapcore.NewTee(stdoutCore, fileCore), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
	}

	return zap.New(zapcore.NewCore(encoder, sink, level), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// newRotator 建立日誌輪替 writer
func newRotator(cfg Config) *lumberjack.Logger {
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    maxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
}
