/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package logging

import (
	"go.uber.org/zap"
)

type zapLogger struct {
	logger *zap.SugaredLogger
}

// NewZapLogger adapts a zap logger to the Logger interface.
func NewZapLogger(logger *zap.Logger) Logger {
	return &zapLogger{logger: logger.Sugar()}
}

func (zl *zapLogger) Log(level LogLevel, text string, args ...interface{}) {
	switch level {
	case LevelDebug:
		zl.logger.Debugw(text, args...)
	case LevelInfo:
		zl.logger.Infow(text, args...)
	case LevelWarn:
		zl.logger.Warnw(text, args...)
	default:
		zl.logger.Errorw(text, args...)
	}
}
