// Package logger wraps zap with the rotation and level controls the rest of
// this module expects: size rotation via lumberjack, time rotation via
// file-rotatelogs, and a package-level default logger swappable at startup.
package logger

import (
	"io"
	"os"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Level re-exports zapcore levels so callers never import zap directly.
type Level = zapcore.Level

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
)

var (
	mu      sync.RWMutex
	atom    = zap.NewAtomicLevelAt(InfoLevel)
	base    = buildDefault(atom)
	sugared = base.Sugar()
)

func buildDefault(level zap.AtomicLevel) *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.Lock(os.Stdout),
		level,
	)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// New builds a logger writing to w, console-encoded to match the default
// logger's format. level seeds the shared atomic level, so a later SetLevel
// call still takes effect even after ReplaceDefault.
func New(w io.Writer, level Level) *zap.Logger {
	atom.SetLevel(level)
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.AddSync(w),
		atom,
	)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// NewProductionSizeRotate returns an io.Writer that rotates path by size
// using lumberjack, suitable for New.
func NewProductionSizeRotate(path string, maxSizeMB, maxBackups, maxAgeDays int) io.Writer {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
}

// NewProductionRotateByTime returns an io.Writer that rotates path daily
// using file-rotatelogs, keeping 14 days of history.
func NewProductionRotateByTime(path string) io.Writer {
	w, err := rotatelogs.New(
		path+".%Y%m%d",
		rotatelogs.WithLinkName(path),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithMaxAge(14*24*time.Hour),
	)
	if err != nil {
		// fall back to the unrotated file rather than panic on a logging
		// subsystem failure
		f, ferr := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if ferr != nil {
			return os.Stderr
		}
		return f
	}
	return w
}

// ReplaceDefault swaps the package-level logger used by the free functions
// below.
func ReplaceDefault(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
	sugared = l.Sugar()
}

// SetLevel adjusts the default logger's level. Has no effect on loggers
// built with New/ReplaceDefault that weren't constructed against atom.
func SetLevel(level Level) {
	atom.SetLevel(level)
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugared
}

func Debug(args ...interface{})          { current().Debug(args...) }
func Debugf(format string, a ...interface{}) { current().Debugf(format, a...) }
func Info(args ...interface{})           { current().Info(args...) }
func Infof(format string, a ...interface{})  { current().Infof(format, a...) }
func Warn(args ...interface{})           { current().Warn(args...) }
func Warnf(format string, a ...interface{})  { current().Warnf(format, a...) }
func Error(args ...interface{})          { current().Error(args...) }
func Errorf(format string, a ...interface{}) { current().Errorf(format, a...) }

// Sync flushes the default logger's buffered entries. Call on shutdown.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return base.Sync()
}
