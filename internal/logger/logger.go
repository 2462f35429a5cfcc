// Copyright 2023 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger implements structured logging with gcsfuse-style
// custom severities (TRACE below slog.LevelDebug, OFF above
// slog.LevelError) layered on top of log/slog, with optional rotation
// to a file via gopkg.in/natefinch/lumberjack.v2.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/objfuse/ovfs/cfg"
)

// Custom severities. slog only defines Debug/Info/Warn/Error; TRACE
// sits below Debug and OFF sits above Error so that setting the level
// var to LevelOff silences everything.
const (
	LevelTrace slog.Level = slog.LevelDebug - 4
	LevelDebug            = slog.LevelDebug
	LevelInfo             = slog.LevelInfo
	LevelWarn             = slog.LevelWarn
	LevelError            = slog.LevelError
	LevelOff   slog.Level = math.MaxInt32
)

const asyncLoggerBufferSize = 4096

type loggerFactory struct {
	mu sync.Mutex

	file            *os.File
	sysWriter       io.Writer
	asyncLogger     *AsyncLogger
	format          string
	level           string
	logRotateConfig cfg.LogRotateLoggingConfig
	programLevel    *slog.LevelVar
}

var (
	defaultLoggerFactory = &loggerFactory{
		level:        cfg.INFO,
		format:       "json",
		programLevel: new(slog.LevelVar),
	}
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, defaultLoggerFactory.programLevel, ""))
)

func severityName(l slog.Level) string {
	switch {
	case l < LevelDebug:
		return "TRACE"
	case l < LevelInfo:
		return "DEBUG"
	case l < LevelWarn:
		return "INFO"
	case l < LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	replace := func(groups []string, a slog.Attr) slog.Attr {
		switch a.Key {
		case slog.LevelKey:
			a.Key = "severity"
			a.Value = slog.StringValue(severityName(a.Value.Any().(slog.Level)))
		case slog.MessageKey:
			a.Key = "message"
			a.Value = slog.StringValue(prefix + a.Value.String())
		case slog.TimeKey:
			t := a.Value.Time()
			if f.format == "text" {
				a.Value = slog.StringValue(t.Format("01/02/2006 15:04:05.000000"))
			} else {
				a.Key = "timestamp"
				a.Value = slog.GroupValue(
					slog.Int64("seconds", t.Unix()),
					slog.Int64("nanos", int64(t.Nanosecond())),
				)
			}
		}
		return a
	}

	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replace}
	if f.format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func setLoggingLevel(severity string, programLevel *slog.LevelVar) {
	switch severity {
	case cfg.TRACE:
		programLevel.Set(LevelTrace)
	case cfg.DEBUG:
		programLevel.Set(LevelDebug)
	case cfg.INFO:
		programLevel.Set(LevelInfo)
	case cfg.WARNING:
		programLevel.Set(LevelWarn)
	case cfg.ERROR:
		programLevel.Set(LevelError)
	case cfg.OFF:
		programLevel.Set(LevelOff)
	default:
		programLevel.Set(LevelInfo)
	}
}

// SetLogFormat switches the default logger's output format ("json" or
// "text", defaulting to "json") without touching its destination or
// level.
func SetLogFormat(format string) {
	defaultLoggerFactory.mu.Lock()
	defer defaultLoggerFactory.mu.Unlock()

	if format == "" {
		format = "json"
	}
	defaultLoggerFactory.format = format
	rebuildLocked()
}

// InitLogFile redirects the default logger to a rotation-managed file
// per the given config, replacing the previous destination (closing any
// prior async writer first). An empty FilePath sends output to stderr
// with the configured format and severity.
func InitLogFile(logConfig cfg.LoggingConfig) error {
	defaultLoggerFactory.mu.Lock()
	defer defaultLoggerFactory.mu.Unlock()

	path := string(logConfig.FilePath)
	if path == "" {
		if defaultLoggerFactory.asyncLogger != nil {
			defaultLoggerFactory.asyncLogger.Close()
			defaultLoggerFactory.asyncLogger = nil
		}
		defaultLoggerFactory.file = nil
		defaultLoggerFactory.sysWriter = nil
		defaultLoggerFactory.format = logConfig.Format
		defaultLoggerFactory.level = string(logConfig.Severity)
		defaultLoggerFactory.logRotateConfig = logConfig.LogRotate
		rebuildLocked()
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("logger: opening log file %q: %w", path, err)
	}
	f.Close() // only used to validate the path is writable; lumberjack reopens it.

	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    logConfig.LogRotate.MaxFileSizeMb,
		MaxBackups: logConfig.LogRotate.BackupFileCount,
		Compress:   logConfig.LogRotate.Compress,
	}

	if defaultLoggerFactory.asyncLogger != nil {
		defaultLoggerFactory.asyncLogger.Close()
	}

	reopened, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err == nil {
		defaultLoggerFactory.file = reopened
	}

	defaultLoggerFactory.asyncLogger = NewAsyncLogger(lj, asyncLoggerBufferSize)
	defaultLoggerFactory.sysWriter = nil
	defaultLoggerFactory.format = logConfig.Format
	defaultLoggerFactory.level = string(logConfig.Severity)
	defaultLoggerFactory.logRotateConfig = logConfig.LogRotate

	rebuildLocked()
	return nil
}

func rebuildLocked() {
	var w io.Writer = os.Stderr
	if defaultLoggerFactory.asyncLogger != nil {
		w = defaultLoggerFactory.asyncLogger
	} else if defaultLoggerFactory.sysWriter != nil {
		w = defaultLoggerFactory.sysWriter
	}

	programLevel := defaultLoggerFactory.programLevel
	setLoggingLevel(defaultLoggerFactory.level, programLevel)
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, programLevel, ""))
}

func log(ctx context.Context, level slog.Level, format string, v ...any) {
	defaultLogger.Log(ctx, level, fmt.Sprintf(format, v...))
}

func Tracef(format string, v ...any) { log(context.Background(), LevelTrace, format, v...) }
func Debugf(format string, v ...any) { log(context.Background(), LevelDebug, format, v...) }
func Infof(format string, v ...any)  { log(context.Background(), LevelInfo, format, v...) }
func Warnf(format string, v ...any)  { log(context.Background(), LevelWarn, format, v...) }
func Errorf(format string, v ...any) { log(context.Background(), LevelError, format, v...) }
