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

// Package logger provides the package-level Tracef/Debugf/Infof/Warnf/Errorf
// functions used throughout this module, backed by log/slog with a severity
// ladder (TRACE < DEBUG < INFO < WARNING < ERROR < OFF) finer than slog's
// own four levels, a choice of text or JSON line format, and file output
// rotated through gopkg.in/natefinch/lumberjack.v2.
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hybridtier/rhssfs/cfg"
)

// The six severities reuse slog's Debug (-4), Info (0), Warn (4) and Error (8)
// values and add TRACE below Debug and OFF above Error, so that setting a
// slog.LevelVar to one of these values filters exactly the levels at or above
// it, matching the TRACE < DEBUG < ... < OFF ladder.
const (
	LevelTrace slog.Level = -8
	LevelDebug slog.Level = -4
	LevelInfo  slog.Level = 0
	LevelWarn  slog.Level = 4
	LevelError slog.Level = 8
	LevelOff   slog.Level = 12
)

var levelNames = map[slog.Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARNING",
	LevelError: "ERROR",
}

func severityToLevel(s cfg.LogSeverity) slog.Level {
	switch s {
	case cfg.TraceLogSeverity:
		return LevelTrace
	case cfg.DebugLogSeverity:
		return LevelDebug
	case cfg.WarningLogSeverity:
		return LevelWarn
	case cfg.ErrorLogSeverity:
		return LevelError
	case cfg.OffLogSeverity:
		return LevelOff
	default:
		return LevelInfo
	}
}

// loggerFactory owns the process-wide logging configuration: where lines go
// (file via lumberjack, or stderr), what format they're in, and at what
// level.
type loggerFactory struct {
	file            *lumberjack.Logger
	sysWriter       io.Writer
	format          string
	level           cfg.LogSeverity
	logRotateConfig cfg.LogRotateLoggingConfig
}

var (
	defaultLoggerFactory = &loggerFactory{
		level:  cfg.InfoLogSeverity,
		format: "json",
	}
	defaultLogger *slog.Logger
	programLevel  = new(slog.LevelVar)
)

func init() {
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, programLevel, ""))
	setLoggingLevel(string(defaultLoggerFactory.level), programLevel)
}

// jsonTimestamp is the {seconds, nanos}-shaped timestamp the JSON format
// emits instead of slog's default RFC3339 string.
type jsonTimestamp struct {
	Seconds int64 `json:"seconds"`
	Nanos   int   `json:"nanos"`
}

type jsonRecord struct {
	Timestamp jsonTimestamp `json:"timestamp"`
	Severity  string        `json:"severity"`
	Message   string        `json:"message"`
}

// lineHandler is a minimal slog.Handler emitting one of two fixed-field
// formats: text ("time=... severity=... message=...") or a flat JSON
// object. Structured slog attributes beyond the message are ignored.
type lineHandler struct {
	w      io.Writer
	level  *slog.LevelVar
	prefix string
	format string
}

func (h *loggerFactory) createJsonOrTextHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	return &lineHandler{w: w, level: level, prefix: prefix, format: h.format}
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	sev := levelNames[r.Level]
	if sev == "" {
		sev = r.Level.String()
	}
	msg := h.prefix + r.Message

	if h.format == "text" {
		line := fmt.Sprintf("time=%q severity=%s message=%q\n", r.Time.Format("2006/01/02 15:04:05.000000"), sev, msg)
		_, err := io.WriteString(h.w, line)
		return err
	}

	rec := jsonRecord{
		Timestamp: jsonTimestamp{Seconds: r.Time.Unix(), Nanos: r.Time.Nanosecond()},
		Severity:  sev,
		Message:   msg,
	}
	enc, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(h.w, "%s\n", enc)
	return err
}

func (h *lineHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *lineHandler) WithGroup(_ string) slog.Handler       { return h }

// setLoggingLevel maps a cfg.LogSeverity string onto programLevel.
func setLoggingLevel(level string, programLevel *slog.LevelVar) {
	programLevel.Set(severityToLevel(cfg.LogSeverity(level)))
}

// InitLogFile points the default logger at a rotating file per loggingConfig,
// replacing stderr output. It does nothing if loggingConfig.FilePath is
// empty; otherwise it also takes the format and severity from loggingConfig
// as given, including empty values (an empty severity logs at INFO).
func InitLogFile(loggingConfig cfg.LoggingConfig) error {
	if loggingConfig.FilePath == "" {
		return nil
	}

	defaultLoggerFactory.file = &lumberjack.Logger{
		Filename:   string(loggingConfig.FilePath),
		MaxSize:    loggingConfig.LogRotate.MaxFileSizeMb,
		MaxBackups: loggingConfig.LogRotate.BackupFileCount,
		Compress:   loggingConfig.LogRotate.Compress,
	}
	defaultLoggerFactory.sysWriter = nil
	defaultLoggerFactory.format = loggingConfig.Format
	defaultLoggerFactory.level = loggingConfig.Severity
	defaultLoggerFactory.logRotateConfig = loggingConfig.LogRotate

	setLoggingLevel(string(loggingConfig.Severity), programLevel)
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(defaultLoggerFactory.file, programLevel, ""))
	return nil
}

// SetLogFormat switches the default logger's line format ("text" or
// "json"); an empty or unrecognized format falls back to "json".
func SetLogFormat(format string) {
	if format != "text" && format != "json" {
		format = "json"
	}
	defaultLoggerFactory.format = format

	var w io.Writer = os.Stderr
	if defaultLoggerFactory.file != nil {
		w = defaultLoggerFactory.file
	}
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, programLevel, ""))
}

// NewStdLogger returns a *log.Logger routed through the default logger at
// the given level, for libraries (notably jacobsa/fuse's
// ErrorLogger/DebugLogger hooks) that require the standard library type.
func NewStdLogger(level slog.Level, prefix string) *log.Logger {
	return log.New(&levelWriter{level: level}, prefix, 0)
}

type levelWriter struct {
	level slog.Level
}

func (w *levelWriter) Write(p []byte) (int, error) {
	logAt(w.level, "%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func logAt(level slog.Level, format string, v ...interface{}) {
	if !defaultLogger.Enabled(context.Background(), level) {
		return
	}
	msg := format
	if len(v) > 0 {
		msg = fmt.Sprintf(format, v...)
	}
	defaultLogger.Log(context.Background(), level, msg)
}

func Tracef(format string, v ...interface{}) { logAt(LevelTrace, format, v...) }
func Debugf(format string, v ...interface{}) { logAt(LevelDebug, format, v...) }
func Infof(format string, v ...interface{})  { logAt(LevelInfo, format, v...) }
func Warnf(format string, v ...interface{})  { logAt(LevelWarn, format, v...) }
func Errorf(format string, v ...interface{}) { logAt(LevelError, format, v...) }

func Trace(msg string) { logAt(LevelTrace, "%s", msg) }
func Debug(msg string) { logAt(LevelDebug, "%s", msg) }
func Info(msg string)  { logAt(LevelInfo, "%s", msg) }
func Warn(msg string)  { logAt(LevelWarn, "%s", msg) }
func Error(msg string) { logAt(LevelError, "%s", msg) }

// Close flushes and releases the rotating log file, if one is in use.
func Close() error {
	if defaultLoggerFactory.file != nil {
		return defaultLoggerFactory.file.Close()
	}
	return nil
}
