// Package logging provides the structured logger shared by every component
// of dbaccel. It wraps logrus the way an operational CLI expects: level
// control via a small named enum, optional JSON output, and optional
// duplication to a log file alongside stdout.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// Level represents the logging verbosity requested on the CLI.
type Level string

const (
	LevelQuiet   Level = "quiet"
	LevelNormal  Level = "normal"
	LevelVerbose Level = "verbose"
	LevelDebug   Level = "debug"
)

// Logger is the handle every package in dbaccel takes a dependency on.
type Logger struct {
	logger *logrus.Logger
	level  Level
}

// Config configures a new Logger.
type Config struct {
	Level      Level
	Output     io.Writer
	Format     string // "text" or "json"
	ShowCaller bool
	LogFile    string
}

// New creates a Logger from Config.
func New(config Config) (*Logger, error) {
	logger := logrus.New()

	if config.Output != nil {
		logger.SetOutput(config.Output)
	} else {
		logger.SetOutput(os.Stdout)
	}

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	switch config.Level {
	case LevelQuiet:
		logger.SetLevel(logrus.ErrorLevel)
	case LevelVerbose:
		logger.SetLevel(logrus.DebugLevel)
	case LevelDebug:
		logger.SetLevel(logrus.TraceLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if config.ShowCaller {
		logger.SetReportCaller(true)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
			},
		})
	}

	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", config.LogFile, err)
		}
		if config.Output == nil {
			logger.SetOutput(io.MultiWriter(os.Stdout, file))
		} else {
			logger.SetOutput(io.MultiWriter(config.Output, file))
		}
	}

	return &Logger{logger: logger, level: config.Level}, nil
}

// Default returns a Logger with sane defaults, used when no Config is
// available yet (e.g. before flag parsing completes).
func Default() *Logger {
	l, _ := New(Config{Level: LevelNormal, Output: os.Stdout, Format: "text"})
	return l
}

// WithFields returns a logrus.Entry carrying the given fields.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.logger.WithFields(fields)
}

// WithField returns a logrus.Entry carrying a single field.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.logger.WithField(key, value)
}

func (l *Logger) Info(msg string)                          { l.logger.Info(msg) }
func (l *Logger) Infof(format string, args ...interface{})  { l.logger.Infof(format, args...) }
func (l *Logger) Debug(msg string)                          { l.logger.Debug(msg) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.logger.Debugf(format, args...) }
func (l *Logger) Warn(msg string)                           { l.logger.Warn(msg) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.logger.Warnf(format, args...) }
func (l *Logger) Error(msg string)                          { l.logger.Error(msg) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.logger.Errorf(format, args...) }

// LogTableDump logs the outcome of dumping one table.
func (l *Logger) LogTableDump(table string, rowsWritten int64, shardCount int, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation":    "table_dump",
		"table":        table,
		"rows_written": commaGroup(rowsWritten),
		"shard_count":  shardCount,
		"duration":     duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("table dump failed")
		return
	}
	l.logger.WithFields(fields).Info("table dump completed")
}

// LogTableRestore logs the outcome of restoring one table.
func (l *Logger) LogTableRestore(table string, recordsLoaded int64, shardCount int, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation":      "table_restore",
		"table":          table,
		"records_loaded": commaGroup(recordsLoaded),
		"shard_count":    shardCount,
		"duration":       duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("table restore failed")
		return
	}
	l.logger.WithFields(fields).Info("table restore completed")
}

// LogDDLStage logs the application of one restore DDL stage.
func (l *Logger) LogDDLStage(stage string, statementCount int, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation":       "ddl_stage",
		"stage":           stage,
		"statement_count": statementCount,
		"duration":        duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("DDL stage failed")
		return
	}
	l.logger.WithFields(fields).Info("DDL stage applied")
}

// LogConnectAttempt logs a single connection attempt, including retries.
func (l *Logger) LogConnectAttempt(host string, database string, attempt, maxAttempts int, err error) {
	fields := logrus.Fields{
		"operation": "connect",
		"host":      host,
		"database":  database,
		"attempt":   attempt,
		"max":       maxAttempts,
	}
	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Warn("connection attempt failed")
		return
	}
	l.logger.WithFields(fields).Debug("connection established")
}

// commaGroup renders n with comma thousands separators; row counts in
// the millions are unreadable without grouping.
func commaGroup(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := fmt.Sprintf("%d", n)
	out := make([]byte, 0, len(s)+len(s)/3)
	for i, c := range []byte(s) {
		if i != 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
