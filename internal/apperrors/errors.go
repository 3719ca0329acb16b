// Package apperrors classifies errors raised anywhere in dbaccel
// (configuration, connection, transient dump, fallback dump, restore
// load, schema) and drives the retry policy shared by the metadata
// probe, table dumper, and fallback exporter.
package apperrors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Kind classifies an error for retry and exit-code decisions.
type Kind string

const (
	KindConfig          Kind = "CONFIG_ERROR"
	KindConnect         Kind = "CONNECT_ERROR"
	KindTransientDump   Kind = "TRANSIENT_DUMP_ERROR"
	KindFallbackDump    Kind = "FALLBACK_DUMP_ERROR"
	KindRowCountMismatch Kind = "ROW_COUNT_MISMATCH"
	KindRestoreLoad     Kind = "RESTORE_LOAD_ERROR"
	KindSchema          Kind = "SCHEMA_ERROR"
	KindUnknown         Kind = "UNKNOWN_ERROR"
)

// Error wraps a cause with its classification and free-form context, the
// way every component-boundary error in dbaccel is reported upward.
type Error struct {
	Kind        Kind
	Message     string
	Table       string
	Cause       error
	Recoverable bool
	Context     map[string]interface{}
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Table != "" {
		prefix = fmt.Sprintf("%s[%s]", prefix, e.Table)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// WithContext attaches a key/value to the error for logging.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func New(kind Kind, table, message string, cause error) *Error {
	return &Error{Kind: kind, Table: table, Message: message, Cause: cause}
}

func NewRecoverable(kind Kind, table, message string, cause error) *Error {
	return &Error{Kind: kind, Table: table, Message: message, Cause: cause, Recoverable: true}
}

func NewConfigError(message string, cause error) *Error {
	return New(KindConfig, "", message, cause)
}

func NewConnectError(message string, cause error) *Error {
	return NewRecoverable(KindConnect, "", message, cause)
}

func NewTransientDumpError(table, message string, cause error) *Error {
	return NewRecoverable(KindTransientDump, table, message, cause)
}

func NewFallbackDumpError(table, message string, cause error) *Error {
	return NewRecoverable(KindFallbackDump, table, message, cause)
}

func NewRowCountMismatch(table string, expected, actual int64) *Error {
	return NewRecoverable(KindRowCountMismatch, table,
		fmt.Sprintf("expected %d rows, loaded %d", expected, actual), nil)
}

func NewRestoreLoadError(table, message string, cause error) *Error {
	return New(KindRestoreLoad, table, message, cause)
}

func NewSchemaError(message string, cause error) *Error {
	return New(KindSchema, "", message, cause)
}

// Classify turns an arbitrary error (often a *mysql.MySQLError bubbling up
// from database/sql) into a classified *Error, the way the dumper and
// restorer need before deciding whether to retry.
func Classify(table string, err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1045, 1044:
			return New(KindConnect, table, "access denied", err)
		case 1049:
			return New(KindConfig, table, "unknown database", err)
		case 1146:
			return New(KindSchema, table, "table does not exist", err)
		case 2003, 2006, 2013:
			return NewRecoverable(KindConnect, table, "server unreachable or connection lost", err)
		case 1153:
			return NewRecoverable(KindTransientDump, table, "packet too large (max_allowed_packet)", err)
		default:
			return NewRecoverable(KindTransientDump, table, fmt.Sprintf("mysql error %d: %s", mysqlErr.Number, mysqlErr.Message), err)
		}
	}

	return NewRecoverable(KindTransientDump, table, "unclassified error", err)
}

// IsRetryable reports whether an error's classification allows another
// attempt within the caller's retry budget.
func IsRetryable(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Recoverable
	}
	return false
}

// RetryConfig parameterizes the backoff used by RetryHandler.
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
}

// RetryHandler drives every bounded-attempt retry loop in dbaccel: the
// Metadata Probe's 5-attempt/60s connection retry, the Table Dumper's
// 5-attempt transient retry, and the Fallback Exporter's 20-attempt retry —
// same mechanism, different budgets per call site.
type RetryHandler struct {
	config RetryConfig
}

func NewRetryHandler(config RetryConfig) *RetryHandler {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	return &RetryHandler{config: config}
}

// Retry runs operation up to MaxAttempts times, sleeping Delay between
// attempts, stopping early if the error is classified as non-recoverable or
// the context is canceled. table is passed through purely for logging via
// the caller; Retry itself does not log.
func (rh *RetryHandler) Retry(ctx context.Context, table string, operation func(attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= rh.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return New(KindTransientDump, table, "canceled", ctx.Err())
		default:
		}

		err := operation(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		classified := Classify(table, err)
		if !classified.Recoverable {
			return classified
		}
		if attempt == rh.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return New(KindTransientDump, table, "canceled during retry", ctx.Err())
		case <-time.After(rh.config.Delay):
		}
	}
	return Classify(table, lastErr).WithContext("attempts", rh.config.MaxAttempts)
}
