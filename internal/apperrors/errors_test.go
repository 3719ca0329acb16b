package apperrors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorStringIncludesTableAndCause(t *testing.T) {
	err := NewTransientDumpError("users", "streaming export failed", errors.New("broken pipe"))
	s := err.Error()
	assert.Contains(t, s, "TRANSIENT_DUMP_ERROR[users]")
	assert.Contains(t, s, "broken pipe")
}

func TestClassifyMySQLErrors(t *testing.T) {
	cases := []struct {
		number      uint16
		wantKind    Kind
		recoverable bool
	}{
		{1045, KindConnect, false},
		{1049, KindConfig, false},
		{1146, KindSchema, false},
		{2006, KindConnect, true},
		{1153, KindTransientDump, true},
		{1205, KindTransientDump, true},
	}
	for _, tc := range cases {
		err := Classify("t", &mysql.MySQLError{Number: tc.number, Message: "x"})
		assert.Equal(t, tc.wantKind, err.Kind, "error %d", tc.number)
		assert.Equal(t, tc.recoverable, err.Recoverable, "error %d", tc.number)
	}
}

func TestClassifyPassesThroughAppError(t *testing.T) {
	original := NewRowCountMismatch("users", 10, 9)
	classified := Classify("users", original)
	assert.Same(t, original, classified)
}

func TestRetryStopsOnNonRecoverable(t *testing.T) {
	rh := NewRetryHandler(RetryConfig{MaxAttempts: 5, Delay: time.Millisecond})

	calls := 0
	err := rh.Retry(context.Background(), "t", func(attempt int) error {
		calls++
		return NewSchemaError("bad DDL", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-recoverable errors must not be retried")
}

func TestRetryExhaustsBudget(t *testing.T) {
	rh := NewRetryHandler(RetryConfig{MaxAttempts: 3, Delay: time.Millisecond})

	calls := 0
	err := rh.Retry(context.Background(), "t", func(attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		return NewTransientDumpError("t", "transient", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, IsRetryable(err))
}

func TestRetrySucceedsMidBudget(t *testing.T) {
	rh := NewRetryHandler(RetryConfig{MaxAttempts: 5, Delay: time.Millisecond})

	calls := 0
	err := rh.Retry(context.Background(), "t", func(attempt int) error {
		calls++
		if calls < 3 {
			return NewConnectError("unreachable", nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryHonorsCanceledContext(t *testing.T) {
	rh := NewRetryHandler(RetryConfig{MaxAttempts: 5, Delay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := rh.Retry(ctx, "t", func(attempt int) error { return nil })
	assert.Error(t, err)
}

func TestIsRetryableOnPlainError(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("plain")))
}
