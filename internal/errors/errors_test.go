package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmanError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("disk gone")

	// When: wrapping with AmanError
	amanErr := CorruptIndexError("/tmp/idx", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, amanErr)
	assert.Equal(t, originalErr, errors.Unwrap(amanErr))
	assert.True(t, errors.Is(amanErr, originalErr))
}

func TestAmanError_Is_MatchesSentinelByCode(t *testing.T) {
	// Given: a corrupt-index error wrapped twice with fmt
	err := fmt.Errorf("open: %w", fmt.Errorf("flush: %w", CorruptIndexError("/x", nil)))

	// Then: it matches the sentinel and nothing else
	assert.True(t, errors.Is(err, ErrCorruptIndex))
	assert.False(t, errors.Is(err, ErrAttachConflict))
	assert.Equal(t, ErrCodeCorruptIndex, GetCode(err))
	assert.Equal(t, CategoryStorage, GetCategory(err))
}

func TestNew_DerivesClassificationFromCode(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
		{ErrCodeCorruptIndex, CategoryStorage, SeverityFatal, false},
		{ErrCodePersistFailed, CategoryStorage, SeverityWarning, true},
		{ErrCodeAttachConflict, CategoryCache, SeverityFatal, false},
		{ErrCodeStaleAttachment, CategoryCache, SeverityWarning, true},
		{ErrCodeAllocationFailed, CategoryCache, SeverityWarning, false},
		{ErrCodeUnknownRoot, CategoryValidation, SeverityError, false},
		{ErrCodeSchedulerInternal, CategoryInternal, SeverityFatal, false},
		{ErrCodeIndexerFailed, CategoryInternal, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, "["+tt.code+"] msg", err.Error())
		})
	}
}

func TestIsFatal_SeesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("attach: %w", AttachConflictError("root/text", "index", "delete"))

	assert.True(t, IsFatal(err))
	assert.False(t, IsFatal(errors.New("plain")))
	assert.False(t, IsFatal(nil))
}

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	out := FormatForCLI(CorruptIndexError("/idx", nil))

	assert.Contains(t, out, "Error: index is corrupted: /idx")
	assert.Contains(t, out, "Hint: The index is rebuilt automatically")
	assert.Contains(t, out, "Code: ERR_205_CORRUPT_INDEX")
	assert.Empty(t, FormatForCLI(nil))
}

func TestLogAttrs_PlainAndStructured(t *testing.T) {
	plain := LogAttrs(errors.New("boom"))
	require.Len(t, plain, 1)
	assert.Equal(t, "error", plain[0].Key)

	structured := LogAttrs(IndexerError("text", "index", errors.New("boom")))
	keys := make(map[string]string)
	for _, a := range structured {
		keys[a.Key] = a.Value.String()
	}
	assert.Equal(t, ErrCodeIndexerFailed, keys["error_code"])
	assert.Equal(t, "text", keys["indexer"])
	assert.Equal(t, "boom", keys["cause"])
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	// Given: a function failing twice
	calls := 0
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}

	// When: retried
	err := Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return PersistError("write failed", nil)
		}
		return nil
	})

	// Then: it succeeds on the third call
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_OnlyRetryableStopsOnPermanentError(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1, OnlyRetryable: true}

	err := Retry(context.Background(), cfg, func() error {
		calls++
		return ValidationError("bad", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_GivesUpAndWrapsLastError(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	last := errors.New("still broken")

	err := Retry(context.Background(), cfg, func() error { return last })

	require.Error(t, err)
	assert.ErrorIs(t, err, last)
	assert.Contains(t, err.Error(), "failed after 2 retries")
}

func TestRetry_HonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, DefaultRetryConfig(), func() error { return nil })

	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreaker_OpensAndProbes(t *testing.T) {
	// Given: a breaker with a controllable clock
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker("text", WithMaxFailures(2), WithResetTimeout(time.Minute),
		WithClock(func() time.Time { return now }))

	// When: it fails twice
	cb.RecordFailure()
	assert.True(t, cb.Allow())
	cb.RecordFailure()

	// Then: it is open
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())

	// When: the reset timeout elapses
	now = now.Add(time.Minute)

	// Then: exactly one probe is allowed
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.Allow())
	assert.False(t, cb.Allow())

	// When: the probe succeeds
	cb.RecordSuccess()

	// Then: the breaker is closed again
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
	assert.Equal(t, "text", cb.Name())
}

func TestCircuitBreaker_DisabledWithZeroFailures(t *testing.T) {
	cb := NewCircuitBreaker("x", WithMaxFailures(0))
	for i := 0; i < 10; i++ {
		cb.RecordFailure()
	}
	assert.True(t, cb.Allow())
}
