package exception_test

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrianthees/mlfs-book/internal/support/exception"
)

func TestNewPipelineError(t *testing.T) {
	err := exception.NewPipelineError("featurestore", "insert failed", io.EOF, true, false)
	assert.Equal(t, "[featurestore] insert failed: EOF", err.Error())
	assert.True(t, err.IsSkippable())
	assert.False(t, err.IsRetryable())
	assert.True(t, errors.Is(err, io.EOF))
	assert.NotEmpty(t, err.StackTrace)
}

func TestNewPipelineErrorfFlagExtraction(t *testing.T) {
	// No flags: both default to false.
	plain := exception.NewPipelineErrorf("aqi", "failed for %s", "copenhagen")
	assert.Equal(t, "[aqi] failed for copenhagen", plain.Error())
	assert.False(t, plain.IsRetryable())
	assert.False(t, plain.IsSkippable())

	// One trailing bool is the retryable flag.
	retryable := exception.NewPipelineErrorf("aqi", "failed for %s", "copenhagen", true)
	assert.True(t, retryable.IsRetryable())
	assert.False(t, retryable.IsSkippable())

	// Two trailing bools are skippable then retryable, plus a wrapped error.
	full := exception.NewPipelineErrorf("aqi", "failed for %s", "copenhagen", true, false, io.EOF)
	assert.Equal(t, "[aqi] failed for copenhagen: EOF", full.Error())
	assert.True(t, full.IsSkippable())
	assert.False(t, full.IsRetryable())
	assert.Equal(t, io.EOF, errors.Unwrap(full))
}

func TestIsTemporary(t *testing.T) {
	assert.False(t, exception.IsTemporary(nil))
	assert.True(t, exception.IsTemporary(exception.NewPipelineError("httpx", "timeout", nil, false, true)))
	assert.False(t, exception.IsTemporary(exception.NewPipelineError("httpx", "bad request", nil, false, false)))
	assert.True(t, exception.IsTemporary(errors.New("connection refused")))
	assert.False(t, exception.IsTemporary(errors.New("no such table")))
}

func TestIsFatal(t *testing.T) {
	assert.False(t, exception.IsFatal(nil))
	assert.True(t, exception.IsFatal(exception.NewPipelineError("config", "bad config", nil, false, false)))
	assert.False(t, exception.IsFatal(exception.NewPipelineError("aqi", "sensor down", nil, true, false)))
	assert.True(t, exception.IsFatal(errors.New("permission denied")))
}

func TestIsPipelineError(t *testing.T) {
	require.True(t, exception.IsPipelineError(exception.NewPipelineErrorf("m", "x")))
	assert.False(t, exception.IsPipelineError(errors.New("x")))
	assert.False(t, exception.IsPipelineError(nil))
}
