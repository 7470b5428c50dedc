package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultAttributes(t *testing.T) {
	assert.True(t, New(CodeToolTransient, "").Retryable())
	assert.True(t, New(CodeTimeout, "").Retryable())
	assert.False(t, New(CodeRateLimited, "").Retryable())
	assert.False(t, New(CodeToolAuth, "").Retryable())
	assert.False(t, New(CodeMalformedRequest, "").Retryable())
	assert.Equal(t, SeverityCritical, New(CodeCheckpointFailure, "").Severity())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("boom")
	err := fmt.Errorf("outer: %w", Wrap(CodeToolTransient, cause, "search failed"))

	require.ErrorIs(t, err, cause)
	assert.Equal(t, CodeToolTransient, CodeOf(err))
	assert.True(t, RetryableError(err))
	assert.Contains(t, err.Error(), "[TOOL_TRANSIENT] search failed: boom")
}

func TestOverrides(t *testing.T) {
	err := New(CodeToolTransient, "", WithRetryable(false), WithAlert(true), WithSeverity(SeverityCritical),
		WithMetadata("tool", "search"))
	assert.False(t, err.Retryable())
	assert.True(t, err.ShouldAlert())
	assert.Equal(t, SeverityCritical, err.Severity())
	assert.Equal(t, map[string]string{"tool": "search"}, err.Metadata())
}

func TestIsMatchesByCode(t *testing.T) {
	err := Wrap(CodeCancelled, stdErrors.New("ctx"), "stop")
	assert.True(t, stdErrors.Is(err, New(CodeCancelled, "")))
	assert.False(t, stdErrors.Is(err, New(CodeTimeout, "")))
	assert.True(t, IsFatal(err))
	assert.False(t, IsFatal(New(CodeOracleFailure, "")))
}

func TestUnknownFallback(t *testing.T) {
	assert.Equal(t, CodeUnknown, CodeOf(stdErrors.New("plain")))
	assert.Equal(t, AttributesOf(CodeUnknown), AttributesOf(Code("NOPE")))
	assert.False(t, RetryableError(nil))
}
