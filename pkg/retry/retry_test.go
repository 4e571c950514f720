package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	permanent := Permanent(CodeMalformedURL, errors.New("bad url"))

	tests := []struct {
		name         string
		err          error
		expectedKind Kind
		expectedCode string
	}{
		{"node error passes through", permanent, KindPermanent, CodeMalformedURL},
		{"wrapped node error", fmt.Errorf("step: %w", permanent), KindPermanent, CodeMalformedURL},
		{"deadline", context.DeadlineExceeded, KindTransient, CodeTimeout},
		{"unknown", errors.New("connection reset"), KindTransient, CodeInternal},
		{"unreachable", UnreachableBranch("cond", "maybe"), KindUnreachableBranch, CodeUnreachableBranch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := Classify(tt.err)
			require.NotNil(t, classified)
			assert.Equal(t, tt.expectedKind, classified.Kind)
			assert.Equal(t, tt.expectedCode, classified.Code)
		})
	}

	assert.Nil(t, Classify(nil))
}

func TestNodeError_Error(t *testing.T) {
	err := UnreachableBranch("cond-1", "maybe")

	assert.Contains(t, err.Error(), "unreachable_branch")
	assert.Contains(t, err.Error(), "cond-1")
	assert.False(t, err.Retryable())
	assert.True(t, Transient(CodeTimeout, nil).Retryable())
}

func TestPolicy_Backoff(t *testing.T) {
	policy := Policy{
		MaxRetries:     5,
		InitialBackoff: time.Minute,
		MaxBackoff:     5 * time.Minute,
		Multiplier:     2,
	}

	assert.Equal(t, time.Minute, policy.Backoff(1))
	assert.Equal(t, 2*time.Minute, policy.Backoff(2))
	assert.Equal(t, 4*time.Minute, policy.Backoff(3))
	assert.Equal(t, 5*time.Minute, policy.Backoff(4))
	assert.Equal(t, 5*time.Minute, policy.Backoff(9))
}

func TestPolicy_Exhausted(t *testing.T) {
	policy := DefaultPolicy()

	assert.False(t, policy.Exhausted(2))
	assert.True(t, policy.Exhausted(3))

	zero := 0
	assert.True(t, policy.WithMaxRetries(&zero).Exhausted(0))

	ten := 10
	assert.False(t, policy.WithMaxRetries(&ten).Exhausted(3))
}
