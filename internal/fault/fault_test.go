// ABOUTME: Tests for the pipeline error taxonomy
// ABOUTME: Covers classification helpers and wrapping behavior

package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifiers(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		configuration bool
		transient     bool
		cancellation  bool
		contract      bool
	}{
		{
			name:          "configuration",
			err:           Configurationf("unknown model %q", "gpt-x"),
			configuration: true,
		},
		{
			name:      "transient",
			err:       Transientf(errors.New("connection reset"), "stream"),
			transient: true,
		},
		{
			name:         "cancellation",
			err:          &CancellationError{},
			cancellation: true,
		},
		{
			name:     "contract violation",
			err:      &ContractViolation{Reason: "append after finalize"},
			contract: true,
		},
		{
			name:          "wrapped configuration",
			err:           fmt.Errorf("running turn: %w", Configurationf("no credential")),
			configuration: true,
		},
		{
			name: "plain error matches nothing",
			err:  errors.New("boom"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.configuration, IsConfiguration(tt.err))
			assert.Equal(t, tt.transient, IsTransient(tt.err))
			assert.Equal(t, tt.cancellation, IsCancellation(tt.err))
			assert.Equal(t, tt.contract, IsContractViolation(tt.err))
		})
	}
}

func TestTransientUnwrap(t *testing.T) {
	cause := errors.New("rate limited")
	err := Transientf(cause, "provider call")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "provider call")
	assert.Contains(t, err.Error(), "rate limited")
}

func TestCancellationWrapsContextError(t *testing.T) {
	err := &CancellationError{Err: errors.New("context canceled")}

	assert.ErrorIs(t, err, err.Err)
	assert.Contains(t, err.Error(), "context canceled")
}
