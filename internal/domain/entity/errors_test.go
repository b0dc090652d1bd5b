package entity

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		message  string
		expected string
	}{
		{
			name:     "url field",
			field:    "url",
			message:  "URL is required",
			expected: "validation error on field 'url': URL is required",
		},
		{
			name:     "kind field",
			field:    "kind",
			message:  "unsupported source kind",
			expected: "validation error on field 'kind': unsupported source kind",
		},
		{
			name:     "empty message",
			field:    "name",
			message:  "",
			expected: "validation error on field 'name': ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &ValidationError{Field: tt.field, Message: tt.message}
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestValidationError_MatchesSentinel(t *testing.T) {
	err := fmt.Errorf("load sources: %w", &ValidationError{Field: "url", Message: "bad"})

	assert.True(t, errors.Is(err, ErrValidationFailed))

	var validationErr *ValidationError
	assert.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "url", validationErr.Field)
}

func TestSentinelErrors_Uniqueness(t *testing.T) {
	sentinels := []error{ErrUnknownResource, ErrInvalidInput, ErrValidationFailed, ErrNoRecords}
	for i := range sentinels {
		for j := range sentinels {
			if i != j {
				assert.False(t, errors.Is(sentinels[i], sentinels[j]))
			}
		}
	}
}
