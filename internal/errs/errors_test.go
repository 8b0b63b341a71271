package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Message(t *testing.T) {
	err := New(ErrKindConfigInvalid, "missing required field: host")
	assert.Equal(t, "[config_invalid] missing required field: host", err.Error())

	wrapped := Wrap(ErrKindConnectFailed, "mysql connection failed", errors.New("dial tcp: refused"))
	assert.Equal(t, "[connect_failed] mysql connection failed: dial tcp: refused", wrapped.Error())
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(ErrKindConnectFailed, "connection failed", cause)

	require.ErrorIs(t, err, cause)
}

func TestKindPredicates(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		predicate func(error) bool
		want      bool
	}{
		{"config not found", New(ErrKindConfigNotFound, "x"), IsConfigNotFound, true},
		{"config invalid", New(ErrKindConfigInvalid, "x"), IsConfigInvalid, true},
		{"driver unavailable", New(ErrKindDriverUnavailable, "x"), IsDriverUnavailable, true},
		{"security violation", New(ErrKindSecurityViolation, "x"), IsSecurityViolation, true},
		{"wrong kind", New(ErrKindConfigNotFound, "x"), IsConnectFailed, false},
		{"plain error", errors.New("x"), IsConfigNotFound, false},
		{"nil error", nil, IsConfigNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.predicate(tt.err))
		})
	}
}

func TestKindPredicates_ThroughWrapping(t *testing.T) {
	inner := New(ErrKindSecurityViolation, "query contains blocked keyword: DROP")
	outer := fmt.Errorf("executing query: %w", inner)

	assert.True(t, IsSecurityViolation(outer))
	assert.False(t, IsQuerySyntax(outer))
}

func TestErrKind_String(t *testing.T) {
	assert.Equal(t, "config_not_found", ErrKindConfigNotFound.String())
	assert.Equal(t, "security_violation", ErrKindSecurityViolation.String())
	assert.Equal(t, "driver_unavailable", ErrKindDriverUnavailable.String())
	assert.Equal(t, "unknown", ErrKindUnknown.String())
}

func TestNewf(t *testing.T) {
	err := Newf(ErrKindConfigNotFound, "database config not found: %s", "prod")
	assert.Equal(t, "database config not found: prod", err.Message)
	assert.Equal(t, ErrKindConfigNotFound, err.Kind)
}
