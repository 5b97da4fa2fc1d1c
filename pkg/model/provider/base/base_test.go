package base

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapTransportClassification(t *testing.T) {
	tests := []struct {
		status    int
		temporary bool
	}{
		{status: 0, temporary: true},
		{status: 408, temporary: true},
		{status: 429, temporary: true},
		{status: 500, temporary: true},
		{status: 503, temporary: true},
		{status: 400, temporary: false},
		{status: 401, temporary: false},
		{status: 404, temporary: false},
	}

	for _, test := range tests {
		err := WrapTransport(test.status, errors.New("boom"))
		assert.Equal(t, test.temporary, err.Temporary, "status %d", test.status)
	}
}

func TestTransportErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	wrapped := WrapTransport(0, cause)

	require.ErrorIs(t, wrapped, cause)

	var transportErr *TransportError
	require.ErrorAs(t, error(wrapped), &transportErr)
	assert.True(t, transportErr.Temporary)
}
