package environment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOsEnvProvider(t *testing.T) {
	t.Setenv("WEFT_TEST_VAR", "value")

	p := NewOsEnvProvider()

	v, ok := p.Get(context.Background(), "WEFT_TEST_VAR")
	require.True(t, ok)
	assert.Equal(t, "value", v)

	_, ok = p.Get(context.Background(), "WEFT_TEST_VAR_MISSING")
	assert.False(t, ok)
}

func TestMultiProviderFirstHitWins(t *testing.T) {
	p := NewMultiProvider(
		NewKeyValueProvider(map[string]string{"A": "first"}),
		NewKeyValueProvider(map[string]string{"A": "second", "B": "only"}),
	)

	v, ok := p.Get(context.Background(), "A")
	require.True(t, ok)
	assert.Equal(t, "first", v)

	v, ok = p.Get(context.Background(), "B")
	require.True(t, ok)
	assert.Equal(t, "only", v)

	_, ok = p.Get(context.Background(), "C")
	assert.False(t, ok)
}

func TestRequiredEnvErrorMessage(t *testing.T) {
	err := &RequiredEnvError{Missing: []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY"}}
	assert.Equal(t, "missing required environment variables: ANTHROPIC_API_KEY, OPENAI_API_KEY", err.Error())
}
