// Package environment abstracts where configuration secrets come from,
// so clients ask for variables by name without binding to the process
// environment.
package environment

import (
	"context"
	"os"
	"strings"
)

// Provider resolves named environment variables.
type Provider interface {
	// Get retrieves a variable by name. The boolean reports whether the
	// variable is set at all; a set-but-empty variable returns ("", true).
	Get(ctx context.Context, name string) (string, bool)
}

// RequiredEnvError reports variables a component needs but could not
// resolve.
type RequiredEnvError struct {
	Missing []string
}

var _ error = (*RequiredEnvError)(nil)

func (e *RequiredEnvError) Error() string {
	return "missing required environment variables: " + strings.Join(e.Missing, ", ")
}

// NewOsEnvProvider returns a Provider backed by the process environment.
func NewOsEnvProvider() Provider {
	return osEnvProvider{}
}

type osEnvProvider struct{}

func (osEnvProvider) Get(_ context.Context, name string) (string, bool) {
	return os.LookupEnv(name)
}

// NewKeyValueProvider returns a Provider backed by a fixed map, used in
// tests and for values loaded from configuration files.
func NewKeyValueProvider(values map[string]string) Provider {
	return keyValueProvider(values)
}

type keyValueProvider map[string]string

func (p keyValueProvider) Get(_ context.Context, name string) (string, bool) {
	v, ok := p[name]
	return v, ok
}

// NewMultiProvider chains providers; the first one that has the variable
// wins.
func NewMultiProvider(providers ...Provider) Provider {
	return multiProvider(providers)
}

type multiProvider []Provider

func (p multiProvider) Get(ctx context.Context, name string) (string, bool) {
	for _, provider := range p {
		if v, ok := provider.Get(ctx, name); ok {
			return v, true
		}
	}
	return "", false
}
