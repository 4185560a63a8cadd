package agent

import (
	"context"
	"fmt"
)

// Provider is an LLM API behind a uniform call interface. The engine
// treats the agent as opaque: conversation plus tool specs in,
// structured response plus tool-call requests out.
type Provider interface {
	Call(ctx context.Context, request Request) (*Response, error)
	Name() string
}

// ProviderCreator builds providers from auth profiles.
type ProviderCreator interface {
	NewProvider(profile AuthProfile) (Provider, error)
}

// Factory is the default ProviderCreator.
type Factory struct{}

// NewProvider creates a provider for the profile's backend.
func (f *Factory) NewProvider(profile AuthProfile) (Provider, error) {
	switch profile.Provider {
	case "anthropic":
		return NewAnthropicProvider(profile.APIKey), nil
	case "openai":
		return NewOpenAIProvider(profile.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}
