// Package providers constructs an llm.Client for the configured provider.
package providers

import (
	"fmt"

	"github.com/davidmoltin/site-integrations/pkg/llm"
	"github.com/davidmoltin/site-integrations/pkg/llm/providers/anthropic"
	"github.com/davidmoltin/site-integrations/pkg/llm/providers/openai"
)

// New returns the client for cfg.Provider
func New(cfg *llm.Config) (llm.Client, error) {
	switch cfg.Provider {
	case llm.ProviderAnthropic:
		c, err := anthropic.NewClient(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	case llm.ProviderOpenAI:
		c, err := openai.NewClient(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: %q", llm.ErrInvalidProvider, cfg.Provider)
	}
}
