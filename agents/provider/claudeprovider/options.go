/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package claudeprovider

import (
	"fmt"
	"strings"

	"chainguard.dev/issueagent/agents/provider/retry"
)

// Option configures a Provider.
type Option func(*Provider) error

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(p *Provider) error {
		if !strings.HasPrefix(model, "claude-") {
			return fmt.Errorf("model %q does not appear to be a Claude model (expected claude-* format)", model)
		}
		p.model = model
		return nil
	}
}

// WithMaxTokens sets the maximum tokens per response.
func WithMaxTokens(tokens int64) Option {
	return func(p *Provider) error {
		if tokens <= 0 {
			return fmt.Errorf("max tokens must be positive, got %d", tokens)
		}
		if tokens > 32000 {
			return fmt.Errorf("max tokens %d exceeds maximum of 32000", tokens)
		}
		p.maxTokens = tokens
		return nil
	}
}

// WithTemperature sets the sampling temperature in [0, 1].
func WithTemperature(temp float64) Option {
	return func(p *Provider) error {
		if temp < 0 || temp > 1 {
			return fmt.Errorf("temperature must be between 0.0 and 1.0, got %f", temp)
		}
		p.temperature = temp
		return nil
	}
}

// WithRetryConfig sets the retry policy for rate limit and overloaded
// responses.
func WithRetryConfig(cfg retry.Config) Option {
	return func(p *Provider) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid retry config: %w", err)
		}
		p.retry = cfg
		return nil
	}
}
