/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package rundriver

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Config is the run policy. It can be loaded from TOML:
//
//	max_turns = 20
//	max_duration = "15m"
//	explore_turns = 6
type Config struct {
	// MaxTurns bounds the number of turns across all phases.
	MaxTurns int `toml:"max_turns" validate:"gte=1"`
	// MaxDuration bounds the wall clock time of a run.
	MaxDuration time.Duration `toml:"max_duration" validate:"gt=0"`
	// MaxTokens bounds input plus output tokens. Zero means unlimited.
	MaxTokens int64 `toml:"max_tokens" validate:"gte=0"`
	// ExploreTurns bounds the exploration phase.
	ExploreTurns int `toml:"explore_turns" validate:"gte=1"`
	// GetTurns bounds the file reading phase.
	GetTurns int `toml:"get_turns" validate:"gte=0"`
	// CommentTurns bounds the comment phase. Zero disables it.
	CommentTurns int `toml:"comment_turns" validate:"gte=0"`
	// TurnTimeout bounds a single provider round trip.
	TurnTimeout time.Duration `toml:"turn_timeout" validate:"gt=0"`
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		MaxTurns:     20,
		MaxDuration:  15 * time.Minute,
		ExploreTurns: 6,
		GetTurns:     8,
		CommentTurns: 1,
		TurnTimeout:  2 * time.Minute,
	}
}

// Validate checks the policy. The explore and get phases must leave at
// least one turn for committing.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid run policy: %w", err)
	}
	if c.ExploreTurns+c.GetTurns >= c.MaxTurns {
		return fmt.Errorf("invalid run policy: explore_turns (%d) + get_turns (%d) must be below max_turns (%d)", c.ExploreTurns, c.GetTurns, c.MaxTurns)
	}
	return nil
}

// LoadConfig reads a TOML policy file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown keys in %s: %v", path, undecoded)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
