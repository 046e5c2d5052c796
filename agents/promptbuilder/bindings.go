/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package promptbuilder

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// binding renders the value substituted for a placeholder.
type binding func() (string, error)

func literal(s string) binding {
	return func() (string, error) { return s, nil }
}

func jsonOf(data any) binding {
	return func() (string, error) {
		b, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return string(b), nil
	}
}

func yamlOf(data any) binding {
	return func() (string, error) {
		b, err := yaml.Marshal(data)
		if err != nil {
			return "", fmt.Errorf("failed to marshal YAML: %w", err)
		}
		return strings.TrimRight(string(b), "\n"), nil
	}
}
