/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package params

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrNotObject is returned by Object when the arguments are valid JSON but
// not a JSON object.
var ErrNotObject = errors.New("arguments must be a JSON object")

// ErrInvalidUTF8 is returned by Canonical when the arguments contain bytes
// that are not valid UTF-8.
var ErrInvalidUTF8 = errors.New("arguments must be valid UTF-8")

// Object decodes raw tool-call arguments into a map.
// Empty input is treated as an empty object.
func Object(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return map[string]any{}, nil
	}
	if trimmed[0] != '{' {
		return nil, ErrNotObject
	}
	var args map[string]any
	if err := json.Unmarshal(trimmed, &args); err != nil {
		return nil, fmt.Errorf("decoding arguments: %w", err)
	}
	if args == nil {
		return map[string]any{}, nil
	}
	return args, nil
}

// Extract extracts a required parameter from args with type safety.
// Returns an error if the parameter is missing or cannot be converted to T.
func Extract[T any](args map[string]any, name string) (T, error) {
	var zero T

	value, exists := args[name]
	if !exists || value == nil {
		return zero, fmt.Errorf("%s parameter is required", name)
	}

	if v, ok := value.(T); ok {
		return v, nil
	}

	if v, ok := convertNumeric[T](value); ok {
		return v, nil
	}

	return zero, fmt.Errorf("%s parameter must be of type %T, got %T", name, zero, value)
}

// ExtractNonEmpty extracts a required string parameter that must contain
// something other than whitespace.
func ExtractNonEmpty(args map[string]any, name string) (string, error) {
	v, err := Extract[string](args, name)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%s parameter must not be empty", name)
	}
	return v, nil
}

// ExtractOptional extracts an optional parameter with a default value.
// Returns the default if the parameter doesn't exist, or an error if type conversion fails.
func ExtractOptional[T any](args map[string]any, name string, defaultValue T) (T, error) {
	value, exists := args[name]
	if !exists || value == nil {
		return defaultValue, nil
	}

	if v, ok := value.(T); ok {
		return v, nil
	}

	if v, ok := convertNumeric[T](value); ok {
		return v, nil
	}

	var zero T
	return zero, fmt.Errorf("%s parameter must be of type %T, got %T", name, zero, value)
}

// convertNumeric handles JSON numbers, which always decode as float64.
func convertNumeric[T any](value any) (T, bool) {
	var zero T
	f, ok := value.(float64)
	if !ok {
		return zero, false
	}
	switch any(zero).(type) {
	case int:
		return any(int(f)).(T), true
	case int32:
		return any(int32(f)).(T), true
	case int64:
		return any(int64(f)).(T), true
	}
	return zero, false
}

// Canonical renders args as compact JSON with sorted keys. Two argument
// objects that differ only in key order or whitespace render identically.
// Numbers keep their literal text, and arguments that are not valid UTF-8
// fail with ErrInvalidUTF8.
func Canonical(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "{}", nil
	}
	if !utf8.Valid(trimmed) {
		return "", ErrInvalidUTF8
	}
	if trimmed[0] != '{' {
		return "", ErrNotObject
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		return "", fmt.Errorf("decoding arguments: %w", err)
	}
	if dec.More() {
		return "", errors.New("decoding arguments: trailing data after object")
	}
	if args == nil {
		return "{}", nil
	}
	// encoding/json sorts map keys and emits no insignificant whitespace.
	b, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encoding arguments: %w", err)
	}
	return string(b), nil
}

// Error formats a tool-result error message in the shape the model sees.
func Error(format string, args ...any) string {
	return "Error: " + fmt.Sprintf(format, args...)
}
