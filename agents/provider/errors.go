/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package provider

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a provider failure.
type Kind string

const (
	// KindTimeout means the call or the polling budget ran out.
	KindTimeout Kind = "timeout"
	// KindMalformed means the reply could not be interpreted.
	KindMalformed Kind = "malformed"
	// KindEmpty means the reply had no choices or candidates.
	KindEmpty Kind = "empty"
	// KindAPI means the API rejected the request.
	KindAPI Kind = "api"
)

// Error is a failed model call. It is always fatal to the run.
type Error struct {
	Provider string
	Kind     Kind
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s provider %s error: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap classifies err as a provider error. Context deadline errors become
// KindTimeout and everything else becomes KindAPI. Errors that already are
// *Error are returned unchanged.
func Wrap(provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	kind := KindAPI
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &Error{Provider: provider, Kind: kind, Err: err}
}

// Malformed returns a KindMalformed error.
func Malformed(provider, format string, args ...any) error {
	return &Error{Provider: provider, Kind: KindMalformed, Err: fmt.Errorf(format, args...)}
}

// Empty returns a KindEmpty error.
func Empty(provider, format string, args ...any) error {
	return &Error{Provider: provider, Kind: KindEmpty, Err: fmt.Errorf(format, args...)}
}

// IsKind reports whether err is a provider error of kind k.
func IsKind(err error, k Kind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == k
}
