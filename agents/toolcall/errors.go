/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package toolcall

import (
	"errors"
	"fmt"
)

// UnknownToolError is returned when the model names a tool that does not
// exist or is not visible in the active mode.
type UnknownToolError struct {
	Name string
	Mode Mode
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q in %s mode", e.Name, e.Mode)
}

// InvalidArgumentsError is returned when a call's arguments do not decode
// into the tool's argument struct.
type InvalidArgumentsError struct {
	Tool string
	Err  error
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *InvalidArgumentsError) Unwrap() error {
	return e.Err
}

// ToolExecutionError wraps a failure of the capability behind a tool.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("executing %s: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// ErrForeignTarget is wrapped by a ToolExecutionError when commit_change
// names an owner, repository or branch other than the run's target.
var ErrForeignTarget = errors.New("commit target does not match the run")
