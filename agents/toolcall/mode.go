/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package toolcall

import "fmt"

// Mode selects the system instruction and the tools visible to the model
// for one turn.
type Mode string

const (
	ModeExplore Mode = "explore"
	ModeGet     Mode = "get"
	ModeCommit  Mode = "commit"
	ModeComment Mode = "comment"
)

// Modes lists every mode in the order a run visits them.
var Modes = []Mode{ModeExplore, ModeGet, ModeCommit, ModeComment}

// ParseMode converts s to a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if _, ok := modeTools[m]; !ok {
		return "", fmt.Errorf("unknown mode %q", s)
	}
	return m, nil
}

// Category groups tools by effect. The orchestrator picks the text of a
// duplicate-call rejection by category.
type Category int

const (
	// ReadOnly tools fetch data without side effects.
	ReadOnly Category = iota
	// Mutating tools change remote state.
	Mutating
	// Audit tools only record the model's reasoning.
	Audit
	// Terminal tools end the phase they are called in.
	Terminal
)

func (c Category) String() string {
	switch c {
	case ReadOnly:
		return "read-only"
	case Mutating:
		return "mutating"
	case Audit:
		return "audit"
	case Terminal:
		return "terminal"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

// modeTools is the visible tool subset per mode, in schema order.
var modeTools = map[Mode][]string{
	ModeExplore: {NameExploreRepository, NameExplainDecision},
	ModeGet:     {NameGetFileContent, NameExplainDecision},
	ModeCommit:  {NameCommitChange, NameExplainDecision, NameFinish},
	ModeComment: {NameUpdateComment},
}

// Allows reports whether the tool name is visible in mode m.
func (m Mode) Allows(name string) bool {
	for _, n := range modeTools[m] {
		if n == name {
			return true
		}
	}
	return false
}
