/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package conversation

import (
	"encoding/json"
	"fmt"

	"chainguard.dev/issueagent/agents/toolcall/params"
)

// Record identifies an executed tool call by name and canonical arguments.
// Records are comparable, so == is structural equality.
type Record struct {
	Tool      string `json:"tool"`
	Arguments string `json:"arguments"`
}

// NewRecord canonicalizes args so that calls differing only in key order or
// whitespace produce equal records.
func NewRecord(tool string, args json.RawMessage) (Record, error) {
	canonical, err := params.Canonical(args)
	if err != nil {
		return Record{}, fmt.Errorf("canonicalizing %s arguments: %w", tool, err)
	}
	return Record{Tool: tool, Arguments: canonical}, nil
}

func (r Record) String() string {
	return r.Tool + r.Arguments
}

// CallLog is an append-only ordered set of records.
type CallLog struct {
	records []Record
	index   map[Record]struct{}
}

// Contains reports whether r has been added.
func (l *CallLog) Contains(r Record) bool {
	_, ok := l.index[r]
	return ok
}

// Add appends r and reports whether it was new.
func (l *CallLog) Add(r Record) bool {
	if l.Contains(r) {
		return false
	}
	if l.index == nil {
		l.index = make(map[Record]struct{})
	}
	l.index[r] = struct{}{}
	l.records = append(l.records, r)
	return true
}

// Len returns the number of records.
func (l *CallLog) Len() int {
	return len(l.records)
}

// Records returns a copy of the records in insertion order.
func (l *CallLog) Records() []Record {
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}
