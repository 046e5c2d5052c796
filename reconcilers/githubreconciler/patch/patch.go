/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package patch applies single-file unified diffs produced by a model to
// file contents fetched from a repository.
//
// Models routinely get hunk line numbers wrong, so hunks are located by
// their context and removed lines, starting at the stated position and
// searching outward. Whitespace at line ends is ignored when no exact
// match exists.
package patch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

const devNull = "/dev/null"

// Op is what a diff does to its file.
type Op string

const (
	OpCreate Op = "added"
	OpModify Op = "modified"
	OpDelete Op = "deleted"
)

// ErrNoHunks is returned for a diff that changes nothing.
var ErrNoHunks = errors.New("diff has no hunks")

// ConflictError is returned when a hunk's context cannot be found.
type ConflictError struct {
	Path string
	Hunk int
	Line int32
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("hunk %d of %s does not apply near line %d", e.Hunk, e.Path, e.Line)
}

// Result is the outcome of Apply.
type Result struct {
	Path    string
	Op      Op
	Content string
}

// Parse reads a single-file unified diff. Text before the first "---"
// header is ignored.
func Parse(unified string) (*diff.FileDiff, error) {
	if i := strings.Index(unified, "--- "); i > 0 {
		unified = unified[i:]
	}
	if !strings.HasSuffix(unified, "\n") {
		unified += "\n"
	}
	fd, err := diff.ParseFileDiff([]byte(unified))
	if err != nil {
		return nil, fmt.Errorf("parsing diff: %w", err)
	}
	if len(fd.Hunks) == 0 {
		return nil, ErrNoHunks
	}
	return fd, nil
}

// Path returns the repository path a file diff names, with git's a/ and b/
// prefixes removed.
func Path(fd *diff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == devNull {
		name = fd.OrigName
	}
	name = strings.TrimPrefix(name, "a/")
	name = strings.TrimPrefix(name, "b/")
	return name
}

// OpOf classifies a file diff.
func OpOf(fd *diff.FileDiff) Op {
	switch {
	case fd.OrigName == devNull:
		return OpCreate
	case fd.NewName == devNull:
		return OpDelete
	default:
		return OpModify
	}
}

// Apply applies unified to original.
func Apply(original, unified string) (*Result, error) {
	fd, err := Parse(unified)
	if err != nil {
		return nil, err
	}
	res := &Result{Path: Path(fd), Op: OpOf(fd)}
	if res.Op == OpDelete {
		return res, nil
	}
	if res.Op == OpCreate {
		original = ""
	}

	lines, trailingNewline := splitLines(original)
	if original == "" {
		trailingNewline = true
	}

	offset := 0
	for i, h := range fd.Hunks {
		body, noEOL := hunkLines(h.Body)
		old := body.old()
		stated := int(h.OrigStartLine) - 1
		if h.OrigLines == 0 {
			// Pure insertion after line OrigStartLine.
			stated++
		}
		at := locate(lines, old, stated+offset)
		if at < 0 {
			return nil, &ConflictError{Path: res.Path, Hunk: i + 1, Line: h.OrigStartLine}
		}

		next := make([]string, 0, len(lines)+len(body))
		next = append(next, lines[:at]...)
		cur := at
		for _, l := range body {
			switch l.kind {
			case ' ':
				// Keep the file's own text for context lines.
				next = append(next, lines[cur])
				cur++
			case '-':
				cur++
			case '+':
				next = append(next, l.text)
			}
		}
		end := len(next)
		next = append(next, lines[cur:]...)
		offset = len(next) - len(lines) + at - stated
		lines = next
		if noEOL && end == len(lines) {
			trailingNewline = false
		}
	}

	res.Content = strings.Join(lines, "\n")
	if trailingNewline && len(lines) > 0 {
		res.Content += "\n"
	}
	return res, nil
}

func splitLines(s string) ([]string, bool) {
	if s == "" {
		return nil, false
	}
	trailing := strings.HasSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n"), trailing
}

type line struct {
	kind byte
	text string
}

type hunk []line

// old returns the lines the hunk expects to find.
func (h hunk) old() []string {
	var out []string
	for _, l := range h {
		if l.kind != '+' {
			out = append(out, l.text)
		}
	}
	return out
}

// hunkLines parses a hunk body. noEOL is set when the new side ends
// without a newline, which go-diff records by dropping the body's final
// newline.
func hunkLines(body []byte) (hunk, bool) {
	text := string(body)
	noEOL := text != "" && !strings.HasSuffix(text, "\n")
	var out hunk
	for _, l := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
		switch {
		case l == "":
			// Some generators drop the space on empty context lines.
			out = append(out, line{kind: ' '})
		case l[0] == ' ', l[0] == '-', l[0] == '+':
			out = append(out, line{kind: l[0], text: l[1:]})
		case l[0] == '\\':
		default:
			out = append(out, line{kind: ' ', text: l})
		}
	}
	if noEOL && len(out) > 0 && out[len(out)-1].kind == '-' {
		noEOL = false
	}
	return out, noEOL
}

// locate returns the index in lines where old matches, preferring the
// position closest to want, or -1.
func locate(lines, old []string, want int) int {
	want = max(0, min(want, len(lines)))
	if len(old) == 0 {
		return want
	}
	for _, eq := range []func(a, b string) bool{exact, trimmed} {
		for d := 0; d <= len(lines); d++ {
			for _, at := range []int{want - d, want + d} {
				if at < 0 || at+len(old) > len(lines) {
					continue
				}
				if matches(lines[at:at+len(old)], old, eq) {
					return at
				}
				if d == 0 {
					break
				}
			}
		}
	}
	return -1
}

func matches(got, want []string, eq func(a, b string) bool) bool {
	for i := range want {
		if !eq(got[i], want[i]) {
			return false
		}
	}
	return true
}

func exact(a, b string) bool { return a == b }

func trimmed(a, b string) bool {
	return strings.TrimRight(a, " \t\r") == strings.TrimRight(b, " \t\r")
}
