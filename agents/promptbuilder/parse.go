/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package promptbuilder

import (
	"fmt"
	"strings"
	"unicode"
)

// segment is either literal text or a placeholder name.
type segment struct {
	text string
	name string
}

// parse splits a template into segments. Placeholders are {{name}} with
// optional surrounding spaces; name must start with a letter and contain
// only letters, digits and underscores.
func parse(template string) ([]segment, error) {
	var segs []segment
	rest := template
	offset := 0
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			if rest != "" {
				segs = append(segs, segment{text: rest})
			}
			return segs, nil
		}
		closing := strings.Index(rest[open+2:], "}}")
		if closing < 0 {
			return nil, fmt.Errorf("unclosed placeholder at offset %d", offset+open)
		}
		name := strings.TrimSpace(rest[open+2 : open+2+closing])
		if !validName(name) {
			return nil, fmt.Errorf("invalid placeholder name %q at offset %d", name, offset+open)
		}
		if open > 0 {
			segs = append(segs, segment{text: rest[:open]})
		}
		segs = append(segs, segment{name: name})

		consumed := open + 2 + closing + 2
		offset += consumed
		rest = rest[consumed:]
	}
}

func validName(s string) bool {
	for i, r := range s {
		switch {
		case unicode.IsLetter(r):
		case i > 0 && (unicode.IsDigit(r) || r == '_'):
		default:
			return false
		}
	}
	return s != ""
}
