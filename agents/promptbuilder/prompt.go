/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package promptbuilder

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// stringLiteral only accepts untyped string constants from callers outside
// this package.
type stringLiteral string

// Prompt is a parsed template and the bindings applied so far.
type Prompt struct {
	segments []segment
	names    map[string]struct{}
	bound    map[string]binding
}

// NewPrompt parses a template literal.
func NewPrompt(template stringLiteral) (*Prompt, error) {
	segs, err := parse(string(template))
	if err != nil {
		return nil, err
	}
	names := make(map[string]struct{})
	for _, s := range segs {
		if s.name != "" {
			names[s.name] = struct{}{}
		}
	}
	return &Prompt{segments: segs, names: names, bound: map[string]binding{}}, nil
}

// MustNewPrompt is NewPrompt for package-level templates; it panics on a
// malformed template.
func MustNewPrompt(template stringLiteral) *Prompt {
	p, err := NewPrompt(template)
	if err != nil {
		panic(err)
	}
	return p
}

// Placeholders returns the sorted placeholder names in the template.
func (p *Prompt) Placeholders() []string {
	return slices.Sorted(maps.Keys(p.names))
}

// Unbound returns the sorted placeholder names that have no binding yet.
func (p *Prompt) Unbound() []string {
	var out []string
	for _, n := range p.Placeholders() {
		if _, ok := p.bound[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}

func (p *Prompt) with(name string, b binding) (*Prompt, error) {
	if _, ok := p.names[name]; !ok {
		return nil, fmt.Errorf("placeholder %q not found in template", name)
	}
	if _, ok := p.bound[name]; ok {
		return nil, fmt.Errorf("placeholder %q already bound", name)
	}
	bound := maps.Clone(p.bound)
	bound[name] = b
	return &Prompt{segments: p.segments, names: p.names, bound: bound}, nil
}

// BindStringLiteral binds developer-written text to a placeholder.
func (p *Prompt) BindStringLiteral(name string, value stringLiteral) (*Prompt, error) {
	return p.with(name, literal(string(value)))
}

// BindJSON binds data rendered as indented JSON.
func (p *Prompt) BindJSON(name string, data any) (*Prompt, error) {
	return p.with(name, jsonOf(data))
}

// BindYAML binds data rendered as YAML.
func (p *Prompt) BindYAML(name string, data any) (*Prompt, error) {
	return p.with(name, yamlOf(data))
}

// Build renders the prompt. Bound values are substituted in a single pass,
// so placeholder syntax inside a value is emitted verbatim.
func (p *Prompt) Build() (string, error) {
	if missing := p.Unbound(); len(missing) > 0 {
		return "", fmt.Errorf("unbound placeholders: %s", strings.Join(missing, ", "))
	}

	values := make(map[string]string, len(p.bound))
	for name, b := range p.bound {
		v, err := b()
		if err != nil {
			return "", fmt.Errorf("rendering %s: %w", name, err)
		}
		values[name] = v
	}

	var sb strings.Builder
	for _, s := range p.segments {
		if s.name == "" {
			sb.WriteString(s.text)
		} else {
			sb.WriteString(values[s.name])
		}
	}
	return sb.String(), nil
}
