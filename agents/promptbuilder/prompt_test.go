/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package promptbuilder

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewPrompt(t *testing.T) {
	tests := []struct {
		name     string
		template string
		want     []string
		wantErr  bool
	}{{
		name:     "no placeholders",
		template: "plain text",
	}, {
		name:     "single",
		template: "Hello {{name}}!",
		want:     []string{"name"},
	}, {
		name:     "spaces and repeats",
		template: "{{ a }} and {{b_2}} and {{a}}",
		want:     []string{"a", "b_2"},
	}, {
		name:     "unclosed",
		template: "Hello {{name",
		wantErr:  true,
	}, {
		name:     "leading digit",
		template: "{{2fast}}",
		wantErr:  true,
	}, {
		name:     "empty name",
		template: "{{}}",
		wantErr:  true,
	}, {
		name:     "punctuation",
		template: "{{a-b}}",
		wantErr:  true,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := NewPrompt(stringLiteral(tt.template))
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewPrompt() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if diff := cmp.Diff(tt.want, p.Placeholders()); diff != "" {
				t.Errorf("Placeholders() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuild(t *testing.T) {
	base := MustNewPrompt("Mode: {{mode}}\nContext:\n{{context}}\nData: {{data}}")

	p, err := base.BindStringLiteral("mode", "explore")
	if err != nil {
		t.Fatal(err)
	}
	p, err = p.BindYAML("context", map[string]any{"branch": "issueagent/issue-#1", "paths": []string{"a.go"}})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.Build(); err == nil || !strings.Contains(err.Error(), "data") {
		t.Fatalf("Build() with unbound data = %v, want unbound error naming data", err)
	}

	p, err = p.BindJSON("data", map[string]int{"n": 1})
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.Build()
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}

	want := "Mode: explore\nContext:\nbranch: issueagent/issue-#1\npaths:\n    - a.go\nData: {\n  \"n\": 1\n}"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Build() mismatch (-want +got):\n%s", diff)
	}

	if unbound := base.Unbound(); len(unbound) != 3 {
		t.Errorf("base prompt was modified: Unbound() = %v", unbound)
	}
}

func TestBindErrors(t *testing.T) {
	p := MustNewPrompt("{{a}}")
	if _, err := p.BindStringLiteral("missing", "x"); err == nil {
		t.Error("binding an unknown placeholder succeeded")
	}
	bound, err := p.BindStringLiteral("a", "x")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bound.BindJSON("a", 1); err == nil {
		t.Error("binding a placeholder twice succeeded")
	}
	if _, err := p.BindJSON("a", func() {}); err != nil {
		t.Fatalf("BindJSON() = %v; marshal errors surface at Build", err)
	}
	bad, _ := p.BindJSON("a", func() {})
	if _, err := bad.Build(); err == nil {
		t.Error("Build() with unmarshalable value succeeded")
	}
}

func TestNoTransitiveSubstitution(t *testing.T) {
	p := MustNewPrompt("{{a}} {{b}}")
	p, _ = p.BindYAML("a", "{{b}}")
	p, _ = p.BindStringLiteral("b", "B")
	got, err := p.Build()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "{{b}}") || !strings.HasSuffix(got, " B") || strings.HasPrefix(got, "B") {
		t.Errorf("Build() = %q, want the bound value emitted verbatim", got)
	}
}

func TestMustNewPromptPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustNewPrompt() did not panic on a malformed template")
		}
	}()
	MustNewPrompt("{{oops")
}
