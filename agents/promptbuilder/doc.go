/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

/*
Package promptbuilder builds model prompts from developer-written templates
with {{name}} placeholders.

Templates must be string literals: NewPrompt takes an unexported string type,
so text computed at runtime (an issue body, a file) cannot become a template.
Runtime data is bound through an encoder instead, which keeps it from
introducing new placeholders:

	var instruction = promptbuilder.MustNewPrompt(`You are exploring {{repo}}.

	Context so far:
	{{context}}`)

	p, err := instruction.BindStringLiteral("repo", "the repository")
	p, err = p.BindYAML("context", turnContext)
	text, err := p.Build()

Templates are parsed once. Binding returns a new Prompt and never modifies
the receiver, so a package-level template can be shared by concurrent runs.
Build fails while any placeholder is unbound.
*/
package promptbuilder
