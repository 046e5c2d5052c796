/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package params decodes raw tool-call arguments and extracts typed values
// from them. Every model provider delivers arguments as a JSON object, so the
// registry decodes once with Object and then pulls fields with Extract.
package params
