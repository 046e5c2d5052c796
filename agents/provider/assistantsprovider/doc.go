/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package assistantsprovider implements provider.Interface on the OpenAI
// Assistants API, where a reply is produced asynchronously by a run on a
// thread and has to be polled for.
//
// A Provider owns one thread and therefore serves exactly one
// conversation. The first call creates the thread from the user message
// and starts a run. A run that stops in requires_action yields its tool
// calls; the next call submits the tool results to that run. When the
// visible tool set changes between calls the pending run is cancelled and
// the results are posted as messages before a new run starts. Every
// waiting step goes through poll.Until with the configured interval,
// attempt budget and optional backoff.
package assistantsprovider
