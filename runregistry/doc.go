/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package runregistry defines the external record of issue runs.
//
// A Store guarantees that at most one run per issue is in progress at a
// time. StartIfAbsent is the only way to enter the in-progress state and
// it is atomic in every implementation:
//
//	ok, err := store.StartIfAbsent(ctx, runregistry.RunID("acme", "widget", 7), installationID)
//	if err != nil {
//		return err
//	}
//	if !ok {
//		// Another run is active for this issue.
//		return nil
//	}
//	defer store.Finish(ctx, id, runregistry.StatusCompleted, "")
//
// Two implementations are provided: badgerstore for a single replica with
// an embedded database and sqlstore for PostgreSQL or SQLite.
package runregistry
