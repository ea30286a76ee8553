// Package subvol implements the Child Subvolume Handle (CSH, spec §3): the
// concrete backend behind each replica. A CSH satisfies fops.Dispatcher and
// additionally reports its own liveness, the signal event.Router consumes.
/*
 * Copyright (c) 2026, Project Authors. All rights reserved.
 */
package subvol

import (
	"context"

	"github.com/replifs/afr/fops"
)

// Subvol is one child: a fops.Dispatcher plus a liveness probe. Every
// backend in this package (local disk, S3, GCS, Azure blob, HDFS)
// implements this same shape, so the translator never special-cases a
// particular storage medium.
type Subvol interface {
	fops.Dispatcher

	// Name identifies this child for logging and the status endpoint.
	Name() string

	// Ping performs a cheap liveness check; a non-nil error means the
	// child should be treated as down for this cycle (spec §4.6 up/down
	// transition detection).
	Ping(ctx context.Context) error

	// Close releases any held resources (file descriptors, client
	// connections) on shutdown.
	Close() error
}
