// Package atomic re-exports go.uber.org/atomic's integer and bool types,
// mirroring the teacher's own cmn/atomic indirection over its vendored
// 3rdparty/atomic. No other package of this module imports it.
/*
 * Copyright (c) 2026, Project Authors. All rights reserved.
 */
package atomic

import "go.uber.org/atomic"

type (
	Int32 = atomic.Int32
	Int64 = atomic.Int64
	Uint32 = atomic.Uint32
	Uint64 = atomic.Uint64
	Bool   = atomic.Bool
)
