// Package xattrop implements the Change-Log Codec (CLC, spec §4.1): a pure,
// stateless codec for the per-inode pending vector stored as an opaque
// extended attribute on each child. Three independent counter kinds — DATA,
// METADATA, ENTRY — share this one codec, keyed by xattr name.
/*
 * Copyright (c) 2026, Project Authors. All rights reserved.
 */
package xattrop

import (
	"encoding/binary"
	"fmt"

	"github.com/replifs/afr/cmn"
)

// Kind is one of the three independent counter kinds spec §3 names.
type Kind int

const (
	KindData Kind = iota
	KindMetadata
	KindEntry
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindMetadata:
		return "metadata"
	case KindEntry:
		return "entry"
	default:
		return "unknown"
	}
}

// Names are the stable ASCII xattr-name prefixes spec §6 requires every
// peer to agree on bit-for-bit.
const (
	XattrPrefix = "trusted.afr."
)

func (k Kind) XattrName() string {
	return XattrPrefix + k.String()
}

// Codec encodes/decodes/merges one N-wide pending vector. Construction is
// fixed at setup (spec §4.1: "widths are fixed at setup and MUST match
// between peers") — a Codec built for N=3 rejects any blob not exactly
// 8*N bytes wide.
type Codec struct {
	n int
}

func New(n int) *Codec {
	if n <= 0 {
		panic("xattrop: n must be positive")
	}
	return &Codec{n: n}
}

func (c *Codec) N() int { return c.n }

func (c *Codec) width() int { return 8 * c.n }

// zero returns an all-zero big-endian-encoded vector of the codec's width.
func (c *Codec) zero() []byte { return make([]byte, c.width()) }

// EncodeIncrement produces an N-entry vector where each index in peers is
// +1, all others 0 (spec §4.1 encode_increment).
func (c *Codec) EncodeIncrement(peers map[int]struct{}) []byte {
	return c.encodeSigned(peers, 1)
}

// EncodeDecrement produces an N-entry vector where each index in peers is
// -1, all others 0 (spec §4.1 encode_decrement).
func (c *Codec) EncodeDecrement(peers map[int]struct{}) []byte {
	return c.encodeSigned(peers, -1)
}

func (c *Codec) encodeSigned(peers map[int]struct{}, delta int64) []byte {
	buf := c.zero()
	for i := range peers {
		if i < 0 || i >= c.n {
			continue
		}
		binary.BigEndian.PutUint64(buf[i*8:i*8+8], uint64(delta))
	}
	return buf
}

// Merge element-wise sums existing and delta, flooring every result at 0
// (spec §4.1 merge: "results are never negative (floor 0)"). Pure function,
// no shared mutable state (concurrency invariant C3).
func (c *Codec) Merge(existing, delta []byte) ([]byte, error) {
	if len(existing) != c.width() {
		return nil, cmn.WrapMalformed(-1, len(existing), c.width())
	}
	if len(delta) != c.width() {
		return nil, cmn.WrapMalformed(-1, len(delta), c.width())
	}
	out := make([]byte, c.width())
	for i := 0; i < c.n; i++ {
		a := int64(binary.BigEndian.Uint64(existing[i*8 : i*8+8]))
		b := int64(binary.BigEndian.Uint64(delta[i*8 : i*8+8]))
		sum := a + b
		if sum < 0 {
			sum = 0
		}
		binary.BigEndian.PutUint64(out[i*8:i*8+8], uint64(sum))
	}
	return out, nil
}

// Decode signed-safe-decodes an opaque blob into a vector, for matrix
// classification, readability and diagnostics (spec §4.1 decode). A vector that round-trips through
// EncodeIncrement/Merge never goes negative, but Decode tolerates the raw
// bit pattern either way so malformed blobs can still be logged.
func (c *Codec) Decode(blob []byte) ([]int64, error) {
	if len(blob) != c.width() {
		return nil, cmn.WrapMalformed(-1, len(blob), c.width())
	}
	out := make([]int64, c.n)
	for i := 0; i < c.n; i++ {
		out[i] = int64(binary.BigEndian.Uint64(blob[i*8 : i*8+8]))
	}
	return out, nil
}

// Zero returns the codec's zero vector, exported for callers that need to
// seed a fresh xattr (e.g. subvol backends initializing a new inode).
func (c *Codec) Zero() []byte { return c.zero() }

func (c *Codec) String(blob []byte) string {
	v, err := c.Decode(blob)
	if err != nil {
		return fmt.Sprintf("<malformed: %v>", err)
	}
	return fmt.Sprint(v)
}
