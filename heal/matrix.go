// Package heal implements the Self-Heal Engine (SHE, spec §4.5): pending
// matrix classification into sources/sinks, split-brain detection, and the
// content/metadata/entry sync procedure that brings sinks back in line with
// a chosen source.
/*
 * Copyright (c) 2026, Project Authors. All rights reserved.
 */
package heal

import (
	"fmt"
	"strings"

	"github.com/replifs/afr/cmn/metrics"
	"github.com/replifs/afr/xattrop"
)

// Matrix is M[observer][subject] for one counter kind, spec §4.5 step 2
// ("Assemble M[i][j] for each counter kind. Zero the diagonal").
type Matrix struct {
	Kind xattrop.Kind
	N    int
	Rows [][]int64 // Rows[i][j]
}

// BuildMatrix decodes each live child's raw pending blob into one row and
// zeroes the diagonal.
func BuildMatrix(codec *xattrop.Codec, kind xattrop.Kind, blobs map[int][]byte, live []int) (*Matrix, error) {
	n := codec.N()
	rows := make([][]int64, n)
	for i := 0; i < n; i++ {
		rows[i] = make([]int64, n)
	}
	for _, i := range live {
		blob, ok := blobs[i]
		if !ok {
			continue
		}
		v, err := codec.Decode(blob)
		if err != nil {
			return nil, fmt.Errorf("heal: decode child %d: %w", i, err)
		}
		copy(rows[i], v)
		rows[i][i] = 0
	}
	return &Matrix{Kind: kind, N: n, Rows: rows}, nil
}

// Classification is the spec §4.5 step 3 result.
type Classification struct {
	Sources    []int
	Sinks      []int
	SplitBrain bool
	AllClean   bool
}

// Classify implements spec §4.5 step 3: S = children with no peer blaming
// them; K = up children minus S; split brain if S is empty but the matrix
// has any non-zero entry.
func Classify(m *Matrix, up []int) Classification {
	upSet := make(map[int]struct{}, len(up))
	for _, i := range up {
		upSet[i] = struct{}{}
	}

	anyNonZero := false
	var sources []int
	for _, i := range up {
		blamed := false
		for j := 0; j < m.N; j++ {
			if j == i {
				continue
			}
			if m.Rows[j][i] != 0 {
				blamed = true
				anyNonZero = true
			}
		}
		if !blamed {
			sources = append(sources, i)
		}
	}
	// also scan rows from down children's perspective contributes to
	// anyNonZero even if they can't be a blaming j above (down children
	// aren't in `up`, but their historical blame was already captured when
	// they were live and written into rows[j] for j==that child; a down
	// child's row is simply whatever was last observed).
	for i := 0; i < m.N; i++ {
		for j := 0; j < m.N; j++ {
			if i != j && m.Rows[i][j] != 0 {
				anyNonZero = true
			}
		}
	}

	if len(sources) == 0 && anyNonZero {
		metrics.HealSplitBrainTotal.WithLabelValues(m.Kind.String()).Inc()
		return Classification{SplitBrain: true}
	}
	if !anyNonZero {
		return Classification{Sources: up, AllClean: true}
	}

	sourceSet := make(map[int]struct{}, len(sources))
	for _, s := range sources {
		sourceSet[s] = struct{}{}
	}
	var sinks []int
	for _, i := range up {
		if _, ok := sourceSet[i]; !ok {
			sinks = append(sinks, i)
		}
	}
	return Classification{Sources: sources, Sinks: sinks}
}

// PickSource deterministically selects the lowest-index source, spec §4.5
// step 4.
func PickSource(c Classification) (src int, ok bool) {
	if len(c.Sources) == 0 {
		return 0, false
	}
	best := c.Sources[0]
	for _, s := range c.Sources[1:] {
		if s < best {
			best = s
		}
	}
	return best, true
}

func (m *Matrix) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s-matrix:", m.Kind)
	for i, row := range m.Rows {
		fmt.Fprintf(&b, " [%d]=%v", i, row)
	}
	return b.String()
}
