package heal

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/kylelemons/godebug/pretty"

	"github.com/replifs/afr/xattrop"
)

// matrixOf builds a Matrix directly from a row-major literal, bypassing
// BuildMatrix's blob decode so these specs can focus purely on
// Classify/PickSource behavior.
func matrixOf(rows [][]int64) *Matrix {
	return &Matrix{Kind: xattrop.KindData, N: len(rows), Rows: rows}
}

var _ = Describe("pending-matrix classification (spec §4.5, §8 B1/B2)", func() {
	It("B1: a single down peer is the only blamed child, and heals to a clean matrix", func() {
		// N=2, child 1 was down during a write: child 0 blames child 1.
		m := matrixOf([][]int64{
			{0, 1},
			{0, 0},
		})
		c := Classify(m, []int{0, 1})
		Expect(c.SplitBrain).To(BeFalse())
		Expect(c.Sources).To(Equal([]int{0}))
		Expect(c.Sinks).To(Equal([]int{1}))

		src, ok := PickSource(c)
		Expect(ok).To(BeTrue())
		Expect(src).To(Equal(0))

		healed := matrixOf([][]int64{
			{0, 0},
			{0, 0},
		})
		clean := Classify(healed, []int{0, 1})
		if !clean.AllClean {
			GinkgoT().Logf("unexpected residual matrix:\n%s", pretty.Sprint(healed.Rows))
		}
		Expect(clean.AllClean).To(BeTrue())
	})

	It("B2: writes on each side of an alternating outage produce split brain", func() {
		// N=2: child 1 blamed child 0 while 0 was down, and vice versa.
		m := matrixOf([][]int64{
			{0, 1},
			{1, 0},
		})
		c := Classify(m, []int{0, 1})
		if !c.SplitBrain {
			GinkgoT().Logf("expected split brain, got:\n%s", pretty.Sprint(m.Rows))
		}
		Expect(c.SplitBrain).To(BeTrue())
		Expect(c.Sources).To(BeEmpty())

		_, ok := PickSource(c)
		Expect(ok).To(BeFalse())
	})

	It("picks the lowest-index source when several children qualify", func() {
		m := matrixOf([][]int64{
			{0, 0, 1},
			{0, 0, 1},
			{0, 0, 0},
		})
		c := Classify(m, []int{0, 1, 2})
		Expect(c.Sources).To(ConsistOf(0, 1))
		Expect(c.Sinks).To(Equal([]int{2}))

		src, ok := PickSource(c)
		Expect(ok).To(BeTrue())
		Expect(src).To(Equal(0))
	})
})
