package heal

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// TestHealSuite is the Ginkgo entry point for the behavioral specs in
// classify_ginkgo_test.go, run alongside the table-style stdlib tests in
// this package (matrix_test.go, engine_test.go).
func TestHealSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "heal: pending-matrix classification")
}
