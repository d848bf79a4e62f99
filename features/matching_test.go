package features

import (
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"go.viam.com/test"
)

func mustSet(t *testing.T, rows [][]float32) *DescriptorSet {
	t.Helper()
	set, err := DescriptorSetFromRows(rows)
	test.That(t, err, test.ShouldBeNil)
	return set
}

// farQueries places query descriptors on a well-separated diagonal so each
// map descriptor placed on the same diagonal has an unambiguous nearest
// neighbor.
func farQueries(n int) ([][]float32, []r2.Point) {
	rows := make([][]float32, n)
	kps := make([]r2.Point, n)
	for i := 0; i < n; i++ {
		c := float32(100 * (i + 1))
		rows[i] = []float32{c, c}
		kps[i] = r2.Point{X: float64(i), Y: float64(i + 1)}
	}
	return rows, kps
}

func TestMatchValidation(t *testing.T) {
	logger := golog.NewTestLogger(t)
	rows, kps := farQueries(4)
	query := mustSet(t, rows)

	_, err := MatchDescriptors(query, query, kps, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = MatchDescriptors(query, query, kps, &MatchConfig{RatioThreshold: 1.5}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = MatchDescriptors(query, query, kps[:2], DefaultMatchConfig(), logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "keypoints")

	threeDim := mustSet(t, [][]float32{{1, 2, 3}})
	_, err = MatchDescriptors(threeDim, query, kps, DefaultMatchConfig(), logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "dimension mismatch")
}

func TestRatioTestBoundary(t *testing.T) {
	logger := golog.NewTestLogger(t)

	// Query layout: q0 and q5 are the two nearest neighbors of map
	// descriptor m0 at distances exactly 3 and 4; q1..q4 exactly coincide
	// with m1..m4 far away on the diagonal.
	diag, _ := farQueries(4)
	queryRows := append([][]float32{{3, 0}}, diag...)
	queryRows = append(queryRows, []float32{4, 0})
	kps := make([]r2.Point, len(queryRows))
	for i := range kps {
		kps[i] = r2.Point{X: float64(10 * i), Y: 0}
	}
	query := mustSet(t, queryRows)
	mapSet := mustSet(t, append([][]float32{{0, 0}}, diag...))

	// 3 == 0.75 * 4: the boundary candidate must be rejected.
	got, err := MatchDescriptors(mapSet, query, kps, &MatchConfig{RatioThreshold: 0.75}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(got), test.ShouldEqual, 4)
	for _, c := range got {
		test.That(t, c.MapIndex, test.ShouldNotEqual, 0)
		test.That(t, c.Distance, test.ShouldEqual, 0)
	}

	// 3 < 0.76 * 4: the same candidate is now accepted.
	got, err = MatchDescriptors(mapSet, query, kps, &MatchConfig{RatioThreshold: 0.76}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(got), test.ShouldEqual, 5)
	test.That(t, got[0].MapIndex, test.ShouldEqual, 0)
	test.That(t, got[0].QueryIndex, test.ShouldEqual, 0)
	test.That(t, got[0].Point, test.ShouldResemble, kps[0])
	test.That(t, got[0].Distance, test.ShouldAlmostEqual, 3)
}

func TestDeduplicationKeepsMinimum(t *testing.T) {
	logger := golog.NewTestLogger(t)

	// m0 and m1 both pick q0 as nearest neighbor, at distances 1 and 0.5.
	diag, _ := farQueries(4)
	queryRows := append([][]float32{{0, 0}}, diag...)
	kps := make([]r2.Point, len(queryRows))
	for i := range kps {
		kps[i] = r2.Point{X: float64(i), Y: float64(-i)}
	}
	query := mustSet(t, queryRows)
	mapSet := mustSet(t, append([][]float32{{1, 0}, {0.5, 0}}, diag...))

	got, err := MatchDescriptors(mapSet, query, kps, DefaultMatchConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(got), test.ShouldEqual, 5)

	// The survivor for q0 sits at the position of its first acceptance and
	// carries the minimal distance.
	test.That(t, got[0].QueryIndex, test.ShouldEqual, 0)
	test.That(t, got[0].MapIndex, test.ShouldEqual, 1)
	test.That(t, got[0].Distance, test.ShouldAlmostEqual, 0.5)
	seen := map[int]int{}
	for _, c := range got {
		seen[c.QueryIndex]++
	}
	for queryIdx, count := range seen {
		test.That(t, count, test.ShouldEqual, 1)
		test.That(t, queryIdx, test.ShouldBeLessThan, len(kps))
	}
}

func TestInsufficientMatches(t *testing.T) {
	logger := golog.NewTestLogger(t)

	// Only 3 unambiguous matches exist.
	diag, kps := farQueries(3)
	query := mustSet(t, diag)
	mapSet := mustSet(t, diag)
	_, err := MatchDescriptors(mapSet, query, kps, DefaultMatchConfig(), logger)
	test.That(t, err, test.ShouldBeError, ErrInsufficientMatches)

	// Fewer than two query descriptors cannot pass a ratio test at all.
	one := mustSet(t, [][]float32{{1, 1}})
	_, err = MatchDescriptors(mapSet, one, []r2.Point{{X: 1, Y: 1}}, DefaultMatchConfig(), logger)
	test.That(t, err, test.ShouldBeError, ErrInsufficientMatches)

	// An empty map descriptor set can never produce candidates.
	empty, err2 := NewDescriptorSet(2)
	test.That(t, err2, test.ShouldBeNil)
	queryRows, queryKps := farQueries(4)
	_, err = MatchDescriptors(empty, mustSet(t, queryRows), queryKps, DefaultMatchConfig(), logger)
	test.That(t, err, test.ShouldBeError, ErrInsufficientMatches)
}
