package features

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// MinMatches is the smallest number of surviving correspondences a match
// call may return; below it the whole call fails.
const MinMatches = 4

// ErrInsufficientMatches is returned when fewer than MinMatches
// correspondences survive ratio filtering and deduplication.
var ErrInsufficientMatches = errors.New("not enough feature matches found")

// MatchConfig holds the parameters for descriptor matching.
type MatchConfig struct {
	// RatioThreshold is the Lowe ratio test bound: the best distance must be
	// strictly below RatioThreshold times the second-best distance.
	RatioThreshold float64 `json:"ratio_threshold"`
}

// DefaultMatchConfig returns the standard matching parameters.
func DefaultMatchConfig() *MatchConfig {
	return &MatchConfig{RatioThreshold: 0.75}
}

func (cfg *MatchConfig) validate() error {
	if cfg == nil {
		return errors.New("match config cannot be nil")
	}
	if cfg.RatioThreshold <= 0 || cfg.RatioThreshold > 1 {
		return errors.Errorf("ratio threshold must be in (0, 1], got %v", cfg.RatioThreshold)
	}
	return nil
}

// Correspondence pairs a map point index with the observed 2D location of
// the query keypoint it matched.
type Correspondence struct {
	MapIndex   int
	QueryIndex int
	Point      r2.Point
	Distance   float64
}

// MatchDescriptors produces 2D-3D correspondences between the map's
// descriptors and a query image's descriptors/keypoints.
//
// For every map descriptor the two nearest query descriptors are found by
// Euclidean distance and the nearest is accepted only under the strict ratio
// test. Accepted candidates are then deduplicated per query keypoint index,
// keeping the smallest distance, so one query keypoint never yields two
// correspondences. Map-side uniqueness is not enforced beyond each map
// descriptor producing at most one candidate.
func MatchDescriptors(
	mapDesc, queryDesc *DescriptorSet,
	queryKeypoints []r2.Point,
	cfg *MatchConfig,
	logger golog.Logger,
) ([]Correspondence, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if mapDesc == nil || queryDesc == nil {
		return nil, errors.New("descriptor sets cannot be nil")
	}
	if queryDesc.Len() != len(queryKeypoints) {
		return nil, errors.Errorf("got %d query descriptors for %d keypoints", queryDesc.Len(), len(queryKeypoints))
	}
	if mapDesc.Len() > 0 && queryDesc.Len() > 0 && mapDesc.Dim() != queryDesc.Dim() {
		return nil, errors.Errorf("descriptor dimension mismatch: map %d vs query %d", mapDesc.Dim(), queryDesc.Dim())
	}
	if queryDesc.Len() < 2 {
		// The ratio test needs two neighbors.
		return nil, ErrInsufficientMatches
	}

	accepted := make([]Correspondence, 0, mapDesc.Len())
	// Candidate slot per query index, pointing into accepted. Replacement
	// happens in place so output order follows first acceptance per keypoint.
	slots := map[int]int{}
	ratioKept := 0
	for i := 0; i < mapDesc.Len(); i++ {
		best, second := math.MaxFloat32, math.MaxFloat32
		bestIdx := -1
		d := mapDesc.At(i)
		for j := 0; j < queryDesc.Len(); j++ {
			dist := float64(squaredL2(d, queryDesc.At(j)))
			switch {
			case dist < best:
				best, second = dist, best
				bestIdx = j
			case dist < second:
				second = dist
			}
		}
		// Compare true distances so the strict inequality holds exactly at
		// the threshold boundary.
		d1, d2 := math.Sqrt(best), math.Sqrt(second)
		if d1 >= cfg.RatioThreshold*d2 {
			continue
		}
		ratioKept++
		if slot, ok := slots[bestIdx]; ok {
			if d1 < accepted[slot].Distance {
				accepted[slot] = Correspondence{MapIndex: i, QueryIndex: bestIdx, Point: queryKeypoints[bestIdx], Distance: d1}
			}
			continue
		}
		slots[bestIdx] = len(accepted)
		accepted = append(accepted, Correspondence{MapIndex: i, QueryIndex: bestIdx, Point: queryKeypoints[bestIdx], Distance: d1})
	}

	if logger != nil {
		logger.Debugf("ratio test kept %d of %d map descriptors, %d after deduplication",
			ratioKept, mapDesc.Len(), len(accepted))
	}
	if len(accepted) < MinMatches {
		return nil, ErrInsufficientMatches
	}
	return accepted, nil
}

// squaredL2 is the generic squared Euclidean distance kernel over float32
// vectors of equal length.
func squaredL2(a, b []float32) float32 {
	var distance float32
	for i := range a {
		d := a[i] - b[i]
		distance += d * d
	}
	return distance
}
