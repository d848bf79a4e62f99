package frames

import (
	"math/rand"
	"os"
	"path/filepath"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
)

// SplitMode selects how test frames are chosen from the sorted listing.
type SplitMode string

const (
	// EvenlySpaced picks test frames at indexes floor(i*total/testCount).
	EvenlySpaced SplitMode = "even"
	// SeededRandom samples test frames uniformly with a fixed seed.
	SeededRandom SplitMode = "random"
)

// DefaultSplitSeed seeds SeededRandom splits unless a caller overrides it.
const DefaultSplitSeed = 42

// SplitPlan partitions a directory's image files into disjoint train and
// test subsets, each in ascending name order.
type SplitPlan struct {
	Train []string
	Test  []string
}

// PlanSplit partitions the image files of dir, reserving testCount of them
// for the test subset. The plan mutates nothing and is deterministic for a
// given mode and seed.
func PlanSplit(dir string, testCount int, mode SplitMode, seed int64) (*SplitPlan, error) {
	names, err := List(dir)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, errors.Errorf("no image files found in %s", dir)
	}
	if testCount <= 0 {
		return nil, errors.Errorf("test count must be positive, got %d", testCount)
	}
	total := len(names)
	if testCount >= total {
		return nil, errors.Errorf("test count %d must be less than the %d images found", testCount, total)
	}

	testIdx := make(map[int]bool, testCount)
	switch mode {
	case EvenlySpaced:
		for i := 0; i < testCount; i++ {
			testIdx[i*total/testCount] = true
		}
	case SeededRandom:
		rng := rand.New(rand.NewSource(seed))
		for _, idx := range rng.Perm(total)[:testCount] {
			testIdx[idx] = true
		}
	default:
		return nil, errors.Errorf("unknown split mode %q", mode)
	}

	plan := &SplitPlan{
		Train: make([]string, 0, total-testCount),
		Test:  make([]string, 0, testCount),
	}
	for i, name := range names {
		if testIdx[i] {
			plan.Test = append(plan.Test, name)
		} else {
			plan.Train = append(plan.Train, name)
		}
	}
	return plan, nil
}

// ApplySplit moves the planned files out of dir into the train and test
// directories, creating them as needed.
func ApplySplit(dir string, plan *SplitPlan, trainDir, testDir string, logger golog.Logger) error {
	if err := os.MkdirAll(trainDir, 0o755); err != nil {
		return errors.Wrapf(err, "error creating %s", trainDir)
	}
	if err := os.MkdirAll(testDir, 0o755); err != nil {
		return errors.Wrapf(err, "error creating %s", testDir)
	}
	for _, name := range plan.Train {
		if err := os.Rename(filepath.Join(dir, name), filepath.Join(trainDir, name)); err != nil {
			return errors.Wrapf(err, "error moving %s", name)
		}
	}
	for _, name := range plan.Test {
		if err := os.Rename(filepath.Join(dir, name), filepath.Join(testDir, name)); err != nil {
			return errors.Wrapf(err, "error moving %s", name)
		}
	}
	logger.Infof("moved %d train and %d test files out of %s", len(plan.Train), len(plan.Test), dir)
	return nil
}
