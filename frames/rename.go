package frames

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
)

// RenamePair maps one existing file to its sequential target name. Both
// names are relative to the planned directory.
type RenamePair struct {
	Old string
	New string
}

// PlanRename assigns zero-padded sequential names of the form frame_0001.jpg
// to the image files of dir, in ascending name order, preserving each file's
// extension. The plan mutates nothing.
func PlanRename(dir string) ([]RenamePair, error) {
	names, err := List(dir)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, errors.Errorf("no image files found in %s", dir)
	}
	width := nameWidth(len(names))
	pairs := make([]RenamePair, len(names))
	for i, name := range names {
		pairs[i] = RenamePair{
			Old: name,
			New: fmt.Sprintf("frame_%0*d%s", width, i+1, filepath.Ext(name)),
		}
	}
	return pairs, nil
}

// nameWidth is the zero-padding width for n files, never narrower than 4
// digits.
func nameWidth(n int) int {
	if width := len(strconv.Itoa(n)); width > 4 {
		return width
	}
	return 4
}

// ApplyRename executes a rename plan in two phases, first moving every
// source aside to a staging name, so that a target name colliding with a
// not-yet-renamed source never overwrites it.
func ApplyRename(dir string, pairs []RenamePair, logger golog.Logger) error {
	staged := make([]string, len(pairs))
	for i, pair := range pairs {
		tmp := "_temp_" + pair.Old
		if err := os.Rename(filepath.Join(dir, pair.Old), filepath.Join(dir, tmp)); err != nil {
			return errors.Wrapf(err, "error staging %s", pair.Old)
		}
		staged[i] = tmp
	}
	for i, pair := range pairs {
		if err := os.Rename(filepath.Join(dir, staged[i]), filepath.Join(dir, pair.New)); err != nil {
			return errors.Wrapf(err, "error renaming %s to %s", pair.Old, pair.New)
		}
	}
	logger.Infof("renamed %d files in %s", len(pairs), dir)
	return nil
}
