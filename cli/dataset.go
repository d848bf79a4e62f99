package cli

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/maploc/maploc/frames"
)

// RenameAction renames a directory of images to sequential frame names. It
// prints the plan and leaves the files alone unless --execute is passed.
func RenameAction(c *cli.Context) error {
	dir := c.Args().First()
	if dir == "" {
		return errors.New("specify the image directory to rename")
	}
	pairs, err := frames.PlanRename(dir)
	if err != nil {
		return err
	}
	for _, pair := range pairs {
		fmt.Fprintf(c.App.Writer, "%s -> %s\n", pair.Old, pair.New)
	}
	if !c.Bool(datasetFlagExecute) {
		fmt.Fprintf(c.App.Writer, "dry run: %d files would be renamed, pass --%s to apply\n",
			len(pairs), datasetFlagExecute)
		return nil
	}
	if err := frames.ApplyRename(dir, pairs, actionLogger(c)); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "renamed %d files\n", len(pairs))
	return nil
}

// SplitAction partitions a directory of images into train and test sets. It
// prints the plan and leaves the files alone unless --execute is passed.
func SplitAction(c *cli.Context) error {
	dir := c.Args().First()
	if dir == "" {
		return errors.New("specify the image directory to split")
	}
	mode := frames.SplitMode(c.String(splitFlagMode))
	plan, err := frames.PlanSplit(dir, c.Int(splitFlagTestCount), mode, c.Int64(locFlagSeed))
	if err != nil {
		return err
	}

	trainDir := c.Path(splitFlagTrainDir)
	if trainDir == "" {
		trainDir = filepath.Join(dir, "large_set_train")
	}
	testDir := c.Path(splitFlagTestDir)
	if testDir == "" {
		testDir = filepath.Join(dir, "large_set_test")
	}
	fmt.Fprintf(c.App.Writer, "%d train images -> %s\n", len(plan.Train), trainDir)
	fmt.Fprintf(c.App.Writer, "%d test images -> %s\n", len(plan.Test), testDir)
	for _, name := range plan.Test {
		fmt.Fprintf(c.App.Writer, "test %s\n", name)
	}
	if !c.Bool(datasetFlagExecute) {
		fmt.Fprintf(c.App.Writer, "dry run: pass --%s to move the files\n", datasetFlagExecute)
		return nil
	}
	if err := frames.ApplySplit(dir, plan, trainDir, testDir, actionLogger(c)); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "split applied")
	return nil
}
