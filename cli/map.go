package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/maploc/maploc/localize"
	"github.com/maploc/maploc/pointmap"
	"github.com/maploc/maploc/sfm"
)

// BuildAction builds a map from reconstruction artifacts and writes it to an
// archive.
func BuildAction(c *cli.Context) error {
	cfg := &pointmap.BuildConfig{
		PointsFile:    c.Path(mapFlagPoints),
		ImagesFile:    c.Path(mapFlagImages),
		ImageDir:      c.Path(mapFlagImageDir),
		SidecarDir:    c.Path(mapFlagSidecarDir),
		SidecarSuffix: c.String(mapFlagSidecarSuffix),
	}
	m, stats, err := pointmap.BuildFromReconstruction(cfg, actionLogger(c))
	if err != nil {
		return err
	}

	output := c.Path(mapFlagOutput)
	if err := m.Save(output); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "built map with %d of %d reconstructed points\n", stats.MapPoints, stats.PointsIn)
	if stats.Dropped() > 0 {
		fmt.Fprintf(c.App.Writer, "dropped %d: %d empty track, %d unknown image, %d missing table, %d keypoint out of range\n",
			stats.Dropped(), stats.EmptyTrack, stats.UnknownImage, stats.MissingTable, stats.IndexOutOfRange)
	}
	fmt.Fprintf(c.App.Writer, "wrote %s\n", output)
	return nil
}

// InfoAction loads a map and prints its summary as JSON.
func InfoAction(c *cli.Context) error {
	m, err := pointmap.LoadMap(c.Path(mapFlagPath))
	if err != nil {
		return err
	}
	info := localize.MapInfo{
		NumPoints:     m.Size(),
		DescriptorDim: m.Dim(),
		Bounds:        m.Bounds(),
	}
	out, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, string(out))
	return nil
}

// AnalyzeAction summarizes a reconstruction: point and track statistics,
// registry size, and descriptor sidecar coverage.
func AnalyzeAction(c *cli.Context) error {
	points, err := sfm.ReadPoints3D(c.Path(mapFlagPoints))
	if err != nil {
		return err
	}
	reg, err := sfm.ReadImages(c.Path(mapFlagImages))
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "%d reconstructed points, %d registered images\n", len(points), reg.Len())
	if err := printTrackSummary(c, points); err != nil {
		return err
	}

	sidecarDir := c.Path(mapFlagSidecarDir)
	if sidecarDir == "" {
		return nil
	}
	suffix := c.String(mapFlagSidecarSuffix)
	if suffix == "" {
		suffix = sfm.DescriptorSuffix
	}
	present := 0
	var missing []string
	for _, img := range reg.Images() {
		if _, err := os.Stat(filepath.Join(sidecarDir, img.Name+suffix)); err != nil {
			missing = append(missing, img.Name)
			continue
		}
		present++
	}
	fmt.Fprintf(c.App.Writer, "descriptor sidecars: %d present, %d missing\n", present, len(missing))
	for _, name := range missing {
		fmt.Fprintf(c.App.Writer, "  missing %s\n", name)
	}
	return nil
}

func printTrackSummary(c *cli.Context, points []sfm.Point3D) error {
	if len(points) == 0 {
		return nil
	}
	lengths := make([]float64, len(points))
	empty := 0
	for i, p := range points {
		lengths[i] = float64(len(p.Track))
		if len(p.Track) == 0 {
			empty++
		}
	}
	summary, err := summarize(lengths)
	if err != nil {
		return errors.Wrap(err, "error aggregating track lengths")
	}
	fmt.Fprintf(c.App.Writer, "track length: min %.0f median %.1f mean %.1f max %.0f\n",
		summary.min, summary.median, summary.mean, summary.max)
	if empty > 0 {
		fmt.Fprintf(c.App.Writer, "%d points have no observations and will not survive a build\n", empty)
	}
	return nil
}
