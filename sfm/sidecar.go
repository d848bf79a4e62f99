package sfm

import (
	"bufio"
	"context"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/maploc/maploc/features"
)

// KeypointSuffix is the filename convention for keypoint sidecars: one
// "x y" pair per line, aligned with the descriptor table rows.
const KeypointSuffix = "_kp.txt"

var _ features.Extractor = (*SidecarExtractor)(nil)

// SidecarExtractor implements the feature-extraction capability from
// precomputed sidecar files, for pipelines whose extraction ran offline next
// to the reconstruction.
type SidecarExtractor struct {
	dir              string
	descriptorSuffix string
	keypointSuffix   string
}

// NewSidecarExtractor creates an extractor reading sidecars from sidecarDir.
// An empty dir means the sidecars sit alongside each image.
func NewSidecarExtractor(sidecarDir string) *SidecarExtractor {
	return &SidecarExtractor{
		dir:              sidecarDir,
		descriptorSuffix: DescriptorSuffix,
		keypointSuffix:   KeypointSuffix,
	}
}

// Extract implements features.Extractor.
func (se *SidecarExtractor) Extract(ctx context.Context, imagePath string) ([]r2.Point, *features.DescriptorSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	dir := se.dir
	if dir == "" {
		dir = filepath.Dir(imagePath)
	}
	name := filepath.Base(imagePath)
	descriptors, err := ReadDescriptorTable(filepath.Join(dir, name+se.descriptorSuffix))
	if err != nil {
		return nil, nil, err
	}
	keypoints, err := ReadKeypointTable(filepath.Join(dir, name+se.keypointSuffix))
	if err != nil {
		return nil, nil, err
	}
	if len(keypoints) != descriptors.Len() {
		return nil, nil, errors.Errorf("sidecars for %s disagree: %d keypoints vs %d descriptors",
			name, len(keypoints), descriptors.Len())
	}
	return keypoints, descriptors, nil
}

// ReadKeypointTable parses a keypoint sidecar: one "x y" coordinate pair per
// line in keypoint order.
func ReadKeypointTable(path string) ([]r2.Point, error) {
	f, err := openArtifact(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	var points []r2.Point
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, errors.Errorf("expected \"x y\" on line %d of %s, got %d fields", lineNo, path, len(fields))
		}
		x, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "bad x coordinate on line %d of %s", lineNo, path)
		}
		y, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "bad y coordinate on line %d of %s", lineNo, path)
		}
		points = append(points, r2.Point{X: x, Y: y})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "error reading %s", path)
	}
	return points, nil
}
