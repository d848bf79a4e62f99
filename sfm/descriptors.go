package sfm

import (
	"bufio"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/maploc/maploc/features"
)

// DescriptorSuffix is the filename convention for descriptor sidecars: the
// table for frame_0001.jpg lives in frame_0001.jpg_desc.txt.
const DescriptorSuffix = "_desc.txt"

// ReadDescriptorTable parses one descriptor sidecar: one descriptor vector
// per line, whitespace-delimited integer components, in keypoint order. All
// rows must share one dimensionality and the table must not be empty.
func ReadDescriptorTable(path string) (*features.DescriptorSet, error) {
	f, err := openArtifact(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	var set *features.DescriptorSet
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		vec := make([]float32, len(fields))
		for i, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "bad descriptor component on line %d of %s", lineNo, path)
			}
			vec[i] = float32(v)
		}
		if set == nil {
			set, err = features.NewDescriptorSet(len(vec))
			if err != nil {
				return nil, errors.Wrapf(err, "line %d of %s", lineNo, path)
			}
		}
		if err := set.Append(vec); err != nil {
			return nil, errors.Wrapf(err, "line %d of %s", lineNo, path)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "error reading %s", path)
	}
	if set == nil {
		return nil, errors.Errorf("descriptor table %s is empty", path)
	}
	return set, nil
}

// LoadDescriptorTables loads the sidecar table for each named training
// image from sidecarDir, using name+suffix as the filename convention. A
// missing or unreadable sidecar excludes that image with a warning; it never
// fails the load. The returned map is keyed by image name.
func LoadDescriptorTables(
	imageNames []string,
	sidecarDir, suffix string,
	logger golog.Logger,
) map[string]*features.DescriptorSet {
	tables := make(map[string]*features.DescriptorSet, len(imageNames))
	for _, name := range imageNames {
		path := sidecarPath(sidecarDir, name, suffix)
		set, err := ReadDescriptorTable(path)
		if err != nil {
			if errors.Is(err, ErrMissingArtifact) {
				logger.Warnf("missing descriptor sidecar for %s", name)
			} else {
				logger.Warnw("skipping unreadable descriptor sidecar", "image", name, "error", err)
			}
			continue
		}
		tables[name] = set
	}
	logger.Infof("loaded descriptor tables for %d of %d images", len(tables), len(imageNames))
	return tables
}

func sidecarPath(dir, imageName, suffix string) string {
	if suffix == "" {
		suffix = DescriptorSuffix
	}
	return filepath.Join(dir, imageName+suffix)
}
