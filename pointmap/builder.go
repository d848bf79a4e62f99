package pointmap

import (
	"os"
	"sort"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/maploc/maploc/features"
	"github.com/maploc/maploc/sfm"
)

// BuildStats reports how reconstructed points fared during map construction.
type BuildStats struct {
	PointsIn        int
	EmptyTrack      int
	UnknownImage    int
	MissingTable    int
	IndexOutOfRange int
	MapPoints       int
}

// Dropped returns the number of reconstructed points excluded from the map.
func (s BuildStats) Dropped() int {
	return s.EmptyTrack + s.UnknownImage + s.MissingTable + s.IndexOutOfRange
}

// Build assembles a localization map from reconstructed points. Each point
// contributes the descriptor of its first track observation. Points whose
// first observation cannot be resolved, because the track is empty, the
// image id is unregistered, the image has no descriptor table, or the
// keypoint index falls outside the table, are dropped and counted.
func Build(
	points []sfm.Point3D,
	registry *sfm.Registry,
	tables map[string]*features.DescriptorSet,
	logger golog.Logger,
) (*Map, BuildStats, error) {
	stats := BuildStats{PointsIn: len(points)}
	xyz := make([]float32, 0, 3*len(points))
	var desc *features.DescriptorSet

	for _, p := range points {
		if len(p.Track) == 0 {
			stats.EmptyTrack++
			continue
		}
		obs := p.Track[0]
		name, ok := registry.NameForID(obs.ImageID)
		if !ok {
			stats.UnknownImage++
			continue
		}
		table, ok := tables[name]
		if !ok {
			stats.MissingTable++
			continue
		}
		if obs.KeypointIndex < 0 || obs.KeypointIndex >= table.Len() {
			stats.IndexOutOfRange++
			continue
		}
		if desc == nil {
			var err error
			desc, err = features.NewDescriptorSet(table.Dim())
			if err != nil {
				return nil, stats, err
			}
		}
		if err := desc.Append(table.At(obs.KeypointIndex)); err != nil {
			return nil, stats, errors.Wrapf(err, "descriptor table for %s", name)
		}
		xyz = append(xyz,
			float32(p.Position.X),
			float32(p.Position.Y),
			float32(p.Position.Z),
		)
		stats.MapPoints++
	}

	if stats.MapPoints == 0 {
		return nil, stats, errors.New("no reconstructed points survived map construction")
	}

	logger.Infof("built map with %d of %d reconstructed points", stats.MapPoints, stats.PointsIn)
	if stats.Dropped() > 0 {
		logger.Debugw("dropped reconstructed points",
			"empty_track", stats.EmptyTrack,
			"unknown_image", stats.UnknownImage,
			"missing_table", stats.MissingTable,
			"index_out_of_range", stats.IndexOutOfRange,
		)
	}

	m, err := NewMap(xyz, desc.Flat(), desc.Dim())
	if err != nil {
		return nil, stats, err
	}
	return m, stats, nil
}

// BuildConfig locates the reconstruction artifacts a map is built from.
type BuildConfig struct {
	PointsFile    string `json:"points_file"`
	ImagesFile    string `json:"images_file"`
	ImageDir      string `json:"image_dir"`
	SidecarDir    string `json:"sidecar_dir,omitempty"`
	SidecarSuffix string `json:"sidecar_suffix,omitempty"`
}

// Validate checks that the required artifact paths are set and fills in
// defaults: sidecars live alongside the images unless a directory is given.
func (cfg *BuildConfig) Validate() error {
	if cfg.PointsFile == "" {
		return errors.New("points_file is required")
	}
	if cfg.ImagesFile == "" {
		return errors.New("images_file is required")
	}
	if cfg.ImageDir == "" {
		return errors.New("image_dir is required")
	}
	if cfg.SidecarDir == "" {
		cfg.SidecarDir = cfg.ImageDir
	}
	if cfg.SidecarSuffix == "" {
		cfg.SidecarSuffix = sfm.DescriptorSuffix
	}
	return nil
}

// BuildFromReconstruction reads the reconstruction artifacts named by the
// config and builds a map from them.
func BuildFromReconstruction(cfg *BuildConfig, logger golog.Logger) (*Map, BuildStats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, BuildStats{}, err
	}

	points, err := sfm.ReadPoints3D(cfg.PointsFile)
	if err != nil {
		return nil, BuildStats{}, err
	}
	registry, err := sfm.ReadImages(cfg.ImagesFile)
	if err != nil {
		return nil, BuildStats{}, err
	}
	logger.Infof("read %d reconstructed points and %d registered images", len(points), registry.Len())

	names, err := listJPEGNames(cfg.ImageDir)
	if err != nil {
		return nil, BuildStats{}, err
	}
	if len(names) == 0 {
		return nil, BuildStats{}, errors.Errorf("no .jpg images found in %s", cfg.ImageDir)
	}
	tables := sfm.LoadDescriptorTables(names, cfg.SidecarDir, cfg.SidecarSuffix, logger)
	return Build(points, registry, tables, logger)
}

func listJPEGNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "error listing image directory %s", dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".jpg") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
