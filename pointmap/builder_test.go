package pointmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/maploc/maploc/features"
	"github.com/maploc/maploc/sfm"
)

func testRegistry(t *testing.T) *sfm.Registry {
	t.Helper()
	reg, err := sfm.NewRegistry([]sfm.Image{
		{ID: 1, CameraID: 1, Name: "frame_0001.jpg"},
		{ID: 2, CameraID: 1, Name: "frame_0002.jpg"},
	})
	test.That(t, err, test.ShouldBeNil)
	return reg
}

func testTables(t *testing.T) map[string]*features.DescriptorSet {
	t.Helper()
	first, err := features.DescriptorSetFromRows([][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
	})
	test.That(t, err, test.ShouldBeNil)
	second, err := features.DescriptorSetFromRows([][]float32{
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	})
	test.That(t, err, test.ShouldBeNil)
	return map[string]*features.DescriptorSet{
		"frame_0001.jpg": first,
		"frame_0002.jpg": second,
	}
}

func TestBuild(t *testing.T) {
	logger := golog.NewTestLogger(t)
	points := []sfm.Point3D{
		{ID: 1, Position: r3.Vector{X: 1, Y: 2, Z: 3}, Track: []sfm.Observation{{ImageID: 1, KeypointIndex: 0}}},
		{ID: 2, Position: r3.Vector{X: 4, Y: 5, Z: 6}, Track: []sfm.Observation{{ImageID: 2, KeypointIndex: 1}}},
	}

	m, stats, err := Build(points, testRegistry(t), testTables(t), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stats.MapPoints, test.ShouldEqual, 2)
	test.That(t, stats.Dropped(), test.ShouldEqual, 0)
	test.That(t, m.Size(), test.ShouldEqual, 2)
	test.That(t, m.Dim(), test.ShouldEqual, 4)
	test.That(t, m.Point(0), test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, m.Descriptors().At(0), test.ShouldResemble, []float32{1, 0, 0, 0})
	test.That(t, m.Descriptors().At(1), test.ShouldResemble, []float32{0, 0, 0, 1})
}

func TestBuildExclusions(t *testing.T) {
	logger := golog.NewTestLogger(t)
	points := []sfm.Point3D{
		// Kept.
		{ID: 1, Position: r3.Vector{X: 1, Y: 1, Z: 1}, Track: []sfm.Observation{{ImageID: 1, KeypointIndex: 1}}},
		// Empty track.
		{ID: 2, Position: r3.Vector{X: 2, Y: 2, Z: 2}},
		// First observation names an unregistered image; the resolvable
		// second observation does not rescue the point.
		{ID: 3, Position: r3.Vector{X: 3, Y: 3, Z: 3}, Track: []sfm.Observation{
			{ImageID: 99, KeypointIndex: 0},
			{ImageID: 1, KeypointIndex: 0},
		}},
		// Keypoint index beyond the table.
		{ID: 4, Position: r3.Vector{X: 4, Y: 4, Z: 4}, Track: []sfm.Observation{{ImageID: 1, KeypointIndex: 7}}},
		// Negative keypoint index.
		{ID: 5, Position: r3.Vector{X: 5, Y: 5, Z: 5}, Track: []sfm.Observation{{ImageID: 1, KeypointIndex: -1}}},
	}
	tables := testTables(t)
	delete(tables, "frame_0002.jpg")
	// Missing descriptor table.
	points = append(points, sfm.Point3D{
		ID: 6, Position: r3.Vector{X: 6, Y: 6, Z: 6},
		Track: []sfm.Observation{{ImageID: 2, KeypointIndex: 0}},
	})

	m, stats, err := Build(points, testRegistry(t), tables, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stats, test.ShouldResemble, BuildStats{
		PointsIn:        6,
		EmptyTrack:      1,
		UnknownImage:    1,
		MissingTable:    1,
		IndexOutOfRange: 2,
		MapPoints:       1,
	})
	test.That(t, m.Size(), test.ShouldEqual, 1)
	test.That(t, m.Descriptors().At(0), test.ShouldResemble, []float32{0, 1, 0, 0})
}

func TestBuildNothingSurvives(t *testing.T) {
	logger := golog.NewTestLogger(t)
	points := []sfm.Point3D{
		{ID: 1, Position: r3.Vector{X: 1, Y: 1, Z: 1}},
	}
	_, stats, err := Build(points, testRegistry(t), testTables(t), logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "survived")
	test.That(t, stats.EmptyTrack, test.ShouldEqual, 1)
}

func TestBuildConfigValidate(t *testing.T) {
	cfg := &BuildConfig{PointsFile: "p", ImagesFile: "i", ImageDir: "d"}
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	test.That(t, cfg.SidecarDir, test.ShouldEqual, "d")
	test.That(t, cfg.SidecarSuffix, test.ShouldEqual, sfm.DescriptorSuffix)

	for _, missing := range []*BuildConfig{
		{ImagesFile: "i", ImageDir: "d"},
		{PointsFile: "p", ImageDir: "d"},
		{PointsFile: "p", ImagesFile: "i"},
	} {
		test.That(t, missing.Validate(), test.ShouldNotBeNil)
	}
}

func TestBuildFromReconstruction(t *testing.T) {
	logger := golog.NewTestLogger(t)
	dir := t.TempDir()
	imgDir := filepath.Join(dir, "imgs")
	test.That(t, os.Mkdir(imgDir, 0o750), test.ShouldBeNil)

	writeFile := func(path, contents string) {
		test.That(t, os.WriteFile(path, []byte(contents), 0o640), test.ShouldBeNil)
	}
	writeFile(filepath.Join(dir, "points3D.txt"),
		"# 3D point list\n"+
			"1 1.0 2.0 3.0 255 0 0 0.5 1 0\n"+
			"2 4.0 5.0 6.0 0 255 0 0.1 2 1\n"+
			"3 7.0 8.0 9.0 0 0 255 0.2\n")
	writeFile(filepath.Join(dir, "images.txt"),
		"1 1 0 0 0 0 0 0 1 frame_0001.jpg\n"+
			"2 1 0 0 0 0 0 0 1 frame_0002.jpg\n")
	writeFile(filepath.Join(imgDir, "frame_0001.jpg"), "")
	writeFile(filepath.Join(imgDir, "frame_0002.jpg"), "")
	writeFile(filepath.Join(imgDir, "frame_0001.jpg"+sfm.DescriptorSuffix), "1 0 0 0\n0 1 0 0\n")
	writeFile(filepath.Join(imgDir, "frame_0002.jpg"+sfm.DescriptorSuffix), "0 0 1 0\n0 0 0 1\n")

	cfg := &BuildConfig{
		PointsFile: filepath.Join(dir, "points3D.txt"),
		ImagesFile: filepath.Join(dir, "images.txt"),
		ImageDir:   imgDir,
	}
	m, stats, err := BuildFromReconstruction(cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stats.MapPoints, test.ShouldEqual, 2)
	test.That(t, stats.EmptyTrack, test.ShouldEqual, 1)
	test.That(t, m.Size(), test.ShouldEqual, 2)
	test.That(t, m.Descriptors().At(0), test.ShouldResemble, []float32{1, 0, 0, 0})
	test.That(t, m.Descriptors().At(1), test.ShouldResemble, []float32{0, 0, 0, 1})

	// The built map survives a save/load cycle unchanged.
	mapPath := filepath.Join(dir, "map.npz")
	test.That(t, m.Save(mapPath), test.ShouldBeNil)
	loaded, err := LoadMap(mapPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded.Size(), test.ShouldEqual, m.Size())
	test.That(t, loaded.Dim(), test.ShouldEqual, m.Dim())
	for i := 0; i < m.Size(); i++ {
		test.That(t, loaded.Point(i), test.ShouldResemble, m.Point(i))
		test.That(t, loaded.Descriptors().At(i), test.ShouldResemble, m.Descriptors().At(i))
	}
}

func TestBuildFromReconstructionNoImages(t *testing.T) {
	logger := golog.NewTestLogger(t)
	dir := t.TempDir()
	writeFile := func(path, contents string) {
		test.That(t, os.WriteFile(path, []byte(contents), 0o640), test.ShouldBeNil)
	}
	writeFile(filepath.Join(dir, "points3D.txt"), "1 1 2 3 0 0 0 0.5 1 0\n")
	writeFile(filepath.Join(dir, "images.txt"), "1 1 0 0 0 0 0 0 1 frame_0001.jpg\n")

	cfg := &BuildConfig{
		PointsFile: filepath.Join(dir, "points3D.txt"),
		ImagesFile: filepath.Join(dir, "images.txt"),
		ImageDir:   dir,
	}
	_, _, err := BuildFromReconstruction(cfg, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no .jpg images")
}
