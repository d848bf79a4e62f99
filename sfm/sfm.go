// Package sfm ingests the text outputs of a structure-from-motion
// reconstruction: the 3D points file with observation tracks, the image
// registry with ground-truth camera poses, and the per-image descriptor
// sidecar tables keyed by filename convention.
package sfm

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/num/quat"

	"github.com/maploc/maploc/spatial"
)

// ErrMissingArtifact is returned when a reconstruction file is absent. The
// caller decides whether that is fatal: a missing points file is, a missing
// descriptor sidecar only shrinks coverage.
var ErrMissingArtifact = errors.New("required artifact file is missing")

// maxLineBytes bounds scanner tokens; observation tracks can make point
// records far longer than the default bufio limit.
const maxLineBytes = 4 * 1024 * 1024

// Observation is one (image, keypoint) entry of a point's track.
type Observation struct {
	ImageID       int
	KeypointIndex int
}

// Point3D is a reconstructed world point and the observations that produced it.
type Point3D struct {
	ID       int64
	Position r3.Vector
	// Error is the reconstruction's reprojection error for this point. It is
	// parsed for completeness and ignored by the localization pipeline.
	Error float64
	Track []Observation
}

// Image is one registry entry: the image name plus its reconstructed
// world-to-camera pose, used as ground truth during evaluation.
type Image struct {
	ID          int
	Rotation    quat.Number
	Translation r3.Vector
	CameraID    int
	Name        string
}

// CameraCenter derives the image's world-space camera center from its
// world-to-camera pose.
func (img *Image) CameraCenter() r3.Vector {
	return spatial.CameraCenter(spatial.QuatToRotationMatrix(img.Rotation), img.Translation)
}

// Registry indexes registry images by id and by name, preserving file order.
type Registry struct {
	images []Image
	byID   map[int]int
	byName map[string]int
}

// NewRegistry builds a registry from parsed images, rejecting duplicate ids.
func NewRegistry(images []Image) (*Registry, error) {
	reg := &Registry{
		images: images,
		byID:   make(map[int]int, len(images)),
		byName: make(map[string]int, len(images)),
	}
	for i, img := range images {
		if _, ok := reg.byID[img.ID]; ok {
			return nil, errors.Errorf("duplicate image id %d in registry", img.ID)
		}
		reg.byID[img.ID] = i
		reg.byName[img.Name] = i
	}
	return reg, nil
}

// Len returns the number of registered images.
func (reg *Registry) Len() int {
	return len(reg.images)
}

// Images returns the registered images in file order.
func (reg *Registry) Images() []Image {
	return reg.images
}

// ByID looks an image up by its reconstruction id.
func (reg *Registry) ByID(id int) (Image, bool) {
	i, ok := reg.byID[id]
	if !ok {
		return Image{}, false
	}
	return reg.images[i], true
}

// ByName looks an image up by filename.
func (reg *Registry) ByName(name string) (Image, bool) {
	i, ok := reg.byName[name]
	if !ok {
		return Image{}, false
	}
	return reg.images[i], true
}

// NameForID resolves an image id to its filename.
func (reg *Registry) NameForID(id int) (string, bool) {
	img, ok := reg.ByID(id)
	return img.Name, ok
}

func openArtifact(path string) (*os.File, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrMissingArtifact, "%s", path)
		}
		return nil, errors.Wrapf(err, "error opening %s", path)
	}
	return f, nil
}

// ReadPoints3D parses a reconstruction points file. One record per line,
// whitespace-delimited: ID X Y Z R G B ERROR followed by (IMAGE_ID
// POINT2D_IDX) pairs. Comment and blank lines are skipped, as are lines with
// fewer than 8 fields; a dangling unpaired track field is ignored.
func ReadPoints3D(path string) ([]Point3D, error) {
	f, err := openArtifact(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	var points []Point3D
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 8 {
			continue
		}
		pt, err := parsePoint3D(fields)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d of %s", lineNo, path)
		}
		points = append(points, pt)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "error reading %s", path)
	}
	return points, nil
}

func parsePoint3D(fields []string) (Point3D, error) {
	pt := Point3D{}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return pt, errors.Wrap(err, "bad point id")
	}
	pt.ID = id
	coords := [3]float64{}
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(fields[1+i], 64)
		if err != nil {
			return pt, errors.Wrap(err, "bad point coordinate")
		}
		coords[i] = v
	}
	pt.Position = r3.Vector{X: coords[0], Y: coords[1], Z: coords[2]}
	// Fields 4..6 are the RGB color, unused here.
	reprojErr, err := strconv.ParseFloat(fields[7], 64)
	if err != nil {
		return pt, errors.Wrap(err, "bad point error field")
	}
	pt.Error = reprojErr
	for i := 8; i+1 < len(fields); i += 2 {
		imgID, err := strconv.Atoi(fields[i])
		if err != nil {
			return pt, errors.Wrap(err, "bad track image id")
		}
		kpIdx, err := strconv.Atoi(fields[i+1])
		if err != nil {
			return pt, errors.Wrap(err, "bad track keypoint index")
		}
		pt.Track = append(pt.Track, Observation{ImageID: imgID, KeypointIndex: kpIdx})
	}
	return pt, nil
}

// ReadImages parses an image registry file. Only lines with exactly 10
// whitespace-delimited fields are consumed: IMAGE_ID QW QX QY QZ TX TY TZ
// CAMERA_ID NAME. The alternating per-image keypoint lines never have 10
// fields and fall out of this filter.
func ReadImages(path string) (*Registry, error) {
	f, err := openArtifact(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	var images []Image
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 10 {
			continue
		}
		img, err := parseImage(fields)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d of %s", lineNo, path)
		}
		images = append(images, img)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "error reading %s", path)
	}
	return NewRegistry(images)
}

func parseImage(fields []string) (Image, error) {
	img := Image{}
	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return img, errors.Wrap(err, "bad image id")
	}
	img.ID = id
	vals := [7]float64{}
	for i := 0; i < 7; i++ {
		v, err := strconv.ParseFloat(fields[1+i], 64)
		if err != nil {
			return img, errors.Wrap(err, "bad pose value")
		}
		vals[i] = v
	}
	img.Rotation = quat.Number{Real: vals[0], Imag: vals[1], Jmag: vals[2], Kmag: vals[3]}
	img.Translation = r3.Vector{X: vals[4], Y: vals[5], Z: vals[6]}
	camID, err := strconv.Atoi(fields[8])
	if err != nil {
		return img, errors.Wrap(err, "bad camera id")
	}
	img.CameraID = camID
	img.Name = fields[9]
	return img, nil
}
