// Package camera models the ideal pinhole camera used by the localization
// pipeline: intrinsics with zero skew and zero lens distortion, loaded from
// JSON, plus the projection helpers built on them.
package camera

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is when camera intrinsic parameters are missing or unusable.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intrinsics are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// Intrinsics holds the parameters of an ideal pinhole camera: focal lengths
// and principal point in pixels. Skew and distortion are fixed at zero.
type Intrinsics struct {
	Fx float64 `json:"fx"`
	Fy float64 `json:"fy"`
	Cx float64 `json:"cx"`
	Cy float64 `json:"cy"`
}

// CheckValid checks if the fields for Intrinsics have valid inputs.
func (params *Intrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("intrinsics do not exist")
	}
	for _, v := range []float64{params.Fx, params.Fy, params.Cx, params.Cy} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return NewNoIntrinsicsError(fmt.Sprintf("non-finite parameter in %+v", *params))
		}
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("invalid focal length fx = %v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("invalid focal length fy = %v", params.Fy))
	}
	if params.Cx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("invalid principal x point cx = %v", params.Cx))
	}
	if params.Cy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("invalid principal y point cy = %v", params.Cy))
	}
	return nil
}

// Matrix assembles the 3x3 intrinsics matrix with zero skew.
func (params *Intrinsics) Matrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		params.Fx, 0, params.Cx,
		0, params.Fy, params.Cy,
		0, 0, 1,
	})
}

// PrincipalPoint returns the principal point in pixel coordinates.
func (params *Intrinsics) PrincipalPoint() r2.Point {
	return r2.Point{X: params.Cx, Y: params.Cy}
}

// ProjectPoint projects a camera-frame 3D point onto the image plane without
// rounding. The second return is false when the point has non-positive depth
// and no projection exists.
func (params *Intrinsics) ProjectPoint(p r3.Vector) (r2.Point, bool) {
	if p.Z <= 0 {
		return r2.Point{}, false
	}
	return r2.Point{
		X: (p.X/p.Z)*params.Fx + params.Cx,
		Y: (p.Y/p.Z)*params.Fy + params.Cy,
	}, true
}

// Bearing back-projects a pixel into the unit-norm viewing direction in the
// camera frame.
func (params *Intrinsics) Bearing(pt r2.Point) r3.Vector {
	return r3.Vector{
		X: (pt.X - params.Cx) / params.Fx,
		Y: (pt.Y - params.Cy) / params.Fy,
		Z: 1,
	}.Normalize()
}

// intrinsicsEnvelope mirrors the ground-truth file layout, where the
// intrinsics object sits under a "camera_intrinsics" key.
type intrinsicsEnvelope struct {
	CameraIntrinsics *Intrinsics `json:"camera_intrinsics"`
}

// LoadIntrinsics reads pinhole intrinsics from a JSON file. The object may
// appear flat or nested under a "camera_intrinsics" key; either way the
// parameters are validated before being returned, never defaulted.
func LoadIntrinsics(jsonPath string) (*Intrinsics, error) {
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening intrinsics file")
	}
	defer utils.UncheckedErrorFunc(jsonFile.Close)
	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading intrinsics file")
	}
	return ParseIntrinsics(byteValue)
}

// ParseIntrinsics parses intrinsics from raw JSON, accepting both the flat
// and the enveloped layout.
func ParseIntrinsics(raw []byte) (*Intrinsics, error) {
	envelope := intrinsicsEnvelope{}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, errors.Wrap(err, "error parsing intrinsics JSON")
	}
	intrinsics := envelope.CameraIntrinsics
	if intrinsics == nil {
		intrinsics = &Intrinsics{}
		if err := json.Unmarshal(raw, intrinsics); err != nil {
			return nil, errors.Wrap(err, "error parsing intrinsics JSON")
		}
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	return intrinsics, nil
}
