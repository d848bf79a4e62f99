// Package pointmap stores a sparse 3D map as index-aligned point and
// descriptor arrays, builds such maps from SfM reconstructions, and
// persists them as compressed archives.
package pointmap

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/maploc/maploc/features"
)

// ErrMapIntegrity indicates the point and descriptor arrays of a map
// disagree about how many points the map contains.
var ErrMapIntegrity = errors.New("point and descriptor arrays are inconsistent")

// Bounds is the axis-aligned bounding box of the points in a map.
type Bounds struct {
	Min r3.Vector
	Max r3.Vector
}

// Map is an immutable localization map. Point i has its position at
// xyz[3i:3i+3] and its descriptor at row i of the descriptor set.
type Map struct {
	xyz    []float32
	desc   *features.DescriptorSet
	bounds Bounds
}

// NewMap builds a map from a flat xyz array (x0 y0 z0 x1 y1 z1 ...) and a
// flat row-major descriptor array of the given dimension. The arrays must
// describe the same number of points.
func NewMap(xyz, descriptors []float32, dim int) (*Map, error) {
	if len(xyz)%3 != 0 {
		return nil, errors.Wrapf(ErrMapIntegrity, "xyz array length %d is not divisible by 3", len(xyz))
	}
	n := len(xyz) / 3
	if n == 0 {
		return nil, errors.New("map contains no points")
	}
	desc, err := features.DescriptorSetFromFlat(descriptors, dim)
	if err != nil {
		return nil, err
	}
	if desc.Len() != n {
		return nil, errors.Wrapf(ErrMapIntegrity,
			"have %d points but %d descriptors", n, desc.Len())
	}
	return &Map{xyz: xyz, desc: desc, bounds: computeBounds(xyz)}, nil
}

func computeBounds(xyz []float32) Bounds {
	b := Bounds{
		Min: r3.Vector{X: math.MaxFloat64, Y: math.MaxFloat64, Z: math.MaxFloat64},
		Max: r3.Vector{X: -math.MaxFloat64, Y: -math.MaxFloat64, Z: -math.MaxFloat64},
	}
	for i := 0; i+2 < len(xyz); i += 3 {
		x := float64(xyz[i])
		y := float64(xyz[i+1])
		z := float64(xyz[i+2])
		if x < b.Min.X {
			b.Min.X = x
		}
		if y < b.Min.Y {
			b.Min.Y = y
		}
		if z < b.Min.Z {
			b.Min.Z = z
		}
		if x > b.Max.X {
			b.Max.X = x
		}
		if y > b.Max.Y {
			b.Max.Y = y
		}
		if z > b.Max.Z {
			b.Max.Z = z
		}
	}
	return b
}

// Size returns the number of points in the map.
func (m *Map) Size() int {
	return len(m.xyz) / 3
}

// Dim returns the descriptor dimension.
func (m *Map) Dim() int {
	return m.desc.Dim()
}

// Point returns the world position of point i.
func (m *Map) Point(i int) r3.Vector {
	return r3.Vector{
		X: float64(m.xyz[3*i]),
		Y: float64(m.xyz[3*i+1]),
		Z: float64(m.xyz[3*i+2]),
	}
}

// Descriptors returns the descriptor set backing the map. The returned set
// shares storage with the map and must not be modified.
func (m *Map) Descriptors() *features.DescriptorSet {
	return m.desc
}

// Bounds returns the bounding box of the map computed at construction.
func (m *Map) Bounds() Bounds {
	return m.bounds
}
