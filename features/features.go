// Package features holds the keypoint/descriptor types shared across the
// localization pipeline, the interface to the external feature-extraction
// capability, and descriptor matching with ratio-test filtering.
//
// Extraction from raw pixels is deliberately outside this package; the
// pipeline consumes whatever extractor implementation the caller wires in.
package features

import (
	"context"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// DescriptorSet is an ordered collection of fixed-dimensionality float32
// descriptor vectors backed by one flat array.
type DescriptorSet struct {
	data []float32
	dim  int
}

// NewDescriptorSet creates an empty descriptor set of the given dimensionality.
func NewDescriptorSet(dim int) (*DescriptorSet, error) {
	if dim <= 0 {
		return nil, errors.Errorf("descriptor dimension must be positive, got %d", dim)
	}
	return &DescriptorSet{dim: dim}, nil
}

// DescriptorSetFromFlat wraps a flat row-major array of n*dim values without
// copying it. The caller must not mutate data afterwards.
func DescriptorSetFromFlat(data []float32, dim int) (*DescriptorSet, error) {
	if dim <= 0 {
		return nil, errors.Errorf("descriptor dimension must be positive, got %d", dim)
	}
	if len(data)%dim != 0 {
		return nil, errors.Errorf("flat descriptor array of length %d does not divide into rows of %d", len(data), dim)
	}
	return &DescriptorSet{data: data, dim: dim}, nil
}

// DescriptorSetFromRows copies a slice of equal-length rows into a set.
func DescriptorSetFromRows(rows [][]float32) (*DescriptorSet, error) {
	if len(rows) == 0 {
		return nil, errors.New("cannot infer descriptor dimension from zero rows")
	}
	set, err := NewDescriptorSet(len(rows[0]))
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := set.Append(row); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// Append adds one descriptor vector, which must match the set dimensionality.
func (ds *DescriptorSet) Append(vec []float32) error {
	if len(vec) != ds.dim {
		return errors.Errorf("descriptor has dimension %d, set holds %d", len(vec), ds.dim)
	}
	ds.data = append(ds.data, vec...)
	return nil
}

// At returns the i-th descriptor as a view into the backing array.
func (ds *DescriptorSet) At(i int) []float32 {
	return ds.data[i*ds.dim : (i+1)*ds.dim : (i+1)*ds.dim]
}

// Flat returns the backing row-major array. The returned slice shares
// storage with the set and must not be mutated.
func (ds *DescriptorSet) Flat() []float32 {
	return ds.data
}

// Len returns the number of descriptors.
func (ds *DescriptorSet) Len() int {
	if ds.dim == 0 {
		return 0
	}
	return len(ds.data) / ds.dim
}

// Dim returns the descriptor dimensionality.
func (ds *DescriptorSet) Dim() int {
	return ds.dim
}

// Extractor produces keypoints and index-aligned descriptors for an image on
// disk. Implementations wrap external feature-extraction capabilities; any
// read or decode problem surfaces as a single error.
type Extractor interface {
	Extract(ctx context.Context, imagePath string) ([]r2.Point, *DescriptorSet, error)
}
