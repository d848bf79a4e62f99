package features

import (
	"context"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

var _ Extractor = (*StaticExtractor)(nil)

type staticEntry struct {
	keypoints   []r2.Point
	descriptors *DescriptorSet
}

// StaticExtractor serves preloaded keypoints and descriptors keyed by image
// path. It backs synthetic benchmarks and tests where no real extraction
// capability is attached.
type StaticExtractor struct {
	entries map[string]staticEntry
}

// NewStaticExtractor creates an empty static extractor.
func NewStaticExtractor() *StaticExtractor {
	return &StaticExtractor{entries: map[string]staticEntry{}}
}

// AddImage registers the features returned for a given image path.
func (se *StaticExtractor) AddImage(imagePath string, keypoints []r2.Point, descriptors *DescriptorSet) error {
	if descriptors == nil || descriptors.Len() != len(keypoints) {
		return errors.New("keypoints and descriptors must be aligned")
	}
	se.entries[imagePath] = staticEntry{keypoints: keypoints, descriptors: descriptors}
	return nil
}

// Extract implements Extractor.
func (se *StaticExtractor) Extract(ctx context.Context, imagePath string) ([]r2.Point, *DescriptorSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	entry, ok := se.entries[imagePath]
	if !ok {
		return nil, nil, errors.Errorf("no features registered for %q", imagePath)
	}
	return entry.keypoints, entry.descriptors, nil
}
