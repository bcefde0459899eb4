package region

import (
	"fmt"

	"github.com/carbocation/gxstats/volume"
	"github.com/carbocation/pfx"
)

// Split is one region cut out of its source volume: the (mask, name, code)
// triple the statistics of a row are computed over.
type Split struct {
	Def

	// Labels is the source volume. For the whole lung it is homogenized.
	Labels *volume.Volume
	Mask   *volume.Mask
}

// NewSplit cuts d out of labels. A region whose code does not occur in
// labels yields an empty mask, which the statistics reject.
func NewSplit(d Def, labels *volume.Volume) (*Split, error) {
	if d.Code == 0 {
		return nil, pfx.Err(fmt.Errorf("region %s: label code must be non-zero", d.Name))
	}

	if d.Source == SourceLung {
		labels = volume.Homogenize(labels)
	}

	return &Split{
		Def:    d,
		Labels: labels,
		Mask:   volume.RegionMask(labels, d.Code),
	}, nil
}

// Apply restricts image to the region, keeping values inside and zeroing
// everything else. Binned images keep their bin numbers.
func (s *Split) Apply(image *volume.Volume) (*volume.Volume, error) {
	out, err := volume.SplitProduct(image, s.Labels, s.Code)
	if err != nil {
		return nil, pfx.Err(fmt.Errorf("region %s: %w", s.Name, err))
	}
	return out, nil
}

// Intersect is the region mask restricted to m.
func (s *Split) Intersect(m *volume.Mask) (*volume.Mask, error) {
	out, err := s.Mask.And(m)
	if err != nil {
		return nil, pfx.Err(fmt.Errorf("region %s: %w", s.Name, err))
	}
	return out, nil
}
