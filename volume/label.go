package volume

import (
	"fmt"
	"math"
	"sort"
)

// UniqueLabels returns the distinct non-zero intensities of a multi-label
// mask, ascending.
func UniqueLabels(labels *Volume) []float64 {
	seen := make(map[float64]struct{})
	for _, v := range labels.Data {
		if v == 0 || math.IsNaN(v) {
			continue
		}
		seen[v] = struct{}{}
	}

	out := make([]float64, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Float64s(out)

	return out
}

// Split keeps the voxels of a multi-label mask equal to code, at their
// original intensity, and zeroes everything else.
func Split(labels *Volume, code float64) *Volume {
	out := New(labels.Shape)
	for i, v := range labels.Data {
		if v == code {
			out.Data[i] = code
		}
	}
	return out
}

// RegionMask is the boolean mask of one label of a multi-label mask.
func RegionMask(labels *Volume, code float64) *Mask {
	return MaskFromVolume(Split(labels, code))
}

// Homogenize collapses every non-zero label to 1. The whole-lung mask has one
// label per lung; homogenizing it yields a single whole-lung region with code
// 1.
func Homogenize(labels *Volume) *Volume {
	return labels.Map(func(v float64) float64 {
		if v != 0 && !math.IsNaN(v) {
			return 1
		}
		return 0
	})
}

// SplitProduct multiplies image voxelwise by the split of labels at code and
// divides the label intensity back out. Binned images keep their bin numbers
// and continuous images keep their values inside the region. Both are zero
// outside it.
func SplitProduct(image, labels *Volume, code float64) (*Volume, error) {
	if image.Shape != labels.Shape {
		return nil, fmt.Errorf("%w: image %v, labels %v", ErrShapeMismatch, image.Shape, labels.Shape)
	}
	if code == 0 {
		return nil, fmt.Errorf("label intensity must be non-zero")
	}

	split := Split(labels, code)
	out := New(image.Shape)
	ParallelFor(len(out.Data), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out.Data[i] = image.Data[i] * split.Data[i] / code
		}
	})

	return out, nil
}

// DivideMasked divides a by b inside mask, leaves zero outside, and clamps
// negative quotients to zero.
func DivideMasked(a, b *Volume, mask *Mask) (*Volume, error) {
	if err := CheckShapes(a, b); err != nil {
		return nil, err
	}
	if err := CheckShape(a, mask); err != nil {
		return nil, err
	}

	out := New(a.Shape)
	for i, in := range mask.Data {
		if !in {
			continue
		}
		q := a.Data[i] / b.Data[i]
		if q < 0 {
			q = 0
		}
		out.Data[i] = q
	}

	return out, nil
}
