// Package normalize rescales real-valued images to [0, 1].
package normalize

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/carbocation/gxstats/volume"
	"github.com/carbocation/pfx"
	"gonum.org/v1/gonum/floats"
)

// Method names a normalization strategy. The string values are the ones
// accepted in configuration files.
type Method string

const (
	// MethodMax divides by the global maximum.
	MethodMax Method = "MAX"

	// MethodPercentile divides by a global percentile.
	MethodPercentile Method = "PERCENTILE"

	// MethodPercentileMasked zeroes the image outside the mask, divides by a
	// percentile of the masked voxels and clips to [0, 1].
	MethodPercentileMasked Method = "PERCENTILE_MASKED"

	// MethodMean zeroes NaN and Inf voxels and divides by the masked mean.
	MethodMean Method = "MEAN"
)

// DefaultPercentile is used by the percentile methods when no other value is
// configured.
const DefaultPercentile = 99.0

// ParseMethod accepts a method name in any case.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToUpper(strings.TrimSpace(s))); m {
	case MethodMax, MethodPercentile, MethodPercentileMasked, MethodMean:
		return m, nil
	}
	return "", fmt.Errorf("%w: normalization %q", volume.ErrInvalidMethod, s)
}

// Normalize rescales image with the given method. The mask must be on the
// image grid even for methods that ignore it.
func Normalize(image *volume.Volume, mask *volume.Mask, method Method, percentile float64) (*volume.Volume, error) {
	if err := volume.CheckShape(image, mask); err != nil {
		return nil, pfx.Err(err)
	}

	switch method {
	case MethodMax:
		return scale(image, 1/floats.Max(image.Data)), nil

	case MethodPercentile:
		return scale(image, 1/Percentile(image.Data, percentile)), nil

	case MethodPercentileMasked:
		inside, err := volume.Masked(image, mask)
		if err != nil {
			return nil, pfx.Err(err)
		}
		if len(inside) == 0 {
			return nil, pfx.Err(fmt.Errorf("masked percentile: %w", volume.ErrEmptyMask))
		}
		threshold := Percentile(inside, percentile)

		out := volume.New(image.Shape)
		volume.ParallelFor(len(out.Data), func(lo, hi int) {
			for i := lo; i < hi; i++ {
				if !mask.Data[i] {
					continue
				}
				out.Data[i] = clip(image.Data[i] / threshold)
			}
		})
		return out, nil

	case MethodMean:
		clean := image.Map(func(v float64) float64 {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0
			}
			return v
		})
		inside, err := volume.Masked(clean, mask)
		if err != nil {
			return nil, pfx.Err(err)
		}
		if len(inside) == 0 {
			return nil, pfx.Err(fmt.Errorf("masked mean: %w", volume.ErrEmptyMask))
		}
		return scale(clean, float64(len(inside))/floats.Sum(inside)), nil
	}

	return nil, pfx.Err(fmt.Errorf("%w: normalization %q", volume.ErrInvalidMethod, method))
}

// Percentile returns the p-th percentile (0 <= p <= 100) of values using
// linear interpolation between the two closest ranks, so the 50th percentile
// of an even-length sample is the mean of its middle pair. values is not
// modified. An empty sample yields NaN.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	if lo < 0 {
		return sorted[0]
	}
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)

	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

func scale(v *volume.Volume, k float64) *volume.Volume {
	out := volume.New(v.Shape)
	volume.ParallelFor(len(out.Data), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out.Data[i] = v.Data[i] * k
		}
	})
	return out
}

func clip(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
