// Package metrics computes regional statistics of lung images and the
// physiological indices derived from them.
//
// Every function requires the image and mask to share a voxel grid and fails
// with volume.ErrShapeMismatch otherwise.
package metrics

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/carbocation/gxstats/volume"
	"github.com/carbocation/pfx"
)

// Mean is the arithmetic mean of image inside mask. It fails on an empty mask
// and on an image holding NaN or Inf anywhere, masked or not.
func Mean(image *volume.Volume, mask *volume.Mask) (float64, error) {
	if err := volume.CheckShape(image, mask); err != nil {
		return math.NaN(), pfx.Err(err)
	}
	n := mask.Count()
	if n == 0 {
		return math.NaN(), pfx.Err(fmt.Errorf("mean: %w", volume.ErrEmptyMask))
	}
	if image.HasNonFinite() {
		return math.NaN(), pfx.Err(fmt.Errorf("mean: %w", volume.ErrInvalidNumericInput))
	}

	sum := volume.Reduce(len(image.Data), func(lo, hi int) float64 {
		s := 0.0
		for i := lo; i < hi; i++ {
			if mask.Data[i] {
				s += image.Data[i]
			}
		}
		return s
	})

	return sum / float64(n), nil
}

// Median of image inside mask. Even-sized samples average the middle pair.
func Median(image *volume.Volume, mask *volume.Mask) (float64, error) {
	values, err := maskedValues(image, mask, "median")
	if err != nil {
		return math.NaN(), err
	}

	med, err := stats.Median(stats.Float64Data(values))
	if err != nil {
		return math.NaN(), pfx.Err(err)
	}

	return med, nil
}

// Std is the population standard deviation of image inside mask.
func Std(image *volume.Volume, mask *volume.Mask) (float64, error) {
	values, err := maskedValues(image, mask, "std")
	if err != nil {
		return math.NaN(), err
	}

	_, std := stat.PopMeanStdDev(values, nil)

	return std, nil
}

// NegativePercentage is the share of masked voxels below zero, in percent.
func NegativePercentage(image *volume.Volume, mask *volume.Mask) (float64, error) {
	if err := volume.CheckShape(image, mask); err != nil {
		return math.NaN(), pfx.Err(err)
	}
	n := mask.Count()
	if n == 0 {
		return math.NaN(), pfx.Err(fmt.Errorf("negative percentage: %w", volume.ErrEmptyMask))
	}

	negative := volume.Reduce(len(image.Data), func(lo, hi int) float64 {
		c := 0
		for i := lo; i < hi; i++ {
			if mask.Data[i] && image.Data[i] < 0 {
				c++
			}
		}
		return float64(c)
	})

	return 100 * negative / float64(n), nil
}

// BinPercentage is 100 × (voxels of image whose value is one of bins) /
// (voxels in mask). Bin 0 is outside the region and bin 1 the lowest bin.
//
// Binned images arrive already zeroed outside their region, so the numerator
// is counted over the whole grid. A result above 100 therefore means the
// binned image and the mask disagree about the region. That is logged and the
// value is still returned.
func BinPercentage(image *volume.Volume, bins []int, mask *volume.Mask) (float64, error) {
	if err := volume.CheckShape(image, mask); err != nil {
		return math.NaN(), pfx.Err(err)
	}

	maskVolume := float64(mask.Count())
	if math.Abs(maskVolume) < 1e-9 {
		return math.NaN(), pfx.Err(fmt.Errorf("bin percentage over bins %v: %w", bins, volume.ErrDegenerateMaskVolume))
	}

	want := make(map[float64]struct{}, len(bins))
	for _, b := range bins {
		want[float64(b)] = struct{}{}
	}

	inBins := volume.Reduce(len(image.Data), func(lo, hi int) float64 {
		c := 0
		for _, v := range image.Data[lo:hi] {
			if _, ok := want[v]; ok {
				c++
			}
		}
		return float64(c)
	})

	pct := 100 * inBins / maskVolume
	if pct > 100 {
		log.Warnf("bin percentage over bins %v is %.2f%% (%.0f voxels in bins, %.0f in mask)", bins, pct, inBins, maskVolume)
	}

	return pct, nil
}

func maskedValues(image *volume.Volume, mask *volume.Mask, what string) ([]float64, error) {
	values, err := volume.Masked(image, mask)
	if err != nil {
		return nil, pfx.Err(err)
	}
	if len(values) == 0 {
		return nil, pfx.Err(fmt.Errorf("%s: %w", what, volume.ErrEmptyMask))
	}
	return values, nil
}
