// Package oscillation computes the voxelwise RBC oscillation amplitude: the
// difference between the cardiac-gated high and low RBC images as a
// percentage of the total RBC signal.
package oscillation

import (
	"fmt"
	"math"
	"strings"

	"github.com/carbocation/gxstats/volume"
	"github.com/carbocation/pfx"
)

// Method selects the denominator.
type Method string

const (
	// MethodElementwise divides by the total image voxel by voxel.
	MethodElementwise Method = "ELEMENTWISE"

	// MethodMean divides by the absolute masked mean of the total image.
	MethodMean Method = "MEAN"

	// MethodSmooth divides by a box-smoothed total image.
	MethodSmooth Method = "SMOOTH"
)

// DefaultKernel is the box edge used by MethodSmooth.
const DefaultKernel = 11

func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToUpper(strings.TrimSpace(s))); m {
	case MethodElementwise, MethodMean, MethodSmooth:
		return m, nil
	}
	return "", fmt.Errorf("%w: oscillation %q", volume.ErrInvalidMethod, s)
}

// Options configures Compute. The zero value is MethodSmooth with the default
// kernel.
type Options struct {
	Method Method
	Kernel int
}

func (o Options) withDefaults() Options {
	if o.Method == "" {
		o.Method = MethodSmooth
	}
	if o.Kernel == 0 {
		o.Kernel = DefaultKernel
	}
	return o
}

// Compute returns 100 × (high − low) / denominator. Outside mask the total
// image is replaced by its masked maximum before the denominator is formed,
// which keeps the background away from zero.
func Compute(high, low, total *volume.Volume, mask *volume.Mask, opts Options) (*volume.Volume, error) {
	opts = opts.withDefaults()

	if err := volume.CheckShapes(high, low, total); err != nil {
		return nil, pfx.Err(err)
	}
	if err := volume.CheckShape(total, mask); err != nil {
		return nil, pfx.Err(err)
	}

	filled, err := fillOutside(total, mask)
	if err != nil {
		return nil, pfx.Err(err)
	}

	var denominator func(i int) float64
	switch opts.Method {
	case MethodElementwise:
		denominator = func(i int) float64 { return filled.Data[i] }

	case MethodMean:
		inside, err := volume.Masked(filled, mask)
		if err != nil {
			return nil, pfx.Err(err)
		}
		sum := 0.0
		for _, v := range inside {
			sum += v
		}
		scalar := math.Abs(sum / float64(len(inside)))
		denominator = func(int) float64 { return scalar }

	case MethodSmooth:
		smoothed, err := volume.BoxSmooth(filled, opts.Kernel)
		if err != nil {
			return nil, pfx.Err(err)
		}
		denominator = func(i int) float64 { return smoothed.Data[i] }

	default:
		return nil, pfx.Err(fmt.Errorf("%w: oscillation %q", volume.ErrInvalidMethod, opts.Method))
	}

	out := volume.New(high.Shape)
	volume.ParallelFor(len(out.Data), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out.Data[i] = 100 * (high.Data[i] - low.Data[i]) / denominator(i)
		}
	})

	return out, nil
}

func fillOutside(total *volume.Volume, mask *volume.Mask) (*volume.Volume, error) {
	inside, err := volume.Masked(total, mask)
	if err != nil {
		return nil, err
	}
	if len(inside) == 0 {
		return nil, fmt.Errorf("oscillation: %w", volume.ErrEmptyMask)
	}

	peak := math.Inf(-1)
	for _, v := range inside {
		if v > peak {
			peak = v
		}
	}

	out := total.Clone()
	for i, in := range mask.Data {
		if !in {
			out.Data[i] = peak
		}
	}

	return out, nil
}

// Summary is the regional digest of an oscillation image.
type Summary struct {
	Mean    float64
	HighPct float64
	LowPct  float64
}

// Thresholds bound the normal oscillation range, in percent.
type Thresholds struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// DefaultThresholds flags voxels oscillating below 0% or above 20%.
var DefaultThresholds = Thresholds{Low: 0, High: 20}

// Summarize reports the masked mean of osc and the percentage of masked
// voxels strictly above th.High and strictly below th.Low. Non-finite voxels
// count toward the denominator but toward neither tail, and are left out of
// the mean.
func Summarize(osc *volume.Volume, mask *volume.Mask, th Thresholds) (Summary, error) {
	nan := Summary{math.NaN(), math.NaN(), math.NaN()}

	inside, err := volume.Masked(osc, mask)
	if err != nil {
		return nan, pfx.Err(err)
	}
	if len(inside) == 0 {
		return nan, pfx.Err(fmt.Errorf("oscillation summary: %w", volume.ErrEmptyMask))
	}

	var sum float64
	var finite, high, low int
	for _, v := range inside {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		finite++
		sum += v
		if v > th.High {
			high++
		}
		if v < th.Low {
			low++
		}
	}

	n := float64(len(inside))
	out := Summary{
		Mean:    math.NaN(),
		HighPct: 100 * float64(high) / n,
		LowPct:  100 * float64(low) / n,
	}
	if finite > 0 {
		out.Mean = sum / float64(finite)
	}

	return out, nil
}
