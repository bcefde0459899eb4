package metrics

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/carbocation/gxstats/volume"
	"github.com/carbocation/pfx"
)

const (
	// DefaultSNRWindow is the edge of the background cubes used to sample noise.
	DefaultSNRWindow = 8

	// RayleighFactor corrects magnitude-image noise for its Rayleigh
	// distribution.
	RayleighFactor = 0.66

	// minBackgroundFraction is the share of a cube that must be background
	// for the cube to contribute a noise sample.
	minBackgroundFraction = 0.75
)

// SNRResult is the output of SNR.
type SNRResult struct {
	SNR         float64
	RayleighSNR float64
	Noise       float64
}

// dilationKernel is the per-axis extent of the box used to push the noise
// region away from the lung.
func dilationKernel(n int) int {
	return int(math.Ceil(float64(n)*0.025))*2 + 1
}

// SNR estimates signal to noise. The mask is dilated, the grid is cut into
// window³ cubes, and every cube with more than 75% of its voxels outside the
// dilated mask contributes the sample standard deviation of those voxels.
// Noise is the median of the contributions and signal is the mean of image
// inside mask. When no cube qualifies the ratios are NaN.
func SNR(image *volume.Volume, mask *volume.Mask, window int) (SNRResult, error) {
	nan := SNRResult{math.NaN(), math.NaN(), math.NaN()}

	if err := volume.CheckShape(image, mask); err != nil {
		return nan, pfx.Err(err)
	}
	if window < 1 {
		return nan, pfx.Err(fmt.Errorf("snr window must be >= 1, got %d", window))
	}

	signalValues, err := maskedValues(image, mask, "snr signal")
	if err != nil {
		return nan, err
	}
	signal := floats.Sum(signalValues) / float64(len(signalValues))

	s := image.Shape
	dilated, err := volume.Dilate(mask, [3]int{dilationKernel(s[0]), dilationKernel(s[1]), dilationKernel(s[2])})
	if err != nil {
		return nan, pfx.Err(err)
	}

	minVoxels := minBackgroundFraction * float64(window*window*window)
	var cubeStds []float64
	background := make([]float64, 0, window*window*window)
	for cx := 0; cx < s[0]/window; cx++ {
		for cy := 0; cy < s[1]/window; cy++ {
			for cz := 0; cz < s[2]/window; cz++ {
				background = background[:0]
				for x := cx * window; x < (cx+1)*window; x++ {
					for y := cy * window; y < (cy+1)*window; y++ {
						for z := cz * window; z < (cz+1)*window; z++ {
							i := s.Index(x, y, z)
							if dilated.Data[i] || math.IsNaN(image.Data[i]) {
								continue
							}
							background = append(background, image.Data[i])
						}
					}
				}
				if float64(len(background)) > minVoxels {
					cubeStds = append(cubeStds, stat.StdDev(background, nil))
				}
			}
		}
	}

	if len(cubeStds) == 0 {
		return nan, nil
	}

	noise, err := stats.Median(stats.Float64Data(cubeStds))
	if err != nil {
		return nan, pfx.Err(err)
	}

	snr := signal / noise
	return SNRResult{SNR: snr, RayleighSNR: snr * RayleighFactor, Noise: noise}, nil
}
