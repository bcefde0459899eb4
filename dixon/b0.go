// Package dixon separates the dissolved-phase xenon signal into its red blood
// cell and membrane components with a 1-point Dixon rotation, after removing
// B0-induced phase from the gas image.
package dixon

import (
	"fmt"
	"math"
	"math/cmplx"

	log "github.com/sirupsen/logrus"

	"github.com/carbocation/gxstats/volume"
	"github.com/carbocation/pfx"
)

const (
	// DefaultMaxIterations bounds the B0 correction loop.
	DefaultMaxIterations = 100

	// phaseTolerance is the mean phase (radians) at which the loop is
	// considered converged.
	phaseTolerance = 1e-7
)

// CorrectB0 removes the mean phase of image within mask by repeatedly
// rotating the image by the negative of its masked mean phase, and returns
// the phase field of the corrected image. The loop stops once
// |mean phase| <= 1e-7 or after maxIterations passes. Failing to converge is
// not an error: the best phase field reached is returned.
func CorrectB0(image *volume.ComplexVolume, mask *volume.Mask, maxIterations int) (*volume.Volume, error) {
	if image.Shape != mask.Shape {
		return nil, pfx.Err(fmt.Errorf("%w: image %v, mask %v", volume.ErrShapeMismatch, image.Shape, mask.Shape))
	}
	n := mask.Count()
	if n == 0 {
		return nil, pfx.Err(fmt.Errorf("b0 correction: %w", volume.ErrEmptyMask))
	}

	work := image.Clone()

	meanPhase := math.Inf(1)
	iteration := 0
	for math.Abs(meanPhase) > phaseTolerance {
		iteration++
		meanPhase = maskedMeanPhase(work, mask, n)

		rot := cmplx.Exp(complex(0, -meanPhase))
		volume.ParallelFor(len(work.Data), func(lo, hi int) {
			for i := lo; i < hi; i++ {
				work.Data[i] *= rot
			}
		})

		if iteration > maxIterations {
			if math.Abs(meanPhase) > phaseTolerance {
				log.Warnf("b0 correction stopped after %d iterations with mean phase %g", iteration, meanPhase)
			}
			break
		}
	}

	return phase(work), nil
}

func maskedMeanPhase(image *volume.ComplexVolume, mask *volume.Mask, n int) float64 {
	sum := volume.Reduce(len(image.Data), func(lo, hi int) float64 {
		s := 0.0
		for i := lo; i < hi; i++ {
			if mask.Data[i] {
				s += cmplx.Phase(image.Data[i])
			}
		}
		return s
	})

	return sum / float64(n)
}

func phase(image *volume.ComplexVolume) *volume.Volume {
	out := volume.New(image.Shape)
	volume.ParallelFor(len(out.Data), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out.Data[i] = cmplx.Phase(image.Data[i])
		}
	})
	return out
}
