package dixon

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/carbocation/gxstats/volume"
	"github.com/carbocation/pfx"
)

// Decompose applies the 1-point Dixon decomposition. The gas image is B0
// corrected within mask and its residual phase is removed from the dissolved
// image. The dissolved image is then rotated so that its masked sum lies at
// atan2(rbcMRatio, 1): RBC ends up on the imaginary channel and membrane on the
// real channel.
//
// Each channel is sign-flipped if its masked mean is not positive, so both
// are reported with positive polarity.
func Decompose(gas, dissolved *volume.ComplexVolume, mask *volume.Mask, rbcMRatio float64) (rbc, membrane *volume.Volume, err error) {
	if gas.Shape != dissolved.Shape {
		return nil, nil, pfx.Err(fmt.Errorf("%w: gas %v, dissolved %v", volume.ErrShapeMismatch, gas.Shape, dissolved.Shape))
	}

	diffPhase, err := CorrectB0(gas, mask, DefaultMaxIterations)
	if err != nil {
		return nil, nil, pfx.Err(err)
	}

	desiredAngle := math.Atan2(rbcMRatio, 1.0)
	currentAngle := cmplx.Phase(maskedSum(dissolved, mask))
	global := cmplx.Exp(complex(0, desiredAngle-currentAngle))

	rotated := volume.NewComplex(dissolved.Shape)
	volume.ParallelFor(len(rotated.Data), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			rotated.Data[i] = dissolved.Data[i] * global * cmplx.Exp(complex(0, -diffPhase.Data[i]))
		}
	})

	rbc = positivePolarity(rotated.Imag(), mask)
	membrane = positivePolarity(rotated.Real(), mask)

	return rbc, membrane, nil
}

func maskedSum(image *volume.ComplexVolume, mask *volume.Mask) complex128 {
	var s complex128
	for i, in := range mask.Data {
		if in {
			s += image.Data[i]
		}
	}
	return s
}

// positivePolarity negates v unless its masked mean is strictly positive.
func positivePolarity(v *volume.Volume, mask *volume.Mask) *volume.Volume {
	n := 0
	sum := 0.0
	for i, in := range mask.Data {
		if in {
			sum += v.Data[i]
			n++
		}
	}

	if n > 0 && sum/float64(n) > 0 {
		return v
	}

	return v.Map(func(x float64) float64 { return -x })
}
