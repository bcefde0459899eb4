package volume

import "fmt"

// linesPerTile bounds the work of one smoothing task.
const linesPerTile = 256

// BoxSmooth convolves v with a kernel×kernel×kernel box of weight 1/kernel³,
// treating voxels beyond the grid as zero. The box is separable, so it runs
// as three running-sum passes, one per axis.
func BoxSmooth(v *Volume, kernel int) (*Volume, error) {
	if kernel < 1 {
		return nil, fmt.Errorf("smoothing kernel must be >= 1, got %d", kernel)
	}

	out := v.Clone()
	for axis := 0; axis < 3; axis++ {
		out = boxSumAxis(out, axis, kernel)
	}

	scale := 1.0 / float64(kernel*kernel*kernel)
	ParallelFor(len(out.Data), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out.Data[i] *= scale
		}
	})

	return out, nil
}

// boxSumAxis replaces every voxel by the zero-padded sum of the kernel-wide
// window along one axis. The window at i covers [i-kernel/2, i-kernel/2+kernel).
func boxSumAxis(v *Volume, axis, kernel int) *Volume {
	s := v.Shape
	length := s[axis]

	var stride, nLines int
	var base func(l int) int
	switch axis {
	case 0:
		stride, nLines = s[1]*s[2], s[1]*s[2]
		base = func(l int) int { return l }
	case 1:
		stride, nLines = s[2], s[0]*s[2]
		base = func(l int) int { return (l/s[2])*s[1]*s[2] + l%s[2] }
	default:
		stride, nLines = 1, s[0]*s[1]
		base = func(l int) int { return l * s[2] }
	}

	out := New(s)
	half := kernel / 2

	parallelFor(nLines, linesPerTile, func(lo, hi int) {
		prefix := make([]float64, length+1)
		for l := lo; l < hi; l++ {
			b := base(l)
			for i := 0; i < length; i++ {
				prefix[i+1] = prefix[i] + v.Data[b+i*stride]
			}
			for i := 0; i < length; i++ {
				start := i - half
				end := start + kernel
				if start < 0 {
					start = 0
				}
				if end > length {
					end = length
				}
				out.Data[b+i*stride] = prefix[end] - prefix[start]
			}
		}
	})

	return out
}
