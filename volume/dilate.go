package volume

import "fmt"

// Dilate grows the mask by a box structuring element with the given extent
// per axis. Even extents are centred the same way BoxSmooth centres them.
func Dilate(m *Mask, kernel [3]int) (*Mask, error) {
	for axis, k := range kernel {
		if k < 1 {
			return nil, fmt.Errorf("dilation kernel along axis %d must be >= 1, got %d", axis, k)
		}
	}

	counts := New(m.Shape)
	for i, in := range m.Data {
		if in {
			counts.Data[i] = 1
		}
	}
	for axis := 0; axis < 3; axis++ {
		counts = boxSumAxis(counts, axis, kernel[axis])
	}

	out := NewMask(m.Shape)
	for i, c := range counts.Data {
		out.Data[i] = c > 0
	}

	return out, nil
}
