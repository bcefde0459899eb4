// Package volume holds the voxel grids that flow between pipeline stages:
// real-valued volumes, complex volumes, boolean masks, and integer-labeled
// region masks. All grids are stored flat in C order (x slowest, z fastest),
// matching the layout of the upstream reconstruction output.
//
// Volumes are treated as immutable once built. Every operation in this module
// returns a fresh volume instead of modifying its inputs.
package volume

import (
	"fmt"
	"math"
)

// Shape is the (X, Y, Z) extent of a voxel grid.
type Shape [3]int

// Len is the number of voxels in the grid.
func (s Shape) Len() int {
	return s[0] * s[1] * s[2]
}

// Index maps (x, y, z) to the flat offset.
func (s Shape) Index(x, y, z int) int {
	return (x*s[1]+y)*s[2] + z
}

// Coords is the inverse of Index.
func (s Shape) Coords(i int) (x, y, z int) {
	z = i % s[2]
	i /= s[2]
	y = i % s[1]
	x = i / s[1]
	return
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d, %d)", s[0], s[1], s[2])
}

// Volume is a real-valued 3-D image.
type Volume struct {
	Shape Shape
	Data  []float64
}

// New allocates a zero-filled volume.
func New(shape Shape) *Volume {
	return &Volume{Shape: shape, Data: make([]float64, shape.Len())}
}

// FromSlice wraps data without copying. It fails if the length does not match
// the shape.
func FromSlice(shape Shape, data []float64) (*Volume, error) {
	if len(data) != shape.Len() {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShapeMismatch, len(data), shape)
	}
	return &Volume{Shape: shape, Data: data}, nil
}

// Fill returns a volume with every voxel set to v.
func Fill(shape Shape, v float64) *Volume {
	out := New(shape)
	for i := range out.Data {
		out.Data[i] = v
	}
	return out
}

func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Shape.Index(x, y, z)]
}

func (v *Volume) Set(x, y, z int, val float64) {
	v.Data[v.Shape.Index(x, y, z)] = val
}

// Clone returns a deep copy.
func (v *Volume) Clone() *Volume {
	out := &Volume{Shape: v.Shape, Data: make([]float64, len(v.Data))}
	copy(out.Data, v.Data)
	return out
}

// Map applies f voxelwise and returns the result in a new volume.
func (v *Volume) Map(f func(float64) float64) *Volume {
	out := New(v.Shape)
	for i, val := range v.Data {
		out.Data[i] = f(val)
	}
	return out
}

// HasNonFinite reports whether any voxel is NaN or ±Inf.
func (v *Volume) HasNonFinite() bool {
	found := Reduce(len(v.Data), func(lo, hi int) float64 {
		for _, val := range v.Data[lo:hi] {
			if math.IsNaN(val) || math.IsInf(val, 0) {
				return 1
			}
		}
		return 0
	})
	return found > 0
}

// ComplexVolume is a complex-valued 3-D image, as produced by reconstruction of
// the gas and dissolved-phase acquisitions.
type ComplexVolume struct {
	Shape Shape
	Data  []complex128
}

// NewComplex allocates a zero-filled complex volume.
func NewComplex(shape Shape) *ComplexVolume {
	return &ComplexVolume{Shape: shape, Data: make([]complex128, shape.Len())}
}

// ComplexFromParts joins separate real and imaginary volumes.
func ComplexFromParts(re, im *Volume) (*ComplexVolume, error) {
	if re.Shape != im.Shape {
		return nil, fmt.Errorf("%w: real %v, imaginary %v", ErrShapeMismatch, re.Shape, im.Shape)
	}
	out := NewComplex(re.Shape)
	for i := range out.Data {
		out.Data[i] = complex(re.Data[i], im.Data[i])
	}
	return out, nil
}

func (c *ComplexVolume) Clone() *ComplexVolume {
	out := &ComplexVolume{Shape: c.Shape, Data: make([]complex128, len(c.Data))}
	copy(out.Data, c.Data)
	return out
}

// Real returns the real channel.
func (c *ComplexVolume) Real() *Volume {
	out := New(c.Shape)
	for i, val := range c.Data {
		out.Data[i] = real(val)
	}
	return out
}

// Imag returns the imaginary channel.
func (c *ComplexVolume) Imag() *Volume {
	out := New(c.Shape)
	for i, val := range c.Data {
		out.Data[i] = imag(val)
	}
	return out
}

// Abs returns the voxelwise magnitude.
func (c *ComplexVolume) Abs() *Volume {
	out := New(c.Shape)
	for i, val := range c.Data {
		out.Data[i] = math.Hypot(real(val), imag(val))
	}
	return out
}

// Mask is a boolean region of interest on a voxel grid.
type Mask struct {
	Shape Shape
	Data  []bool
}

// NewMask allocates an all-false mask.
func NewMask(shape Shape) *Mask {
	return &Mask{Shape: shape, Data: make([]bool, shape.Len())}
}

// MaskFromVolume marks voxels whose value is above 0.5, the threshold used
// when an upstream mask has been resampled to floating point.
func MaskFromVolume(v *Volume) *Mask {
	out := NewMask(v.Shape)
	for i, val := range v.Data {
		out.Data[i] = val > 0.5
	}
	return out
}

func (m *Mask) At(x, y, z int) bool {
	return m.Data[m.Shape.Index(x, y, z)]
}

func (m *Mask) Set(x, y, z int, val bool) {
	m.Data[m.Shape.Index(x, y, z)] = val
}

// Count is the number of true voxels.
func (m *Mask) Count() int {
	return int(Reduce(len(m.Data), func(lo, hi int) float64 {
		n := 0
		for _, in := range m.Data[lo:hi] {
			if in {
				n++
			}
		}
		return float64(n)
	}))
}

// Any reports whether at least one voxel is set.
func (m *Mask) Any() bool {
	for _, in := range m.Data {
		if in {
			return true
		}
	}
	return false
}

// And returns the voxelwise intersection.
func (m *Mask) And(other *Mask) (*Mask, error) {
	if err := CheckMaskShapes(m, other); err != nil {
		return nil, err
	}
	out := NewMask(m.Shape)
	for i := range out.Data {
		out.Data[i] = m.Data[i] && other.Data[i]
	}
	return out, nil
}

// Apply zeroes v outside the mask.
func (m *Mask) Apply(v *Volume) (*Volume, error) {
	if err := CheckShape(v, m); err != nil {
		return nil, err
	}
	out := New(v.Shape)
	for i, in := range m.Data {
		if in {
			out.Data[i] = v.Data[i]
		}
	}
	return out, nil
}

// Slice2D returns the axial slice z of the mask as [x][y].
func (m *Mask) Slice2D(z int) [][]bool {
	out := make([][]bool, m.Shape[0])
	for x := range out {
		row := make([]bool, m.Shape[1])
		for y := range row {
			row[y] = m.At(x, y, z)
		}
		out[x] = row
	}
	return out
}

// Masked gathers the voxels of v that fall inside m, in flat order.
func Masked(v *Volume, m *Mask) ([]float64, error) {
	if err := CheckShape(v, m); err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(v.Data)/4)
	for i, in := range m.Data {
		if in {
			out = append(out, v.Data[i])
		}
	}
	return out, nil
}

// CheckShape fails with ErrShapeMismatch when the image and mask grids differ.
func CheckShape(v *Volume, m *Mask) error {
	if v.Shape != m.Shape {
		return fmt.Errorf("%w: image %v, mask %v", ErrShapeMismatch, v.Shape, m.Shape)
	}
	return nil
}

// CheckMaskShapes fails with ErrShapeMismatch when two masks differ in grid.
func CheckMaskShapes(a, b *Mask) error {
	if a.Shape != b.Shape {
		return fmt.Errorf("%w: mask %v, mask %v", ErrShapeMismatch, a.Shape, b.Shape)
	}
	return nil
}

// CheckShapes fails with ErrShapeMismatch unless every volume shares a grid.
func CheckShapes(vols ...*Volume) error {
	for _, v := range vols[1:] {
		if v.Shape != vols[0].Shape {
			return fmt.Errorf("%w: %v and %v", ErrShapeMismatch, vols[0].Shape, v.Shape)
		}
	}
	return nil
}
