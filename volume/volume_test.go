package volume

import (
	"errors"
	"math"
	"testing"
)

func TestShapeIndexRoundTrip(t *testing.T) {
	s := Shape{3, 4, 5}
	for i := 0; i < s.Len(); i++ {
		x, y, z := s.Coords(i)
		if j := s.Index(x, y, z); j != i {
			t.Fatalf("Index(Coords(%d)) = %d (coords %d,%d,%d)", i, j, x, y, z)
		}
	}
}

func TestReduceMatchesSerialSum(t *testing.T) {
	for _, n := range []int{0, 1, 17, TileSize, 3*TileSize + 11} {
		data := make([]float64, n)
		expected := 0.0
		for i := range data {
			data[i] = float64(i%7) - 2
			expected += data[i]
		}

		got := Reduce(n, func(lo, hi int) float64 {
			s := 0.0
			for _, v := range data[lo:hi] {
				s += v
			}
			return s
		})

		if got != expected {
			t.Errorf("n=%d: got %g, expected %g", n, got, expected)
		}
	}
}

func TestReduceTilesPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := ReduceTiles(4*TileSize, func(lo, hi int) (float64, error) {
		if lo == 2*TileSize {
			return 0, boom
		}
		return 1, nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestSplitProductKeepsBinNumbers(t *testing.T) {
	s := Shape{2, 2, 1}
	binned, _ := FromSlice(s, []float64{1, 2, 3, 4})
	labels, _ := FromSlice(s, []float64{8, 8, 16, 0})

	got, err := SplitProduct(binned, labels, 8)
	if err != nil {
		t.Fatal(err)
	}
	for i, expected := range []float64{1, 2, 0, 0} {
		if got.Data[i] != expected {
			t.Errorf("voxel %d: got %g, expected %g", i, got.Data[i], expected)
		}
	}

	if _, err := SplitProduct(binned, New(Shape{1, 1, 1}), 8); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestUniqueLabelsAndHomogenize(t *testing.T) {
	labels, _ := FromSlice(Shape{1, 1, 5}, []float64{0, 30, 20, 30, 0})

	u := UniqueLabels(labels)
	if len(u) != 2 || u[0] != 20 || u[1] != 30 {
		t.Fatalf("unexpected labels %v", u)
	}

	h := Homogenize(labels)
	if u := UniqueLabels(h); len(u) != 1 || u[0] != 1 {
		t.Fatalf("homogenized labels %v", u)
	}
}

func TestBoxSmoothUniformInterior(t *testing.T) {
	v := Fill(Shape{9, 9, 9}, 2)
	sm, err := BoxSmooth(v, 3)
	if err != nil {
		t.Fatal(err)
	}

	if got := sm.At(4, 4, 4); math.Abs(got-2) > 1e-12 {
		t.Errorf("interior: got %g, expected 2", got)
	}

	// A corner sees 2×2×2 of the 3×3×3 window.
	if got, expected := sm.At(0, 0, 0), 2*8.0/27.0; math.Abs(got-expected) > 1e-12 {
		t.Errorf("corner: got %g, expected %g", got, expected)
	}
}

func TestDilate(t *testing.T) {
	m := NewMask(Shape{5, 5, 5})
	m.Set(2, 2, 2, true)

	d, err := Dilate(m, [3]int{3, 3, 1})
	if err != nil {
		t.Fatal(err)
	}
	if n := d.Count(); n != 9 {
		t.Errorf("got %d voxels, expected 9", n)
	}
	if !d.At(1, 3, 2) || d.At(2, 2, 3) {
		t.Error("dilation extended along the wrong axes")
	}
}

func TestDivideMaskedClampsNegatives(t *testing.T) {
	s := Shape{1, 1, 3}
	a, _ := FromSlice(s, []float64{4, -4, 4})
	b, _ := FromSlice(s, []float64{2, 2, 2})
	m := NewMask(s)
	m.Data[0], m.Data[1] = true, true

	got, err := DivideMasked(a, b, m)
	if err != nil {
		t.Fatal(err)
	}
	for i, expected := range []float64{2, 0, 0} {
		if got.Data[i] != expected {
			t.Errorf("voxel %d: got %g, expected %g", i, got.Data[i], expected)
		}
	}
}
