package spatialbias

import (
	"errors"
	"math"
	"testing"

	"github.com/carbocation/gxstats/volume"
)

func grid(rows ...string) [][]bool {
	out := make([][]bool, len(rows))
	for i, r := range rows {
		out[i] = make([]bool, len(r))
		for j, ch := range r {
			out[i][j] = ch == '#'
		}
	}
	return out
}

func TestConnectedMergesEquivalentLabels(t *testing.T) {
	// The U only joins at the bottom row, after both arms got labels.
	conn := NewConnected(grid(
		"#..#.",
		"#..#.",
		"####.",
		".....",
		"....#",
	))

	if n := len(conn.Components); n != 2 {
		t.Fatalf("got %d components, expected 2", n)
	}

	u := conn.Components[0]
	if u.Label != 1 || u.Area != 8 || u.Top != 0 || u.Bottom != 2 || u.Left != 0 || u.Right != 3 {
		t.Errorf("unexpected U component %+v", u)
	}
	if conn.LabelAt(0, 3) != 1 || conn.LabelAt(4, 4) != 2 || conn.LabelAt(3, 0) != 0 {
		t.Error("labels were not resolved to the merged component")
	}

	dot := conn.Components[1]
	if dot.CentroidRow != 4 || dot.CentroidCol != 4 || dot.Height() != 1 {
		t.Errorf("unexpected dot component %+v", dot)
	}
}

func TestConnectedIgnoresDiagonals(t *testing.T) {
	conn := NewConnected(grid(
		"#.",
		".#",
	))
	if n := len(conn.Components); n != 2 {
		t.Errorf("got %d components, expected 2 under 4-connectivity", n)
	}
}

func TestLargestKeepsLabelOrderOnTies(t *testing.T) {
	conn := NewConnected(grid(
		"#.##.##",
		"..##.##",
	))
	got := conn.Largest(2)
	if got[0].Label != 2 || got[1].Label != 3 {
		t.Errorf("got labels %d, %d; expected 2, 3", got[0].Label, got[1].Label)
	}
}

func TestBandEdges(t *testing.T) {
	cases := []struct {
		top, height int
		expected    [Bands + 1]int
	}{
		{0, 6, [Bands + 1]int{0, 2, 4, 6}},
		{3, 10, [Bands + 1]int{3, 6, 9, 13}},
		{5, 1, [Bands + 1]int{5, 5, 5, 6}},
	}
	for _, c := range cases {
		if got := bandEdges(c.top, c.height); got != c.expected {
			t.Errorf("bandEdges(%d, %d) = %v, expected %v", c.top, c.height, got, c.expected)
		}
	}
}

// twoLungs builds a 10×12×slices volume in which every slice holds two 6×3
// lungs at rows 2..7, columns 1..3 and 7..9. binValue gives the bin of a lung
// voxel from its slice and its row within the lung.
func twoLungs(slices int, binValue func(z, row int) float64) (*volume.Volume, *volume.Mask) {
	s := volume.Shape{10, 12, slices}
	img := volume.New(s)
	m := volume.NewMask(s)
	for z := 0; z < slices; z++ {
		for x := 2; x < 8; x++ {
			for _, y0 := range []int{1, 7} {
				for y := y0; y < y0+3; y++ {
					m.Set(x, y, z, true)
					img.Set(x, y, z, binValue(z, x-2))
				}
			}
		}
	}
	return img, m
}

func TestAnalyze(t *testing.T) {
	cases := []struct {
		name     string
		bin      func(row int) float64
		expected float64
	}{
		{"basilar defects", func(row int) float64 {
			if row >= 4 {
				return 1
			}
			return 3
		}, 100},
		{"uniform defects", func(int) float64 { return 2 }, 0},
		{"apical defects", func(row int) float64 {
			if row < 2 {
				return 1
			}
			return 4
		}, -50},
	}

	for _, c := range cases {
		// Slices outside the 40%-80% range are all defect and must not count.
		img, m := twoLungs(10, func(z, row int) float64 {
			if z < 4 || z >= 8 {
				if row < 2 {
					return 1
				}
				return 5
			}
			return c.bin(row)
		})

		res, err := Analyze(img, m)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if res.SlicesUsed != 4 || res.SlicesSkipped != 0 {
			t.Errorf("%s: used %d, skipped %d slices", c.name, res.SlicesUsed, res.SlicesSkipped)
		}
		if math.Abs(res.Bias-c.expected) > 1e-9 {
			t.Errorf("%s: bias %g, expected %g (bands %v)", c.name, res.Bias, c.expected, res.BandRatios)
		}
	}
}

func TestAnalyzeSingleRegion(t *testing.T) {
	s := volume.Shape{6, 6, 5}
	img := volume.Fill(s, 1)
	m := volume.NewMask(s)
	for i := range m.Data {
		m.Data[i] = true
	}

	bias, err := ApicalBasilarBias(img, m)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(bias) {
		t.Errorf("got %g, expected NaN with one region per slice", bias)
	}
}

func TestAnalyzeErrors(t *testing.T) {
	s := volume.Shape{4, 4, 4}
	if _, err := Analyze(volume.New(s), volume.NewMask(s)); !errors.Is(err, volume.ErrEmptyMask) {
		t.Errorf("expected ErrEmptyMask, got %v", err)
	}
	if _, err := Analyze(volume.New(s), volume.NewMask(volume.Shape{4, 4, 3})); !errors.Is(err, volume.ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}
