package region

import (
	"testing"

	"github.com/carbocation/gxstats/volume"
)

func TestStandardOrderAndCodes(t *testing.T) {
	defs := Standard(map[Name]float64{Core: 4, WholeLung: 99})

	expected := []string{
		"whole_lung", "core", "peel",
		"left_upper_lobe", "left_lower_lobe", "right_upper_lobe", "right_middle_lobe", "right_lower_lobe",
	}
	names := Names(defs)
	if len(names) != len(expected) {
		t.Fatalf("got %d regions, expected %d", len(names), len(expected))
	}
	for i := range expected {
		if names[i] != expected[i] {
			t.Errorf("position %d: got %s, expected %s", i, names[i], expected[i])
		}
	}

	if defs[0].Code != WholeLungCode || defs[1].Code != 4 || defs[2].Code != 50 || defs[7].Code != 128 {
		t.Errorf("unexpected codes %+v", defs)
	}
}

func TestSubLobeDefsFromLabels(t *testing.T) {
	data := make([]float64, len(SubLobes)+2)
	for i := range SubLobes {
		// Descending so the assignment must sort.
		data[i] = float64(100 - i)
	}
	labels, _ := volume.FromSlice(volume.Shape{1, 1, len(data)}, data)

	defs, err := SubLobeDefs(nil, labels)
	if err != nil {
		t.Fatal(err)
	}
	if defs[0].Name != "LB1_2" || defs[0].Code != float64(100-len(SubLobes)+1) {
		t.Errorf("first sub-lobe %+v", defs[0])
	}
	if last := defs[len(defs)-1]; last.Name != "RB10" || last.Code != 100 {
		t.Errorf("last sub-lobe %+v", last)
	}

	if _, err := SubLobeDefs(map[Name]float64{"LB3": 2}, labels); err == nil {
		t.Error("expected an error for incomplete sub-lobe codes")
	}

	short, _ := volume.FromSlice(volume.Shape{1, 1, 2}, []float64{1, 2})
	if _, err := SubLobeDefs(nil, short); err == nil {
		t.Error("expected an error for a sub-lobe mask with too few labels")
	}
}

func TestSplitHomogenizesWholeLung(t *testing.T) {
	labels, _ := volume.FromSlice(volume.Shape{1, 1, 4}, []float64{20, 30, 0, 20})
	s, err := NewSplit(Def{Name: WholeLung, Source: SourceLung, Code: WholeLungCode}, labels)
	if err != nil {
		t.Fatal(err)
	}
	if n := s.Mask.Count(); n != 3 {
		t.Errorf("whole lung covers %d voxels, expected 3", n)
	}

	img, _ := volume.FromSlice(labels.Shape, []float64{0.5, 2, 7, 3})
	got, err := s.Apply(img)
	if err != nil {
		t.Fatal(err)
	}
	for i, e := range []float64{0.5, 2, 0, 3} {
		if got.Data[i] != e {
			t.Errorf("voxel %d: got %g, expected %g", i, got.Data[i], e)
		}
	}
}

func TestSplitLobe(t *testing.T) {
	labels, _ := volume.FromSlice(volume.Shape{1, 1, 4}, []float64{8, 16, 8, 0})
	s, err := NewSplit(Def{Name: LeftUpperLobe, Source: SourceLobes, Code: 8}, labels)
	if err != nil {
		t.Fatal(err)
	}

	binned, _ := volume.FromSlice(labels.Shape, []float64{1, 2, 3, 4})
	got, _ := s.Apply(binned)
	for i, e := range []float64{1, 0, 3, 0} {
		if got.Data[i] != e {
			t.Errorf("voxel %d: got %g, expected %g", i, got.Data[i], e)
		}
	}

	vent := volume.NewMask(labels.Shape)
	vent.Data[2], vent.Data[3] = true, true
	both, err := s.Intersect(vent)
	if err != nil {
		t.Fatal(err)
	}
	if both.Count() != 1 || !both.Data[2] {
		t.Errorf("unexpected intersection %v", both.Data)
	}

	if _, err := NewSplit(Def{Name: Core, Code: 0}, labels); err == nil {
		t.Error("expected an error for a zero code")
	}
}
