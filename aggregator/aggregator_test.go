package aggregator

import (
	"bufio"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/carbocation/gxstats/config"
	"github.com/carbocation/gxstats/region"
	"github.com/carbocation/gxstats/resulttable"
	"github.com/carbocation/gxstats/scanmeta"
	"github.com/carbocation/gxstats/volume"
	"github.com/carbocation/gxstats/volumeio"
)

const n = 16

// inLung places two lungs side by side along the second axis, separated by a
// two-voxel gap. side is 0 for the left lung and 1 for the right.
func inLung(x, y, z int) (side int, ok bool) {
	if x < 2 || x >= 14 || z < 2 || z >= 14 {
		return 0, false
	}
	switch {
	case y >= 2 && y < 7:
		return 0, true
	case y >= 9 && y < 14:
		return 1, true
	}
	return 0, false
}

func lobeCode(x, side int) float64 {
	if side == 0 {
		if x < 8 {
			return 8
		}
		return 16
	}
	switch {
	case x < 6:
		return 32
	case x < 10:
		return 64
	}
	return 128
}

// syntheticPatient builds a patient whose bins cycle through the lung so that
// every region holds every bin.
func syntheticPatient() Inputs {
	shape := volume.Shape{n, n, n}
	in := Inputs{
		Subject:        "p1",
		Meta:           scanmeta.ScanMetadata{FOV: 40, RBCMRatio: 0.5},
		VentBinned:     volume.New(shape),
		VentCorrected:  volume.New(shape),
		RBC:            volume.New(shape),
		RBCBinned:      volume.New(shape),
		Membrane:       volume.New(shape),
		MembraneBinned: volume.New(shape),
		MaskVent:       volume.NewMask(shape),
		Sources: map[region.Source]*volume.Volume{
			region.SourceLung:     volume.New(shape),
			region.SourceCorePeel: volume.New(shape),
			region.SourceLobes:    volume.New(shape),
		},
	}

	for i := range in.VentBinned.Data {
		x, y, z := shape.Coords(i)
		side, ok := inLung(x, y, z)
		if !ok {
			in.VentCorrected.Data[i] = 0.01 * float64(i%3)
			continue
		}

		in.Sources[region.SourceLung].Data[i] = []float64{20, 30}[side]
		if x >= 5 && x < 11 && ((y >= 4 && y < 7) || (y >= 9 && y < 12)) {
			in.Sources[region.SourceCorePeel].Data[i] = 40
		} else {
			in.Sources[region.SourceCorePeel].Data[i] = 50
		}
		in.Sources[region.SourceLobes].Data[i] = lobeCode(x, side)

		in.VentBinned.Data[i] = float64(1 + i%6)
		in.RBCBinned.Data[i] = float64(1 + (i/2)%6)
		in.MembraneBinned.Data[i] = float64(1 + i%8)
		in.MaskVent.Data[i] = in.VentBinned.Data[i] != 1

		in.VentCorrected.Data[i] = 1 + float64(i%50)/100
		in.RBC.Data[i] = 0.4 + 0.001*float64(i%10)
		in.Membrane.Data[i] = 0.8
	}

	return in
}

func testAggregator() *Aggregator {
	cfg := config.Default()
	return &Aggregator{
		Options: NewOptions(cfg),
		Regions: cfg.Regions(),
	}
}

func loadOf(in Inputs) LoadFunc {
	return func(context.Context) (Inputs, error) { return in, nil }
}

// countLines returns the number of lines of path and how many of them start
// with the given column name.
func countLines(t *testing.T, path, firstColumn string) (lines, headers int) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
		if strings.HasPrefix(sc.Text(), firstColumn+",") {
			headers++
		}
	}
	require.NoError(t, sc.Err())
	return lines, headers
}

func TestRunWritesOneRowPerRegion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p1_stats.csv")
	agg := testAggregator()
	in := syntheticPatient()

	outcome, err := agg.Run(context.Background(), path, loadOf(in))
	require.NoError(t, err)
	require.Equal(t, Completed, outcome)

	rows, err := resulttable.ReadRows(path)
	require.NoError(t, err)
	require.Len(t, rows, 8)
	for i, name := range region.Names(agg.Regions) {
		require.Equal(t, name, rows[i].Region)
	}

	// The whole-lung defect percentage is the share of lung voxels in bin 1.
	var lung, defect int
	for _, v := range in.VentBinned.Data {
		if v != 0 {
			lung++
			if v == 1 {
				defect++
			}
		}
	}
	require.InDelta(t, 100*float64(defect)/float64(lung), rows[0].VentDefectPct, 1e-9)

	for _, row := range rows {
		require.InDelta(t, 0.8, row.MembraneMean, 1e-9)
		require.Zero(t, row.RBCNegativePct)
		require.True(t, row.KCO > 0, "kco %g in %s", row.KCO, row.Region)
		require.True(t, math.IsNaN(row.RBCOscMean), "oscillation without gated images in %s", row.Region)
		require.Equal(t, rows[0].ApicalBasilarBias, row.ApicalBasilarBias)
	}

	// A second run, as from a new process, leaves the table alone.
	outcome, err = agg.Run(context.Background(), path, func(context.Context) (Inputs, error) {
		t.Fatal("a finalized table should not load its patient")
		return Inputs{}, nil
	})
	require.NoError(t, err)
	require.Equal(t, Skipped, outcome)

	lines, headers := countLines(t, path, resulttable.RegionColumn)
	require.Equal(t, 9, lines)
	require.Equal(t, 1, headers)
}

func TestRunResumesAfterFailedRegion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p1_stats.csv")
	agg := testAggregator()

	// Without its label the left upper lobe is empty and its row fails,
	// after the whole-lung, core and peel rows are written.
	broken := syntheticPatient()
	lobes := broken.Sources[region.SourceLobes].Clone()
	for i, v := range lobes.Data {
		if v == 8 {
			lobes.Data[i] = 0
		}
	}
	broken.Sources = map[region.Source]*volume.Volume{
		region.SourceLung:     broken.Sources[region.SourceLung],
		region.SourceCorePeel: broken.Sources[region.SourceCorePeel],
		region.SourceLobes:    lobes,
	}

	_, err := agg.Run(context.Background(), path, loadOf(broken))
	require.Error(t, err)

	state, err := resulttable.Inspect(path)
	require.NoError(t, err)
	require.False(t, state.Finalized)
	require.Equal(t, 3, state.Rows)

	outcome, err := agg.Run(context.Background(), path, loadOf(syntheticPatient()))
	require.NoError(t, err)
	require.Equal(t, Completed, outcome)

	lines, headers := countLines(t, path, resulttable.RegionColumn)
	require.Equal(t, 9, lines)
	require.Equal(t, 1, headers)

	// The resumed table matches one written in a single run.
	fresh := filepath.Join(t.TempDir(), "fresh.csv")
	_, err = agg.Run(context.Background(), fresh, loadOf(syntheticPatient()))
	require.NoError(t, err)

	resumed, err := resulttable.ReadRows(path)
	require.NoError(t, err)
	expected, err := resulttable.ReadRows(fresh)
	require.NoError(t, err)
	require.Len(t, resumed, len(expected))
	for i := range expected {
		require.Equal(t, expected[i].Region, resumed[i].Region)
		require.InDelta(t, expected[i].VentDefectPct, resumed[i].VentDefectPct, 1e-12)
		require.InDelta(t, expected[i].KCO, resumed[i].KCO, 1e-12)
		require.InDelta(t, expected[i].InflationVolumeL, resumed[i].InflationVolumeL, 1e-12)
	}
}

func TestRunOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p1_stats.csv")
	agg := testAggregator()

	_, err := agg.Run(context.Background(), path, loadOf(syntheticPatient()))
	require.NoError(t, err)

	agg.Overwrite = true
	outcome, err := agg.Run(context.Background(), path, loadOf(syntheticPatient()))
	require.NoError(t, err)
	require.Equal(t, Completed, outcome)

	rows, err := resulttable.ReadRows(path)
	require.NoError(t, err)
	require.Len(t, rows, 8)
}

func TestRunFinalizesCompleteTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p1_stats.csv")
	agg := testAggregator()

	p, err := Prepare(syntheticPatient(), agg.Options)
	require.NoError(t, err)
	for _, d := range agg.Regions {
		split, err := p.Split(d)
		require.NoError(t, err)
		rec, err := p.Record(split, agg.Options)
		require.NoError(t, err)
		require.NoError(t, resulttable.Append(path, rec))
	}

	outcome, err := agg.Run(context.Background(), path, loadOf(syntheticPatient()))
	require.NoError(t, err)
	require.Equal(t, Finalized, outcome)
}

func TestFinalizeOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p1_stats.csv")
	agg := testAggregator()

	p, err := Prepare(syntheticPatient(), agg.Options)
	require.NoError(t, err)
	for _, d := range agg.Regions[:3] {
		split, err := p.Split(d)
		require.NoError(t, err)
		rec, err := p.Record(split, agg.Options)
		require.NoError(t, err)
		require.NoError(t, resulttable.Append(path, rec))
	}

	_, err = agg.FinalizeOnly(path)
	require.ErrorIs(t, err, resulttable.ErrRegionCount)

	_, err = agg.Run(context.Background(), path, loadOf(syntheticPatient()))
	require.NoError(t, err)

	outcome, err := agg.FinalizeOnly(path)
	require.NoError(t, err)
	require.Equal(t, Skipped, outcome)
}

func TestPrepareWithOscillation(t *testing.T) {
	in := syntheticPatient()
	in.RBCHigh = in.RBC.Map(func(v float64) float64 { return 1.1 * v })
	in.RBCLow = in.RBC.Map(func(v float64) float64 { return 0.9 * v })
	in.RBCTotal = in.RBC.Clone()

	agg := testAggregator()
	p, err := Prepare(in, agg.Options)
	require.NoError(t, err)
	require.NotNil(t, p.Oscillation)

	split, err := p.Split(agg.Regions[0])
	require.NoError(t, err)
	rec, err := p.Record(split, agg.Options)
	require.NoError(t, err)
	require.False(t, math.IsNaN(rec.RBCOscMean))
	require.Equal(t, in.Meta.RBCMRatio, rec.RBCMRatio)
}

func TestPrepareDecomposesComplexInputs(t *testing.T) {
	in := syntheticPatient()
	in.RBC, in.Membrane = nil, nil
	in.Gas = volume.NewComplex(in.VentBinned.Shape)
	in.Dissolved = volume.NewComplex(in.VentBinned.Shape)
	for i := range in.Gas.Data {
		in.Gas.Data[i] = 2
		in.Dissolved.Data[i] = 1
	}
	in.Meta.RBCMRatio = 1

	p, err := Prepare(in, testAggregator().Options)
	require.NoError(t, err)

	var sum float64
	for i, inside := range p.WholeLung.Data {
		if inside {
			sum += p.RBC.Data[i]
		}
	}
	require.InDelta(t, math.Sqrt2/4, sum/float64(p.WholeLung.Count()), 1e-9)
}

func TestPrepareRejectsMismatchedShapes(t *testing.T) {
	in := syntheticPatient()
	in.MaskVent = volume.NewMask(volume.Shape{n, n, n + 1})

	_, err := Prepare(in, testAggregator().Options)
	require.ErrorIs(t, err, volume.ErrShapeMismatch)
}

func TestRunResumesAfterPartialRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p1_stats.csv")
	agg := testAggregator()

	p, err := Prepare(syntheticPatient(), agg.Options)
	require.NoError(t, err)
	split, err := p.Split(agg.Regions[0])
	require.NoError(t, err)
	rec, err := p.Record(split, agg.Options)
	require.NoError(t, err)
	require.NoError(t, resulttable.Append(path, rec))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("0.5,1,2")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	outcome, err := agg.Run(context.Background(), path, loadOf(syntheticPatient()))
	require.NoError(t, err)
	require.Equal(t, Completed, outcome)

	lines, headers := countLines(t, path, resulttable.RegionColumn)
	require.Equal(t, 9, lines)
	require.Equal(t, 1, headers)
}

func TestAllExistSkipsMissingGatedImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"rbc_high.nii", "rbc_low.nii"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	resolve := func(name string) string { return filepath.Join(dir, name) }

	gated := []imageFile{{name: "rbc_high.nii"}, {name: "rbc_low.nii"}}
	ok, err := allExist(context.Background(), &volumeio.Loader{}, gated, resolve)
	require.NoError(t, err)
	require.True(t, ok)

	gated = append(gated, imageFile{name: "rbc_total.nii"})
	ok, err = allExist(context.Background(), &volumeio.Loader{}, gated, resolve)
	require.NoError(t, err)
	require.False(t, ok)
}
