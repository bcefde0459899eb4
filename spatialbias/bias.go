// Package spatialbias measures whether RBC transfer defects concentrate toward
// the base or the apex of the lungs.
//
// Each retained axial slice is split into its two largest connected regions,
// taken as the left and right lungs. Each lung is cut into three bands of
// equal height from apex to base. Per band, the defect share is the summed bin
// value of defect voxels (bins 1 and 2) over the summed bin value of all
// voxels.
package spatialbias

import (
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/carbocation/gxstats/volume"
	"github.com/carbocation/pfx"
)

const (
	// Bands per lung.
	Bands = 3

	// Only slices in this fraction range of the non-empty slice list are
	// used.
	sliceFractionStart = 0.4
	sliceFractionEnd   = 0.8
)

// Result is the outcome of Analyze.
type Result struct {
	// Bias is positive when defects are weighted toward the base.
	Bias float64

	// BandRatios is the per-band defect share averaged over slices:
	// left apex, left middle, left base, right apex, right middle, right base.
	BandRatios [2 * Bands]float64

	SlicesUsed    int
	SlicesSkipped int
}

// ApicalBasilarBias is Analyze reduced to the bias score.
func ApicalBasilarBias(rbcBinned *volume.Volume, mask *volume.Mask) (float64, error) {
	res, err := Analyze(rbcBinned, mask)
	return res.Bias, err
}

// Analyze computes the apical-basilar RBC defect bias. The last axis is the
// slice axis. Within a slice, rows (first axis) run from apex to base and the
// left lung is the one with the smaller column centroid.
//
// An empty mask is an error. If no slice has two lung regions, the bias is
// NaN.
func Analyze(rbcBinned *volume.Volume, mask *volume.Mask) (Result, error) {
	res := Result{Bias: math.NaN()}
	for k := range res.BandRatios {
		res.BandRatios[k] = math.NaN()
	}

	if err := volume.CheckShape(rbcBinned, mask); err != nil {
		return res, pfx.Err(err)
	}

	var valid []int
	for z := 0; z < mask.Shape[2]; z++ {
		if sliceAny(mask, z) {
			valid = append(valid, z)
		}
	}
	if len(valid) == 0 {
		return res, pfx.Err(fmt.Errorf("apical-basilar bias: %w", volume.ErrEmptyMask))
	}

	start := int(float64(len(valid)) * sliceFractionStart)
	end := int(float64(len(valid)) * sliceFractionEnd)
	selected := valid[start:end]

	var sums, counts [2 * Bands]float64
	for _, z := range selected {
		ratios, ok := sliceRatios(rbcBinned, mask, z)
		if !ok {
			res.SlicesSkipped++
			continue
		}
		res.SlicesUsed++

		for k, r := range ratios {
			if math.IsNaN(r) {
				continue
			}
			sums[k] += r
			counts[k]++
		}
	}

	if res.SlicesSkipped > 0 {
		log.Warnf("apical-basilar bias: skipped %d of %d slices with fewer than two lung regions", res.SlicesSkipped, len(selected))
	}
	if res.SlicesUsed == 0 {
		log.Warnf("apical-basilar bias: no usable slice among %d", len(selected))
		return res, nil
	}

	for k := range res.BandRatios {
		if counts[k] > 0 {
			res.BandRatios[k] = sums[k] / counts[k]
		}
	}

	r := res.BandRatios
	bottom := r[2] + r[5]
	top := r[0] + r[1] + r[3] + r[4]
	res.Bias = (bottom - top/2) / 2 * 100

	return res, nil
}

// sliceRatios returns the per-band defect share of slice z, NaN for bands
// whose summed bin value is zero. ok is false when the slice does not have two
// components.
func sliceRatios(rbcBinned *volume.Volume, mask *volume.Mask, z int) (ratios [2 * Bands]float64, ok bool) {
	conn := NewConnected(mask.Slice2D(z))
	if len(conn.Components) < 2 {
		return ratios, false
	}

	largest := conn.Largest(2)
	left, right := largest[1], largest[0]
	if largest[0].CentroidCol < largest[1].CentroidCol {
		left, right = largest[0], largest[1]
	}

	var num, sum [2 * Bands]float64
	for side, comp := range []Component{left, right} {
		edges := bandEdges(comp.Top, comp.Height())
		for i := comp.Top; i <= comp.Bottom; i++ {
			band := -1
			for b := 0; b < Bands; b++ {
				if edges[b] <= i && i < edges[b+1] {
					band = b
					break
				}
			}
			if band < 0 {
				continue
			}

			k := side*Bands + band
			for j := comp.Left; j <= comp.Right; j++ {
				if conn.LabelAt(i, j) != comp.Label {
					continue
				}
				v := rbcBinned.At(i, j, z)
				if v == 1 || v == 2 {
					num[k] += v
				}
				sum[k] += v
			}
		}
	}

	for k := range ratios {
		if sum[k] == 0 {
			ratios[k] = math.NaN()
			continue
		}
		ratios[k] = num[k] / sum[k]
	}

	return ratios, true
}

// bandEdges splits [top, top+height] into Bands intervals at evenly spaced
// points truncated to integers.
func bandEdges(top, height int) [Bands + 1]int {
	var edges [Bands + 1]int
	for b := 0; b <= Bands; b++ {
		edges[b] = int(float64(top) + float64(b)*float64(height)/Bands)
	}
	return edges
}

func sliceAny(mask *volume.Mask, z int) bool {
	for x := 0; x < mask.Shape[0]; x++ {
		for y := 0; y < mask.Shape[1]; y++ {
			if mask.At(x, y, z) {
				return true
			}
		}
	}
	return false
}
