package metrics

import (
	"math"

	"github.com/carbocation/gxstats/volume"
	"github.com/carbocation/pfx"
)

const (
	// FOVInflationScale3D converts cm³ to liters.
	FOVInflationScale3D = 1000.0

	// VAAlpha scales inflation volume to alveolar volume.
	VAAlpha = 1.43

	// KCOAlpha and KCOBeta weight the membrane and RBC conductances.
	KCOAlpha = 11.2
	KCOBeta  = 14.6

	// VentDefectBin is the ventilation defect bin.
	VentDefectBin = 1
)

// Reference holds the healthy-cohort means that KCO is expressed against.
type Reference struct {
	Membrane float64 `json:"membrane_mean"`
	RBC      float64 `json:"rbc_mean"`
}

// DefaultReference is the healthy reference used when none is configured.
var DefaultReference = Reference{Membrane: 0.736, RBC: 0.471}

// InflationVolume estimates the lung volume in liters from the voxel count of
// the thoracic cavity mask, assuming an isotropic grid that spans fov cm along
// its first axis.
func InflationVolume(mask *volume.Mask, fov float64) float64 {
	return float64(mask.Count()) * math.Pow(fov, 3) / math.Pow(float64(mask.Shape[0]), 3) / FOVInflationScale3D
}

// AlveolarVolume is the inflation volume discounted by the ventilation defect
// fraction of ventBinned inside mask, in liters.
func AlveolarVolume(ventBinned *volume.Volume, mask *volume.Mask, fov float64) (float64, error) {
	vdp, err := BinPercentage(ventBinned, []int{VentDefectBin}, mask)
	if err != nil {
		return math.NaN(), pfx.Err(err)
	}

	return VAAlpha * InflationVolume(mask, fov) * (1 - vdp/100), nil
}

// KCO combines the relative membrane and RBC means inside mask as two
// conductances in series. mask is normally the ventilated (non-defect) region.
// A membrane ratio above 1 is inverted.
func KCO(membrane, rbc *volume.Volume, mask *volume.Mask, ref Reference) (float64, error) {
	mem, err := Mean(membrane, mask)
	if err != nil {
		return math.NaN(), pfx.Err(err)
	}
	red, err := Mean(rbc, mask)
	if err != nil {
		return math.NaN(), pfx.Err(err)
	}

	membraneRel := mem / ref.Membrane
	rbcRel := red / ref.RBC
	if membraneRel > 1 {
		membraneRel = 1 / membraneRel
	}

	return 1 / (1/(KCOAlpha*membraneRel) + 1/(KCOBeta*rbcRel)), nil
}

// DLCO is KCO over ventMask times the alveolar volume over mask.
func DLCO(ventBinned, membrane, rbc *volume.Volume, mask, ventMask *volume.Mask, fov float64, ref Reference) (float64, error) {
	k, err := KCO(membrane, rbc, ventMask, ref)
	if err != nil {
		return math.NaN(), pfx.Err(err)
	}
	va, err := AlveolarVolume(ventBinned, mask, fov)
	if err != nil {
		return math.NaN(), pfx.Err(err)
	}

	return k * va, nil
}
