// Package resulttable persists per-region statistics rows as CSV: one file per
// patient, one row per region, and a header written exactly once.
//
// Rows are appended while the regions are processed. The first column then
// holds the patient's RBC:membrane ratio as a placeholder. Once every region
// is written, Finalize rewrites that column with the region names.
package resulttable

import (
	"reflect"
	"strings"
)

const (
	// PlaceholderColumn heads the first column of an unfinished table.
	PlaceholderColumn = "rbc_m_ratio"

	// RegionColumn heads the first column of a finished table.
	RegionColumn = "region"
)

// Metrics are the statistics columns shared by unfinished and finished rows.
type Metrics struct {
	VentDefectPct     float64 `csv:"vent_defect_pct"`
	VentLowPct        float64 `csv:"vent_low_pct"`
	VentHighPct       float64 `csv:"vent_high_pct"`
	RBCDefectPct      float64 `csv:"rbc_defect_pct"`
	RBCLowPct         float64 `csv:"rbc_low_pct"`
	RBCHighPct        float64 `csv:"rbc_high_pct"`
	MembraneDefectPct float64 `csv:"membrane_defect_pct"`
	MembraneLowPct    float64 `csv:"membrane_low_pct"`
	MembraneHighPct   float64 `csv:"membrane_high_pct"`

	VentMean   float64 `csv:"vent_mean"`
	VentMedian float64 `csv:"vent_median"`
	VentStd    float64 `csv:"vent_std"`

	RBCMean        float64 `csv:"rbc_mean"`
	RBCMedian      float64 `csv:"rbc_median"`
	RBCStd         float64 `csv:"rbc_std"`
	RBCNegativePct float64 `csv:"rbc_negative_pct"`

	MembraneMean        float64 `csv:"membrane_mean"`
	MembraneMedian      float64 `csv:"membrane_median"`
	MembraneStd         float64 `csv:"membrane_std"`
	MembraneNegativePct float64 `csv:"membrane_negative_pct"`

	RBCOscMean    float64 `csv:"rbc_osc_mean"`
	RBCOscHighPct float64 `csv:"rbc_osc_high_pct"`
	RBCOscLowPct  float64 `csv:"rbc_osc_low_pct"`

	InflationVolumeL float64 `csv:"inflation_volume_l"`
	AlveolarVolumeL  float64 `csv:"alveolar_volume_l"`
	KCO              float64 `csv:"kco"`
	DLCO             float64 `csv:"dlco"`

	// Patient-level values, repeated on every row.
	ApicalBasilarBias float64 `csv:"apical_basilar_bias"`
	VentSNR           float64 `csv:"vent_snr"`
	VentSNRRayleigh   float64 `csv:"vent_snr_rayleigh"`
}

// Record is a row of an unfinished table.
type Record struct {
	RBCMRatio float64 `csv:"rbc_m_ratio"`
	Metrics
}

// Row is a row of a finished table.
type Row struct {
	Region string `csv:"region"`
	Metrics
}

// Header is the column list of an unfinished table.
func Header() []string {
	return csvColumns(reflect.TypeOf(Record{}))
}

// FinalizedHeader is the column list of a finished table.
func FinalizedHeader() []string {
	return csvColumns(reflect.TypeOf(Row{}))
}

// MetricColumns lists the statistics columns only.
func MetricColumns() []string {
	return csvColumns(reflect.TypeOf(Metrics{}))
}

// Values returns the statistics of m in MetricColumns order.
func (m Metrics) Values() []float64 {
	v := reflect.ValueOf(m)
	out := make([]float64, v.NumField())
	for i := range out {
		out[i] = v.Field(i).Float()
	}
	return out
}

func csvColumns(t reflect.Type) []string {
	var out []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			out = append(out, csvColumns(f.Type)...)
			continue
		}
		name := strings.Split(f.Tag.Get("csv"), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		out = append(out, name)
	}
	return out
}
