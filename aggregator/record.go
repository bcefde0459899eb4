package aggregator

import (
	"fmt"

	"github.com/carbocation/gxstats/config"
	"github.com/carbocation/gxstats/metrics"
	"github.com/carbocation/gxstats/oscillation"
	"github.com/carbocation/gxstats/region"
	"github.com/carbocation/gxstats/resulttable"
	"github.com/carbocation/gxstats/volume"
	"github.com/carbocation/pfx"
)

// Split cuts one region definition out of the patient's label volumes.
func (p *Patient) Split(d region.Def) (*region.Split, error) {
	labels, ok := p.Sources[d.Source]
	if !ok {
		return nil, pfx.Err(fmt.Errorf("%s: region %s: no %s mask", p.Subject, d.Name, d.Source))
	}
	return region.NewSplit(d, labels)
}

// Record computes the statistics row of one region. Bin percentages and
// volumes are taken over the region. Continuous statistics and KCO are taken
// over the ventilated part of the region.
func (p *Patient) Record(s *region.Split, opts Options) (*resulttable.Record, error) {
	rec, err := p.record(s, opts)
	if err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: region %s: %w", p.Subject, s.Name, err))
	}
	return rec, nil
}

func (p *Patient) record(s *region.Split, opts Options) (*resulttable.Record, error) {
	ventBinned, err := s.Apply(p.VentBinned)
	if err != nil {
		return nil, err
	}
	rbcBinned, err := s.Apply(p.RBCBinned)
	if err != nil {
		return nil, err
	}
	membraneBinned, err := s.Apply(p.MembraneBinned)
	if err != nil {
		return nil, err
	}
	ventilated, err := s.Intersect(p.MaskVent)
	if err != nil {
		return nil, err
	}

	m := resulttable.NaNMetrics()

	// Each step is skipped once one has failed; the first error is kept.
	var failed error
	do := func(f func() (float64, error), dst *float64) {
		if failed != nil {
			return
		}
		*dst, failed = f()
	}
	pcts := func(image *volume.Volume, bins config.ChannelBins, defect, low, high *float64) {
		do(func() (float64, error) { return metrics.BinPercentage(image, bins.Defect, s.Mask) }, defect)
		do(func() (float64, error) { return metrics.BinPercentage(image, bins.Low, s.Mask) }, low)
		do(func() (float64, error) { return metrics.BinPercentage(image, bins.High, s.Mask) }, high)
	}
	moments := func(image *volume.Volume, mask *volume.Mask, mean, median, std *float64) {
		do(func() (float64, error) { return metrics.Mean(image, mask) }, mean)
		do(func() (float64, error) { return metrics.Median(image, mask) }, median)
		do(func() (float64, error) { return metrics.Std(image, mask) }, std)
	}

	pcts(ventBinned, opts.Bins.Vent, &m.VentDefectPct, &m.VentLowPct, &m.VentHighPct)
	pcts(rbcBinned, opts.Bins.RBC, &m.RBCDefectPct, &m.RBCLowPct, &m.RBCHighPct)
	pcts(membraneBinned, opts.Bins.Membrane, &m.MembraneDefectPct, &m.MembraneLowPct, &m.MembraneHighPct)

	moments(p.VentNormalized, s.Mask, &m.VentMean, &m.VentMedian, &m.VentStd)
	moments(p.RBC, ventilated, &m.RBCMean, &m.RBCMedian, &m.RBCStd)
	moments(p.Membrane, ventilated, &m.MembraneMean, &m.MembraneMedian, &m.MembraneStd)
	do(func() (float64, error) { return metrics.NegativePercentage(p.RBC, ventilated) }, &m.RBCNegativePct)
	do(func() (float64, error) { return metrics.NegativePercentage(p.Membrane, ventilated) }, &m.MembraneNegativePct)

	fov := p.Meta.FOV
	m.InflationVolumeL = metrics.InflationVolume(s.Mask, fov)
	do(func() (float64, error) { return metrics.AlveolarVolume(ventBinned, s.Mask, fov) }, &m.AlveolarVolumeL)
	do(func() (float64, error) { return metrics.KCO(p.Membrane, p.RBC, ventilated, opts.KCOReference) }, &m.KCO)
	do(func() (float64, error) {
		return metrics.DLCO(ventBinned, p.Membrane, p.RBC, s.Mask, ventilated, fov, opts.KCOReference)
	}, &m.DLCO)

	if failed != nil {
		return nil, failed
	}

	if p.Oscillation != nil {
		sum, err := oscillation.Summarize(p.Oscillation, ventilated, opts.Oscillation.Thresholds)
		if err != nil {
			return nil, err
		}
		m.RBCOscMean, m.RBCOscHighPct, m.RBCOscLowPct = sum.Mean, sum.HighPct, sum.LowPct
	}

	m.ApicalBasilarBias = p.Bias
	m.VentSNR = p.SNR.SNR
	m.VentSNRRayleigh = p.SNR.RayleighSNR

	return &resulttable.Record{RBCMRatio: p.Meta.RBCMRatio, Metrics: m}, nil
}
