// Package aggregator produces the statistics table of one patient. A
// patient-level stage runs once on whole-lung volumes (normalization, the
// optional Dixon decomposition, the apical-basilar bias, SNR and the
// oscillation image). The regional stage then walks the regions in their
// fixed order and appends one row per region.
package aggregator

import (
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/carbocation/gxstats/config"
	"github.com/carbocation/gxstats/dixon"
	"github.com/carbocation/gxstats/metrics"
	"github.com/carbocation/gxstats/normalize"
	"github.com/carbocation/gxstats/oscillation"
	"github.com/carbocation/gxstats/region"
	"github.com/carbocation/gxstats/scanmeta"
	"github.com/carbocation/gxstats/spatialbias"
	"github.com/carbocation/gxstats/volume"
	"github.com/carbocation/pfx"
)

// Inputs are the aligned volumes of one patient. All share one grid.
type Inputs struct {
	Subject string
	Meta    scanmeta.ScanMetadata

	VentBinned     *volume.Volume
	VentCorrected  *volume.Volume
	RBC            *volume.Volume
	RBCBinned      *volume.Volume
	Membrane       *volume.Volume
	MembraneBinned *volume.Volume

	// MaskVent is the lung without ventilation defects.
	MaskVent *volume.Mask

	// Optional cardiac-gated RBC images.
	RBCHigh, RBCLow, RBCTotal *volume.Volume

	// Optional complex inputs. When both are present, RBC and Membrane are
	// replaced by the Dixon decomposition divided by the gas magnitude.
	Gas, Dissolved *volume.ComplexVolume

	// Sources holds the multi-label region volumes.
	Sources map[region.Source]*volume.Volume
}

// Options are the method parameters of both stages.
type Options struct {
	Bins          config.Bins
	Normalization config.Normalization
	Oscillation   config.Oscillation
	KCOReference  metrics.Reference
	SNRWindow     int
}

// NewOptions takes the method parameters from a run configuration.
func NewOptions(cfg config.JSONConfig) Options {
	return Options{
		Bins:          cfg.Bins,
		Normalization: cfg.Normalization,
		Oscillation:   cfg.Oscillation,
		KCOReference:  cfg.KCOReference,
		SNRWindow:     cfg.SNRWindow,
	}
}

// Patient is the output of the patient-level stage. Nothing in it is modified
// by the regional stage.
type Patient struct {
	Inputs

	WholeLung *volume.Mask

	// VentNormalized is VentCorrected normalized over the whole lung.
	VentNormalized *volume.Volume

	// Oscillation is nil when the cardiac-gated images are absent.
	Oscillation *volume.Volume

	Bias float64
	SNR  metrics.SNRResult
}

// Prepare runs the patient-level stage.
func Prepare(in Inputs, opts Options) (*Patient, error) {
	if err := checkInputs(in); err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: %w", in.Subject, err))
	}

	lungLabels, ok := in.Sources[region.SourceLung]
	if !ok {
		return nil, pfx.Err(fmt.Errorf("%s: no whole-lung mask", in.Subject))
	}

	p := &Patient{
		Inputs:    in,
		WholeLung: volume.RegionMask(volume.Homogenize(lungLabels), region.WholeLungCode),
	}
	if !p.WholeLung.Any() {
		return nil, pfx.Err(fmt.Errorf("%s: whole-lung mask: %w", in.Subject, volume.ErrEmptyMask))
	}

	if in.Gas != nil && in.Dissolved != nil {
		if err := p.decompose(); err != nil {
			return nil, pfx.Err(fmt.Errorf("%s: %w", in.Subject, err))
		}
	}

	var err error
	p.VentNormalized, err = normalize.Normalize(in.VentCorrected, p.WholeLung, opts.Normalization.Method, opts.Normalization.Percentile)
	if err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: normalizing ventilation: %w", in.Subject, err))
	}

	p.Bias, err = spatialbias.ApicalBasilarBias(in.RBCBinned, p.WholeLung)
	if err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: %w", in.Subject, err))
	}

	// Normalization zeroes the background, so noise is sampled on the
	// corrected image.
	p.SNR, err = metrics.SNR(in.VentCorrected, p.WholeLung, opts.SNRWindow)
	if err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: %w", in.Subject, err))
	}

	if in.RBCHigh != nil && in.RBCLow != nil && in.RBCTotal != nil {
		p.Oscillation, err = oscillation.Compute(in.RBCHigh, in.RBCLow, in.RBCTotal, p.WholeLung, oscillation.Options{
			Method: opts.Oscillation.Method,
			Kernel: opts.Oscillation.Kernel,
		})
		if err != nil {
			return nil, pfx.Err(fmt.Errorf("%s: %w", in.Subject, err))
		}
	}

	if math.IsNaN(p.Bias) || math.IsNaN(p.SNR.SNR) {
		log.Warnf("%s: apical-basilar bias %g, ventilation SNR %g", in.Subject, p.Bias, p.SNR.SNR)
	}

	return p, nil
}

// decompose replaces the RBC and membrane ratio images with the Dixon
// decomposition of the complex inputs, each divided by the gas magnitude.
func (p *Patient) decompose() error {
	rbc, membrane, err := dixon.Decompose(p.Gas, p.Dissolved, p.WholeLung, p.Meta.RBCMRatio)
	if err != nil {
		return err
	}

	gasMagnitude := p.Gas.Abs()
	if p.RBC, err = volume.DivideMasked(rbc, gasMagnitude, p.WholeLung); err != nil {
		return err
	}
	if p.Membrane, err = volume.DivideMasked(membrane, gasMagnitude, p.WholeLung); err != nil {
		return err
	}

	return nil
}

func checkInputs(in Inputs) error {
	required := []*volume.Volume{in.VentBinned, in.VentCorrected, in.RBCBinned, in.MembraneBinned}
	if in.Gas == nil || in.Dissolved == nil {
		required = append(required, in.RBC, in.Membrane)
	}
	for _, v := range required {
		if v == nil {
			return fmt.Errorf("missing a required image")
		}
	}
	if in.MaskVent == nil {
		return fmt.Errorf("missing the ventilation mask")
	}

	if err := volume.CheckShapes(required...); err != nil {
		return err
	}
	shape := required[0].Shape
	if in.MaskVent.Shape != shape {
		return fmt.Errorf("%w: ventilation mask %v, images %v", volume.ErrShapeMismatch, in.MaskVent.Shape, shape)
	}
	for src, labels := range in.Sources {
		if labels.Shape != shape {
			return fmt.Errorf("%w: %s mask %v, images %v", volume.ErrShapeMismatch, src, labels.Shape, shape)
		}
	}
	for _, c := range []*volume.ComplexVolume{in.Gas, in.Dissolved} {
		if c != nil && c.Shape != shape {
			return fmt.Errorf("%w: complex image %v, images %v", volume.ErrShapeMismatch, c.Shape, shape)
		}
	}

	return nil
}
