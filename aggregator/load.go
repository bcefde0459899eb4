package aggregator

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/carbocation/gxstats/config"
	"github.com/carbocation/gxstats/region"
	"github.com/carbocation/gxstats/scanmeta"
	"github.com/carbocation/gxstats/volume"
	"github.com/carbocation/gxstats/volumeio"
	"github.com/carbocation/pfx"
)

// maxParallelReads bounds the images read at once for one patient.
const maxParallelReads = 4

type imageFile struct {
	name string
	dst  **volume.Volume
}

// Subject names a patient after its directory.
func Subject(patientDir string) string {
	return volumeio.Base(patientDir)
}

// NewLoadFunc reads a patient directory laid out as cfg describes.
func NewLoadFunc(loader *volumeio.Loader, cfg config.JSONConfig, patientDir string) LoadFunc {
	return func(ctx context.Context) (Inputs, error) {
		return LoadPatient(ctx, loader, cfg, patientDir)
	}
}

// LoadPatient reads the metadata, images and masks of one patient.
func LoadPatient(ctx context.Context, loader *volumeio.Loader, cfg config.JSONConfig, patientDir string) (Inputs, error) {
	in := Inputs{
		Subject: Subject(patientDir),
		Sources: make(map[region.Source]*volume.Volume),
	}

	meta, err := loadMetadata(ctx, loader, volumeio.Join(patientDir, scanmeta.FileName))
	if err != nil {
		return in, err
	}
	in.Meta = meta
	if meta.SubjectID != "" {
		in.Subject = meta.SubjectID
	}

	resolve := func(name string) string { return cfg.Resolve(patientDir, name) }
	images := []imageFile{
		{cfg.Images.VentBinned, &in.VentBinned},
		{cfg.Images.VentCorrected, &in.VentCorrected},
		{cfg.Images.RBCBinned, &in.RBCBinned},
		{cfg.Images.MembraneBinned, &in.MembraneBinned},
	}
	if !cfg.Images.HasComplex() {
		images = append(images,
			imageFile{cfg.Images.RBC, &in.RBC},
			imageFile{cfg.Images.Membrane, &in.Membrane},
		)
	}
	if cfg.Images.HasOscillation() {
		gated := []imageFile{
			{cfg.Images.RBCHigh, &in.RBCHigh},
			{cfg.Images.RBCLow, &in.RBCLow},
			{cfg.Images.RBCTotal, &in.RBCTotal},
		}
		ok, err := allExist(ctx, loader, gated, resolve)
		if err != nil {
			return in, pfx.Err(fmt.Errorf("%s: %w", in.Subject, err))
		}
		if ok {
			images = append(images, gated...)
		} else {
			log.Warnf("%s: cardiac-gated RBC images missing, oscillation is not computed", in.Subject)
		}
	}

	sources := []region.Source{region.SourceLung, region.SourceCorePeel, region.SourceLobes}
	if cfg.SubLobes {
		sources = append(sources, region.SourceSubLobes)
	}
	labels := make([]*volume.Volume, len(sources))

	// Each goroutine writes a distinct destination.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelReads)

	for _, img := range images {
		img := img
		g.Go(func() error {
			v, err := loader.Volume(gctx, resolve(img.name))
			if err != nil {
				return err
			}
			*img.dst = v
			return nil
		})
	}
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			v, err := loader.Volume(gctx, resolve(cfg.Masks.Source(src)))
			if err != nil {
				return err
			}
			labels[i] = v
			return nil
		})
	}
	g.Go(func() error {
		m, err := loader.Mask(gctx, resolve(cfg.Images.MaskVent))
		if err != nil {
			return err
		}
		in.MaskVent = m
		return nil
	})
	if cfg.Images.HasComplex() {
		g.Go(func() error {
			c, err := loader.Complex(gctx, resolve(cfg.Images.GasReal), resolve(cfg.Images.GasImag))
			if err != nil {
				return err
			}
			in.Gas = c
			return nil
		})
		g.Go(func() error {
			c, err := loader.Complex(gctx, resolve(cfg.Images.DissolvedReal), resolve(cfg.Images.DissolvedImag))
			if err != nil {
				return err
			}
			in.Dissolved = c
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return in, pfx.Err(fmt.Errorf("%s: %w", in.Subject, err))
	}

	for i, src := range sources {
		in.Sources[src] = labels[i]
	}

	return in, nil
}

// allExist reports whether every file is present. Missing optional images
// are not an error.
func allExist(ctx context.Context, loader *volumeio.Loader, files []imageFile, resolve func(string) string) (bool, error) {
	for _, f := range files {
		ok, err := loader.Exists(ctx, resolve(f.name))
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func loadMetadata(ctx context.Context, loader *volumeio.Loader, p string) (scanmeta.ScanMetadata, error) {
	local, cleanup, err := loader.MaybeFetchFromGoogleStorage(ctx, p)
	defer cleanup()
	if err != nil {
		return scanmeta.ScanMetadata{}, err
	}

	return scanmeta.Load(local)
}
