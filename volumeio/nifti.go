package volumeio

import (
	"context"
	"fmt"

	"github.com/henghuang/nifti"

	"github.com/carbocation/gxstats/volume"
	"github.com/carbocation/pfx"
)

// SafelyNiftiParse consumes panics emitted by the nifti library, which are
// inappropriate and must be captured in order to turn them into recoverable
// errors.
func SafelyNiftiParse(filename string, rdata bool) (parsedData nifti.Nifti1Image, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("%s: %v", filename, panicErr)
		}
	}()

	parsedData.LoadImage(filename, rdata)

	return
}

// ReadNifti converts a local .nii or .nii.gz file into a volume. Only the first
// time point of a 4-D file is read, and 4-D files with more than one time
// point are rejected.
func ReadNifti(filename string) (*volume.Volume, error) {
	img, err := SafelyNiftiParse(filename, true)
	if err != nil {
		return nil, pfx.Err(err)
	}

	dims := img.GetDims()
	if len(dims) < 3 {
		return nil, pfx.Err(fmt.Errorf("%s: expected a 3-D image, got dims %v", filename, dims))
	}
	if len(dims) > 3 && dims[3] > 1 {
		return nil, pfx.Err(fmt.Errorf("%s: expected a 3-D image, got %d time points", filename, dims[3]))
	}

	shape := volume.Shape{dims[0], dims[1], dims[2]}
	if shape.Len() == 0 {
		return nil, pfx.Err(fmt.Errorf("%s: image has no voxels (dims %v)", filename, dims))
	}

	out := volume.New(shape)
	for x := 0; x < shape[0]; x++ {
		for y := 0; y < shape[1]; y++ {
			for z := 0; z < shape[2]; z++ {
				out.Set(x, y, z, float64(img.GetAt(x, y, z, 0)))
			}
		}
	}

	return out, nil
}

// Volume loads the image at p, fetching it first when p is a gs:// URL.
func (l *Loader) Volume(ctx context.Context, p string) (*volume.Volume, error) {
	local, cleanup, err := l.MaybeFetchFromGoogleStorage(ctx, p)
	defer cleanup()
	if err != nil {
		return nil, err
	}

	return ReadNifti(local)
}

// Mask loads a mask image. Voxels are set above 0.5.
func (l *Loader) Mask(ctx context.Context, p string) (*volume.Mask, error) {
	v, err := l.Volume(ctx, p)
	if err != nil {
		return nil, err
	}
	return volume.MaskFromVolume(v), nil
}

// Complex joins separate real and imaginary images into one complex volume.
func (l *Loader) Complex(ctx context.Context, realPath, imagPath string) (*volume.ComplexVolume, error) {
	re, err := l.Volume(ctx, realPath)
	if err != nil {
		return nil, err
	}
	im, err := l.Volume(ctx, imagPath)
	if err != nil {
		return nil, err
	}

	c, err := volume.ComplexFromParts(re, im)
	if err != nil {
		return nil, pfx.Err(fmt.Errorf("%s and %s: %w", realPath, imagPath, err))
	}
	return c, nil
}
