package volume

import "errors"

// Failure kinds shared by every numeric stage. Callers test with errors.Is;
// each stage wraps these with the context of the failing call.
var (
	// ErrShapeMismatch means an image and a mask (or two images) are on
	// different voxel grids.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrEmptyMask means a mask selects no voxels, so no statistic is defined.
	ErrEmptyMask = errors.New("empty mask")

	// ErrInvalidNumericInput means an image about to be averaged contains NaN
	// or Inf.
	ErrInvalidNumericInput = errors.New("image contains NaN or Inf values")

	// ErrDegenerateMaskVolume means the voxel count used as a percentage
	// denominator is ~0.
	ErrDegenerateMaskVolume = errors.New("mask volume is ~0")

	// ErrInvalidMethod means an unrecognized normalization or oscillation
	// method was requested.
	ErrInvalidMethod = errors.New("invalid method")
)
