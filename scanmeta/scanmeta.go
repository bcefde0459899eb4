// Package scanmeta reads and writes the per-patient scan metadata produced at
// reconstruction time.
package scanmeta

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the metadata file inside a patient directory.
const FileName = "metadata.yaml"

// ScanMetadata is read-only once loaded.
type ScanMetadata struct {
	// FOV is the field of view along the first image axis, in cm.
	FOV float64 `yaml:"fov_cm"`

	// RBCMRatio is the RBC:membrane signal ratio used by the Dixon
	// decomposition.
	RBCMRatio float64 `yaml:"rbc_m_ratio"`

	SubjectID      string  `yaml:"subject_id,omitempty"`
	ScanDate       string  `yaml:"scan_date,omitempty"`
	FieldStrengthT float64 `yaml:"field_strength_t,omitempty"`
}

// Validate rejects metadata that the derived metrics cannot use.
func (m ScanMetadata) Validate() error {
	if m.FOV <= 0 {
		return fmt.Errorf("fov_cm must be positive, got %g", m.FOV)
	}
	if m.RBCMRatio < 0 {
		return fmt.Errorf("rbc_m_ratio must not be negative, got %g", m.RBCMRatio)
	}
	return nil
}

// Load reads and validates a metadata file.
func Load(path string) (ScanMetadata, error) {
	var m ScanMetadata

	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("error reading scan metadata: %w", err)
	}

	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("error parsing scan metadata %s: %w", path, err)
	}

	if err := m.Validate(); err != nil {
		return m, fmt.Errorf("%s: %w", path, err)
	}

	return m, nil
}

// Save writes m to path, creating the directory if needed.
func Save(m ScanMetadata, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating metadata directory: %w", err)
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("error marshaling scan metadata: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing scan metadata: %w", err)
	}

	return nil
}
