// Package config holds the run configuration of the gas exchange statistics
// tools: which images and masks to read from each patient directory, the bin
// sets per channel, and the method parameters of the numeric stages.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/carbocation/gxstats/metrics"
	"github.com/carbocation/gxstats/normalize"
	"github.com/carbocation/gxstats/oscillation"
	"github.com/carbocation/gxstats/region"
	"github.com/carbocation/gxstats/volumeio"
	"github.com/carbocation/pfx"
)

// SubjectPlaceholder is replaced by the subject ID in OutputPattern.
const SubjectPlaceholder = "{subject}"

type JSONConfig struct {
	ConfigPath string `json:"-"`

	Images Images `json:"images"`
	Masks  Masks  `json:"masks"`
	Bins   Bins   `json:"bins"`

	Normalization Normalization `json:"normalization"`
	Oscillation   Oscillation   `json:"oscillation"`

	KCOReference metrics.Reference `json:"kco_reference"`
	SNRWindow    int               `json:"snr_window"`

	// OutputDir holds the tables. When empty, each table is written into its
	// patient directory, which must then be local.
	OutputDir     string `json:"output_dir"`
	OutputPattern string `json:"output_pattern"`
	Overwrite     bool   `json:"overwrite"`
	SubLobes      bool   `json:"sublobes"`

	// Concurrency is the number of patients processed at once.
	Concurrency int `json:"concurrency"`
}

// Images are file names relative to the patient directory. Absolute paths and
// gs:// URLs are used as they are.
type Images struct {
	VentBinned     string `json:"vent_binned"`
	VentCorrected  string `json:"vent_corrected"`
	RBC            string `json:"rbc"`
	RBCBinned      string `json:"rbc_binned"`
	Membrane       string `json:"membrane"`
	MembraneBinned string `json:"membrane_binned"`
	MaskVent       string `json:"mask_vent"`

	// Cardiac-gated RBC images. Oscillation columns are NaN unless all three
	// are set.
	RBCHigh  string `json:"rbc_high"`
	RBCLow   string `json:"rbc_low"`
	RBCTotal string `json:"rbc_total"`

	// Complex gas and dissolved images, each as a real and an imaginary
	// file. When all four are set, RBC and membrane come from the Dixon
	// decomposition instead of the RBC and Membrane files.
	GasReal       string `json:"gas_real"`
	GasImag       string `json:"gas_imag"`
	DissolvedReal string `json:"dissolved_real"`
	DissolvedImag string `json:"dissolved_imag"`
}

// HasOscillation reports whether the cardiac-gated images are configured.
func (i Images) HasOscillation() bool {
	return i.RBCHigh != "" && i.RBCLow != "" && i.RBCTotal != ""
}

// HasComplex reports whether the complex inputs are configured.
func (i Images) HasComplex() bool {
	return i.GasReal != "" && i.GasImag != "" && i.DissolvedReal != "" && i.DissolvedImag != ""
}

// Masks are the multi-label region sources and their codes.
type Masks struct {
	Lung     string `json:"lung"`
	CorePeel string `json:"core_peel"`
	Lobes    string `json:"lobes"`
	SubLobes string `json:"sublobes"`

	// Codes overrides region.DefaultCodes.
	Codes map[region.Name]float64 `json:"codes"`

	// SubLobeCodes maps each sub-lobe to its label. When empty, labels are
	// assigned to the sub-lobes in ascending order.
	SubLobeCodes map[region.Name]float64 `json:"sublobe_codes"`
}

// Source returns the file configured for a region source.
func (m Masks) Source(s region.Source) string {
	switch s {
	case region.SourceLung:
		return m.Lung
	case region.SourceCorePeel:
		return m.CorePeel
	case region.SourceLobes:
		return m.Lobes
	case region.SourceSubLobes:
		return m.SubLobes
	}
	return ""
}

// ChannelBins are the bin numbers counted toward each percentage column.
type ChannelBins struct {
	Defect []int `json:"defect"`
	Low    []int `json:"low"`
	High   []int `json:"high"`
}

type Bins struct {
	Vent     ChannelBins `json:"vent"`
	RBC      ChannelBins `json:"rbc"`
	Membrane ChannelBins `json:"membrane"`
}

type Normalization struct {
	Method     normalize.Method `json:"method"`
	Percentile float64          `json:"percentile"`
}

type Oscillation struct {
	Method     oscillation.Method     `json:"method"`
	Kernel     int                    `json:"kernel"`
	Thresholds oscillation.Thresholds `json:"thresholds"`
}

// Default returns the configuration used for every field a file omits.
func Default() JSONConfig {
	return JSONConfig{
		Images: Images{
			VentBinned:     "image_gas_binned.nii",
			VentCorrected:  "image_gas_cor.nii",
			RBC:            "image_rbc2gas.nii",
			RBCBinned:      "image_rbc2gas_binned.nii",
			Membrane:       "image_membrane2gas.nii",
			MembraneBinned: "image_membrane2gas_binned.nii",
			MaskVent:       "mask_vent.nii",
		},
		Masks: Masks{
			Lung:     "CT_mask.nii",
			CorePeel: "CT_corepeel_mask.nii",
			Lobes:    "CT_lobe_mask.nii",
			SubLobes: "CT_sublobe_mask.nii",
			Codes:    map[region.Name]float64{},
		},
		Bins: Bins{
			Vent:     ChannelBins{Defect: []int{1}, Low: []int{2}, High: []int{5, 6}},
			RBC:      ChannelBins{Defect: []int{1}, Low: []int{2}, High: []int{5, 6}},
			Membrane: ChannelBins{Defect: []int{1}, Low: []int{2}, High: []int{6, 7, 8}},
		},
		Normalization: Normalization{
			Method:     normalize.MethodPercentileMasked,
			Percentile: normalize.DefaultPercentile,
		},
		Oscillation: Oscillation{
			Method:     oscillation.MethodSmooth,
			Kernel:     oscillation.DefaultKernel,
			Thresholds: oscillation.DefaultThresholds,
		},
		KCOReference:  metrics.DefaultReference,
		SNRWindow:     metrics.DefaultSNRWindow,
		OutputPattern: SubjectPlaceholder + "_stats.csv",
		Concurrency:   runtime.NumCPU(),
	}
}

// ParseJSONConfigFromPath reads a configuration file on top of Default. An
// empty path yields the defaults.
func ParseJSONConfigFromPath(path string) (JSONConfig, error) {
	out := Default()
	if path == "" {
		return out, out.Validate()
	}
	out.ConfigPath = path

	f, err := os.Open(expandHomeDir(path))
	if err != nil {
		return out, pfx.Err(err)
	}
	defer f.Close()

	err = json.NewDecoder(f).Decode(&out)
	if err != nil {
		if e, ok := err.(*json.SyntaxError); ok {
			log.Printf("syntax error at byte offset %d", e.Offset)
			return out, pfx.Err(err)
		}

		return out, pfx.Err(err)
	}

	// Method names are accepted in any case
	if out.Normalization.Method, err = normalize.ParseMethod(string(out.Normalization.Method)); err != nil {
		return out, pfx.Err(err)
	}
	if out.Oscillation.Method, err = oscillation.ParseMethod(string(out.Oscillation.Method)); err != nil {
		return out, pfx.Err(err)
	}

	// Interpret ~ if present
	out.ConfigPath = expandHomeDir(out.ConfigPath)
	out.OutputDir = expandHomeDir(out.OutputDir)

	if err := out.Validate(); err != nil {
		return out, pfx.Err(err)
	}

	return out, nil
}

// Validate checks the invariants the pipeline relies on.
func (c JSONConfig) Validate() error {
	if c.Normalization.Percentile <= 0 || c.Normalization.Percentile > 100 {
		return fmt.Errorf("normalization percentile must be in (0, 100], got %g", c.Normalization.Percentile)
	}
	if c.Oscillation.Kernel < 1 {
		return fmt.Errorf("oscillation kernel must be >= 1, got %d", c.Oscillation.Kernel)
	}
	if c.SNRWindow < 1 {
		return fmt.Errorf("snr window must be >= 1, got %d", c.SNRWindow)
	}
	if c.KCOReference.Membrane <= 0 || c.KCOReference.RBC <= 0 {
		return fmt.Errorf("kco reference means must be positive, got %+v", c.KCOReference)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency)
	}
	if volumeio.IsGoogleStorage(c.OutputDir) {
		return fmt.Errorf("output_dir %s must be local, tables are appended in place", c.OutputDir)
	}
	if !strings.Contains(c.OutputPattern, SubjectPlaceholder) {
		return fmt.Errorf("output pattern %q must contain %s", c.OutputPattern, SubjectPlaceholder)
	}
	for _, required := range []struct{ name, value string }{
		{"images.vent_binned", c.Images.VentBinned},
		{"images.vent_corrected", c.Images.VentCorrected},
		{"images.rbc_binned", c.Images.RBCBinned},
		{"images.membrane_binned", c.Images.MembraneBinned},
		{"images.mask_vent", c.Images.MaskVent},
		{"masks.lung", c.Masks.Lung},
		{"masks.core_peel", c.Masks.CorePeel},
		{"masks.lobes", c.Masks.Lobes},
	} {
		if required.value == "" {
			return fmt.Errorf("%s must be set", required.name)
		}
	}
	if !c.Images.HasComplex() && (c.Images.RBC == "" || c.Images.Membrane == "") {
		return fmt.Errorf("images.rbc and images.membrane must be set unless all complex inputs are")
	}
	return nil
}

// Regions is the row layout of every table of this run.
func (c JSONConfig) Regions() []region.Def {
	return region.Standard(c.Masks.Codes)
}

// Resolve locates a configured file for one patient.
func (c JSONConfig) Resolve(patientDir, name string) string {
	if name == "" {
		return ""
	}
	name = expandHomeDir(name)
	if filepath.IsAbs(name) || volumeio.IsGoogleStorage(name) {
		return name
	}
	return volumeio.Join(patientDir, name)
}

// OutputPath is where the table of one patient is written.
func (c JSONConfig) OutputPath(patientDir, subject string) (string, error) {
	name := strings.ReplaceAll(c.OutputPattern, SubjectPlaceholder, subject)
	if c.OutputDir != "" {
		return filepath.Join(c.OutputDir, name), nil
	}
	if volumeio.IsGoogleStorage(patientDir) {
		return "", fmt.Errorf("%s: tables cannot be appended in google storage; set output_dir", patientDir)
	}
	return filepath.Join(patientDir, name), nil
}

// Via https://stackoverflow.com/a/17617721/199475
func expandHomeDir(path string) string {

	usr, err := user.Current()
	if err != nil {
		return path
	}

	dir := usr.HomeDir

	if path == "~" {
		// In case of "~", which won't be caught by the "else if"
		path = dir
	} else if strings.HasPrefix(path, "~/") {
		// Use strings.HasPrefix so we don't match paths like
		// "/something/~/something/"
		path = filepath.Join(dir, path[2:])
	}

	return path
}
