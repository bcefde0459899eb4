package volumeio

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/carbocation/gxstats/scanmeta"
	"github.com/carbocation/pfx"
)

// ListPatients expands a -patients argument. A comma-separated list is taken
// as patient directories. A single local directory without scan metadata is
// taken as a folder of patients and its subdirectories are listed in name
// order. gs:// directories must be listed explicitly.
func ListPatients(arg string) ([]string, error) {
	var out []string
	for _, p := range strings.Split(arg, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.TrimSuffix(p, "/"))
		}
	}
	if len(out) != 1 || IsGoogleStorage(out[0]) {
		return out, nil
	}

	dir := out[0]
	if _, err := os.Stat(filepath.Join(dir, scanmeta.FileName)); err == nil {
		return out, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, pfx.Err(err)
	}

	out = out[:0]
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)

	return out, nil
}
