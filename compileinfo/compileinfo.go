// Package compileinfo reports the module and VCS revision a binary was built
// from, so that every result table can be traced to the code that wrote it.
package compileinfo

import (
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

type CompileInfo struct {
	Binary     string
	Module     string
	Version    string
	GoVersion  string
	Commit     string
	CommitTime string
	Modified   bool
}

func (c CompileInfo) String() string {
	if c.Commit == "" {
		return fmt.Sprintf("%s (%s) built with %s without VCS information", c.Binary, c.Module, c.GoVersion)
	}

	mod := ""
	if c.Modified {
		mod = " with uncommitted changes"
	}
	return fmt.Sprintf("%s (%s) built with %s at commit %s (%s)%s", c.Binary, c.Module, c.GoVersion, c.Commit, c.CommitTime, mod)
}

// Fields renders c for structured logging.
func (c CompileInfo) Fields() log.Fields {
	return log.Fields{
		"binary":      c.Binary,
		"module":      c.Module,
		"version":     c.Version,
		"go":          c.GoVersion,
		"commit":      c.Commit,
		"commit_time": c.CommitTime,
		"modified":    c.Modified,
	}
}

// Get reads the build information embedded in the running binary.
func Get() CompileInfo {
	z, ok := debug.ReadBuildInfo()
	if !ok {
		return CompileInfo{}
	}
	return fromBuildInfo(z)
}

func fromBuildInfo(z *debug.BuildInfo) CompileInfo {
	out := CompileInfo{
		Binary:    z.Path,
		Module:    z.Main.Path,
		Version:   z.Main.Version,
		GoVersion: z.GoVersion,
	}
	for _, s := range z.Settings {
		switch s.Key {
		case "vcs.revision":
			out.Commit = s.Value
		case "vcs.time":
			out.CommitTime = s.Value
		case "vcs.modified":
			out.Modified = s.Value == "true"
		}
	}

	return out
}

// Log writes the build information of the running binary at info level.
func Log() {
	c := Get()
	log.WithFields(c.Fields()).Info(c.String())
}
