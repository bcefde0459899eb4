package main

import (
	"bufio"
	"flag"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/carbocation/gxstats/aggregator"
	"github.com/carbocation/gxstats/cohort"
	"github.com/carbocation/gxstats/compileinfo"
	"github.com/carbocation/gxstats/config"
	"github.com/carbocation/gxstats/volumeio"
)

func main() {
	start := time.Now()
	log.Println("gxcohort start")
	defer func() {
		log.Printf("gxcohort end. Took %.2f seconds\n", time.Since(start).Seconds())
	}()
	compileinfo.Log()

	var jsonConfig, patients, tables string
	var strict bool

	flag.StringVar(&jsonConfig, "config", "", "(Optional) JSONConfig file used by gxstats, to locate each patient's table")
	flag.StringVar(&patients, "patients", "", "Comma-separated patient directories, or one local directory whose subdirectories are patients")
	flag.StringVar(&tables, "tables", "", "Glob of finalized tables. Used instead of -patients.")
	flag.BoolVar(&strict, "strict", false, "(Optional) Fail on the first table that cannot be read instead of skipping it")
	flag.Parse()

	if (patients == "") == (tables == "") {
		flag.Usage()
		os.Exit(1)
	}

	paths, err := tablePaths(jsonConfig, patients, tables)
	if err != nil {
		log.Fatalln(err)
	}
	log.Printf("Summarizing %d tables\n", len(paths))

	summary, err := cohort.SummarizeFiles(paths, strict)
	if err != nil {
		log.Fatalln(err)
	}

	w := bufio.NewWriter(os.Stdout)
	if err := cohort.WriteTSV(w, summary); err != nil {
		log.Fatalln(err)
	}
	if err := w.Flush(); err != nil {
		log.Fatalln(err)
	}
}

func tablePaths(jsonConfig, patients, tables string) ([]string, error) {
	if tables != "" {
		return filepath.Glob(tables)
	}

	cfg, err := config.ParseJSONConfigFromPath(jsonConfig)
	if err != nil {
		return nil, err
	}

	dirs, err := volumeio.ListPatients(patients)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		path, err := cfg.OutputPath(dir, aggregator.Subject(dir))
		if err != nil {
			return nil, err
		}
		out = append(out, path)
	}

	return out, nil
}
