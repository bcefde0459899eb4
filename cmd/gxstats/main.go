package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	log "github.com/sirupsen/logrus"

	"github.com/carbocation/gxstats/aggregator"
	"github.com/carbocation/gxstats/compileinfo"
	"github.com/carbocation/gxstats/config"
	"github.com/carbocation/gxstats/volumeio"
)

func init() {
	flag.Usage = func() {
		flag.PrintDefaults()

		log.Println("Example JSONConfig file layout (all fields optional):")
		bts, err := json.MarshalIndent(config.Default(), "", "  ")
		if err == nil {
			log.Println(string(bts))
		}
	}
}

func main() {
	start := time.Now()
	log.Println("gxstats start")
	defer func() {
		log.Printf("gxstats end. Took %.2f seconds\n", time.Since(start).Seconds())
	}()
	compileinfo.Log()

	var jsonConfig, patients string
	var overwrite, finalizeOnly, subLobes, verbose bool

	flag.StringVar(&jsonConfig, "config", "", "(Optional) JSONConfig file. Omitted fields take their defaults.")
	flag.StringVar(&patients, "patients", "", "Comma-separated patient directories, or one local directory whose subdirectories are patients")
	flag.BoolVar(&overwrite, "overwrite", false, "(Optional) Recompute tables that already exist, including finalized ones")
	flag.BoolVar(&finalizeOnly, "finalize-only", false, "(Optional) Only rename the placeholder column of complete but unfinished tables")
	flag.BoolVar(&subLobes, "sublobe", false, "(Optional) Also report the sub-lobe regions")
	flag.BoolVar(&verbose, "verbose", false, "(Optional) Log every region")
	flag.Parse()

	if patients == "" {
		flag.Usage()
		os.Exit(1)
	}
	if verbose {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := config.ParseJSONConfigFromPath(jsonConfig)
	if err != nil {
		log.Fatalln(err)
	}
	cfg.Overwrite = cfg.Overwrite || overwrite
	cfg.SubLobes = cfg.SubLobes || subLobes
	if cfg.SubLobes && cfg.Masks.SubLobes == "" {
		log.Fatalln("sub-lobe regions requested but masks.sublobes is not set")
	}

	dirs, err := volumeio.ListPatients(patients)
	if err != nil {
		log.Fatalln(err)
	}

	ctx := context.Background()
	loader := &volumeio.Loader{}

	// Initialize the Google Storage client only if we're pointing to Google
	// Storage paths.
	if strings.Contains(patients, "gs://") {
		loader.Client, err = storage.NewClient(ctx)
		if err != nil {
			log.Fatalln(err)
		}
		defer loader.Client.Close()
	}

	agg := &aggregator.Aggregator{
		Options:      aggregator.NewOptions(cfg),
		Regions:      cfg.Regions(),
		SubLobes:     cfg.SubLobes,
		SubLobeCodes: cfg.Masks.SubLobeCodes,
		Overwrite:    cfg.Overwrite && !finalizeOnly,
	}

	failed := run(ctx, cfg, loader, agg, dirs, finalizeOnly)
	if failed > 0 {
		log.Printf("%d of %d patients failed\n", failed, len(dirs))
		os.Exit(1)
	}
}

// run processes every patient directory, cfg.Concurrency at a time, and
// returns the number of patients that failed.
func run(ctx context.Context, cfg config.JSONConfig, loader *volumeio.Loader, agg *aggregator.Aggregator, dirs []string, finalizeOnly bool) int {
	var mu sync.Mutex
	failed := 0

	sem := make(chan bool, cfg.Concurrency)
	for i, dir := range dirs {
		sem <- true
		go func(dir string) {
			defer func() { <-sem }()

			if err := runPatient(ctx, cfg, loader, agg, dir, finalizeOnly); err != nil {
				log.Errorln(err)
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(dir)

		if (i+1)%100 == 0 {
			log.Printf("Started %d of %d patients\n", i+1, len(dirs))
		}
	}

	for i := 0; i < cap(sem); i++ {
		sem <- true
	}

	return failed
}

func runPatient(ctx context.Context, cfg config.JSONConfig, loader *volumeio.Loader, agg *aggregator.Aggregator, dir string, finalizeOnly bool) error {
	patientStart := time.Now()
	subject := aggregator.Subject(dir)

	path, err := cfg.OutputPath(dir, subject)
	if err != nil {
		return err
	}

	var outcome aggregator.Outcome
	if finalizeOnly {
		outcome, err = agg.FinalizeOnly(path)
	} else {
		outcome, err = agg.Run(ctx, path, aggregator.NewLoadFunc(loader, cfg, dir))
	}
	if err != nil {
		return fmt.Errorf("%s: %w", subject, err)
	}

	log.WithFields(log.Fields{
		"subject": subject,
		"table":   path,
		"outcome": outcome,
		"seconds": fmt.Sprintf("%.2f", time.Since(patientStart).Seconds()),
	}).Info("patient done")

	return nil
}
