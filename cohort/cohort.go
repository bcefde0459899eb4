// Package cohort summarizes finished result tables across patients: for every
// region and statistic, the number of patients with a finite value and the
// mean, standard deviation and median of those values.
package cohort

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"

	"github.com/carbocation/runningvariance"
	"github.com/gocarina/gocsv"
	"github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"

	"github.com/carbocation/gxstats/resulttable"
	"github.com/carbocation/pfx"
)

// Stat is one line of a cohort summary.
type Stat struct {
	Region string  `csv:"region"`
	Metric string  `csv:"metric"`
	N      int     `csv:"n"`
	Mean   float64 `csv:"mean"`
	SD     float64 `csv:"sd"`
	Median float64 `csv:"median"`
}

type accumulator struct {
	rs     *runningvariance.RunningStat
	values []float64
}

// Summary accumulates tables one at a time.
type Summary struct {
	Tables int

	regions []string
	acc     map[string][]*accumulator
}

func NewSummary() *Summary {
	return &Summary{acc: make(map[string][]*accumulator)}
}

// Add folds the rows of one table into the summary. NaN and infinite values
// are left out.
func (s *Summary) Add(rows []*resulttable.Row) {
	columns := len(resulttable.MetricColumns())
	for _, row := range rows {
		accs, ok := s.acc[row.Region]
		if !ok {
			accs = make([]*accumulator, columns)
			for i := range accs {
				accs[i] = &accumulator{rs: runningvariance.NewRunningStat()}
			}
			s.acc[row.Region] = accs
			s.regions = append(s.regions, row.Region)
		}

		for i, v := range row.Metrics.Values() {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			accs[i].rs.Push(v)
			accs[i].values = append(accs[i].values, v)
		}
	}
	s.Tables++
}

// AddFile reads a finished table and adds it.
func (s *Summary) AddFile(path string) error {
	rows, err := resulttable.ReadRows(path)
	if err != nil {
		return pfx.Err(err)
	}
	s.Add(rows)
	return nil
}

// Stats lists the summary by region, in the order regions were first seen,
// then by statistic in column order. Statistics without any finite value have
// N of 0 and NaN moments.
func (s *Summary) Stats() []Stat {
	metrics := resulttable.MetricColumns()
	out := make([]Stat, 0, len(s.regions)*len(metrics))

	for _, region := range s.regions {
		for i, metric := range metrics {
			a := s.acc[region][i]
			st := Stat{
				Region: region,
				Metric: metric,
				N:      int(a.rs.N),
				Mean:   math.NaN(),
				SD:     math.NaN(),
				Median: math.NaN(),
			}
			if st.N > 0 {
				st.Mean = a.rs.Mean()
				st.Median = median(a.values)
			}
			if st.N > 1 {
				st.SD = a.rs.StandardDeviation()
			}
			out = append(out, st)
		}
	}

	return out
}

// SummarizeFiles builds a summary from finished tables. Tables that cannot be
// read are logged and skipped unless strict is set.
func SummarizeFiles(paths []string, strict bool) (*Summary, error) {
	s := NewSummary()
	for _, path := range paths {
		if err := s.AddFile(path); err != nil {
			if strict {
				return nil, err
			}
			log.Warnf("skipping %s: %v", path, err)
		}
	}
	if s.Tables == 0 {
		return s, fmt.Errorf("none of %d tables could be read", len(paths))
	}
	return s, nil
}

// WriteTSV writes the summary as tab-separated values with a header.
func WriteTSV(w io.Writer, s *Summary) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'

	lines := s.Stats()
	if err := gocsv.MarshalCSV(&lines, gocsv.NewSafeCSVWriter(cw)); err != nil {
		return pfx.Err(err)
	}

	return nil
}

// median is NaN for an empty sample, the only case stats.Median rejects.
func median(values []float64) float64 {
	med, err := stats.Median(stats.Float64Data(values))
	if err != nil {
		return math.NaN()
	}
	return med
}
