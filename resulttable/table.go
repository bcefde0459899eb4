package resulttable

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"reflect"

	"github.com/gocarina/gocsv"
	log "github.com/sirupsen/logrus"
	"github.com/zeebo/errs"

	"github.com/carbocation/pfx"
)

var (
	// ErrSchemaMismatch means an existing table has a different column list.
	ErrSchemaMismatch = errors.New("result table schema mismatch")

	// ErrRegionCount means a table holds a different number of rows than
	// there are region names to assign.
	ErrRegionCount = errors.New("result table row count does not match region count")
)

// NaNMetrics returns Metrics with every column set to NaN, for rows whose
// inputs leave some statistics undefined.
func NaNMetrics() Metrics {
	var m Metrics
	v := reflect.ValueOf(&m).Elem()
	for i := 0; i < v.NumField(); i++ {
		v.Field(i).SetFloat(math.NaN())
	}
	return m
}

// State describes a table file on disk.
type State struct {
	Exists    bool
	Finalized bool

	// Rows is the number of complete data rows.
	Rows int

	// Partial means the last line was cut short, as when a run dies while
	// appending. It is not counted in Rows and is dropped by the next Append
	// or Finalize.
	Partial bool
}

// Inspect reports the state of the table at path. A missing or empty file is
// not an error. A header that matches neither the unfinished nor the finished
// schema is ErrSchemaMismatch, as is a short row anywhere but on the last line.
func Inspect(path string) (State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return State{}, nil
	} else if err != nil {
		return State{}, pfx.Err(err)
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return State{}, pfx.Err(fmt.Errorf("%s: %w", path, err))
	}
	if len(records) == 0 {
		return State{}, nil
	}

	st := State{Exists: true, Rows: len(records) - 1}
	switch {
	case equal(records[0], Header()):
	case equal(records[0], FinalizedHeader()):
		st.Finalized = true
	default:
		return st, pfx.Err(fmt.Errorf("%s: %w: header %v", path, ErrSchemaMismatch, records[0]))
	}

	for i, rec := range records[1:] {
		if len(rec) == len(records[0]) {
			continue
		}
		if i != st.Rows-1 {
			return st, pfx.Err(fmt.Errorf("%s: %w: row %d has %d fields", path, ErrSchemaMismatch, i+1, len(rec)))
		}
		st.Partial = true
	}
	if st.Rows > 0 && data[len(data)-1] != '\n' {
		st.Partial = true
	}
	if st.Partial {
		st.Rows--
	}

	return st, nil
}

// dropPartialRow truncates the table at path after its last complete line.
func dropPartialRow(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return pfx.Err(err)
	}

	keep := bytes.LastIndexByte(bytes.TrimSuffix(data, []byte("\n")), '\n') + 1
	log.Warnf("%s: dropping a partial row of %d bytes", path, len(data)-keep)

	if err := os.Truncate(path, int64(keep)); err != nil {
		return pfx.Err(err)
	}
	return nil
}

// Remove deletes the table at path, if any.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return pfx.Err(err)
	}
	return nil
}

// Append adds rec to the table at path. The header is written only when the
// file is new or empty. Appending to a finished table, or to one whose header
// differs, is ErrSchemaMismatch.
func Append(path string, rec *Record) (err error) {
	st, err := Inspect(path)
	if err != nil {
		return err
	}
	if st.Finalized {
		return pfx.Err(fmt.Errorf("%s: %w: table is already finalized", path, ErrSchemaMismatch))
	}
	if st.Partial {
		if err := dropPartialRow(path); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return pfx.Err(err)
	}
	defer func() { err = errs.Combine(err, f.Close()) }()

	info, err := f.Stat()
	if err != nil {
		return pfx.Err(err)
	}

	rows := []*Record{rec}
	if info.Size() == 0 {
		err = gocsv.Marshal(rows, f)
	} else {
		err = gocsv.MarshalWithoutHeaders(rows, f)
	}
	if err != nil {
		return pfx.Err(fmt.Errorf("%s: %w", path, err))
	}

	return nil
}

// ReadRecords loads the rows of an unfinished table.
func ReadRecords(path string) ([]*Record, error) {
	st, err := Inspect(path)
	if err != nil {
		return nil, err
	}
	if st.Finalized {
		return nil, pfx.Err(fmt.Errorf("%s: %w: table is already finalized", path, ErrSchemaMismatch))
	}
	if !st.Exists {
		return nil, nil
	}

	out := []*Record{}
	if err := unmarshalFile(path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadRows loads the rows of a finished table.
func ReadRows(path string) ([]*Row, error) {
	st, err := Inspect(path)
	if err != nil {
		return nil, err
	}
	if !st.Finalized {
		return nil, pfx.Err(fmt.Errorf("%s: %w: table is not finalized", path, ErrSchemaMismatch))
	}

	out := []*Row{}
	if err := unmarshalFile(path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Finalize replaces the placeholder column of the table at path with
// regionNames, one per row in order, and renames the column to "region". The
// table is rewritten through a temporary file in the same directory. A table
// that is already finalized is left alone.
func Finalize(path string, regionNames []string) error {
	st, err := Inspect(path)
	if err != nil {
		return err
	}
	if !st.Exists {
		return pfx.Err(fmt.Errorf("%s: no result table to finalize", path))
	}
	if st.Finalized {
		return nil
	}
	if st.Rows != len(regionNames) {
		return pfx.Err(fmt.Errorf("%s: %w: %d rows, %d regions", path, ErrRegionCount, st.Rows, len(regionNames)))
	}
	if st.Partial {
		if err := dropPartialRow(path); err != nil {
			return err
		}
	}

	records, err := ReadRecords(path)
	if err != nil {
		return err
	}

	rows := make([]*Row, len(records))
	for i, rec := range records {
		rows[i] = &Row{Region: regionNames[i], Metrics: rec.Metrics}
	}

	if err := writeAtomic(path, func(w io.Writer) error {
		return gocsv.Marshal(rows, w)
	}); err != nil {
		return pfx.Err(err)
	}

	return nil
}

func writeAtomic(path string, write func(io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if err = tmp.Chmod(0644); err != nil {
		return errs.Combine(err, tmp.Close())
	}
	if err = write(tmp); err != nil {
		return errs.Combine(err, tmp.Close())
	}
	if err = tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

func unmarshalFile(path string, out interface{}) (err error) {
	f, err := os.Open(path)
	if err != nil {
		return pfx.Err(err)
	}
	defer func() { err = errs.Combine(err, f.Close()) }()

	if err := gocsv.UnmarshalFile(f, out); err != nil {
		return pfx.Err(fmt.Errorf("%s: %w", path, err))
	}
	return nil
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
