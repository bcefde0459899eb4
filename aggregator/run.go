package aggregator

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/carbocation/gxstats/region"
	"github.com/carbocation/gxstats/resulttable"
	"github.com/carbocation/pfx"
)

// LoadFunc supplies the inputs of one patient. It is only called when the
// patient's table still needs rows.
type LoadFunc func(ctx context.Context) (Inputs, error)

// Outcome describes what Run did with a table.
type Outcome string

const (
	// Skipped means the table was already finalized.
	Skipped Outcome = "skipped"

	// Completed means rows were computed and the table finalized.
	Completed Outcome = "completed"

	// Finalized means every row was already present and only the region
	// column was rewritten.
	Finalized Outcome = "finalized"
)

// Aggregator writes the table of one patient at a time. It holds no state
// between patients and may be shared by concurrent Runs on distinct tables.
type Aggregator struct {
	Options Options

	// Regions are the rows of every table, in order.
	Regions []region.Def

	// SubLobes appends the sub-lobe regions after Regions, with codes from
	// SubLobeCodes or derived from each patient's sub-lobe mask.
	SubLobes     bool
	SubLobeCodes map[region.Name]float64

	// Overwrite discards existing tables, finalized or not.
	Overwrite bool
}

// Run brings the table at path to its finalized state. An unfinished table
// resumes at its first missing region. A region whose statistics fail aborts
// the patient without writing that row, so a later Run picks up there.
func (a *Aggregator) Run(ctx context.Context, path string, load LoadFunc) (Outcome, error) {
	if a.Overwrite {
		if err := resulttable.Remove(path); err != nil {
			return "", pfx.Err(err)
		}
	}

	state, err := resulttable.Inspect(path)
	if err != nil {
		return "", pfx.Err(err)
	}
	if state.Finalized {
		log.Infof("%s is finalized, skipping", path)
		return Skipped, nil
	}

	in, err := load(ctx)
	if err != nil {
		return "", pfx.Err(err)
	}

	defs, err := a.regions(in)
	if err != nil {
		return "", pfx.Err(fmt.Errorf("%s: %w", in.Subject, err))
	}
	if state.Rows > len(defs) {
		return "", pfx.Err(fmt.Errorf("%s: %w: %d rows, %d regions", path, resulttable.ErrRegionCount, state.Rows, len(defs)))
	}

	outcome := Finalized
	if state.Rows < len(defs) {
		if state.Rows > 0 {
			log.Infof("%s: resuming at region %d of %d (%s)", in.Subject, state.Rows+1, len(defs), defs[state.Rows].Name)
		}
		if err := a.appendRows(ctx, path, in, defs[state.Rows:]); err != nil {
			return "", err
		}
		outcome = Completed
	}

	if err := resulttable.Finalize(path, region.Names(defs)); err != nil {
		return "", pfx.Err(err)
	}

	return outcome, nil
}

func (a *Aggregator) appendRows(ctx context.Context, path string, in Inputs, defs []region.Def) error {
	p, err := Prepare(in, a.Options)
	if err != nil {
		return err
	}

	for _, d := range defs {
		if err := ctx.Err(); err != nil {
			return pfx.Err(err)
		}

		split, err := p.Split(d)
		if err != nil {
			return err
		}
		rec, err := p.Record(split, a.Options)
		if err != nil {
			return err
		}
		if err := resulttable.Append(path, rec); err != nil {
			return pfx.Err(fmt.Errorf("%s: region %s: %w", in.Subject, d.Name, err))
		}
		log.Debugf("%s: wrote region %s", in.Subject, d.Name)
	}

	return nil
}

func (a *Aggregator) regions(in Inputs) ([]region.Def, error) {
	defs := append([]region.Def(nil), a.Regions...)
	if !a.SubLobes {
		return defs, nil
	}

	sub, err := region.SubLobeDefs(a.SubLobeCodes, in.Sources[region.SourceSubLobes])
	if err != nil {
		return nil, err
	}
	return append(defs, sub...), nil
}

// FinalizeOnly runs the region post-pass on a table whose rows are all
// present, without loading the patient. Sub-lobe tables need SubLobeCodes.
func (a *Aggregator) FinalizeOnly(path string) (Outcome, error) {
	state, err := resulttable.Inspect(path)
	if err != nil {
		return "", pfx.Err(err)
	}
	if state.Finalized {
		return Skipped, nil
	}

	defs, err := a.regions(Inputs{})
	if err != nil {
		return "", pfx.Err(err)
	}
	if err := resulttable.Finalize(path, region.Names(defs)); err != nil {
		return "", pfx.Err(err)
	}

	return Finalized, nil
}
