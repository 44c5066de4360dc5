package harness

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	jsoniter "github.com/json-iterator/go"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/sarchlab/socsim/driver"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Report collects the outcomes of one batch.
type Report struct {
	Outcomes []driver.Outcome `json:"outcomes"`
	// Missing names were requested but matched no image.
	Missing []string `json:"missing,omitempty"`
	// Skipped names were never started because the batch was aborted.
	Skipped  []string      `json:"skipped,omitempty"`
	Aborted  bool          `json:"aborted"`
	Duration time.Duration `json:"duration"`
}

// Count returns the number of outcomes with verdict v. VerdictNone counts
// aborted runs.
func (r *Report) Count(v driver.Verdict) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Verdict == v {
			n++
		}
	}
	return n
}

// AllPassed reports whether at least one test ran and every test passed.
func (r *Report) AllPassed() bool {
	if len(r.Outcomes) == 0 || r.Aborted {
		return false
	}
	return r.Count(driver.VerdictPass) == len(r.Outcomes)
}

// TotalCycles sums the simulated cycles of all runs.
func (r *Report) TotalCycles() uint64 {
	var total uint64
	for _, o := range r.Outcomes {
		total += o.Cycles
	}
	return total
}

// WriteTable renders a summary table of the batch.
func (r *Report) WriteTable(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Test", "Verdict", "x3", "x26", "x27", "Cycles", "Warnings", "Duration"})
	for _, o := range r.Outcomes {
		verdict := string(o.Verdict)
		if o.Aborted {
			verdict = "ABORTED"
		}
		table.Append([]string{
			o.Name,
			verdict,
			fmt.Sprint(o.Registers.X3),
			fmt.Sprint(o.Registers.X26),
			fmt.Sprint(o.Registers.X27),
			humanize.Comma(int64(o.Cycles)),
			fmt.Sprint(len(o.LoadWarnings)),
			o.Duration.Round(time.Microsecond).String(),
		})
	}
	table.SetFooter([]string{
		fmt.Sprintf("%d tests", len(r.Outcomes)),
		fmt.Sprintf("%d passed", r.Count(driver.VerdictPass)),
		"", "", "",
		humanize.Comma(int64(r.TotalCycles())),
		"",
		r.Duration.Round(time.Millisecond).String(),
	})
	table.Render()

	for _, name := range r.Missing {
		fmt.Fprintf(w, "Test binary for %s not found.\n", name)
	}
	if len(r.Skipped) > 0 {
		fmt.Fprintf(w, "Skipped after abort: %s\n", humanize.Comma(int64(len(r.Skipped))))
	}
}

// WriteJSON stores the report as indented JSON at path.
func (r *Report) WriteJSON(fs afero.Fs, path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode report")
	}
	if err := afero.WriteFile(fs, path, append(data, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write report %s", path)
	}
	return nil
}

// ReadReport loads a report written by WriteJSON.
func ReadReport(fs afero.Fs, path string) (*Report, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read report %s", path)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrapf(err, "failed to decode report %s", path)
	}
	return &r, nil
}
