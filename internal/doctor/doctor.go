// Package doctor diagnoses a bondings installation: config, policy file,
// wallets and daemon reachability.
package doctor

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"golang.org/x/term"
)

// Doctor runs a set of checkers and reports their results.
type Doctor struct {
	checkers []Checker
	w        io.Writer
	out      *Output
	opts     DoctorOptions
}

// New creates a Doctor writing to stdout, colored when stdout is a terminal.
func New(opts DoctorOptions, checkers ...Checker) *Doctor {
	colors := !opts.JSON && term.IsTerminal(int(os.Stdout.Fd()))
	return NewWithWriter(opts, os.Stdout, colors, checkers...)
}

// NewWithWriter creates a Doctor writing to w.
func NewWithWriter(opts DoctorOptions, w io.Writer, useColors bool, checkers ...Checker) *Doctor {
	return &Doctor{
		checkers: checkers,
		w:        w,
		out:      NewOutput(w, useColors),
		opts:     opts,
	}
}

// AddChecker appends c to the run.
func (d *Doctor) AddChecker(c Checker) {
	d.checkers = append(d.checkers, c)
}

// Run executes the selected checks in registration order. Text output
// starts a new section whenever the category changes.
func (d *Doctor) Run(ctx context.Context) (*DoctorReport, error) {
	checkers := d.selected()
	report := &DoctorReport{Checks: make([]CheckResult, 0, len(checkers))}

	if !d.opts.JSON {
		d.out.Header()
	}

	var current Category
	for i, c := range checkers {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !d.opts.JSON {
			if c.Category() != current {
				current = c.Category()
				d.out.Category(current)
			}
			d.out.CheckStart(i+1, len(checkers), c.Name())
		}

		start := time.Now()
		result := c.Check(ctx)
		result.DurationMs = time.Since(start).Milliseconds()

		report.Checks = append(report.Checks, result)
		report.Summary.add(result.Status)
		if !d.opts.JSON {
			d.out.CheckResult(result)
		}
	}

	if d.opts.JSON {
		enc := json.NewEncoder(d.w)
		enc.SetIndent("", "  ")
		return report, enc.Encode(report)
	}
	d.out.Summary(report.Summary)
	return report, nil
}

func (d *Doctor) selected() []Checker {
	if d.opts.Category == "" {
		return d.checkers
	}
	var out []Checker
	for _, c := range d.checkers {
		if c.Category() == d.opts.Category {
			out = append(out, c)
		}
	}
	return out
}
