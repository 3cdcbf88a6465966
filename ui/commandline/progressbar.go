// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/symtrain/pkg/ml/train"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// StatsRowFn returns an extra row (title and value) for the stats table shown with the progress bar.
// It is called from the printing goroutine, so it must be safe to call concurrently with training.
type StatsRowFn func() (title, value string)

var (
	// RefreshPeriod is the maximum time between updates of the progress bar, even when few steps happen.
	RefreshPeriod = 3 * time.Second

	// ProgressbarTheme used to draw the bar. Consider progressbar.ThemeUnicode for terminals that support it.
	ProgressbarTheme = progressbar.ThemeASCII
)

// ProgressBarName is the name of the hooks registered by AttachProgressBar.
const ProgressBarName = "symtrain.ui.commandline.progressBar"

// unknownNumSteps is the bar size used when the loop doesn't know its EndStep.
const unknownNumSteps = 1000

// minPrintInterval throttles the terminal stats printer.
const minPrintInterval = 200 * time.Millisecond

var (
	titleStyle  = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	valueStyle  = lipgloss.NewStyle().Padding(0, 1)
	borderColor = lipgloss.Color("#705090")
	indentStyle = lipgloss.NewStyle().PaddingLeft(8)
)

// stepReport is what the training goroutine hands over to the stats printer.
type stepReport struct {
	advance int
	rows    [][2]string
}

// progressBar tracks the bar of one Loop. In notebooks the stats are written inline after the bar,
// in terminals they are printed as a table above it by a separate goroutine.
type progressBar struct {
	loop       *train.Loop
	bar        *progressbar.ProgressBar
	inNotebook bool
	reported   int // Steps already reported to bar.
	inline     string
	extraRows  []StatsRowFn

	out     *termenv.Output
	table   *lgtable.Table
	reports chan stepReport
	done    sync.WaitGroup
}

// Write implements io.Writer for the enclosed progressbar.ProgressBar: it appends the inline stats, so
// that bar and stats go out in a single write. Jupyter otherwise may break them in separate lines.
func (pBar *progressBar) Write(data []byte) (int, error) {
	n, err := os.Stdout.Write(data)
	if err != nil {
		return n, err
	}
	if _, err = io.WriteString(os.Stdout, pBar.inline); err != nil {
		return 0, err
	}
	return n, nil
}

func (pBar *progressBar) start(loop *train.Loop, _ train.Dataset) error {
	pBar.reported = loop.LoopStep
	total := unknownNumSteps
	if loop.EndStep >= 0 {
		total = loop.EndStep - loop.StartStep
	}
	pBar.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(ProgressbarTheme),
		progressbar.OptionSetWriter(pBar),
	)
	return nil
}

// metricRows returns the title and formatted value of each metric reported for a step.
func metricRows(loop *train.Loop, metrics train.StepMetrics) [][2]string {
	endStep := "?"
	if loop.EndStep >= 0 {
		endStep = humanize.Comma(int64(loop.EndStep))
	}
	rows := [][2]string{
		{"Step", fmt.Sprintf("%s of %s", humanize.Comma(int64(loop.LoopStep)), endStep)},
		{"Loss", FormatMetric(metrics.Loss)},
	}
	if !math.IsNaN(metrics.Evaluation) {
		rows = append(rows, [2]string{"Evaluation", FormatMetric(metrics.Evaluation)})
	}
	rows = append(rows, [2]string{"Samples", humanize.Comma(int64(metrics.SampleCount))})
	return rows
}

// inlineStats formats rows as the suffix written after the bar in notebooks.
func inlineStats(rows [][2]string) string {
	var sb strings.Builder
	for _, row := range rows {
		fmt.Fprintf(&sb, " [%s=%s]", strings.ToLower(row[0]), row[1])
	}
	// Notebooks don't support "erase to end of line", so pad with spaces instead.
	sb.WriteString("        ")
	return sb.String()
}

func (pBar *progressBar) step(loop *train.Loop, metrics train.StepMetrics) error {
	if pBar.bar.IsFinished() {
		return nil
	}
	// LoopStep has just finished, hence the +1.
	advance := loop.LoopStep + 1 - pBar.reported
	if advance <= 0 {
		return nil
	}
	pBar.reported = loop.LoopStep + 1
	rows := metricRows(loop, metrics)
	if pBar.inNotebook {
		pBar.inline = inlineStats(rows)
		_ = pBar.bar.Add(advance) // Prints through pBar.Write.
		return nil
	}
	pBar.inline = "\033[J" // Erases leftovers from previous longer lines.
	pBar.reports <- stepReport{advance: advance, rows: rows}
	return nil
}

func (pBar *progressBar) end(_ *train.Loop, _ train.StepMetrics) error {
	if pBar.reports != nil {
		close(pBar.reports)
	}
	pBar.done.Wait()
	if pBar.out != nil {
		pBar.out.ShowCursor()
	}
	fmt.Println()
	return nil
}

// latest drains the queued reports, returning the most recent one with the accumulated advance.
func (pBar *progressBar) latest(report stepReport) stepReport {
	for {
		select {
		case next, ok := <-pBar.reports:
			if !ok {
				return report
			}
			next.advance += report.advance
			report = next
		default:
			return report
		}
	}
}

// printStats runs in its own goroutine, repainting the stats table and the bar for each report.
func (pBar *progressBar) printStats() {
	defer pBar.done.Done()
	linesPrinted := 0
	for report := range pBar.reports {
		report = pBar.latest(report)
		pBar.table.Data(lgtable.NewStringData())
		for _, row := range report.rows {
			pBar.table.Row(row[0], row[1])
		}
		pBar.table.Row("Median train step duration", FormatDuration(pBar.loop.MedianTrainStepDuration()))
		for _, fn := range pBar.extraRows {
			pBar.table.Row(fn())
		}

		pBar.out.HideCursor()
		if linesPrinted > 0 {
			pBar.out.CursorPrevLine(linesPrinted)
		}
		// Table rows plus its 2 borders, then the bar line and the empty line after it.
		linesPrinted = len(report.rows) + 1 + len(pBar.extraRows) + 2 + 2
		fmt.Println(indentStyle.Render(pBar.table.String()))
		_ = pBar.bar.Add(report.advance)
		fmt.Println()
		pBar.out.ShowCursor()
		time.Sleep(minPrintInterval)
	}
}

// AttachProgressBar displays a progress bar every time loop runs, along with the loss and evaluation
// averages of the last minibatch and the median train step duration. extraRows are appended to the
// stats table at each update.
func AttachProgressBar(loop *train.Loop, extraRows ...StatsRowFn) {
	pBar := &progressBar{
		loop:       loop,
		inNotebook: isNotebook(),
		extraRows:  extraRows,
	}
	if !pBar.inNotebook {
		pBar.out = termenv.NewOutput(os.Stdout)
		pBar.table = lgtable.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(borderColor)).
			StyleFunc(func(_, col int) lipgloss.Style {
				if col == 0 {
					return titleStyle
				}
				return valueStyle
			})
		pBar.reports = make(chan stepReport, 100)
		pBar.done.Add(1)
		go pBar.printStats()
	}
	loop.OnStart(ProgressBarName, 0, pBar.start)
	train.NTimesDuringLoop(loop, unknownNumSteps, ProgressBarName, 0, pBar.step)
	train.PeriodicCallback(loop, RefreshPeriod, false, ProgressBarName, 0, pBar.step)
	loop.OnEnd(ProgressBarName, 0, pBar.end)
}

// FormatDuration pretty prints a duration rounded to 3 significant digits.
func FormatDuration(d time.Duration) string {
	for _, unit := range []time.Duration{time.Hour, time.Minute, time.Second, time.Millisecond, time.Microsecond} {
		switch {
		case d >= 100*unit:
			return d.Round(unit).String()
		case d >= unit:
			return d.Round(unit / 100).String()
		}
	}
	return d.String()
}

// FormatMetric pretty prints a loss or evaluation average with 4 significant digits.
func FormatMetric(value float64) string {
	return fmt.Sprintf("%.4g", value)
}
