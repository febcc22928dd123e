// Package report renders posterior summaries and dataset descriptions
// as terminal tables.
package report

import (
	"fmt"
	"io"
	"math"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"maskfit/internal/choice"
	"maskfit/internal/posterior"
	"maskfit/internal/simulate"
)

func newTable(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	return tw
}

func fmtVal(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", v)
}

func fmtRHat(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", v)
}

// WriteSummaries renders one fit's per-parameter posterior table.
func WriteSummaries(w io.Writer, title string, summaries []posterior.Summary) {
	tw := newTable(w)
	tw.SetTitle(title)
	tw.AppendHeader(table.Row{"Parameter", "Group", "Truth", "Mean", "SD", "2.5%", "97.5%", "Rhat"})
	tw.SetColumnConfigs(rightAligned(3, 8))

	for _, s := range summaries {
		tw.AppendRow(table.Row{
			s.Name, string(s.Group),
			fmtVal(s.Truth), fmtVal(s.Mean), fmtVal(s.SD),
			fmtVal(s.Q025), fmtVal(s.Q975), fmtRHat(s.RHat),
		})
	}
	tw.Render()
}

// WriteComparison renders the naive and masked fits side by side
// against truth, with the mean absolute error of each choice-stage
// group in the footer. The two summary sets must cover the same
// parameters in the same order.
func WriteComparison(w io.Writer, naive, masked []posterior.Summary) error {
	if len(naive) != len(masked) {
		return fmt.Errorf("summary sets differ in length: %d vs %d", len(naive), len(masked))
	}

	tw := newTable(w)
	tw.SetTitle("Posterior means vs truth")
	tw.AppendHeader(table.Row{"Parameter", "Truth", "Naive", "Masked"})
	tw.SetColumnConfigs(rightAligned(2, 4))

	for i, n := range naive {
		m := masked[i]
		if n.Name != m.Name {
			return fmt.Errorf("summary sets disagree at %d: %q vs %q", i, n.Name, m.Name)
		}
		tw.AppendRow(table.Row{
			n.Name,
			fmtVal(n.Truth),
			fmt.Sprintf("%s [%s, %s]", fmtVal(n.Mean), fmtVal(n.Q025), fmtVal(n.Q975)),
			fmt.Sprintf("%s [%s, %s]", fmtVal(m.Mean), fmtVal(m.Q025), fmtVal(m.Q975)),
		})
	}

	naiveErr := posterior.GroupError(naive)
	maskedErr := posterior.GroupError(masked)
	for _, g := range []choice.ParamGroup{choice.GroupChoiceWeight, choice.GroupChoiceBias} {
		tw.AppendFooter(table.Row{
			"mae " + string(g), "",
			fmtVal(naiveErr[g]), fmtVal(maskedErr[g]),
		})
	}

	tw.Render()
	return nil
}

// WriteDataSummary renders the simulated dataset's vital numbers.
func WriteDataSummary(w io.Writer, ds *simulate.Dataset) {
	tw := newTable(w)
	tw.SetTitle("Simulated dataset")
	tw.SetColumnConfigs(rightAligned(2, 2))

	tw.AppendRow(table.Row{"rows", fmt.Sprintf("%d", ds.N)})
	tw.AppendRow(table.Row{"features", fmt.Sprintf("%d", ds.Dim)})
	tw.AppendRow(table.Row{"items", fmt.Sprintf("%d", ds.Items)})
	tw.AppendRow(table.Row{"seed", fmt.Sprintf("%d", ds.Seed)})
	tw.AppendRow(table.Row{"visitors", fmt.Sprintf("%d", ds.Visitors())})
	tw.AppendRow(table.Row{"visit rate", fmtVal(ds.VisitRate())})
	tw.AppendRow(table.Row{"analytic visit rate", fmtVal(ds.ExpectedVisitRate())})
	for item, rate := range ds.ChoiceRates() {
		tw.AppendRow(table.Row{fmt.Sprintf("choice rate item %d", item), fmtVal(rate)})
	}
	tw.Render()
}

func rightAligned(from, to int) []table.ColumnConfig {
	cfgs := make([]table.ColumnConfig, 0, to-from+1)
	for col := from; col <= to; col++ {
		cfgs = append(cfgs, table.ColumnConfig{Number: col, Align: text.AlignRight, AlignFooter: text.AlignRight})
	}
	return cfgs
}
