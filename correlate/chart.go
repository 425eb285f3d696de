package correlate

import (
	"fmt"
	"io"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// OffsetChart plots the per-PC offsets against the injector step, with the
// chosen median as a flat reference series. Drift that grows with the step
// shows up as a slope.
func OffsetChart(est *Estimate) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Step offset (injector - preflight)",
			Subtitle: fmt.Sprintf("median %d over %d shared PCs", est.Offset, len(est.Samples)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "injector step"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "offset"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)

	xs := make([]string, len(est.Samples))
	offsets := make([]opts.LineData, len(est.Samples))
	median := make([]opts.LineData, len(est.Samples))
	for i, s := range est.Samples {
		xs[i] = fmt.Sprintf("%d", s.StepA)
		offsets[i] = opts.LineData{Value: s.Offset, Name: fmt.Sprintf("pc 0x%08x", s.PC)}
		median[i] = opts.LineData{Value: est.Offset}
	}
	line.SetXAxis(xs).
		AddSeries("offset", offsets).
		AddSeries("median", median)
	return line
}

// RenderOffsetChart writes the chart as a standalone HTML page.
func RenderOffsetChart(w io.Writer, est *Estimate) error {
	page := components.NewPage()
	page.PageTitle = "step offset"
	page.AddCharts(OffsetChart(est))
	return page.Render(w)
}

// RenderOffsetChartFile renders the chart to path.
func RenderOffsetChartFile(path string, est *Estimate) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create chart file: %w", err)
	}
	defer f.Close()
	return RenderOffsetChart(f, est)
}
