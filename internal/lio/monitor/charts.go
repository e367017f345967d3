// Package monitor renders diagnostic charts for odometry runs: the
// estimated trajectory in plan view and the per-scan observability
// condition number.
package monitor

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/odometry.report/internal/lio"
)

// RenderTrajectory writes an HTML scatter chart of the trajectory's XY
// plan view.
func RenderTrajectory(w io.Writer, poses []lio.PoseStamped) error {
	data := make([]opts.ScatterData, 0, len(poses))
	pad := 1.0
	for _, p := range poses {
		data = append(data, opts.ScatterData{Value: []interface{}{p.Pos[0], p.Pos[1]}})
		pad = math.Max(pad, math.Max(math.Abs(p.Pos[0]), math.Abs(p.Pos[1]))*1.1)
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Odometry Trajectory", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Odometry Trajectory", Subtitle: fmt.Sprintf("poses=%d", len(poses))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("trajectory", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	return scatter.Render(w)
}

// RenderConditionNumber writes an HTML line chart of the observability
// indicator over scan index.
func RenderConditionNumber(w io.Writer, values []float64) error {
	x := make([]string, len(values))
	data := make([]opts.LineData, len(values))
	for i, v := range values {
		x[i] = fmt.Sprintf("%d", i)
		data[i] = opts.LineData{Value: v}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Observability", Width: "1200px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Condition Number", Subtitle: fmt.Sprintf("scans=%d", len(values))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "sqrt(λmax/λmin)"}),
	)
	line.SetXAxis(x)
	line.AddSeries("condition", data)
	return line.Render(w)
}

// WriteTrajectoryHTML renders the trajectory chart to a file.
func WriteTrajectoryHTML(path string, poses []lio.PoseStamped) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart file: %w", err)
	}
	defer f.Close()
	return RenderTrajectory(f, poses)
}
