package chart

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/canopy-network/nodetracker/pkg/balance"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const (
	ThemeLight = "light"
	ThemeDark  = "dark"

	BalanceChartID = "balance-chart"
	RateChartID    = "rate-chart"

	// ScriptURL serves the chart runtime the snippets expect on the page.
	ScriptURL = "https://go-echarts.github.io/go-echarts-assets/assets/echarts.min.js"
)

// Theme maps the dashboard's night mode flag to a chart theme.
func Theme(nightMode bool) string {
	if nightMode {
		return ThemeDark
	}
	return ThemeLight
}

var snippet = template.Must(template.New("chart").Parse(
	`<div id="{{.ID}}" class="chart" style="width:100%;height:450px"></div>
<script>
(function () {
  var chart = echarts.init(document.getElementById("{{.ID}}"), "{{.Theme}}");
  chart.setOption({{.Option}});
  window.addEventListener("resize", function () { chart.resize(); });
})();
</script>
`))

type snippetData struct {
	ID    string
	Theme string
	// Option is marshaled by html/template in JS context, which escapes markup in series names.
	Option map[string]interface{}
}

// BalanceLine plots balance over time, one line per identifier.
func BalanceLine(series []balance.Point, theme string) (template.HTML, error) {
	if len(series) == 0 {
		return "", nil
	}

	line := charts.NewLine()
	line.SetGlobalOptions(globalOptions(BalanceChartID, "Node Balances Over Time", theme)...)

	ids, points := balance.BySeries(series)
	for _, id := range ids {
		data := make([]opts.LineData, 0, len(points[id]))
		for _, p := range points[id] {
			data = append(data, opts.LineData{Name: p.Hostname, Value: []interface{}{p.Time.UnixMilli(), p.Balance.InexactFloat64()}})
		}
		line.AddSeries(id, data)
	}
	line.Validate()

	return render(BalanceChartID, theme, line.JSON())
}

// RateBar plots the per-minute rate of every sample, one series per identifier.
func RateBar(series []balance.Point, theme string) (template.HTML, error) {
	if len(series) == 0 {
		return "", nil
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(globalOptions(RateChartID, "Earned Per Minute", theme)...)

	ids, points := balance.BySeries(series)
	for _, id := range ids {
		data := make([]opts.BarData, 0, len(points[id]))
		for _, p := range points[id] {
			data = append(data, opts.BarData{Name: p.Hostname, Value: []interface{}{p.Time.UnixMilli(), p.PerMinute}})
		}
		bar.AddSeries(id, data)
	}
	bar.Validate()

	return render(RateChartID, theme, bar.JSON())
}

func globalOptions(id, title, theme string) []charts.GlobalOpts {
	return []charts.GlobalOpts{
		charts.WithInitializationOpts(opts.Initialization{ChartID: id, Theme: theme, Width: "100%", Height: "450px"}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Top: "30px"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "time"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	}
}

func render(id, theme string, option map[string]interface{}) (template.HTML, error) {
	var buf bytes.Buffer
	err := snippet.Execute(&buf, snippetData{ID: id, Theme: theme, Option: option})
	if err != nil {
		return "", fmt.Errorf("render %s: %w", id, err)
	}
	return template.HTML(buf.String()), nil
}
