package dashboard

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/canopy-network/nodetracker/pkg/balance"
	"github.com/canopy-network/nodetracker/pkg/chart"
)

//go:embed templates/index.html
var templates embed.FS

var page = template.Must(template.ParseFS(templates, "templates/index.html"))

// Page is everything the dashboard template needs.
type Page struct {
	Rows         []balance.Latest
	BalanceChart template.HTML
	RateChart    template.HTML
	NightMode    bool
}

// Build derives the charts for m and assembles the page.
func Build(m balance.Metrics, nightMode bool) (Page, error) {
	theme := chart.Theme(nightMode)

	balanceChart, err := chart.BalanceLine(m.Series, theme)
	if err != nil {
		return Page{}, err
	}
	rateChart, err := chart.RateBar(m.Series, theme)
	if err != nil {
		return Page{}, err
	}

	return Page{
		Rows:         m.Latest,
		BalanceChart: balanceChart,
		RateChart:    rateChart,
		NightMode:    nightMode,
	}, nil
}

// Render writes the full HTML document for p.
func Render(w io.Writer, p Page) error {
	data := struct {
		Page
		ScriptURL string
	}{Page: p, ScriptURL: chart.ScriptURL}

	if err := page.Execute(w, data); err != nil {
		return fmt.Errorf("render dashboard: %w", err)
	}
	return nil
}
