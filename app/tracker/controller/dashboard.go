package controller

import (
	"bytes"
	"net/http"

	"github.com/canopy-network/nodetracker/pkg/balance"
	"github.com/canopy-network/nodetracker/pkg/dashboard"
	"go.uber.org/zap"
)

// HandleDashboard renders the latest-state table and balance/rate charts.
// Endpoint: GET /?night_mode=on
func (c *Controller) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	nightMode := r.URL.Query().Get("night_mode") == "on"

	m := c.App.Metrics(r.Context())

	page, err := dashboard.Build(m, nightMode)
	if err != nil {
		// Charts are decoration; keep serving the table.
		c.App.Logger.Error("Unable to render charts", zap.Error(err))
		page = dashboard.Page{Rows: m.Latest, NightMode: nightMode}
	}

	var buf bytes.Buffer
	if err := dashboard.Render(&buf, page); err != nil {
		c.App.Logger.Error("Unable to render dashboard", zap.Error(err))
		http.Error(w, msgInternalError, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// Summary is the JSON form of the dashboard data.
type Summary struct {
	Latest []balance.Latest       `json:"latest"`
	Hourly []balance.HourlyGrowth `json:"hourly"`
}

// HandleSummary returns the latest state per identifier and the hourly growth rollup.
// Endpoint: GET /api/summary
func (c *Controller) HandleSummary(w http.ResponseWriter, r *http.Request) {
	m := c.App.Metrics(r.Context())
	writeJSON(w, http.StatusOK, Summary{Latest: m.Latest, Hourly: m.Hourly})
}
