package controller

import (
	"net/http"

	"github.com/canopy-network/nodetracker/app/tracker/types"
	"github.com/gorilla/mux"
)

type Controller struct {
	App *types.App
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	return &Controller{
		App: app,
	}
}

// WithNoCache disables client and proxy caching so dashboards always show current data.
func WithNoCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Cache-Control", "no-store, no-cache, must-revalidate, post-check=0, pre-check=0, max-age=0")
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "0")
		next.ServeHTTP(w, r)
	})
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()
	r.Use(WithNoCache)

	r.HandleFunc("/health", c.HandleHealth).Methods(http.MethodGet)

	// reporters
	r.HandleFunc("/update_balance", c.HandleUpdateBalance).Methods(http.MethodPost)

	// dashboard
	r.HandleFunc("/", c.HandleDashboard).Methods(http.MethodGet)
	r.HandleFunc("/api/summary", c.HandleSummary).Methods(http.MethodGet)
	r.HandleFunc("/ws", c.HandleWebSocket).Methods(http.MethodGet)

	return r, nil
}
