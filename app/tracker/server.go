package tracker

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/canopy-network/nodetracker/app/tracker/controller"
	"github.com/canopy-network/nodetracker/app/tracker/types"
	"github.com/canopy-network/nodetracker/pkg/utils"
)

// NewServer builds the router and attaches the HTTP server to app.
func NewServer(app *types.App) error {
	ctler := controller.NewController(app)
	router, err := ctler.NewRouter()
	if err != nil {
		return err
	}

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":5000")

	app.Server = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	app.Logger.Info("Server configured", zap.String("addr", addr))

	return nil
}
