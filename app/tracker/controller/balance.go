package controller

import (
	"io"
	"net/http"

	"github.com/canopy-network/nodetracker/pkg/balance"
	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"
)

const maxReportBytes = 64 << 10

const (
	msgBalanceUpdated = "Balance updated"
	msgInvalidData    = "Invalid data"
	msgInternalError  = "Internal Server Error"
)

// HandleUpdateBalance appends one reported balance to the reporter's log.
// Endpoint: POST /update_balance
func (c *Controller) HandleUpdateBalance(w http.ResponseWriter, r *http.Request) {
	logger := c.App.Logger

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxReportBytes))
	if err != nil {
		logger.Warn("Unable to read balance report", zap.Error(err))
		writeText(w, http.StatusBadRequest, msgInvalidData)
		return
	}

	var report balance.Report
	if err := json.Unmarshal(body, &report); err != nil {
		logger.Info("Rejected malformed balance report", zap.Error(err))
		writeText(w, http.StatusBadRequest, msgInvalidData)
		return
	}
	if err := report.Validate(); err != nil {
		logger.Info("Rejected balance report", zap.Error(err), zap.ByteString("body", body))
		writeText(w, http.StatusBadRequest, msgInvalidData)
		return
	}

	entry := report.Entry()
	if err := c.App.Store.Append(r.Context(), entry); err != nil {
		logger.Error("Error updating balance", zap.String("peer_id", entry.PeerID), zap.Error(err))
		writeText(w, http.StatusInternalServerError, msgInternalError)
		return
	}

	logger.Info("Logged balance",
		zap.String("peer_id", entry.PeerID),
		zap.String("balance", entry.Balance),
		zap.String("timestamp", entry.Date),
		zap.String("hostname", entry.Hostname))

	c.App.Notify(r.Context(), entry)
	writeText(w, http.StatusOK, msgBalanceUpdated)
}
