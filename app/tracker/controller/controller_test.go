package controller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/canopy-network/nodetracker/app/tracker/types"
	"github.com/canopy-network/nodetracker/pkg/balance"
	"github.com/canopy-network/nodetracker/pkg/live"
	"github.com/canopy-network/nodetracker/pkg/store/file"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type failingStore struct{}

func (failingStore) Append(context.Context, balance.Entry) error { return errors.New("disk full") }
func (failingStore) Scan(context.Context) ([]balance.Log, error) {
	return nil, errors.New("permission denied")
}
func (failingStore) Ping(context.Context) error { return errors.New("permission denied") }
func (failingStore) Close() error               { return nil }

func newTestApp(t *testing.T) (*types.App, *file.Store) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	st, err := file.New(t.TempDir(), 2, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return &types.App{
		Store:        st,
		GapThreshold: balance.DefaultGapThreshold,
		Hub:          live.NewHub(logger),
		Logger:       logger,
	}, st
}

func newTestRouter(t *testing.T, app *types.App) http.Handler {
	t.Helper()
	r, err := NewController(app).NewRouter()
	require.NoError(t, err)
	return r
}

func postBalance(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/update_balance", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func assertNoCache(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, "no-store, no-cache, must-revalidate, post-check=0, pre-check=0, max-age=0", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no-cache", rec.Header().Get("Pragma"))
	assert.Equal(t, "0", rec.Header().Get("Expires"))
}

func TestUpdateBalanceAppendsRow(t *testing.T) {
	app, st := newTestApp(t)
	h := newTestRouter(t, app)
	sub := app.Hub.Subscribe()

	rec := postBalance(t, h, `{"peer_id":"QmA","balance":"123.45 QUIL","timestamp":"2024-10-01 12:00:00","hostname":"node-a"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Balance updated", rec.Body.String())
	assertNoCache(t, rec)

	raw, err := os.ReadFile(st.LogPath("QmA"))
	require.NoError(t, err)
	assert.Equal(t, "Date,Peer ID,Balance,Hostname\n2024-10-01 12:00:00,QmA,123.45 QUIL,node-a\n", string(raw))

	select {
	case msg := <-sub.Send:
		assert.Contains(t, string(msg), `"type":"balance.updated"`)
		assert.Contains(t, string(msg), `"peer_id":"QmA"`)
	case <-time.After(time.Second):
		t.Fatal("no live event for the appended balance")
	}

	rec = postBalance(t, h, `{"peer_id":"QmA","balance":124,"timestamp":"2024-10-01 12:10:00","hostname":"node-a"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	raw, err = os.ReadFile(st.LogPath("QmA"))
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(raw), "\n"), "exactly one new row per call")
}

func TestUpdateBalanceRejectsInvalidData(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing peer_id", body: `{"balance":1,"timestamp":"2024-10-01","hostname":"h"}`},
		{name: "missing balance", body: `{"peer_id":"QmA","timestamp":"2024-10-01","hostname":"h"}`},
		{name: "missing timestamp", body: `{"peer_id":"QmA","balance":1,"hostname":"h"}`},
		{name: "missing hostname", body: `{"peer_id":"QmA","balance":1,"timestamp":"2024-10-01"}`},
		{name: "empty body", body: ``},
		{name: "not json", body: `peer_id=QmA`},
		{name: "comma in hostname", body: `{"peer_id":"QmA","balance":1,"timestamp":"2024-10-01","hostname":"a,b"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, st := newTestApp(t)
			h := newTestRouter(t, app)

			rec := postBalance(t, h, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "Invalid data", rec.Body.String())

			entries, err := os.ReadDir(st.Dir)
			require.NoError(t, err)
			assert.Empty(t, entries, "no log file is created")
		})
	}
}

func TestUpdateBalanceStorageFailure(t *testing.T) {
	app, _ := newTestApp(t)
	app.Store = failingStore{}
	h := newTestRouter(t, app)

	rec := postBalance(t, h, `{"peer_id":"QmA","balance":1,"timestamp":"2024-10-01","hostname":"h"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal Server Error", rec.Body.String())
}

func TestUpdateBalanceOnlyAcceptsPost(t *testing.T) {
	app, _ := newTestApp(t)
	rec := get(t, newTestRouter(t, app), "/update_balance")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDashboardEmptyStore(t *testing.T) {
	app, _ := newTestApp(t)
	rec := get(t, newTestRouter(t, app), "/")

	require.Equal(t, http.StatusOK, rec.Code)
	assertNoCache(t, rec)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "No balance reports yet.")
	assert.NotContains(t, rec.Body.String(), `id="balance-chart"`)
}

func TestDashboardUnreadableStore(t *testing.T) {
	app, _ := newTestApp(t)
	app.Store = failingStore{}
	rec := get(t, newTestRouter(t, app), "/")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No balance reports yet.")
}

func TestDashboardRendersData(t *testing.T) {
	app, _ := newTestApp(t)
	h := newTestRouter(t, app)

	for _, body := range []string{
		`{"peer_id":"QmA","balance":"10 QUIL","timestamp":"2024-10-01 12:00:00","hostname":"node-a"}`,
		`{"peer_id":"QmA","balance":"15 QUIL","timestamp":"2024-10-01 12:10:00","hostname":"node-a"}`,
		`{"peer_id":"QmB","balance":3,"timestamp":"2024-10-01 12:05:00","hostname":"node-b"}`,
	} {
		require.Equal(t, http.StatusOK, postBalance(t, h, body).Code)
	}

	rec := get(t, h, "/?night_mode=on")
	require.Equal(t, http.StatusOK, rec.Code)

	out := rec.Body.String()
	assert.Contains(t, out, `class="night"`)
	assert.Contains(t, out, "<td>QmA</td>")
	assert.Contains(t, out, "<td>QmB</td>")
	assert.Contains(t, out, "30.0000")
	assert.Contains(t, out, `id="balance-chart"`)
	assert.Contains(t, out, `id="rate-chart"`)
	assert.Contains(t, out, `"dark"`)

	rec = get(t, h, "/?night_mode=off")
	assert.NotContains(t, rec.Body.String(), `class="night"`)
	assert.Contains(t, rec.Body.String(), `"light"`)
}

func TestSummaryOneRowPerIdentifier(t *testing.T) {
	app, st := newTestApp(t)
	h := newTestRouter(t, app)

	// Logs of different lengths and time ranges, one written by hand with a unit suffix.
	require.NoError(t, os.WriteFile(filepath.Join(st.Dir, "node_balance_QmC.csv"),
		[]byte("Date,Peer ID,Balance,Hostname\n2024-09-30 08:00:00,QmC,99.5 QUIL,node-c\n"), 0o644))
	for i, ts := range []string{"2024-10-01 12:00:00", "2024-10-01 12:01:00", "2024-10-01 12:02:00"} {
		body := `{"peer_id":"QmA","balance":` + []string{"1", "2", "4"}[i] + `,"timestamp":"` + ts + `","hostname":"node-a"}`
		require.Equal(t, http.StatusOK, postBalance(t, h, body).Code)
	}
	require.Equal(t, http.StatusOK, postBalance(t, h, `{"peer_id":"QmB","balance":7,"timestamp":"2024-10-02 00:00:00","hostname":"node-b"}`).Code)

	rec := get(t, h, "/api/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	assertNoCache(t, rec)

	var out struct {
		Latest []map[string]interface{} `json:"latest"`
		Hourly []map[string]interface{} `json:"hourly"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))

	require.Len(t, out.Latest, 3)
	assert.Equal(t, "QmA", out.Latest[0]["peer_id"])
	assert.Equal(t, "4", out.Latest[0]["balance"])
	assert.InDelta(t, 2.0, out.Latest[0]["per_minute"], 1e-9)
	assert.Equal(t, "QmC", out.Latest[2]["peer_id"])
	assert.Equal(t, "99.5", out.Latest[2]["balance"])
	assert.Len(t, out.Hourly, 3)
}

func TestHealth(t *testing.T) {
	app, _ := newTestApp(t)
	rec := get(t, newTestRouter(t, app), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	app.Store = failingStore{}
	rec = get(t, newTestRouter(t, app), "/health")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebSocketReceivesBalanceUpdates(t *testing.T) {
	app, _ := newTestApp(t)
	srv := httptest.NewServer(newTestRouter(t, app))
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = resp.Body.Close()

	require.Eventually(t, func() bool { return app.Hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	res, err := http.Post(srv.URL+"/update_balance", "application/json",
		strings.NewReader(`{"peer_id":"QmA","balance":10,"timestamp":"2024-10-01 12:00:00","hostname":"node-a"}`))
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	_ = res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type    string              `json:"type"`
		Payload live.BalanceUpdated `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, live.TypeBalanceUpdated, msg.Type)
	assert.Equal(t, "QmA", msg.Payload.PeerID)
	assert.Equal(t, "10", msg.Payload.Balance)

	_ = conn.Close()
	require.Eventually(t, func() bool { return app.Hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
