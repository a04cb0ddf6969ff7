package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-trade-ledger/internal/domain"
	"solana-trade-ledger/internal/ledger"
	"solana-trade-ledger/internal/observability"
	"solana-trade-ledger/internal/orchestrator"
	"solana-trade-ledger/internal/pricing"
)

type refresherFunc func(ctx context.Context) (pricing.CycleResult, error)

func (f refresherFunc) PollOnce(ctx context.Context) (pricing.CycleResult, error) { return f(ctx) }

func trade(tx string, side domain.Side, wallet, asset string, qty, base float64, ts int64) domain.DecodedTrade {
	return domain.DecodedTrade{TxID: tx, Side: side, Wallet: wallet, Asset: asset, AssetQty: qty, BaseQty: base, Slot: 1, Timestamp: ts}
}

// seeded holds three positions: w1 open in a1, w1 closed in a2 at a gain,
// w2 open in a1.
func seeded(t *testing.T) *ledger.Ledger {
	t.Helper()
	l := ledger.New(ledger.DefaultConfig())
	for _, tr := range []domain.DecodedTrade{
		trade("t1", domain.SideBuy, "w1", "a1", 1000, 1, 1000),
		trade("t2", domain.SideBuy, "w1", "a2", 500, 1, 2000),
		trade("t3", domain.SideSell, "w1", "a2", 500, 2, 3000),
		trade("t4", domain.SideBuy, "w2", "a1", 2000, 2, 4000),
	} {
		_, err := l.ApplyTrade(tr)
		require.NoError(t, err)
	}
	return l
}

func newTestServer(t *testing.T, mutate func(*Options)) (*Server, *observability.Metrics) {
	t.Helper()
	m := observability.NewMetrics("srv", nil)
	opts := Options{
		Ledger:  seeded(t),
		Metrics: m,
		Logger:  log.New(io.Discard, "", 0),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts), m
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	s, m := newTestServer(t, nil)
	rec := get(t, s.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/health", "200")))
}

func TestPositions_Filters(t *testing.T) {
	s, _ := newTestServer(t, nil)

	tests := []struct {
		query string
		want  []string // wallet:asset
	}{
		{"", []string{"w1:a1", "w1:a2", "w2:a1"}},
		{"?wallet=w1", []string{"w1:a1", "w1:a2"}},
		{"?asset=a1", []string{"w1:a1", "w2:a1"}},
		{"?wallet=w1&asset=a2", []string{"w1:a2"}},
		{"?active=false", []string{"w1:a2"}},
		{"?asset=a1&active=true", []string{"w1:a1", "w2:a1"}},
		{"?wallet=nobody", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := get(t, s.Handler(), "/api/v1/positions"+tt.query)
			require.Equal(t, http.StatusOK, rec.Code)
			var resp PositionsResponse
			decode(t, rec, &resp)
			got := make([]string, 0, len(resp.Positions))
			for _, p := range resp.Positions {
				got = append(got, p.Wallet+":"+p.Asset)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, len(tt.want), resp.Count)
		})
	}
}

func TestPositions_BadActive(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := get(t, s.Handler(), "/api/v1/positions?active=maybe")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPosition(t *testing.T) {
	s, m := newTestServer(t, nil)

	rec := get(t, s.Handler(), "/api/v1/positions/w1/a2")
	require.Equal(t, http.StatusOK, rec.Code)
	var p domain.Position
	decode(t, rec, &p)
	assert.False(t, p.Active)
	assert.InDelta(t, 1.0, p.RealizedPnL, 1e-9)

	rec = get(t, s.Handler(), "/api/v1/positions/w9/a9")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.HTTPRequests.WithLabelValues("/api/v1/positions/{wallet}/{asset}", "404")))
}

func TestLeaderboards(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := get(t, s.Handler(), "/api/v1/leaderboard/wallets")
	require.Equal(t, http.StatusOK, rec.Code)
	var wallets []domain.WalletPerformance
	decode(t, rec, &wallets)
	require.Len(t, wallets, 2)
	assert.Equal(t, "w1", wallets[0].Wallet)

	rec = get(t, s.Handler(), "/api/v1/leaderboard/assets?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var assets []domain.AssetPerformance
	decode(t, rec, &assets)
	require.Len(t, assets, 1)
	assert.Equal(t, "a2", assets[0].Asset)

	for _, bad := range []string{"0", "-1", "ten"} {
		rec = get(t, s.Handler(), "/api/v1/leaderboard/wallets?limit="+bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", bad)
	}
}

func TestLeaderboard_EmptyLedger(t *testing.T) {
	s, _ := newTestServer(t, func(o *Options) { o.Ledger = ledger.New(ledger.DefaultConfig()) })
	rec := get(t, s.Handler(), "/api/v1/leaderboard/wallets")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestStatus(t *testing.T) {
	start := time.Unix(1700000000, 0)
	now := start
	s, _ := newTestServer(t, func(o *Options) {
		o.Now = func() time.Time { return now }
		o.Stats = func() orchestrator.Stats { return orchestrator.Stats{Source: "ws", TradesApplied: 4} }
		o.Hub = NewHub(log.New(io.Discard, "", 0))
	})
	now = start.Add(90 * time.Second)

	rec := get(t, s.Handler(), "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp StatusResponse
	decode(t, rec, &resp)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "1m30s", resp.Uptime)
	assert.Equal(t, domain.Status{ActivePositions: 2, ClosedPositions: 1, TrackedAssets: 2, TrackedWallets: 2}, resp.Ledger)
	require.NotNil(t, resp.Ingestion)
	assert.Equal(t, "ws", resp.Ingestion.Source)
	assert.Equal(t, int64(4), resp.Ingestion.TradesApplied)
}

func TestRefresh(t *testing.T) {
	post := func(s *Server) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/prices/refresh", nil))
		return rec
	}

	s, _ := newTestServer(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, post(s).Code)

	s, _ = newTestServer(t, func(o *Options) {
		o.Prices = refresherFunc(func(context.Context) (pricing.CycleResult, error) {
			return pricing.CycleResult{
				Assets:    2,
				Snapshots: []pricing.Snapshot{{Asset: "a1", Moved: make([]domain.Position, 2)}},
				Missing:   []string{"a2"},
				Duration:  3 * time.Millisecond,
			}, nil
		})
	})
	rec := post(s)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp RefreshResponse
	decode(t, rec, &resp)
	assert.Equal(t, RefreshResponse{Assets: 2, Priced: 1, Moved: 2, Missing: []string{"a2"}, DurationMs: 3}, resp)

	s, _ = newTestServer(t, func(o *Options) {
		o.Prices = refresherFunc(func(context.Context) (pricing.CycleResult, error) {
			return pricing.CycleResult{}, pricing.ErrCycleInProgress
		})
	})
	assert.Equal(t, http.StatusConflict, post(s).Code)

	s, _ = newTestServer(t, func(o *Options) {
		o.Prices = refresherFunc(func(context.Context) (pricing.CycleResult, error) {
			return pricing.CycleResult{}, pricing.ErrMissingReference
		})
	})
	assert.Equal(t, http.StatusBadGateway, post(s).Code)
}

func TestHub_BroadcastsEvents(t *testing.T) {
	hub := NewHub(log.New(io.Discard, "", 0))
	s, _ := newTestServer(t, func(o *Options) { o.Hub = hub })
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	ev := domain.Event{
		ID:       "ev-1",
		Type:     domain.EventPositionOpened,
		Reason:   domain.ReasonBuy,
		Position: domain.Position{Wallet: "w1", Asset: "a1"},
	}
	require.NoError(t, hub.Publish(context.Background(), ev))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, typ)

	var got domain.Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "ev-1", got.ID)
	assert.Equal(t, domain.EventPositionOpened, got.Type)
	assert.Equal(t, "w1", got.Position.Wallet)

	hub.Close()
	assert.Equal(t, 0, hub.Clients())
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub := NewHub(log.New(io.Discard, "", 0))
	ts := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)

	// Publishing with nobody connected is fine.
	assert.NoError(t, hub.Publish(context.Background(), domain.Event{ID: "x"}))
}

func TestHub_RefusesAfterClose(t *testing.T) {
	hub := NewHub(log.New(io.Discard, "", 0))
	hub.Close()
	ts := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Equal(t, 0, hub.Clients())
}
