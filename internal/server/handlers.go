package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"solana-trade-ledger/internal/domain"
	"solana-trade-ledger/internal/metrics"
	"solana-trade-ledger/internal/orchestrator"
	"solana-trade-ledger/internal/pricing"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// StatusResponse is the JSON response for /api/v1/status.
type StatusResponse struct {
	Status    string              `json:"status"`
	Uptime    string              `json:"uptime"`
	StartedAt time.Time           `json:"started_at"`
	Ledger    domain.Status       `json:"ledger"`
	Ingestion *orchestrator.Stats `json:"ingestion,omitempty"`
	WSClients int                 `json:"ws_clients"`
}

// PositionsResponse is the JSON response for /api/v1/positions.
type PositionsResponse struct {
	Count     int               `json:"count"`
	Positions []domain.Position `json:"positions"`
}

// RefreshResponse is the JSON response for a manual price cycle.
type RefreshResponse struct {
	Assets     int      `json:"assets"`
	Priced     int      `json:"priced"`
	Moved      int      `json:"moved"`
	Missing    []string `json:"missing"`
	DurationMs int64    `json:"duration_ms"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:    "ok",
		Uptime:    s.now().Sub(s.startedAt).Round(time.Second).String(),
		StartedAt: s.startedAt,
		Ledger:    s.opts.Ledger.Status(),
	}
	if s.opts.Stats != nil {
		stats := s.opts.Stats()
		resp.Ingestion = &stats
	}
	if s.opts.Hub != nil {
		resp.WSClients = s.opts.Hub.Clients()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePositions lists positions, optionally filtered.
// GET /api/v1/positions?wallet=&asset=&active=
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	wallet, asset := q.Get("wallet"), q.Get("asset")

	var active *bool
	if v := q.Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, "active must be true or false", http.StatusBadRequest)
			return
		}
		active = &b
	}

	var positions []domain.Position
	switch {
	case wallet != "":
		positions = s.opts.Ledger.WalletPositions(wallet)
	case asset != "":
		positions = s.opts.Ledger.AssetPositions(asset)
	default:
		positions = s.opts.Ledger.Positions()
	}

	out := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		if asset != "" && p.Asset != asset {
			continue
		}
		if active != nil && p.Active != *active {
			continue
		}
		out = append(out, p)
	}
	writeJSON(w, http.StatusOK, PositionsResponse{Count: len(out), Positions: out})
}

// GET /api/v1/positions/{wallet}/{asset}
func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	p, ok := s.opts.Ledger.Position(chi.URLParam(r, "wallet"), chi.URLParam(r, "asset"))
	if !ok {
		writeError(w, "position not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GET /api/v1/leaderboard/wallets?limit=
func (s *Server) handleWalletLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	rows := metrics.WalletLeaderboard(s.opts.Ledger.Positions(), s.now().UnixMilli())
	writeJSON(w, http.StatusOK, metrics.Top(rows, limit))
}

// GET /api/v1/leaderboard/assets?limit=
func (s *Server) handleAssetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	rows := metrics.AssetLeaderboard(s.opts.Ledger.Positions(), s.now().UnixMilli())
	writeJSON(w, http.StatusOK, metrics.Top(rows, limit))
}

// POST /api/v1/prices/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.opts.Prices == nil {
		writeError(w, "pricing disabled", http.StatusServiceUnavailable)
		return
	}
	res, err := s.opts.Prices.PollOnce(r.Context())
	switch {
	case errors.Is(err, pricing.ErrCycleInProgress):
		writeError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		writeError(w, err.Error(), http.StatusBadGateway)
		return
	}

	moved := 0
	for _, snap := range res.Snapshots {
		moved += len(snap.Moved)
	}
	missing := res.Missing
	if missing == nil {
		missing = []string{}
	}
	writeJSON(w, http.StatusOK, RefreshResponse{
		Assets:     res.Assets,
		Priced:     len(res.Snapshots),
		Moved:      moved,
		Missing:    missing,
		DurationMs: res.Duration.Milliseconds(),
	})
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		writeError(w, "limit must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
