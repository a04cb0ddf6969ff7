// Package server exposes the ledger over HTTP: positions, leaderboards,
// status, Prometheus metrics and a WebSocket event stream.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"solana-trade-ledger/internal/domain"
	"solana-trade-ledger/internal/observability"
	"solana-trade-ledger/internal/orchestrator"
	"solana-trade-ledger/internal/pricing"
)

// LedgerReader is the read side of the position ledger.
type LedgerReader interface {
	Position(wallet, asset string) (domain.Position, bool)
	Positions() []domain.Position
	WalletPositions(wallet string) []domain.Position
	AssetPositions(asset string) []domain.Position
	Status() domain.Status
}

// PriceRefresher runs an out-of-schedule price cycle.
type PriceRefresher interface {
	PollOnce(ctx context.Context) (pricing.CycleResult, error)
}

// Options configures a Server.
type Options struct {
	Addr    string
	Ledger  LedgerReader
	Stats   func() orchestrator.Stats // optional
	Prices  PriceRefresher            // optional; refresh answers 503 without it
	Hub     *Hub                      // optional; /api/v1/ws answers 404 without it
	Metrics *observability.Metrics
	Logger  *log.Logger
	Now     func() time.Time
}

// Server is the HTTP API.
type Server struct {
	opts      Options
	logger    *log.Logger
	now       func() time.Time
	startedAt time.Time
	router    chi.Router
}

// New builds the router.
func New(opts Options) *Server {
	s := &Server{opts: opts, logger: opts.Logger, now: opts.Now}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.startedAt = s.now()
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", observability.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/positions", s.handlePositions)
		r.Get("/positions/{wallet}/{asset}", s.handlePosition)
		r.Get("/leaderboard/wallets", s.handleWalletLeaderboard)
		r.Get("/leaderboard/assets", s.handleAssetLeaderboard)
		r.Post("/prices/refresh", s.handleRefresh)
		if s.opts.Hub != nil {
			r.Get("/ws", s.opts.Hub.HandleWS)
		}
	})
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("HTTP server listening on %s", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	if s.opts.Hub != nil {
		s.opts.Hub.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// instrument records request counts and latency by route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.opts.Metrics.RecordHTTP(route, strconv.Itoa(status), time.Since(start))
	})
}
