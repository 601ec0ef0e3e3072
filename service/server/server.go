package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/solsend/service/audit"
	"github.com/brojonat/solsend/service/config"
	"github.com/brojonat/solsend/service/db"
	"github.com/brojonat/solsend/service/guard"
	"github.com/brojonat/solsend/service/metrics"
	"github.com/brojonat/solsend/service/temporal"
	"github.com/brojonat/solsend/service/transfer"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TransferLister reads the audit log.
type TransferLister interface {
	ListTransfers(ctx context.Context, params db.ListTransfersParams) ([]*db.Transfer, error)
}

// WorkflowClient starts and inspects async transfers.
type WorkflowClient interface {
	StartTransfer(ctx context.Context, input temporal.TransferWorkflowInput) (string, error)
	GetTransferStatus(ctx context.Context, workflowID string) (*temporal.TransferStatus, error)
}

// Deps are the server's collaborators. Only Transferer is required; every
// other field may be nil, which disables the routes that need it.
type Deps struct {
	Transferer *transfer.Transferer
	Session    transfer.Session
	Guard      guard.Guard
	Recorder   *audit.Recorder
	Store      TransferLister
	Workflows  WorkflowClient
	Metrics    *metrics.Metrics
}

// Server represents the HTTP server for the transfer service.
type Server struct {
	addr   string
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger
	server *http.Server
}

// New creates a new HTTP server with the given dependencies.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if deps.Guard == nil {
		deps.Guard = guard.NewLocalGuard(cfg.InflightTTL)
	}
	return &Server{
		addr:   cfg.ServerAddr,
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
}

// Handler builds the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	d := s.deps
	network := string(s.cfg.SolanaNetwork)

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(d.Metrics, name)(h))
	}

	route("POST /api/v1/transfers", "/api/v1/transfers",
		handleTransfer(d.Transferer, d.Session, d.Guard, d.Recorder, network, d.Metrics, s.logger))
	route("GET /api/v1/transfers", "/api/v1/transfers",
		handleListTransfers(d.Store, s.cfg.TransferListLimit, s.logger))
	route("POST /api/v1/validate", "/api/v1/validate", handleValidate(s.logger))
	route("GET /api/v1/wallet", "/api/v1/wallet", handleWallet(d.Session, network, s.cfg.WalletMode()))
	route("GET /api/v1/wallet/balance", "/api/v1/wallet/balance",
		handleBalance(d.Transferer, d.Session, network, s.logger))

	if d.Workflows != nil {
		route("POST /api/v1/transfers/async", "/api/v1/transfers/async",
			handleStartAsyncTransfer(d.Workflows, s.logger))
		route("GET /api/v1/transfers/async/{workflow_id}", "/api/v1/transfers/async/{workflow_id}",
			handleGetAsyncTransfer(d.Workflows, s.logger))
		s.logger.Info("async transfer endpoints enabled")
	} else {
		s.logger.Warn("temporal not configured, async transfer endpoints disabled")
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if d.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	if s.deps.Session == nil {
		s.logger.Warn("no wallet configured, transfers will fail with NoWalletConnected")
	}

	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// signing may wait on a remote wallet
		WriteTimeout: s.cfg.SignerTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
