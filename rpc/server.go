// Package rpc serves read-only HTTP queries over the ledger.
package rpc

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nftlend/core"
)

// Config configures the HTTP surface.
type Config struct {
	Address           string
	RequestsPerMinute float64
	Burst             int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
}

// Server answers loan, payoff, nonce and balance queries.
type Server struct {
	ledger  *core.Ledger
	cfg     Config
	logger  *slog.Logger
	limiter *RateLimiter
	router  chi.Router
}

// NewServer builds the router. A zero RequestsPerMinute disables rate
// limiting.
func NewServer(ledger *core.Ledger, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{ledger: ledger, cfg: cfg, logger: logger}
	if cfg.RequestsPerMinute > 0 {
		s.limiter = NewRateLimiter(RateLimit{RequestsPerMinute: cfg.RequestsPerMinute, Burst: cfg.Burst}, logger)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v chi.Router) {
		if s.limiter != nil {
			v.Use(s.limiter.Middleware("v1"))
		}
		v.With(observe("lending", "offerTypes")).Get("/offer-types", s.handleOfferTypes)
		v.With(observe("lending", "loan")).Get("/loans/{loanID}", s.handleLoan)
		v.With(observe("lending", "payoff")).Get("/loans/{loanID}/payoff", s.handlePayoff)
		v.With(observe("coordinator", "nonce")).Get("/nonces/{offerType}/{signer}/{nonce}", s.handleNonce)
		v.With(observe("payments", "escrowed")).Get("/escrowed/{recipient}/{token}", s.handleEscrowed)
		v.With(observe("flash", "liquidity")).Get("/flash/{token}", s.handleFlash)
		v.With(observe("swap", "quote")).Get("/swap/quote", s.handleSwapQuote)
	})
	return r
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler { return s.router }

// Serve listens on the configured address until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Address,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("rpc listening", slog.String("address", s.cfg.Address))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
