package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"rewardclaims/internal/attempts"
	"rewardclaims/internal/auth"
	"rewardclaims/internal/claims"
	"rewardclaims/internal/config"
	"rewardclaims/internal/hmacauth"
)

type Server struct {
	cfg        *config.AppConfig
	claims     claims.Client
	store      attempts.Store
	auth       *auth.Verifier
	relay      *hmacauth.Verifier
	workflows  *registry
	metrics    *metricsRegistry
	log        *zap.Logger
	router     chi.Router
	httpServer *http.Server

	apiHealthFn func(context.Context) error
	dbHealthFn  func(context.Context) error

	// baseCtx outlives individual requests; cancelling it closes every workflow.
	baseCtx     context.Context
	cancelBase  context.CancelFunc
	sweeperDone chan struct{}
	startOnce   sync.Once
}

func NewServer(cfg *config.AppConfig, client claims.Client, store attempts.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := newMetricsRegistry()
	baseCtx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:    cfg,
		claims: countingClient{next: client, metrics: metrics},
		store:  store,
		auth:   &auth.Verifier{Secret: []byte(cfg.Auth.JWTSecret)},
		relay: &hmacauth.Verifier{
			Secret:  cfg.Wallet.RelaySecret,
			MaxSkew: cfg.Wallet.RelayClockSkew,
		},
		metrics:    metrics,
		log:        logger,
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
	s.workflows = newRegistry(cfg.Service.WorkflowTTL, logger, metrics.setActive)

	if checker, ok := client.(claims.HealthChecker); ok {
		s.apiHealthFn = checker.Ping
	}
	if checker, ok := store.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}

	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.accessLog, middleware.Recoverer, middleware.Timeout(60*time.Second))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Method(http.MethodGet, "/metrics", s.metrics.handler())

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware)
			r.Post("/claims/{claimID}/workflows", s.handleOpenWorkflow)
			r.Get("/claims/{claimID}/attempts", s.handleListAttempts)
			r.Get("/workflows/{workflowID}", s.handleGetWorkflow)
			r.Delete("/workflows/{workflowID}", s.handleCloseWorkflow)
			r.Post("/workflows/{workflowID}/connect", s.handleConnect)
			r.Post("/workflows/{workflowID}/confirm", s.handleConfirm)
			r.Post("/workflows/{workflowID}/change-wallet", s.handleChangeWallet)
			r.Post("/workflows/{workflowID}/retry", s.handleRetry)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.relay.Middleware)
			r.Post("/workflows/{workflowID}/wallet", s.handleDeliverWallet)
			r.Delete("/workflows/{workflowID}/wallet", s.handleDropWallet)
		})
	})
	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the idle-workflow sweeper and serves HTTP until Shutdown.
func (s *Server) Start() error {
	s.startOnce.Do(func() {
		s.sweeperDone = make(chan struct{})
		go func() {
			defer close(s.sweeperDone)
			s.workflows.runSweeper(s.baseCtx, s.cfg.Service.SweepInterval)
		}()
	})
	s.log.Info("API listening", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, then closes every open workflow so no
// wallet connection outlives the process.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.cancelBase()
	if s.sweeperDone != nil {
		<-s.sweeperDone
	}
	s.workflows.closeAll()
	return err
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
