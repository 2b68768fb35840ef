package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net"
	"net/http"
	"time"

	"cosmossdk.io/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/quorumfeed/quorumfeed/commitreveal"
	"github.com/quorumfeed/quorumfeed/coordinator"
	"github.com/quorumfeed/quorumfeed/ledger"
)

// Config holds HTTP server configuration.
type Config struct {
	Host            string
	Port            string
	JWTSecret       []byte
	CORSOrigins     []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns server defaults for local deployments.
func DefaultConfig() *Config {
	return &Config{
		Host:            "0.0.0.0",
		Port:            "8080",
		CORSOrigins:     []string{"http://localhost:3000"},
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server is the engine's HTTP surface: oracle ingestion, public queries,
// guarded admin and guardian operations, Prometheus metrics.
type Server struct {
	logger log.Logger
	config *Config
	router *gin.Engine
	coord  *coordinator.Coordinator
	ledger *ledger.Ledger
	reveal *commitreveal.Service
}

func NewServer(
	logger log.Logger,
	config *Config,
	coord *coordinator.Coordinator,
	ldg *ledger.Ledger,
	reveal *commitreveal.Service,
) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if len(config.JWTSecret) == 0 {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		config.JWTSecret = secret
		logger.Warn("jwt secret generated randomly; set one explicitly to keep tokens valid across restarts",
			"secret_hex", hex.EncodeToString(secret))
	}

	s := &Server{
		logger: logger.With("module", "api"),
		config: config,
		coord:  coord,
		ledger: ldg,
		reveal: reveal,
	}
	s.setupRouter()
	return s, nil
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(s.requestLogger())

	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/v1")
	{
		// Public query surface.
		v1.GET("/feeds/:feedId/price", s.handleGetPrice)
		v1.GET("/feeds/:feedId/circuit", s.handleGetCircuit)
		v1.GET("/oracles/:address", s.handleGetOracle)

		v1.GET("/oracles/:address/slashes", s.handleSlashingHistory)

		// Oracle ingestion, lifecycle and proof operations, token-authenticated.
		v1.POST("/feeds/:feedId/reports", s.authMiddleware(), s.handleSubmitReport)

		oracles := v1.Group("/oracles", s.authMiddleware())
		{
			oracles.POST("", s.handleRegisterOracle)
			oracles.POST("/:address/stake", s.handleIncreaseStake)
			oracles.DELETE("/:address", s.handleDeregisterOracle)
		}

		v1.POST("/disputes", s.authMiddleware(), s.handleCreateDispute)

		proofs := v1.Group("/proofs", s.authMiddleware())
		{
			proofs.POST("/commit", s.handleCommit)
			proofs.POST("/reveal", s.handleReveal)
			proofs.POST("/approve", s.handleApprove)
			proofs.POST("/batch", s.handleCommitBatch)
			proofs.POST("/approve-batch", s.handleApproveBatch)
		}

		admin := v1.Group("/admin", s.authMiddleware())
		{
			admin.POST("/feeds", s.handleCreateFeed)
			admin.POST("/engine", s.handleSetEnabled)
			admin.POST("/circuit/:feedId/trip", s.handleTripCircuit)
			admin.POST("/circuit/:feedId/reset", s.handleResetCircuit)
			admin.POST("/circuit/trip-all", s.handleTripAll)
			admin.POST("/disputes/:disputeId/resolve", s.handleResolveDispute)
			admin.POST("/verifiers", s.handleAddVerifier)
			admin.POST("/verifiers/:address/penalize", s.handlePenalizeVerifier)
		}
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// Handler returns the router wrapped with CORS, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler(s.router)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         net.JoinHostPort(s.config.Host, s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	s.logger.Info("api server shutting down")
	return srv.Shutdown(shutdownCtx)
}
