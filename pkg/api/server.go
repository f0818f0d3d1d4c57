// Package api exposes the settler over HTTP: the settlement and recovery operations, ledger
// reads, relay job submission, and the health and metrics endpoints.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/speedrun-hq/speedrun-settler/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
	"github.com/speedrun-hq/speedrun-settler/pkg/ledger"
	"github.com/speedrun-hq/speedrun-settler/pkg/logger"
	"github.com/speedrun-hq/speedrun-settler/pkg/relayer"
	"github.com/speedrun-hq/speedrun-settler/pkg/settlement"
)

// Engine is the settlement surface served by the API
type Engine interface {
	Redeem(ctx context.Context, req settlement.RedeemRequest) (*settlement.Outcome, error)
	SwapHook(ctx context.Context, req settlement.SwapHookRequest) (*settlement.Outcome, error)
	Relay(ctx context.Context, req settlement.RelayRequest) (*settlement.Outcome, error)
	RescueFunds(ctx context.Context, caller, token, to common.Address, amount *big.Int) (*ledger.Event, error)
	ResolveFailedRelay(ctx context.Context, caller common.Address, messageID common.Hash, to common.Address) (*ledger.Event, error)
	Config() settlement.Config
	Hasher() *intent.Hasher
	Store() ledger.Store
}

// JobQueue accepts relay jobs and reports their progress
type JobQueue interface {
	Submit(job relayer.Job) (string, error)
	Status(id string) (relayer.JobStatus, bool)
}

// ChainStatus reports the state of the settlement chain connection
type ChainStatus interface {
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
}

// Server represents the settler HTTP server
type Server struct {
	port          string
	engine        Engine
	jobs          JobQueue
	breaker       *circuitbreaker.CircuitBreaker
	chain         ChainStatus
	apiKey        string
	credentials   map[string]common.Address
	metricsAPIKey string
	logger        logger.Logger
	mux           *http.ServeMux
}

// Option configures a Server
type Option func(*Server)

// WithJobQueue enables the relay job endpoints
func WithJobQueue(jobs JobQueue) Option {
	return func(s *Server) {
		s.jobs = jobs
	}
}

// WithCircuitBreaker reports and resets the transfer circuit breaker
func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(s *Server) {
		s.breaker = cb
	}
}

// WithChain reports the settlement chain in /ready and /status
func WithChain(chain ChainStatus) Option {
	return func(s *Server) {
		s.chain = chain
	}
}

// WithAPIKey sets the operator key for the admin endpoints, circuit reset and relay job
// submission. Without it those endpoints reject every request.
func WithAPIKey(key string) Option {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithCredential lets the holder of key act as account on the settlement and recovery
// endpoints. Those endpoints reject every request until a credential is added.
func WithCredential(key string, account common.Address) Option {
	return func(s *Server) {
		if s.credentials == nil {
			s.credentials = make(map[string]common.Address)
		}
		s.credentials[key] = account
	}
}

// WithMetricsAPIKey requires a bearer key on /metrics
func WithMetricsAPIKey(key string) Option {
	return func(s *Server) {
		s.metricsAPIKey = key
	}
}

// WithLogger sets the server logger
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates a new API server
func NewServer(port string, engine Engine, opts ...Option) *Server {
	s := &Server{
		port:   port,
		engine: engine,
		logger: &logger.EmptyLogger{},
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler serving every route
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server on port %s", s.port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("API server error: %v", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	s.mux.HandleFunc("GET /ready", s.handleReady)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.Handle("POST /circuit/reset", s.operatorAuth(http.HandlerFunc(s.handleCircuitReset)))

	// Expose Prometheus metrics with API key authentication
	s.mux.Handle("GET /metrics", bearerAuth(s.metricsAPIKey, promhttp.Handler()))

	s.mux.Handle("POST /v1/intents/redeem", s.callerAuth(s.handleRedeem))
	s.mux.Handle("POST /v1/swap/hook", s.callerAuth(s.handleSwapHook))
	s.mux.Handle("POST /v1/relay", s.callerAuth(s.handleRelay))
	s.mux.Handle("POST /v1/relay/jobs", s.operatorAuth(http.HandlerFunc(s.handleSubmitJob)))
	s.mux.HandleFunc("GET /v1/relay/jobs/{id}", s.handleJobStatus)
	s.mux.HandleFunc("GET /v1/relay/failed/{messageId}", s.handleFailedRelay)
	s.mux.Handle("POST /v1/recovery/rescue", s.callerAuth(s.handleRescue))
	s.mux.Handle("POST /v1/recovery/resolve", s.callerAuth(s.handleResolve))
	s.mux.HandleFunc("GET /v1/salts/{salt}", s.handleSalt)
	s.mux.HandleFunc("GET /v1/orders/{orderId}", s.handleOrder)
	s.mux.HandleFunc("GET /v1/events", s.handleEvents)
}

// callerHandler serves a request on behalf of the authenticated account
type callerHandler func(w http.ResponseWriter, r *http.Request, caller common.Address)

// callerAuth resolves the bearer key to the account it was issued to. Role checks run
// against that account, never against an address named in the request.
func (s *Server) callerAuth(next callerHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := bearerToken(w, r)
		if !ok {
			return
		}

		caller, ok := s.credentials[key]
		if !ok {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next(w, r, caller)
	})
}

// operatorAuth requires the operator API key and rejects everything when none is set
func (s *Server) operatorAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := bearerToken(w, r)
		if !ok {
			return
		}

		if s.apiKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerAuth checks for a valid API key. No key configured means no check.
func bearerAuth(key string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(w, r)
		if !ok {
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) != 1 {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the bearer token, writing a 401 response when there is none
func bearerToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
		return "", false
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
		return "", false
	}
	return parts[1], true
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.engine.Store().Events(r.Context(), ledger.EventFilter{Limit: 1}); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(fmt.Sprintf("Ledger unavailable: %v", err)))
		return
	}
	if s.chain != nil {
		if _, err := s.chain.GetLatestBlockNumber(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(fmt.Sprintf("Chain client not connected: %v", err)))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.engine.Config()
	hasher := s.engine.Hasher()
	status := map[string]interface{}{
		"chain_id":           hasher.ChainID().String(),
		"verifying_contract": hasher.VerifyingContract(),
		"domain_separator":   hasher.DomainSeparator(),
		"asset":              cfg.Asset,
		"custody":            cfg.Custody,
		"swap_router":        cfg.Router,
		"local_domain":       cfg.LocalDomain,
		"relay_enabled":      s.jobs != nil,
	}

	if s.breaker != nil {
		status["circuit"] = s.breaker.GetState()
	}
	if s.chain != nil {
		chainStatus := map[string]interface{}{"connected": true}
		blockNumber, err := s.chain.GetLatestBlockNumber(r.Context())
		if err != nil {
			chainStatus["connected"] = false
			chainStatus["error"] = err.Error()
		} else {
			chainStatus["latest_block"] = blockNumber
		}
		status["chain"] = chainStatus
	}

	s.writeJSON(w, http.StatusOK, status)
}

// Circuit breaker admin control endpoint
func (s *Server) handleCircuitReset(w http.ResponseWriter, _ *http.Request) {
	if s.breaker == nil {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("No circuit breaker configured"))
		return
	}

	s.breaker.Reset()
	s.logger.Notice("Circuit breaker %s reset through the API", s.breaker.Name())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(fmt.Sprintf("Circuit breaker %s reset", s.breaker.Name())))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Error encoding JSON response: %v", err)
	}
}
