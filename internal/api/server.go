package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillm/riskgate/internal/audit"
	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/lock"
	"github.com/kirillm/riskgate/internal/orchestrator"
	"github.com/kirillm/riskgate/internal/scheduler"
	"github.com/kirillm/riskgate/pkg/utils"
)

// TradeService операции над тенантами
type TradeService interface {
	Submit(ctx context.Context, tenantID string, intent *domain.TradeIntent) (*domain.ExecutionRecord, error)
	TriggerLock(ctx context.Context, tenantID string, req orchestrator.LockRequest) error
	ReleaseLock(ctx context.Context, tenantID string, kind domain.LockKind, symbol, actor string) error
	Status(tenantID string) (*orchestrator.TenantStatus, error)
	Tenants() []string
}

// CycleRunner ручной запуск циклов планировщика
type CycleRunner interface {
	ScanAll(ctx context.Context) (*scheduler.CycleResult, error)
	RunDailyCycle(ctx context.Context) (*scheduler.CycleResult, error)
}

// DecisionFinder чтение журнала решений
type DecisionFinder interface {
	FindDecisions(tenantID, intentID string) ([]audit.DecisionRecord, error)
}

type Server struct {
	logger  *utils.Logger
	trades  TradeService
	cycles  CycleRunner
	audit   DecisionFinder
	metrics http.Handler
	token   string
	port    int
	started time.Time
	server  *http.Server
}

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// IntentRequest тело POST /tenants/{id}/intents
type IntentRequest struct {
	Symbol        string `json:"symbol"`
	Action        string `json:"action"`
	Quantity      int    `json:"quantity"`
	Source        string `json:"source_type"`
	SubmittedBy   string `json:"submitted_by"`
	Notes         string `json:"notes,omitempty"`
	HoldOnCooling bool   `json:"hold_on_cooling,omitempty"`
}

// Options необязательные части сервера
type Options struct {
	Cycles  CycleRunner
	Audit   DecisionFinder
	Metrics http.Handler
	Token   string
}

func NewServer(logger *utils.Logger, trades TradeService, port int, opts Options) *Server {
	if logger == nil {
		logger = utils.NopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = http.NotFoundHandler()
	}
	return &Server{
		logger:  logger,
		trades:  trades,
		cycles:  opts.Cycles,
		audit:   opts.Audit,
		metrics: metrics,
		token:   opts.Token,
		port:    port,
		started: time.Now(),
	}
}

// Handler маршруты сервера; /health и /metrics без токена
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics)

	mux.Handle("GET /tenants", s.auth(s.handleTenants))
	mux.Handle("POST /tenants/{id}/intents", s.auth(s.handleSubmit))
	mux.Handle("POST /tenants/{id}/locks", s.auth(s.handleTriggerLock))
	mux.Handle("DELETE /tenants/{id}/locks", s.auth(s.handleReleaseLock))
	mux.Handle("GET /tenants/{id}/portfolio", s.auth(s.handlePortfolio))
	mux.Handle("GET /tenants/{id}/audit/{intentID}", s.auth(s.handleAudit))
	mux.Handle("POST /cycles/scan", s.auth(s.handleScan))
	mux.Handle("POST /cycles/daily", s.auth(s.handleDaily))

	return mux
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("🌐 Starting HTTP server on %s", addr)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// auth Bearer токен или X-API-Token, если токен задан
func (s *Server) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got == "" {
				got = r.Header.Get("X-API-Token")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
				s.logger.Warn("⚠️ Unauthorized %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
				s.sendError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendSuccess(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"tenants":   len(s.trades.Tenants()),
	})
}

func (s *Server) handleTenants(w http.ResponseWriter, r *http.Request) {
	s.sendSuccess(w, s.trades.Tenants())
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("id")

	var req IntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	intent, err := domain.NewTradeIntent(domain.IntentParams{
		TenantID:      tenantID,
		Symbol:        req.Symbol,
		Action:        domain.Action(strings.ToLower(req.Action)),
		Quantity:      req.Quantity,
		Source:        domain.SourceType(strings.ToLower(req.Source)),
		SubmittedBy:   req.SubmittedBy,
		Notes:         req.Notes,
		HoldOnCooling: req.HoldOnCooling,
	}, time.Now())
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := s.trades.Submit(r.Context(), tenantID, intent)
	if err != nil {
		s.logger.Error("❌ Submit %s/%s failed: %v", tenantID, intent.ID, err)
		s.send(w, statusFor(err), Response{Success: false, Data: rec, Error: err.Error()})
		return
	}
	s.sendSuccess(w, rec)
}

func (s *Server) handleTriggerLock(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("id")

	var req orchestrator.LockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.trades.TriggerLock(r.Context(), tenantID, req); err != nil {
		s.sendError(w, err.Error(), statusFor(err))
		return
	}
	s.sendStatus(w, tenantID)
}

// handleReleaseLock параметры в query: kind, symbol, actor
func (s *Server) handleReleaseLock(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("id")
	q := r.URL.Query()
	kind := domain.LockKind(q.Get("kind"))
	actor := q.Get("actor")
	if kind == "" || actor == "" {
		s.sendError(w, "kind and actor are required", http.StatusBadRequest)
		return
	}

	if err := s.trades.ReleaseLock(r.Context(), tenantID, kind, q.Get("symbol"), actor); err != nil {
		s.sendError(w, err.Error(), statusFor(err))
		return
	}
	s.sendStatus(w, tenantID)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	s.sendStatus(w, r.PathValue("id"))
}

func (s *Server) sendStatus(w http.ResponseWriter, tenantID string) {
	status, err := s.trades.Status(tenantID)
	if err != nil {
		s.sendError(w, err.Error(), statusFor(err))
		return
	}
	s.sendSuccess(w, status)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		s.sendError(w, "Audit reader not available", http.StatusServiceUnavailable)
		return
	}
	tenantID, intentID := r.PathValue("id"), r.PathValue("intentID")

	records, err := s.audit.FindDecisions(tenantID, intentID)
	if err != nil {
		s.sendError(w, fmt.Sprintf("Failed to read audit: %v", err), statusFor(err))
		return
	}
	if len(records) == 0 {
		s.sendError(w, fmt.Sprintf("no decision for intent %s", intentID), http.StatusNotFound)
		return
	}
	s.sendSuccess(w, records)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.cycles == nil {
		s.sendError(w, "Scheduler not available", http.StatusServiceUnavailable)
		return
	}
	s.sendCycle(w, "scan", func(ctx context.Context) (*scheduler.CycleResult, error) {
		return s.cycles.ScanAll(ctx)
	}, r)
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	if s.cycles == nil {
		s.sendError(w, "Scheduler not available", http.StatusServiceUnavailable)
		return
	}
	s.sendCycle(w, "daily", s.cycles.RunDailyCycle, r)
}

func (s *Server) sendCycle(w http.ResponseWriter, name string, run func(context.Context) (*scheduler.CycleResult, error), r *http.Request) {
	res, err := run(r.Context())
	if err != nil {
		s.logger.Error("❌ Manual %s cycle: %v", name, err)
		s.send(w, http.StatusInternalServerError, Response{Success: false, Data: res, Error: err.Error()})
		return
	}
	s.sendSuccess(w, res)
}

// statusFor переводит доменные ошибки в HTTP коды
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrUnknownTenant), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lock.ErrLockNotActive):
		return http.StatusConflict
	case errors.Is(err, domain.ErrAuditIntegrity):
		return http.StatusInternalServerError
	case domain.IsInfrastructure(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sendSuccess(w http.ResponseWriter, data interface{}) {
	s.send(w, http.StatusOK, Response{Success: true, Data: data})
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	s.send(w, statusCode, Response{Success: false, Error: message})
}

func (s *Server) send(w http.ResponseWriter, statusCode int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("Failed to encode response: %v", err)
	}
}
