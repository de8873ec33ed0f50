package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tradedesk/internal/agent"
	"tradedesk/internal/broker"
	"tradedesk/internal/desk"
	"tradedesk/internal/domain"
	"tradedesk/internal/journal"
	"tradedesk/internal/market"
	"tradedesk/internal/metrics"
)

const (
	maxBodySize        = 1 << 20 // 1MB
	readHeaderTimeout  = 10 * time.Second
	shutdownTimeout    = 5 * time.Second
	defaultTurnTimeout = 120 * time.Second
)

// Server is the dashboard API: agent turns, round tables, journal, broker
// state, risk reviews and the market tick stream, behind one bearer token.
type Server struct {
	host        string
	port        int
	authEnabled bool
	authToken   string
	version     string
	metricsPath string
	turnTimeout time.Duration

	runner     *agent.Runner
	roundTable *agent.RoundTable
	roster     []domain.AgentConfig
	desk       *desk.Desk
	journal    *journal.Store
	feed       *market.Feed
	logger     *slog.Logger

	handler    http.Handler
	httpServer *http.Server
}

type Config struct {
	Host         string
	Port         int
	AuthRequired bool
	AuthToken    string
	Version      string
	// MetricsPath is where the metrics exposition is mounted; empty disables it.
	MetricsPath string
	TurnTimeout time.Duration

	Runner     *agent.Runner
	RoundTable *agent.RoundTable
	Roster     []domain.AgentConfig
	Desk       *desk.Desk
	Journal    *journal.Store
	Feed       *market.Feed
	Logger     *slog.Logger
}

func New(cfg Config) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8420
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = defaultTurnTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		host:        cfg.Host,
		port:        cfg.Port,
		authEnabled: cfg.AuthRequired,
		authToken:   cfg.AuthToken,
		version:     cfg.Version,
		metricsPath: cfg.MetricsPath,
		turnTimeout: cfg.TurnTimeout,
		runner:      cfg.Runner,
		roundTable:  cfg.RoundTable,
		roster:      cfg.Roster,
		desk:        cfg.Desk,
		journal:     cfg.Journal,
		feed:        cfg.Feed,
		logger:      cfg.Logger,
	}
	s.handler = s.routes()
	return s
}

// Handler exposes the routed mux so tests can drive it without a listener.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth) // public endpoint
	if s.metricsPath != "" {
		mux.HandleFunc("GET "+s.metricsPath, metrics.Collector.Handler())
	}

	mux.HandleFunc("POST /api/agent/turn", s.requireAuth(s.handleAgentTurn))
	mux.HandleFunc("POST /api/roundtable", s.requireAuth(s.handleRoundTable))
	mux.HandleFunc("GET /api/journal", s.requireAuth(s.handleJournalList))
	mux.HandleFunc("POST /api/journal", s.requireAuth(s.handleJournalAppend))
	mux.HandleFunc("GET /api/playbooks", s.requireAuth(s.handlePlaybooks))
	mux.HandleFunc("GET /api/broker/snapshot", s.requireAuth(s.handleBrokerSnapshot))
	mux.HandleFunc("GET /api/broker/positions", s.requireAuth(s.handleBrokerPositions))
	mux.HandleFunc("GET /api/broker/orders", s.requireAuth(s.handleBrokerOrders))
	mux.HandleFunc("POST /api/risk/review", s.requireAuth(s.handleRiskReview))
	mux.HandleFunc("POST /api/orders", s.requireAuth(s.handleOrders))
	mux.HandleFunc("POST /api/positions/close", s.requireAuth(s.handleClosePosition))
	mux.HandleFunc("GET /ws/market", s.requireAuth(s.handleMarketWS))

	return mux
}

// Start runs the server until ctx is canceled, then drains in-flight
// requests before returning.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		// No WriteTimeout: agent turns and the websocket stream outlive any
		// fixed ceiling.
	}

	s.logger.Info("dashboard API listening", "addr", "http://"+addr, "auth", s.authEnabled)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// requireAuth enforces the bearer token. When auth is required but no token
// is configured, every request is refused rather than let through.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.authEnabled {
			next(rw, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			// Browsers cannot set headers on a websocket dial, so the token
			// may ride the query string instead.
			token = r.URL.Query().Get("token")
		}
		if token == "" || s.authToken == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			writeError(rw, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next(rw, r)
	}
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleAgentTurn runs one agent turn. The persona comes from the configured
// roster by id, or as an inline one-off config for dashboards that let the
// trader edit prompts on the fly.
func (s *Server) handleAgentTurn(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string              `json:"agent_id"`
		Agent   *domain.AgentConfig `json:"agent,omitempty"`
		Message string              `json:"message"`
		History []domain.Message    `json:"history,omitempty"`
	}
	if !decodeBody(rw, r, &req) {
		return
	}
	if req.Message == "" {
		writeError(rw, http.StatusBadRequest, "message is required")
		return
	}

	var agentCfg domain.AgentConfig
	switch {
	case req.AgentID != "":
		var ok bool
		agentCfg, ok = s.agentByID(req.AgentID)
		if !ok {
			writeError(rw, http.StatusNotFound, fmt.Sprintf("unknown agent %q", req.AgentID))
			return
		}
	case req.Agent != nil:
		agentCfg = *req.Agent
		if !agentCfg.Provider.Valid() {
			writeError(rw, http.StatusBadRequest, "agent.provider must be chat or generate")
			return
		}
		if agentCfg.ID == "" {
			agentCfg.ID = "ad-hoc"
		}
	default:
		writeError(rw, http.StatusBadRequest, "agent_id or agent is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.turnTimeout)
	defer cancel()

	history := append(req.History, domain.UserMessage(req.Message))
	result, err := s.runner.RunTurn(ctx, agentCfg, history)
	if err != nil {
		if errors.Is(err, agent.ErrIterationLimit) {
			writeError(rw, http.StatusBadGateway, "agent did not settle: "+err.Error())
			return
		}
		s.logger.Error("agent turn failed", "agent", agentCfg.ID, "error", err)
		writeError(rw, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(rw, http.StatusOK, struct {
		AgentID string `json:"agent_id"`
		domain.TurnResult
	}{AgentID: agentCfg.ID, TurnResult: *result})
}

func (s *Server) handleRoundTable(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
	}
	if !decodeBody(rw, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(rw, http.StatusBadRequest, "question is required")
		return
	}

	result, err := s.roundTable.Run(r.Context(), req.Question)
	if err != nil {
		s.logger.Error("round table failed", "error", err)
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, result)
}

func (s *Server) handleJournalList(rw http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(rw, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	entries, err := s.journal.Entries(r.Context(), limit)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleJournalAppend(rw http.ResponseWriter, r *http.Request) {
	var entry domain.JournalEntry
	if !decodeBody(rw, r, &entry) {
		return
	}
	if entry.Title == "" {
		writeError(rw, http.StatusBadRequest, "title is required")
		return
	}
	id, err := s.desk.AppendJournalEntry(r.Context(), entry)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(rw, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handlePlaybooks(rw http.ResponseWriter, r *http.Request) {
	books, err := s.desk.Playbooks(r.Context(), r.URL.Query().Get("filter"))
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"playbooks": books})
}

func (s *Server) handleBrokerSnapshot(rw http.ResponseWriter, r *http.Request) {
	snap, err := s.desk.BrokerSnapshot(r.Context())
	if err != nil {
		writeError(rw, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, snap)
}

func (s *Server) handleBrokerPositions(rw http.ResponseWriter, r *http.Request) {
	positions, err := s.desk.OpenPositions(r.Context())
	if err != nil {
		writeError(rw, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"positions": positions})
}

func (s *Server) handleBrokerOrders(rw http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(rw, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	orders, err := s.desk.RecentOrders(r.Context(), limit)
	if err != nil {
		writeError(rw, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"orders": orders})
}

func (s *Server) handleClosePosition(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		PositionID string `json:"position_id"`
	}
	if !decodeBody(rw, r, &req) {
		return
	}
	if req.PositionID == "" {
		writeError(rw, http.StatusBadRequest, "position_id is required")
		return
	}

	rec, err := s.desk.ClosePosition(r.Context(), req.PositionID)
	if err != nil {
		if errors.Is(err, broker.ErrPositionNotFound) {
			writeError(rw, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("close position failed", "id", req.PositionID, "error", err)
		writeError(rw, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"trade": rec})
}

func (s *Server) handleRiskReview(rw http.ResponseWriter, r *http.Request) {
	var plan domain.TradePlan
	if !decodeBody(rw, r, &plan) {
		return
	}
	if plan.Symbol == "" {
		writeError(rw, http.StatusBadRequest, "symbol is required")
		return
	}
	verdict, err := s.desk.RiskReview(r.Context(), plan)
	if err != nil {
		writeError(rw, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, verdict)
}

// handleOrders submits a plan through the risk gate. A rejection is a 409
// carrying the verdict so the dashboard can show every reason at once.
func (s *Server) handleOrders(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Plan     domain.TradePlan `json:"plan"`
		Quantity float64          `json:"quantity"`
	}
	if !decodeBody(rw, r, &req) {
		return
	}
	if req.Plan.Symbol == "" {
		writeError(rw, http.StatusBadRequest, "plan.symbol is required")
		return
	}
	if req.Quantity <= 0 {
		writeError(rw, http.StatusBadRequest, "quantity must be positive")
		return
	}

	pos, verdict, err := s.desk.SubmitOrder(r.Context(), req.Plan, req.Quantity)
	if err != nil {
		s.logger.Error("order submission failed", "symbol", req.Plan.Symbol, "error", err)
		writeError(rw, http.StatusBadGateway, err.Error())
		return
	}
	if !verdict.Allowed {
		writeJSON(rw, http.StatusConflict, map[string]any{"verdict": verdict})
		return
	}
	writeJSON(rw, http.StatusCreated, map[string]any{"position": pos, "verdict": verdict})
}

func (s *Server) agentByID(id string) (domain.AgentConfig, bool) {
	for _, a := range s.roster {
		if strings.EqualFold(a.ID, id) {
			return a, true
		}
	}
	return domain.AgentConfig{}, false
}

func decodeBody(rw http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, "read body: "+err.Error())
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}
