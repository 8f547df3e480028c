package rpc

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"marketchain/core/events"
	"marketchain/native/market"
	"marketchain/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
	codeNotFound       = -32022
	codeForbidden      = -32023
	codeConflict       = -32024
)

// Server exposes the marketplace operations over JSON-RPC. Mutating calls are
// serialized through a single mutex: the node applies one operation at a time,
// which supplies the per-record linearization the engines assume.
type Server struct {
	log    *slog.Logger
	market *market.Engine
	escrow *market.EscrowEngine
	broker *events.Broker

	opMu sync.Mutex

	jwtSecret []byte

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	rateLimit rate.Limit
	burst     int
}

// Options carries the server dependencies and tuning knobs.
type Options struct {
	Log       *slog.Logger
	Market    *market.Engine
	Escrow    *market.EscrowEngine
	Broker    *events.Broker
	JWTSecret []byte
	// RatePerMinute caps JSON-RPC calls per client address. Zero disables
	// rate limiting.
	RatePerMinute int
}

// NewServer constructs a JSON-RPC server for the supplied engines.
func NewServer(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		log:      log,
		market:   opts.Market,
		escrow:   opts.Escrow,
		broker:   opts.Broker,
		limiters: make(map[string]*rate.Limiter),
	}
	if len(opts.JWTSecret) > 0 {
		s.jwtSecret = append([]byte(nil), opts.JWTSecret...)
	}
	if opts.RatePerMinute > 0 {
		s.rateLimit = rate.Limit(float64(opts.RatePerMinute) / 60.0)
		s.burst = opts.RatePerMinute
	}
	return s
}

// Router assembles the HTTP surface: the JSON-RPC endpoint, the event stream
// and the prometheus scrape endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Post("/", s.handle)
	r.Get("/ws/events", s.handleEventsWS)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start serves the router on the supplied address and blocks.
func (s *Server) Start(addr string) error {
	s.log.Info("starting JSON-RPC server", "addr", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}

type requestIDKey struct{}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(contextWithRequestID(r.Context(), id)))
	})
}

// RPCRequest is the JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	clientIP := clientAddr(r)
	if !s.allow(clientIP) {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate_limited", "too many requests")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "invalid_request", "request body too large")
		return
	}
	req := new(RPCRequest)
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid_request", "unsupported jsonrpc version")
		return
	}
	method := strings.TrimSpace(req.Method)
	handler, ok := s.methods()[method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method_not_found", fmt.Sprintf("unknown method %s", req.Method))
		return
	}
	start := time.Now()
	s.log.Info("rpc request", "method", method, "client", clientIP, "requestId", requestIDFromContext(r.Context()))
	err = handler(w, r, req)
	observability.Market().Observe(method, start, err)
}

type methodHandler func(http.ResponseWriter, *http.Request, *RPCRequest) error

func (s *Server) methods() map[string]methodHandler {
	return map[string]methodHandler{
		"market_createMarketplace": s.handleCreateMarketplace,
		"market_getMarketplace":    s.handleGetMarketplace,
		"market_list":              s.handleList,
		"market_delist":            s.handleDelist,
		"market_buy":               s.handleBuy,
		"market_makeOffer":         s.handleMakeOffer,
		"market_acceptOffer":       s.handleAcceptOffer,
		"market_withdrawOffer":     s.handleWithdrawOffer,
		"market_getListing":        s.handleGetListing,
		"market_escrowCreate":      s.handleEscrowCreate,
		"market_escrowExchange":    s.handleEscrowExchange,
		"market_escrowCancel":      s.handleEscrowCancel,
		"market_getEscrow":         s.handleGetEscrow,
	}
}

// requireAuth validates the HS256 bearer token on mutating methods. An empty
// secret disables authentication for local development.
func (s *Server) requireAuth(r *http.Request) *RPCError {
	if len(s.jwtSecret) == 0 {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "missing Authorization header"}
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "malformed Authorization header"}
	}
	token, err := jwt.Parse(parts[1], func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "invalid bearer token"}
	}
	return nil
}

func (s *Server) allow(client string) bool {
	if s.rateLimit == 0 {
		return true
	}
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	limiter, ok := s.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(s.rateLimit, s.burst)
		s.limiters[client] = limiter
	}
	return limiter.Allow()
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func writeError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Error: &RPCError{Code: code, Message: message, Data: data}})
}
