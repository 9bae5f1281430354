package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"escrowchain/core"
	"escrowchain/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	rateLimitWindow = time.Minute
	maxTxPerWindow  = 30
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020

	codeEscrowNotFound   = -32040
	codeEscrowForbidden  = -32041
	codeEscrowConflict   = -32042
	codeEscrowUnderfund  = -32043
)

type rateLimiter struct {
	count       int
	windowStart time.Time
}

// Server exposes the ledger's transaction and query operations over JSON-RPC.
type Server struct {
	node      *core.Node
	authToken string

	mu           sync.Mutex
	rateLimiters map[string]*rateLimiter
	nowFn        func() time.Time
}

// NewServer constructs an RPC server. Mutating methods require the bearer
// token; an empty token leaves them unavailable.
func NewServer(node *core.Node, authToken string) *Server {
	return &Server{
		node:         node,
		authToken:    strings.TrimSpace(authToken),
		rateLimiters: make(map[string]*rateLimiter),
		nowFn:        time.Now,
	}
}

// Start serves JSON-RPC on addr until the listener fails.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.HandleFunc("/ws/events", s.handleEventsWS)
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
}

// Handler returns the root JSON-RPC handler for tests and embedding.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

type authError struct {
	Code    int
	Message string
	Data    interface{}
}

func (s *Server) requireAuth(r *http.Request) *authError {
	if s.authToken == "" {
		return &authError{Code: codeUnauthorized, Message: "rpc auth token not configured"}
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &authError{Code: codeUnauthorized, Message: "bearer token required"}
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authToken)) != 1 {
		return &authError{Code: codeUnauthorized, Message: "invalid auth token"}
	}
	return nil
}

func (s *Server) resolveClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) checkRateLimit(r *http.Request) bool {
	source := s.resolveClientIP(r)
	now := s.nowFn()
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.rateLimiters[source]
	if !ok || now.Sub(entry.windowStart) >= rateLimitWindow {
		s.rateLimiters[source] = &rateLimiter{count: 1, windowStart: now}
		return true
	}
	if entry.count >= maxTxPerWindow {
		return false
	}
	entry.count++
	return true
}

type handlerFunc func(http.ResponseWriter, *http.Request, *RPCRequest)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrumented(fn handlerFunc) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(recorder, r, req)
		outcome := "ok"
		if recorder.status >= http.StatusBadRequest {
			outcome = "error"
		}
		observability.RPC().ObserveRequest(req.Method, outcome, started)
	}
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	var handler handlerFunc
	mutating := false
	switch req.Method {
	case "escrow_create":
		handler, mutating = s.handleEscrowCreate, true
	case "escrow_accept":
		handler, mutating = s.handleEscrowAccept, true
	case "escrow_completeMilestone":
		handler, mutating = s.handleEscrowCompleteMilestone, true
	case "escrow_cancel":
		handler, mutating = s.handleEscrowCancel, true
	case "escrow_dispute":
		handler, mutating = s.handleEscrowDispute, true
	case "bank_mint":
		handler, mutating = s.handleBankMint, true
	case "escrow_get":
		handler = s.handleEscrowGet
	case "escrow_getMilestone":
		handler = s.handleEscrowGetMilestone
	case "escrow_milestoneCount":
		handler = s.handleEscrowMilestoneCount
	case "escrow_listByClient":
		handler = s.handleEscrowListByClient
	case "escrow_listByFreelancer":
		handler = s.handleEscrowListByFreelancer
	case "escrow_listOpen":
		handler = s.handleEscrowListOpen
	case "escrow_events":
		handler = s.handleEscrowEvents
	case "bank_balance":
		handler = s.handleBankBalance
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}

	if mutating {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		if !s.checkRateLimit(r) {
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
			return
		}
	}
	s.instrumented(handler)(w, r, req)
}
