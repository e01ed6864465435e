// Package jaild implements the HTTP and WebSocket front door that exposes
// the jail package as a network service: a one-shot JSON run endpoint and a
// streaming endpoint for callers that want live stdout/stderr as the guest
// produces it, plus per-caller throttling so one misbehaving client can't
// starve the others out of the daemon's run slots.
package jaild

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/ehrlich-b/jail/internal/audit"
	"github.com/ehrlich-b/jail/internal/authtoken"
	"github.com/ehrlich-b/jail/internal/jail"
	"github.com/ehrlich-b/jail/internal/logger"
)

// Server is the jaild HTTP/WebSocket frontend over a *jail.Registry.
type Server struct {
	Registry *jail.Registry
	Secret   []byte // shared secret tokens are derived from; nil disables auth (local/dev only)
	Audit    *audit.Log

	// RatePerSecond and Burst bound how many runs per second a single
	// authenticated subject may start. A RatePerSecond of zero disables
	// throttling.
	RatePerSecond float64
	Burst         int

	mu       sync.Mutex
	listener net.Listener
	limiters map[string]*rate.Limiter
}

// Start begins serving on addr and blocks until the listener closes.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	s.limiters = make(map[string]*rate.Limiter)
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/run", s.handleRun)
	mux.HandleFunc("GET /v1/run/stream", s.handleRunStream)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("jaild: listen: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	logger.Info("jaild: listening", "addr", addr)
	return http.Serve(ln, mux)
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		return ln.Close()
	}
	return nil
}

// runRequest is the JSON body for POST /v1/run and the first message of the
// streaming WebSocket protocol.
type runRequest struct {
	Command string           `json:"command"`
	Code    string           `json:"code,omitempty"`
	Argv    []string         `json:"argv,omitempty"`
	Stdin   string           `json:"stdin,omitempty"`
	Limits  map[string]int64 `json:"limits,omitempty"`
}

func (r runRequest) toOptions() jail.RunOptions {
	limits := make(map[jail.LimitKey]int64, len(r.Limits))
	for k, v := range r.Limits {
		limits[jail.LimitKey(k)] = v
	}
	return jail.RunOptions{
		Code:   r.Code,
		Argv:   r.Argv,
		Stdin:  []byte(r.Stdin),
		Limits: limits,
	}
}

type runResponse struct {
	Status            int    `json:"status"`
	Stdout            string `json:"stdout"`
	Stderr            string `json:"stderr"`
	TimeLimitExceeded bool   `json:"time_limit_exceeded"`
}

func toResponse(r jail.Result) runResponse {
	return runResponse{
		Status:            r.Status,
		Stdout:            string(r.Stdout),
		Stderr:            string(r.Stderr),
		TimeLimitExceeded: r.TimeLimitExceeded,
	}
}

// authenticate extracts and verifies the bearer token, returning the
// caller's subject. When s.Secret is nil, authentication is skipped and the
// subject is "anonymous" — meant for local development only.
func (s *Server) authenticate(r *http.Request) (*authtoken.Claims, error) {
	if s.Secret == nil {
		claims := &authtoken.Claims{}
		claims.Subject = "anonymous"
		return claims, nil
	}
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return nil, fmt.Errorf("missing bearer token")
	}
	return authtoken.Verify(s.Secret, strings.TrimPrefix(auth, "Bearer "))
}

func (s *Server) allow(subject string) bool {
	if s.RatePerSecond <= 0 {
		return true
	}
	s.mu.Lock()
	if s.limiters == nil {
		s.limiters = make(map[string]*rate.Limiter)
	}
	lim, ok := s.limiters[subject]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(s.RatePerSecond), s.Burst)
		s.limiters[subject] = lim
	}
	s.mu.Unlock()
	return lim.Allow()
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !claims.Allows(req.Command) {
		http.Error(w, "command not permitted for this token", http.StatusForbidden)
		return
	}
	if !s.allow(claims.Subject) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	started := time.Now()
	result, err := jail.JailCode(r.Context(), s.Registry, req.Command, req.toOptions())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.recordAudit(claims.Subject, req.Command, result, started)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toResponse(result))
}

func (s *Server) recordAudit(subject, command string, result jail.Result, started time.Time) {
	if s.Audit == nil {
		return
	}
	entry := audit.Entry{
		ID:         fmt.Sprintf("%s-%d", subject, started.UnixNano()),
		SessionID:  subject,
		Command:    command,
		Result:     result,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if err := s.Audit.Record(entry); err != nil {
		logger.Warn("jaild: audit record failed", "error", err)
	}
}

// handleRunStream upgrades to a WebSocket and runs the guest with its
// stdout/stderr mirrored to the client as {"type":"chunk"} messages while the
// run is still in progress, followed by one final {"type":"done"} message
// with the full Result.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	ctx := r.Context()

	_, data, err := conn.Read(ctx)
	if err != nil {
		return
	}
	var req runRequest
	if err := json.Unmarshal(data, &req); err != nil {
		conn.Close(websocket.StatusUnsupportedData, "bad request")
		return
	}
	if !claims.Allows(req.Command) {
		conn.Close(websocket.StatusPolicyViolation, "command not permitted")
		return
	}
	if !s.allow(claims.Subject) {
		conn.Close(websocket.StatusTryAgainLater, "rate limit exceeded")
		return
	}

	opts := req.toOptions()
	writer := &wsMirror{ctx: ctx, conn: conn}
	opts.StdoutMirror = &wsStreamWriter{mirror: writer, stream: "stdout"}
	opts.StderrMirror = &wsStreamWriter{mirror: writer, stream: "stderr"}

	started := time.Now()
	sess, err := jail.Open(s.Registry)
	if err != nil {
		conn.Close(websocket.StatusInternalError, err.Error())
		return
	}
	defer sess.Close()

	result, err := sess.Run(ctx, req.Command, opts)
	if err != nil {
		conn.Close(websocket.StatusInternalError, err.Error())
		return
	}
	s.recordAudit(claims.Subject, req.Command, result, started)

	writer.writeJSON(map[string]any{"type": "done", "result": toResponse(result)})
	conn.Close(websocket.StatusNormalClosure, "")
}

// wsMirror serializes concurrent writes from the stdout and stderr mirrors
// onto the one underlying connection — coder/websocket requires a single
// writer at a time per connection.
type wsMirror struct {
	mu   sync.Mutex
	ctx  context.Context
	conn *websocket.Conn
}

func (m *wsMirror) writeJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = m.conn.Write(m.ctx, websocket.MessageText, data)
}

// wsStreamWriter adapts one named output stream onto a shared wsMirror so it
// satisfies io.Writer for jail.RunOptions.StdoutMirror/StderrMirror.
type wsStreamWriter struct {
	mirror *wsMirror
	stream string
}

func (w *wsStreamWriter) Write(p []byte) (int, error) {
	w.mirror.writeJSON(map[string]any{"type": "chunk", "stream": w.stream, "data": string(p)})
	return len(p), nil
}
