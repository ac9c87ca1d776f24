package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/tonbridge/tonbridge/core/logx"
	"github.com/tonbridge/tonbridge/internal/metrics"
	"github.com/tonbridge/tonbridge/internal/transport"
	"github.com/tonbridge/tonbridge/internal/walletd"
	"github.com/tonbridge/tonbridge/tonconnect/proto"
)

// Config defines bridge endpoint tunables.
type Config struct {
	ClientKey      string
	Heartbeat      time.Duration
	DeadAfter      time.Duration
	RequestTimeout time.Duration
}

// client is one connected dapp host.
type client struct {
	conn     *websocket.Conn
	mu       sync.Mutex // guards writes and lastSeen
	id       string
	name     string
	lastSeen time.Time
}

func (c *client) write(ctx context.Context, f transport.Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, b)
}

// Registry tracks connected dapp hosts and feeds their frames to the
// wallet router.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]*client
	cfg      Config
	router   *walletd.Router
	draining func() bool
}

// NewRegistry creates a bridge connection registry.
func NewRegistry(cfg Config, router *walletd.Router, drainingFn func() bool) *Registry {
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	if cfg.DeadAfter == 0 {
		cfg.DeadAfter = 45 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	return &Registry{clients: map[string]*client{}, cfg: cfg, router: router, draining: drainingFn}
}

// WSHandler accepts bridge connections. The first frame must be a register
// frame; authorization is a bearer token matching the configured client key
// (empty key disables auth).
func (r *Registry) WSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.draining != nil && r.draining() {
			http.Error(w, "draining", http.StatusServiceUnavailable)
			return
		}
		c, err := websocket.Accept(w, req, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
		if err != nil {
			return
		}
		c.SetReadLimit(-1)
		// Use background context for long-lived WS loops; request context may
		// be canceled when handler returns.
		ctx := context.Background()
		_, data, err := c.Read(ctx)
		if err != nil {
			_ = c.Close(websocket.StatusPolicyViolation, "expected register")
			return
		}
		var f transport.Frame
		var reg transport.Register
		if json.Unmarshal(data, &f) != nil || f.Type != transport.TypeRegister || json.Unmarshal(f.Payload, &reg) != nil {
			_ = c.Close(websocket.StatusPolicyViolation, "invalid register")
			return
		}
		if !checkBearer(req.Header.Get("Authorization"), r.cfg.ClientKey) {
			_ = c.Close(websocket.StatusPolicyViolation, "unauthorized")
			return
		}

		id := reg.ClientID
		if id == "" {
			id = uuid.NewString()
		}
		r.mu.Lock()
		if _, exists := r.clients[id]; exists {
			r.mu.Unlock()
			_ = c.Close(websocket.StatusPolicyViolation, "id in use")
			return
		}
		cl := &client{conn: c, id: id, name: reg.ClientName, lastSeen: time.Now()}
		r.clients[id] = cl
		r.mu.Unlock()
		metrics.ClientConnected()
		logx.Log.Info().Str("client", id).Str("name", reg.ClientName).Msg("dapp host connected")

		go r.heartbeatLoop(ctx, cl)
		go r.readLoop(ctx, cl)
	}
}

func checkBearer(authHeader, expected string) bool {
	if expected == "" {
		return true
	}
	ah := strings.TrimSpace(authHeader)
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		return strings.TrimSpace(ah[7:]) == expected
	}
	return false
}

func (r *Registry) readLoop(ctx context.Context, cl *client) {
	defer func() {
		r.mu.Lock()
		delete(r.clients, cl.id)
		r.mu.Unlock()
		metrics.ClientDisconnected()
		logx.Log.Info().Str("client", cl.id).Msg("dapp host disconnected")
	}()
	for {
		_, data, err := cl.conn.Read(ctx)
		if err != nil {
			return
		}
		cl.mu.Lock()
		cl.lastSeen = time.Now()
		cl.mu.Unlock()
		var f transport.Frame
		if json.Unmarshal(data, &f) != nil || f.Type != transport.TypeRequest {
			continue
		}
		// Requests may block on user approval; serve each independently so
		// one pending prompt does not starve the connection.
		go func(f transport.Frame) {
			hctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
			defer cancel()
			resp := r.router.Handle(hctx, cl.id, cl.name, f)
			if err := cl.write(hctx, resp); err != nil {
				logx.Log.Debug().Err(err).Str("client", cl.id).Msg("write response")
			}
		}(f)
	}
}

func (r *Registry) heartbeatLoop(ctx context.Context, cl *client) {
	ticker := time.NewTicker(r.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cl.mu.Lock()
			last := cl.lastSeen
			cl.mu.Unlock()
			if time.Since(last) > r.cfg.DeadAfter {
				_ = cl.conn.Close(websocket.StatusNormalClosure, "dead")
				return
			}
			if err := cl.write(ctx, transport.Frame{Type: transport.TypePing}); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// NotifyDisconnect pushes a wallet-initiated disconnect event to the given
// dapp host. Returns false when the client is not connected.
func (r *Registry) NotifyDisconnect(ctx context.Context, clientID string) bool {
	r.mu.RLock()
	cl := r.clients[clientID]
	r.mu.RUnlock()
	if cl == nil {
		return false
	}
	b, _ := json.Marshal(proto.NewDisconnect(0))
	metrics.RecordEvent(proto.EventDisconnect)
	return cl.write(ctx, transport.Frame{Type: transport.TypeEvent, Payload: b}) == nil
}

// ClientSnapshot is a read-only view of one connected dapp host.
type ClientSnapshot struct {
	ID       string    `json:"id"`
	Name     string    `json:"name,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

// Snapshot lists connected dapp hosts.
func (r *Registry) Snapshot() []ClientSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ClientSnapshot, 0, len(r.clients))
	for _, cl := range r.clients {
		cl.mu.Lock()
		out = append(out, ClientSnapshot{ID: cl.id, Name: cl.name, LastSeen: cl.lastSeen})
		cl.mu.Unlock()
	}
	return out
}
