package lavalink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/keshon/lavamux/pkg/retrylimit"
)

// NodeState is the connection state of a Node.
type NodeState int32

const (
	NodeDisconnected NodeState = iota
	NodeConnecting
	NodeConnected
	NodeReconnecting
	NodeDestroyed
)

func (s NodeState) String() string {
	switch s {
	case NodeDisconnected:
		return "disconnected"
	case NodeConnecting:
		return "connecting"
	case NodeConnected:
		return "connected"
	case NodeReconnecting:
		return "reconnecting"
	case NodeDestroyed:
		return "destroyed"
	}
	return "unknown"
}

// Close code and reason sent by Destroy. A close carrying them never triggers a reconnect.
const (
	destroyCloseCode   = websocket.CloseNormalClosure
	destroyCloseReason = "destroy"
)

const (
	defaultRetryAmount    = 5
	defaultRetryDelay     = 5 * time.Second
	defaultRequestTimeout = 10 * time.Second
	defaultSettleDelay    = 500 * time.Millisecond
	defaultMaxConns       = 16
	defaultRequestRate    = 20
)

// NodeOptions describes one remote node.
type NodeOptions struct {
	Identifier        string
	Host              string
	Port              int
	Password          string
	Secure            bool
	Version           Version
	UseVersionPath    bool
	Trace             bool
	RetryAmount       int
	RetryDelay        time.Duration
	RequestTimeout    time.Duration
	SettleDelay       time.Duration
	ResumeTimeout     time.Duration
	Regions           []string
	MaxConnsPerHost   int
	RequestsPerSecond float64
}

// Validate checks the descriptor and fills defaults.
func (o *NodeOptions) Validate() error {
	if strings.TrimSpace(o.Host) == "" {
		return invalidOptions("node host is empty")
	}
	if o.Port < 1 || o.Port > 65535 {
		return invalidOptions("node %s: port %d out of range", o.Host, o.Port)
	}
	if o.Version == "" {
		o.Version = V4
	}
	if !o.Version.valid() {
		return invalidOptions("node %s: unknown version %q", o.Host, o.Version)
	}
	if o.Identifier == "" {
		o.Identifier = net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
	}
	if o.RetryAmount < 0 || o.RetryDelay < 0 || o.RequestTimeout < 0 || o.SettleDelay < 0 || o.ResumeTimeout < 0 {
		return invalidOptions("node %s: negative retry or timeout value", o.Identifier)
	}
	if o.RetryAmount == 0 {
		o.RetryAmount = defaultRetryAmount
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	if o.SettleDelay == 0 {
		o.SettleDelay = defaultSettleDelay
	}
	if o.MaxConnsPerHost <= 0 {
		o.MaxConnsPerHost = defaultMaxConns
	}
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = defaultRequestRate
	}
	return nil
}

// Node owns the control channel to one remote node: a WebSocket for pushes
// and a pooled HTTP client for REST calls.
type Node struct {
	m    *Manager
	opts NodeOptions
	log  zerolog.Logger

	http    *http.Client
	limiter *retrylimit.AdaptiveLimiter
	calls   atomic.Int64

	legacyWarned atomic.Bool

	mu             sync.RWMutex
	state          NodeState
	conn           *websocket.Conn
	sessionID      string
	resumeID       string
	resumeKey      string
	useVersionPath bool
	stats          Stats
	info           *Info
	attempts       int
	destroyed      bool

	writeMu sync.Mutex
}

// NewNode validates opts and binds the node to its manager. It does not connect.
func NewNode(m *Manager, opts NodeOptions) (*Node, error) {
	if m == nil {
		return nil, invalidOptions("node needs a manager")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	n := &Node{
		m:    m,
		opts: opts,
		log:  m.log.With().Str("component", "node").Str("node", opts.Identifier).Logger(),
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxConnsPerHost:     opts.MaxConnsPerHost,
				MaxIdleConnsPerHost: opts.MaxConnsPerHost,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:        retrylimit.NewAdaptiveLimiter(rate.Limit(opts.RequestsPerSecond), 1, rate.Limit(opts.RequestsPerSecond*2), 1, 0.5),
		useVersionPath: opts.UseVersionPath || opts.Version == V4,
		resumeKey:      uuid.NewString(),
	}

	// a stored session is only a resume candidate; the live id comes from ready
	if m.sessions != nil && opts.ResumeTimeout > 0 {
		if rec, ok := m.sessions.LoadSession(opts.Identifier); ok {
			n.resumeID = rec.SessionID
			if rec.ResumeKey != "" {
				n.resumeKey = rec.ResumeKey
			}
		}
	}
	return n, nil
}

func (n *Node) Identifier() string   { return n.opts.Identifier }
func (n *Node) Options() NodeOptions { return n.opts }
func (n *Node) Version() Version     { return n.opts.Version }
func (n *Node) Regions() []string    { return n.opts.Regions }

// Calls is the number of REST attempts made through this node.
func (n *Node) Calls() int64 { return n.calls.Load() }

func (n *Node) State() NodeState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

func (n *Node) Connected() bool {
	return n.State() == NodeConnected
}

// SessionID is empty until the node sends a ready op.
func (n *Node) SessionID() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.sessionID
}

func (n *Node) Stats() Stats {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.stats
}

// Info is the capability info fetched during the handshake, or nil.
func (n *Node) Info() *Info {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.info
}

// ReconnectAttempts is the number of reconnect attempts since the last successful open.
func (n *Node) ReconnectAttempts() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.attempts
}

// UsesVersionPath reports whether REST paths carry the version prefix.
func (n *Node) UsesVersionPath() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.useVersionPath
}

func (n *Node) jobName(kind string) string {
	return "node:" + n.opts.Identifier + ":" + kind
}

// Connect opens the WebSocket. It is a no-op when the node is already
// connected or connecting. A failed dial schedules the bounded reconnect.
func (n *Node) Connect(ctx context.Context) error {
	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return ErrNodeDestroyed
	}
	if n.state == NodeConnected || n.state == NodeConnecting || n.state == NodeReconnecting {
		n.mu.Unlock()
		return nil
	}
	n.state = NodeConnecting
	n.mu.Unlock()

	if err := n.open(ctx); err != nil {
		n.m.emit(NodeErrorEvent{Node: n, Err: err})
		n.scheduleReconnect()
		return err
	}
	return nil
}

func (n *Node) socketURL() string {
	scheme := "ws"
	if n.opts.Secure {
		scheme = "wss"
	}
	path := "/"
	switch {
	case n.opts.Version == V4:
		path = "/v4/websocket"
	case n.opts.Version == V3 && n.UsesVersionPath():
		path = "/v3/websocket"
	}
	u := url.URL{Scheme: scheme, Host: net.JoinHostPort(n.opts.Host, strconv.Itoa(n.opts.Port)), Path: path}
	return u.String()
}

func (n *Node) headers() http.Header {
	h := http.Header{}
	h.Set("Authorization", n.opts.Password)
	h.Set("User-Id", n.m.opts.ClientID)
	h.Set("Client-Name", n.m.opts.ClientName)
	h.Set("Num-Shards", strconv.Itoa(n.m.opts.Shards))

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.opts.ResumeTimeout > 0 {
		switch n.opts.Version {
		case V4:
			if id := n.sessionID; id != "" {
				h.Set("Session-Id", id)
			} else if n.resumeID != "" {
				h.Set("Session-Id", n.resumeID)
			}
		case V3:
			h.Set("Resume-Key", n.resumeKey)
		}
	}
	return h
}

func (n *Node) open(ctx context.Context) error {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: n.opts.RequestTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, n.socketURL(), n.headers())
	if err != nil {
		n.mu.Lock()
		if !n.destroyed && n.state == NodeConnecting {
			n.state = NodeDisconnected
		}
		n.mu.Unlock()
		if resp != nil {
			return fmt.Errorf("dial %s: status %d: %w", n.opts.Identifier, resp.StatusCode, err)
		}
		return fmt.Errorf("dial %s: %w", n.opts.Identifier, err)
	}

	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		_ = conn.Close()
		return ErrNodeDestroyed
	}
	n.conn = conn
	n.state = NodeConnected
	n.attempts = 0
	n.mu.Unlock()

	n.m.jobs.Stop(n.jobName("reconnect"))
	n.log.Info().Str("url", n.socketURL()).Msg("connected")
	n.m.emit(NodeConnectEvent{Node: n})

	go n.readLoop(conn)
	go n.handshake(conn)
	return nil
}

func (n *Node) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			n.onClose(conn, err)
			return
		}
		n.handleMessage(data)
	}
}

func (n *Node) onClose(conn *websocket.Conn, err error) {
	code, reason := websocket.CloseAbnormalClosure, err.Error()
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code, reason = ce.Code, ce.Text
	}

	n.mu.Lock()
	if n.conn != conn {
		n.mu.Unlock()
		return
	}
	n.conn = nil
	destroyed := n.destroyed
	if !destroyed {
		n.state = NodeDisconnected
	}
	n.mu.Unlock()
	_ = conn.Close()

	if destroyed || (code == destroyCloseCode && reason == destroyCloseReason) {
		return
	}

	n.log.Warn().Int("code", code).Str("reason", reason).Msg("socket closed")
	n.m.emit(NodeDisconnectEvent{Node: n, Code: code, Reason: reason})
	n.scheduleReconnect()
}

// scheduleReconnect runs the bounded fixed-delay reconnect policy as a job.
func (n *Node) scheduleReconnect() {
	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return
	}
	n.state = NodeReconnecting
	n.mu.Unlock()

	n.m.jobs.Restart(n.jobName("reconnect"), func(ctx context.Context) error {
		policy := retrylimit.FixedDelay(n.opts.RetryAmount, n.opts.RetryDelay)
		policy.ErrorClassifier = func(error) bool { return false }
		policy.OnAttempt = func(attempt int) {
			n.mu.Lock()
			n.attempts++
			n.mu.Unlock()
			n.log.Info().Int("attempt", attempt).Int("max", n.opts.RetryAmount).Msg("reconnecting")
			n.m.emit(NodeReconnectEvent{Node: n, Attempt: attempt})
		}
		policy.OnRetry = func(attempt int, err error) {
			n.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
		}

		err := retrylimit.WithRetryConfig(ctx, func() error {
			n.mu.RLock()
			destroyed := n.destroyed
			n.mu.RUnlock()
			if destroyed {
				return &retrylimit.FatalError{Err: ErrNodeDestroyed}
			}
			return n.open(ctx)
		}, nil, policy)

		if errors.Is(err, retrylimit.ErrMaxAttempts) {
			n.log.Error().Err(err).Msg("retry budget exhausted, destroying node")
			n.m.emit(NodeErrorEvent{Node: n, Err: err, Fatal: true})
			n.Destroy()
		}
		return err
	})
}

// handshake fetches capability info once the socket has settled.
func (n *Node) handshake(conn *websocket.Conn) {
	time.Sleep(n.opts.SettleDelay)

	n.mu.RLock()
	current := n.conn == conn
	n.mu.RUnlock()
	if !current || n.opts.Version == V2 {
		return
	}

	info, err := n.FetchInfo(context.Background())
	if err != nil {
		if n.opts.Version == V3 && n.UsesVersionPath() {
			n.mu.Lock()
			n.useVersionPath = false
			n.mu.Unlock()
			n.log.Warn().Err(err).Msg("info unavailable, disabling versioned paths")
			n.m.emit(NodeErrorEvent{Node: n, Err: fmt.Errorf("info unavailable, versioned paths disabled: %w", err)})
			return
		}
		n.log.Warn().Err(err).Msg("info unavailable")
		n.m.emit(NodeErrorEvent{Node: n, Err: err})
		return
	}

	n.mu.Lock()
	n.info = info
	n.mu.Unlock()
	n.log.Debug().Str("version", info.Version.Semver).Strs("sources", info.SourceManagers).Msg("handshake complete")
}

// Send writes a JSON object to the socket.
func (n *Node) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || trimmed[0] != '{' {
		return ErrEncoding
	}

	n.mu.RLock()
	conn := n.conn
	n.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	n.writeMu.Lock()
	defer n.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(n.opts.RequestTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send to %s: %w", n.opts.Identifier, err)
	}
	return nil
}

func (n *Node) restURL(endpoint string, query url.Values) string {
	scheme := "http"
	if n.opts.Secure {
		scheme = "https"
	}
	path := endpoint
	if n.opts.Version != V2 && n.UsesVersionPath() {
		path = "/" + string(n.opts.Version) + endpoint
	}
	if n.opts.Trace && n.opts.Version != V2 {
		if query == nil {
			query = url.Values{}
		}
		query.Set("trace", "true")
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     net.JoinHostPort(n.opts.Host, strconv.Itoa(n.opts.Port)),
		Path:     path,
		RawQuery: query.Encode(),
	}
	return u.String()
}

// MakeRequest issues one REST call. out may be nil for calls without a body.
// The call counter is incremented once per attempt, successful or not.
func (n *Node) MakeRequest(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	n.calls.Add(1)
	reqErr := func(status int, msg string, err error) error {
		return &RequestError{Method: method, Endpoint: endpoint, Status: status, Message: msg, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, n.opts.RequestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return reqErr(0, "", fmt.Errorf("%w: %v", ErrEncoding, err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, n.restURL(endpoint, query), reader)
	if err != nil {
		return reqErr(0, "", err)
	}
	req.Header.Set("Authorization", n.opts.Password)
	req.Header.Set("Client-Name", n.m.opts.ClientName)
	req.Header.Set("User-Id", n.m.opts.ClientID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return reqErr(0, "", err)
	}

	traceID := uuid.NewString()
	n.log.Debug().Str("req", traceID).Str("method", method).Str("endpoint", endpoint).Msg("request")

	resp, err := n.http.Do(req)
	if err != nil {
		n.limiter.Observe(err)
		return reqErr(0, "", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return reqErr(resp.StatusCode, "", err)
	}

	if resp.StatusCode >= 300 {
		var payload struct {
			Message string `json:"message"`
			Trace   string `json:"trace"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &payload) == nil && payload.Message != "" {
			msg = payload.Message
		}
		e := reqErr(resp.StatusCode, msg, nil)
		n.limiter.Observe(e)
		n.log.Debug().Str("req", traceID).Int("status", resp.StatusCode).Str("trace", payload.Trace).Msg("request failed")
		return e
	}
	n.limiter.Observe(nil)

	if out == nil || resp.StatusCode == http.StatusNoContent || len(data) == 0 {
		return nil
	}
	if raw, ok := out.(*[]byte); ok {
		*raw = data
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return reqErr(resp.StatusCode, "", fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// Destroy closes the socket with the destroy sentinel, cancels any pending
// reconnect, destroys the players routed through this node and removes it
// from the manager. Calling it again is a no-op.
func (n *Node) Destroy() {
	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return
	}
	n.destroyed = true
	n.state = NodeDestroyed
	n.mu.Unlock()

	n.m.jobs.StopPrefix("node:" + n.opts.Identifier + ":")

	n.mu.Lock()
	conn := n.conn
	n.conn = nil
	n.mu.Unlock()

	if conn != nil {
		n.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(destroyCloseCode, destroyCloseReason),
			time.Now().Add(time.Second))
		n.writeMu.Unlock()
		_ = conn.Close()
	}

	for _, p := range n.m.playersOn(n) {
		p.destroyLocal()
	}

	n.m.removeNode(n)
	n.log.Info().Msg("destroyed")
	n.m.emit(NodeDestroyEvent{Node: n})
}

// warnLegacy logs once that player commands fall back to socket ops.
func (n *Node) warnLegacy() {
	if n.legacyWarned.CompareAndSwap(false, true) {
		n.log.Warn().Msg("no session id, using deprecated socket ops for player updates")
	}
}

func (n *Node) saveSession() {
	if n.m.sessions == nil {
		return
	}
	n.mu.RLock()
	rec := SessionRecord{SessionID: n.sessionID, ResumeKey: n.resumeKey, UpdatedAt: time.Now()}
	n.mu.RUnlock()
	if err := n.m.sessions.SaveSession(n.opts.Identifier, rec); err != nil {
		n.log.Warn().Err(err).Msg("failed to persist session")
	}
}
