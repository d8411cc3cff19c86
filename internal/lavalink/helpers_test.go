package lavalink

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testClientID = "111111111111111111"
	testGuildID  = "222222222222222222"
	testChannel  = "333333333333333333"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

// fakeNode is an in-process node: it upgrades socket requests and records REST calls.
type fakeNode struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu         sync.Mutex
	conns      []*websocket.Conn
	upgrades   []*http.Request
	requests   []recordedRequest
	received   [][]byte
	loadResult []byte
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	f := &fakeNode{t: t}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.close)
	return f
}

func (f *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.upgrades = append(f.upgrades, r)
		f.mu.Unlock()
		go f.readLoop(conn)
		return
	}

	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Body: body})
	load := f.loadResult
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/info"):
		_, _ = w.Write([]byte(`{"version":{"semver":"4.0.0","major":4},"sourceManagers":["youtube"]}`))
	case strings.HasSuffix(r.URL.Path, "/loadtracks") && load != nil:
		_, _ = w.Write(load)
	case strings.Contains(r.URL.Path, "/players/") && r.Method == http.MethodPatch:
		_, _ = w.Write([]byte(`{"guildId":"` + testGuildID + `"}`))
	case r.Method == http.MethodDelete || r.Method == http.MethodPatch:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"not found"}`))
	}
}

func (f *fakeNode) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.received = append(f.received, data)
		f.mu.Unlock()
	}
}

func (f *fakeNode) close() {
	f.mu.Lock()
	for _, c := range f.conns {
		_ = c.Close()
	}
	f.mu.Unlock()
	f.srv.Close()
}

func (f *fakeNode) options(id string) NodeOptions {
	u, err := url.Parse(f.srv.URL)
	require.NoError(f.t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(f.t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(f.t, err)
	return NodeOptions{
		Identifier:     id,
		Host:           host,
		Port:           port,
		Password:       "youshallnotpass",
		Version:        V4,
		RetryAmount:    3,
		RetryDelay:     20 * time.Millisecond,
		RequestTimeout: 2 * time.Second,
		SettleDelay:    time.Millisecond,
	}
}

func (f *fakeNode) connCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeNode) lastUpgrade() *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.upgrades) == 0 {
		return nil
	}
	return f.upgrades[len(f.upgrades)-1]
}

// push writes v to the newest socket.
func (f *fakeNode) push(v any) {
	f.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(f.t, err)
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(f.t, f.conns)
	require.NoError(f.t, f.conns[len(f.conns)-1].WriteMessage(websocket.TextMessage, data))
}

// drop kills every socket without a close frame.
func (f *fakeNode) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		_ = c.UnderlyingConn().Close()
	}
}

func (f *fakeNode) requestsMatching(method, pathSuffix string) []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedRequest
	for _, r := range f.requests {
		if r.Method == method && strings.HasSuffix(r.Path, pathSuffix) {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeNode) receivedOps() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, data := range f.received {
		var m map[string]any
		if json.Unmarshal(data, &m) == nil {
			out = append(out, m)
		}
	}
	return out
}

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(ev Event) {
	if _, raw := ev.(NodeRawEvent); raw {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func eventsOf[T Event](r *recorder) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []T
	for _, ev := range r.events {
		if v, ok := ev.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

type voiceSink struct {
	mu       sync.Mutex
	payloads []VoiceStatePayload
}

func (s *voiceSink) send(_ string, p VoiceStatePayload) error {
	s.mu.Lock()
	s.payloads = append(s.payloads, p)
	s.mu.Unlock()
	return nil
}

func (s *voiceSink) all() []VoiceStatePayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]VoiceStatePayload(nil), s.payloads...)
}

func newTestManager(t *testing.T, opts ManagerOptions) (*Manager, *recorder, *voiceSink) {
	t.Helper()
	sink := &voiceSink{}
	if opts.ClientID == "" {
		opts.ClientID = testClientID
	}
	if opts.Send == nil {
		opts.Send = sink.send
	}
	opts.Logger = zerolog.Nop()
	m, err := NewManager(opts)
	require.NoError(t, err)
	rec := &recorder{}
	m.AddListener(rec.listen)
	t.Cleanup(m.Close)
	return m, rec, sink
}

// connectedManager returns a manager with one fake v4 node that has sent its ready op.
func connectedManager(t *testing.T, opts ManagerOptions) (*Manager, *fakeNode, *recorder, *voiceSink) {
	t.Helper()
	f := newFakeNode(t)
	opts.Nodes = append(opts.Nodes, f.options("main"))
	m, rec, sink := newTestManager(t, opts)
	require.NoError(t, m.Connect(context.Background()))

	n := m.Node("main")
	require.Eventually(t, func() bool { return f.connCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	f.push(map[string]any{"op": "ready", "resumed": false, "sessionId": "session-1"})
	require.Eventually(t, func() bool { return n.SessionID() == "session-1" }, 2*time.Second, 5*time.Millisecond)
	return m, f, rec, sink
}

// offlineManager has one registered node that is never connected.
func offlineManager(t *testing.T, opts ManagerOptions) (*Manager, *Node, *recorder) {
	t.Helper()
	opts.Nodes = append(opts.Nodes, NodeOptions{Identifier: "offline", Host: "127.0.0.1", Port: 1})
	m, rec, _ := newTestManager(t, opts)
	return m, m.Node("offline"), rec
}

// offlinePlayer is a player bound to a node that never connects; useful for pure state tests.
func offlinePlayer(t *testing.T, opts ManagerOptions) (*Player, *recorder) {
	t.Helper()
	m, n, rec := offlineManager(t, opts)
	p := newPlayer(m, n, PlayerOptions{GuildID: testGuildID})
	m.mu.Lock()
	m.players[testGuildID] = p
	m.mu.Unlock()
	return p, rec
}

func testTrack(t *testing.T, encoded string) *Track {
	t.Helper()
	tr, err := BuildTrack(RawTrack{
		Encoded: encoded,
		Info: RawTrackInfo{
			Identifier: encoded,
			Title:      "title " + encoded,
			Author:     "author",
			Length:     180000,
			IsSeekable: true,
			SourceName: "youtube",
			URI:        "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		},
	}, "tester")
	require.NoError(t, err)
	return tr
}

func patchBodies(t *testing.T, f *fakeNode) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, r := range f.requestsMatching(http.MethodPatch, "/players/"+testGuildID) {
		var m map[string]any
		require.NoError(t, json.Unmarshal(r.Body, &m))
		out = append(out, m)
	}
	return out
}
