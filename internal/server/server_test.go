package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/lavamux/internal/lavalink"
)

const (
	testGuildID = "222222222222222222"
	testChannel = "333333333333333333"
)

// startNode runs a minimal node that accepts the socket and assigns a session.
func startNode(t *testing.T) lavalink.NodeOptions {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"ready","resumed":false,"sessionId":"s1"}`))
			go func() {
				defer conn.Close()
				for {
					if _, _, err := conn.ReadMessage(); err != nil {
						return
					}
				}
			}()
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return lavalink.NodeOptions{Identifier: "main", Host: host, Port: p, Regions: []string{"eu"}, SettleDelay: time.Millisecond}
}

func newTestServer(t *testing.T, withNode bool) (*Server, *lavalink.Manager) {
	t.Helper()
	opts := lavalink.ManagerOptions{
		ClientID: "111111111111111111",
		Send:     func(string, lavalink.VoiceStatePayload) error { return nil },
		Logger:   zerolog.Nop(),
	}
	if withNode {
		opts.Nodes = []lavalink.NodeOptions{startNode(t)}
	}
	m, err := lavalink.NewManager(opts)
	require.NoError(t, err)
	t.Cleanup(m.Close)

	if withNode {
		require.NoError(t, m.Connect(context.Background()))
		require.Eventually(t, func() bool { return m.Node("main").SessionID() == "s1" }, 2*time.Second, 5*time.Millisecond)
	}
	return New(m, zerolog.Nop()), m
}

func get(t *testing.T, s *Server, path string, out any) int {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.Handler().ServeHTTP(rr, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), out))
	}
	return rr.Code
}

func TestHealthDegradedWithoutNodes(t *testing.T) {
	s, _ := newTestServer(t, false)
	var body map[string]any
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s, "/health", &body))
	assert.Equal(t, "degraded", body["status"])
}

func TestNodesEndpoints(t *testing.T) {
	s, _ := newTestServer(t, true)

	var health map[string]any
	assert.Equal(t, http.StatusOK, get(t, s, "/health", &health))
	assert.EqualValues(t, 1, health["connected"])

	var nodes []NodeView
	assert.Equal(t, http.StatusOK, get(t, s, "/nodes", &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "main", nodes[0].ID)
	assert.Equal(t, "s1", nodes[0].SessionID)
	assert.Equal(t, []string{"eu"}, nodes[0].Regions)

	var node NodeView
	assert.Equal(t, http.StatusOK, get(t, s, "/nodes/main", &node))
	assert.Equal(t, "v4", node.Version)

	var missing map[string]string
	assert.Equal(t, http.StatusNotFound, get(t, s, "/nodes/nope", &missing))
	assert.Contains(t, missing["error"], "nope")
}

func TestPlayersEndpoints(t *testing.T) {
	s, m := newTestServer(t, true)

	var players []PlayerView
	assert.Equal(t, http.StatusOK, get(t, s, "/players", &players))
	assert.Empty(t, players)

	p, err := m.Create(lavalink.PlayerOptions{GuildID: testGuildID, VoiceChannelID: testChannel, Volume: 80})
	require.NoError(t, err)
	tr, err := lavalink.BuildTrack(lavalink.RawTrack{Encoded: "QAA", Info: lavalink.RawTrackInfo{
		Title: "Song", Author: "Band", Length: 200000, Identifier: "dQw4w9WgXcQ", SourceName: "youtube",
		URI: "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
	}}, nil)
	require.NoError(t, err)
	u, err := lavalink.NewUnresolvedTrack("Other", "Artist", time.Minute, nil)
	require.NoError(t, err)
	require.NoError(t, p.Add(tr, u))

	assert.Equal(t, http.StatusOK, get(t, s, "/players", &players))
	require.Len(t, players, 1)

	var view PlayerView
	assert.Equal(t, http.StatusOK, get(t, s, "/players/"+testGuildID, &view))
	assert.Equal(t, "main", view.Node)
	assert.Equal(t, testChannel, view.VoiceChannelID)
	assert.Equal(t, 80, view.Volume)
	require.NotNil(t, view.Current)
	assert.Equal(t, "Song", view.Current.Title)
	assert.EqualValues(t, 200000, view.Current.DurationMs)
	assert.True(t, view.Current.Resolved)
	require.Len(t, view.Queue, 1)
	assert.False(t, view.Queue[0].Resolved)
	assert.Empty(t, view.Filters)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/players/444444444444444444", nil))
}
