package lavalink

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySessions struct {
	mu   sync.Mutex
	recs map[string]SessionRecord
}

func (s *memorySessions) LoadSession(id string) (SessionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	return rec, ok
}

func (s *memorySessions) SaveSession(id string, rec SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recs == nil {
		s.recs = make(map[string]SessionRecord)
	}
	s.recs[id] = rec
	return nil
}

func TestNodeOptionsValidate(t *testing.T) {
	opts := NodeOptions{Host: "lava.local", Port: 2333}
	require.NoError(t, opts.Validate())
	assert.Equal(t, "lava.local:2333", opts.Identifier)
	assert.Equal(t, V4, opts.Version)
	assert.Equal(t, defaultRetryAmount, opts.RetryAmount)
	assert.Equal(t, defaultRetryDelay, opts.RetryDelay)

	bad := []NodeOptions{
		{Host: "", Port: 2333},
		{Host: "lava.local", Port: 0},
		{Host: "lava.local", Port: 70000},
		{Host: "lava.local", Port: 2333, Version: "v9"},
		{Host: "lava.local", Port: 2333, RetryDelay: -time.Second},
	}
	for _, o := range bad {
		assert.ErrorIs(t, o.Validate(), ErrInvalidOptions)
	}
}

func TestNodeConnectSendsHandshakeHeaders(t *testing.T) {
	f := newFakeNode(t)
	m, rec, _ := newTestManager(t, ManagerOptions{ClientName: "lavamux-test", Nodes: []NodeOptions{f.options("main")}})
	require.NoError(t, m.Connect(context.Background()))

	n := m.Node("main")
	assert.True(t, n.Connected())
	require.Eventually(t, func() bool { return f.lastUpgrade() != nil }, time.Second, 5*time.Millisecond)

	req := f.lastUpgrade()
	assert.Equal(t, "/v4/websocket", req.URL.Path)
	assert.Equal(t, "youshallnotpass", req.Header.Get("Authorization"))
	assert.Equal(t, testClientID, req.Header.Get("User-Id"))
	assert.Equal(t, "lavamux-test", req.Header.Get("Client-Name"))
	assert.Equal(t, "1", req.Header.Get("Num-Shards"))
	assert.Len(t, eventsOf[NodeConnectEvent](rec), 1)

	require.Eventually(t, func() bool { return n.Info() != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "4.0.0", n.Info().Version.Semver)

	// connecting again is a no-op
	require.NoError(t, n.Connect(context.Background()))
	assert.Equal(t, 1, f.connCount())
}

func TestNodeConnectLegacyPath(t *testing.T) {
	f := newFakeNode(t)
	opts := f.options("legacy")
	opts.Version = V3
	m, _, _ := newTestManager(t, ManagerOptions{Shards: 4, Nodes: []NodeOptions{opts}})
	require.NoError(t, m.Connect(context.Background()))

	require.Eventually(t, func() bool { return f.lastUpgrade() != nil }, time.Second, 5*time.Millisecond)
	req := f.lastUpgrade()
	assert.Equal(t, "/", req.URL.Path)
	assert.Equal(t, "4", req.Header.Get("Num-Shards"))
	assert.False(t, m.Node("legacy").UsesVersionPath())
}

func TestNodeReadyPersistsSession(t *testing.T) {
	sessions := &memorySessions{}
	connectedManager(t, ManagerOptions{Sessions: sessions})

	rec, ok := sessions.LoadSession("main")
	require.True(t, ok)
	assert.Equal(t, "session-1", rec.SessionID)
	assert.NotEmpty(t, rec.ResumeKey)
}

func TestNodeLoadsPersistedSession(t *testing.T) {
	sessions := &memorySessions{}
	require.NoError(t, sessions.SaveSession("main", SessionRecord{SessionID: "old", ResumeKey: "key"}))

	f := newFakeNode(t)
	opts := f.options("main")
	opts.ResumeTimeout = time.Minute
	m, _, _ := newTestManager(t, ManagerOptions{Sessions: sessions, Nodes: []NodeOptions{opts}})
	require.NoError(t, m.Connect(context.Background()))

	require.Eventually(t, func() bool { return f.lastUpgrade() != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "old", f.lastUpgrade().Header.Get("Session-Id"))
	assert.Empty(t, m.Node("main").SessionID())

	f.push(map[string]any{"op": "ready", "resumed": true, "sessionId": "old"})
	require.Eventually(t, func() bool { return m.Node("main").SessionID() == "old" }, time.Second, 5*time.Millisecond)
}

func TestNodeIgnoresStoredSessionWithoutResume(t *testing.T) {
	sessions := &memorySessions{}
	require.NoError(t, sessions.SaveSession("main", SessionRecord{SessionID: "stale", ResumeKey: "key"}))

	f := newFakeNode(t)
	m, _, _ := newTestManager(t, ManagerOptions{Sessions: sessions, Nodes: []NodeOptions{f.options("main")}})
	require.NoError(t, m.Connect(context.Background()))
	n := m.Node("main")
	require.Eventually(t, n.Connected, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return f.lastUpgrade() != nil }, time.Second, 5*time.Millisecond)

	assert.Empty(t, f.lastUpgrade().Header.Get("Session-Id"))
	assert.Empty(t, n.SessionID())

	p, err := m.Create(PlayerOptions{GuildID: testGuildID})
	require.NoError(t, err)
	require.NoError(t, p.SetVolume(context.Background(), 50))

	require.Eventually(t, func() bool { return len(f.receivedOps()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "volume", f.receivedOps()[0]["op"])
	assert.Empty(t, f.requestsMatching(http.MethodPatch, "/players/"+testGuildID))
}

func TestNodeReadyConfiguresResuming(t *testing.T) {
	f := newFakeNode(t)
	opts := f.options("main")
	opts.ResumeTimeout = 90 * time.Second
	m, _, _ := newTestManager(t, ManagerOptions{Nodes: []NodeOptions{opts}})
	require.NoError(t, m.Connect(context.Background()))

	f.push(map[string]any{"op": "ready", "resumed": false, "sessionId": "abc"})
	require.Eventually(t, func() bool {
		return len(f.requestsMatching(http.MethodPatch, "/v4/sessions/abc")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	body := string(f.requestsMatching(http.MethodPatch, "/v4/sessions/abc")[0].Body)
	assert.JSONEq(t, `{"resuming":true,"timeout":90}`, body)
}

func TestNodeStatsAndUnknownOps(t *testing.T) {
	m, f, rec, _ := connectedManager(t, ManagerOptions{})
	n := m.Node("main")

	f.push(map[string]any{
		"op": "stats", "players": 3, "playingPlayers": 1, "uptime": 1000,
		"memory": map[string]any{"used": 512},
		"cpu":    map[string]any{"cores": 4, "systemLoad": 0.5, "lavalinkLoad": 0.1},
	})
	require.Eventually(t, func() bool { return n.Stats().Players == 3 }, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 12.5, n.Stats().LoadPercent(), 0.001)

	f.push(map[string]any{"op": "mystery"})
	require.Eventually(t, func() bool { return len(eventsOf[NodeErrorEvent](rec)) == 1 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, eventsOf[NodeErrorEvent](rec)[0].Err, ErrUnknownOp)

	// updates for guilds without a player are dropped
	f.push(map[string]any{"op": "playerUpdate", "guildId": "999999999999999999", "state": map[string]any{"position": 10}})
	f.push(map[string]any{"op": "event", "type": TrackStartEventType, "guildId": "999999999999999999"})
	f.push(map[string]any{"op": "stats", "players": 4})
	require.Eventually(t, func() bool { return n.Stats().Players == 4 }, time.Second, 5*time.Millisecond)
	assert.Len(t, eventsOf[NodeErrorEvent](rec), 1)
	assert.Empty(t, eventsOf[TrackStartEvent](rec))
}

func TestNodeDestroyIsIdempotent(t *testing.T) {
	m, f, rec, _ := connectedManager(t, ManagerOptions{})
	n := m.Node("main")
	p, err := m.Create(PlayerOptions{GuildID: testGuildID})
	require.NoError(t, err)

	n.Destroy()
	n.Destroy()

	assert.Equal(t, NodeDestroyed, n.State())
	assert.Nil(t, m.Node("main"))
	assert.Nil(t, m.Player(testGuildID))
	assert.Len(t, eventsOf[NodeDestroyEvent](rec), 1)
	assert.Len(t, eventsOf[PlayerDestroyEvent](rec), 1)
	assert.ErrorIs(t, p.Pause(context.Background(), true), ErrPlayerDestroyed)
	assert.ErrorIs(t, n.Connect(context.Background()), ErrNodeDestroyed)

	// destroy never schedules a reconnect
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, f.connCount())
	assert.Empty(t, eventsOf[NodeReconnectEvent](rec))
	assert.Empty(t, eventsOf[NodeDisconnectEvent](rec))
}

func TestNodeDestroyCancelsPendingReconnect(t *testing.T) {
	f := newFakeNode(t)
	opts := f.options("main")
	opts.RetryAmount = 5
	opts.RetryDelay = 200 * time.Millisecond
	m, rec, _ := newTestManager(t, ManagerOptions{Nodes: []NodeOptions{opts}})
	require.NoError(t, m.Connect(context.Background()))
	n := m.Node("main")
	require.Eventually(t, func() bool { return f.connCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	f.srv.Close()
	f.drop()
	require.Eventually(t, func() bool { return n.State() == NodeReconnecting }, 2*time.Second, 5*time.Millisecond)

	n.Destroy()
	seen := len(eventsOf[NodeReconnectEvent](rec))

	time.Sleep(3 * opts.RetryDelay)
	assert.Equal(t, NodeDestroyed, n.State())
	assert.Len(t, eventsOf[NodeReconnectEvent](rec), seen)
	assert.Len(t, eventsOf[NodeDestroyEvent](rec), 1)
}

func TestNodeReconnectResetsAttempts(t *testing.T) {
	m, f, rec, _ := connectedManager(t, ManagerOptions{})
	n := m.Node("main")

	f.drop()

	require.Eventually(t, func() bool { return f.connCount() == 2 && n.Connected() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, n.ReconnectAttempts())
	assert.Len(t, eventsOf[NodeDisconnectEvent](rec), 1)
	assert.GreaterOrEqual(t, len(eventsOf[NodeReconnectEvent](rec)), 1)
	assert.Equal(t, 1, eventsOf[NodeReconnectEvent](rec)[0].Attempt)
}

func TestNodeGivesUpAfterRetryBudget(t *testing.T) {
	f := newFakeNode(t)
	opts := f.options("gone")
	opts.RetryAmount = 2
	opts.RetryDelay = 10 * time.Millisecond
	f.srv.Close()

	m, rec, _ := newTestManager(t, ManagerOptions{Nodes: []NodeOptions{opts}})
	require.Error(t, m.Connect(context.Background()))

	require.Eventually(t, func() bool { return len(eventsOf[NodeDestroyEvent](rec)) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, eventsOf[NodeReconnectEvent](rec), 2)

	var fatal bool
	for _, ev := range eventsOf[NodeErrorEvent](rec) {
		fatal = fatal || ev.Fatal
	}
	assert.True(t, fatal)
	assert.Nil(t, m.Node("gone"))
}

func TestNodeSendRejectsNonObjects(t *testing.T) {
	m, f, _, _ := connectedManager(t, ManagerOptions{})
	n := m.Node("main")

	assert.ErrorIs(t, n.Send([]int{1, 2}), ErrEncoding)
	assert.ErrorIs(t, n.Send("text"), ErrEncoding)
	require.NoError(t, n.Send(map[string]any{"op": "ping"}))
	require.Eventually(t, func() bool { return len(f.receivedOps()) == 1 }, time.Second, 5*time.Millisecond)

	_, offline, _ := offlineManager(t, ManagerOptions{})
	assert.ErrorIs(t, offline.Send(map[string]any{"op": "ping"}), ErrNotConnected)
}

func TestNodeMakeRequestErrors(t *testing.T) {
	m, _, _, _ := connectedManager(t, ManagerOptions{})
	n := m.Node("main")
	require.Eventually(t, func() bool { return n.Info() != nil }, time.Second, 5*time.Millisecond)
	before := n.Calls()

	err := n.MakeRequest(context.Background(), http.MethodGet, "/nowhere", nil, nil, nil)
	var re *RequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusNotFound, re.StatusCode())
	assert.Equal(t, "not found", re.Message)
	assert.Equal(t, before+1, n.Calls())

	err = n.MakeRequest(context.Background(), http.MethodPost, "/x", nil, map[string]any{"bad": make(chan int)}, nil)
	assert.True(t, errors.Is(err, ErrEncoding))
	assert.Equal(t, before+2, n.Calls())
}

func TestNodeRestURL(t *testing.T) {
	_, n, _ := offlineManager(t, ManagerOptions{})
	n.opts.Trace = true
	u, err := url.Parse(n.restURL("/loadtracks", url.Values{"identifier": {"ytsearch:a"}}))
	require.NoError(t, err)
	assert.Equal(t, "/v4/loadtracks", u.Path)
	assert.Equal(t, "true", u.Query().Get("trace"))
	assert.Equal(t, "ytsearch:a", u.Query().Get("identifier"))

	n.opts.Version = V2
	u, err = url.Parse(n.restURL("/loadtracks", nil))
	require.NoError(t, err)
	assert.Equal(t, "/loadtracks", u.Path)
	assert.Empty(t, u.Query().Get("trace"))
}

func TestNodeLoadTracks(t *testing.T) {
	m, f, _, _ := connectedManager(t, ManagerOptions{})
	f.mu.Lock()
	f.loadResult = []byte(`{"loadType":"search","data":[{"encoded":"QAAA","info":{"identifier":"dQw4w9WgXcQ","title":"Never","author":"Rick","length":212000,"isSeekable":true,"sourceName":"youtube","uri":"https://www.youtube.com/watch?v=dQw4w9WgXcQ"}}]}`)
	f.mu.Unlock()

	res, err := m.Search(context.Background(), "never gonna", "me")
	require.NoError(t, err)
	assert.Equal(t, LoadSearch, res.LoadType)
	require.Len(t, res.Tracks, 1)
	assert.Equal(t, "QAAA", res.Tracks[0].Encoded)
	assert.Equal(t, "me", res.Tracks[0].Requester())
	assert.Equal(t, 212*time.Second, res.Tracks[0].Duration())

	reqs := f.requestsMatching(http.MethodGet, "/v4/loadtracks")
	require.Len(t, reqs, 1)
	assert.Equal(t, "ytsearch:never gonna", reqs[0].Query.Get("identifier"))
}
