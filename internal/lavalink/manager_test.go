package lavalink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerValidation(t *testing.T) {
	send := func(string, VoiceStatePayload) error { return nil }
	tests := []struct {
		name string
		opts ManagerOptions
	}{
		{"client id not a snowflake", ManagerOptions{ClientID: "bot", Send: send}},
		{"missing send", ManagerOptions{ClientID: testClientID}},
		{"interval too short", ManagerOptions{ClientID: testClientID, Send: send, PositionUpdateInterval: 10 * time.Millisecond}},
		{"interval too long", ManagerOptions{ClientID: testClientID, Send: send, PositionUpdateInterval: time.Minute}},
		{"decrementer above one", ManagerOptions{ClientID: testClientID, Send: send, VolumeDecrementer: 1.5}},
		{"unknown selection", ManagerOptions{ClientID: testClientID, Send: send, Selection: "random"}},
		{"unknown metric", ManagerOptions{ClientID: testClientID, Send: send, LeastUsedMetric: "disk"}},
		{"bad node", ManagerOptions{ClientID: testClientID, Send: send, Nodes: []NodeOptions{{Host: "x", Port: -1}}}},
		{"duplicate node", ManagerOptions{ClientID: testClientID, Send: send, Nodes: []NodeOptions{
			{Identifier: "a", Host: "x", Port: 1}, {Identifier: "a", Host: "y", Port: 2},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.opts)
			assert.ErrorIs(t, err, ErrInvalidOptions)
		})
	}
}

func TestNewManagerDefaults(t *testing.T) {
	m, _, _ := newTestManager(t, ManagerOptions{})
	opts := m.Options()
	assert.Equal(t, 1, opts.Shards)
	assert.Equal(t, defaultClientName, opts.ClientName)
	assert.Equal(t, SelectLeastUsed, opts.Selection)
	assert.Equal(t, MetricPlayers, opts.LeastUsedMetric)
	assert.Equal(t, LoadCPU, opts.LeastLoadedMetric)
	assert.Equal(t, 1.0, opts.VolumeDecrementer)
	assert.Equal(t, defaultMaxVolume, opts.MaxVolume)
	assert.Equal(t, "ytsearch", opts.DefaultSearchPlatform)
}

func TestCreatePlayer(t *testing.T) {
	m, _, _ := newTestManager(t, ManagerOptions{})

	_, err := m.Create(PlayerOptions{GuildID: "guild"})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = m.Create(PlayerOptions{GuildID: testGuildID})
	assert.ErrorIs(t, err, ErrNoAvailableNode)

	fakeConnected(t, m, "main", 0, Stats{})
	p, err := m.Create(PlayerOptions{GuildID: testGuildID, VoiceChannelID: testChannel, Volume: 900})
	require.NoError(t, err)
	assert.Equal(t, "main", p.Node().Identifier())
	assert.Equal(t, 500, p.Volume())
	assert.Equal(t, testChannel, p.VoiceChannelID())

	again, err := m.Create(PlayerOptions{GuildID: testGuildID})
	require.NoError(t, err)
	assert.Same(t, p, again)
	assert.Len(t, m.Players(), 1)
}

func TestCreatePlayerPinnedNode(t *testing.T) {
	m, _, _ := newTestManager(t, ManagerOptions{})
	fakeConnected(t, m, "a", 0, Stats{Players: 0})
	fakeConnected(t, m, "b", 0, Stats{Players: 10})

	p, err := m.Create(PlayerOptions{GuildID: testGuildID, Node: "b"})
	require.NoError(t, err)
	assert.Equal(t, "b", p.Node().Identifier())

	_, err = m.Create(PlayerOptions{GuildID: "444444444444444444", Node: "missing"})
	assert.ErrorIs(t, err, ErrNoAvailableNode)
}

func TestCustomQueueFactory(t *testing.T) {
	calls := 0
	m, _, _ := newTestManager(t, ManagerOptions{NewQueue: func() Queue {
		calls++
		return NewQueue()
	}})
	fakeConnected(t, m, "main", 0, Stats{})
	_, err := m.Create(PlayerOptions{GuildID: testGuildID})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestListenerRemoval(t *testing.T) {
	m, _, _ := newTestManager(t, ManagerOptions{})
	var seen int
	remove := m.AddListener(func(ev Event) {
		if _, ok := ev.(NodeCreateEvent); ok {
			seen++
		}
	})
	fakeConnected(t, m, "a", 0, Stats{})
	remove()
	fakeConnected(t, m, "b", 0, Stats{})
	assert.Equal(t, 1, seen)
}

func TestListenersRunInRegistrationOrder(t *testing.T) {
	m, _, _ := newTestManager(t, ManagerOptions{})
	var order []int
	for i := range 5 {
		m.AddListener(func(ev Event) {
			if _, ok := ev.(NodeCreateEvent); ok {
				order = append(order, i)
			}
		})
	}
	removeMiddle := m.AddListener(func(Event) { order = append(order, -1) })
	m.AddListener(func(ev Event) {
		if _, ok := ev.(NodeCreateEvent); ok {
			order = append(order, 5)
		}
	})
	removeMiddle()

	fakeConnected(t, m, "a", 0, Stats{})
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, order)
}

func TestSearchIdentifier(t *testing.T) {
	tests := map[string]string{
		"never gonna give you up":                     "ytsearch:never gonna give you up",
		"scsearch:lofi":                               "scsearch:lofi",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ": "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"artist: title":                               "ytsearch:artist: title",
	}
	for in, want := range tests {
		assert.Equal(t, want, searchIdentifier(in, "ytsearch"), in)
	}
}
