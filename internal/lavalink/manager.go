package lavalink

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/rs/zerolog"

	"github.com/keshon/lavamux/pkg/jobmgr"
	"github.com/keshon/lavamux/pkg/util"
)

const (
	defaultClientName     = "lavamux"
	defaultSearchPlatform = "ytsearch"
	defaultMaxVolume      = 500
	defaultResyncTicks    = 2
	maxPositionInterval   = 10 * time.Second
	minPositionInterval   = 100 * time.Millisecond
)

// SendFunc delivers a gateway voice state payload through the host's connection.
type SendFunc func(guildID string, payload VoiceStatePayload) error

// SessionRecord is what a SessionStore keeps per node.
type SessionRecord struct {
	SessionID string    `json:"session_id"`
	ResumeKey string    `json:"resume_key"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionStore persists node sessions so a restarted process can resume them.
type SessionStore interface {
	LoadSession(nodeID string) (SessionRecord, bool)
	SaveSession(nodeID string, rec SessionRecord) error
}

// ManagerOptions configures a Manager. ClientID and Send are required.
type ManagerOptions struct {
	ClientID   string
	ClientName string
	Shards     int
	Send       SendFunc
	Nodes      []NodeOptions

	Selection         Selection
	LeastUsedMetric   UsageMetric
	LeastLoadedMetric LoadMetric

	// PositionUpdateInterval drives local position interpolation. Zero disables it.
	PositionUpdateInterval time.Duration
	// FilterResyncTicks is how many interpolation ticks after a filter change trigger a resync seek.
	FilterResyncTicks int
	// VolumeDecrementer scales the volume sent to the node. Zero means 1.
	VolumeDecrementer float64
	MaxVolume         int
	AutoPlay          bool

	DefaultSearchPlatform string

	// NewQueue replaces the default queue implementation.
	NewQueue func() Queue
	// Resolver replaces the default search based resolver for unresolved tracks.
	Resolver TrackResolver
	Sessions SessionStore
	Logger   zerolog.Logger
}

func (o *ManagerOptions) validate() error {
	if _, err := snowflake.Parse(o.ClientID); err != nil {
		return invalidOptions("client id %q is not a snowflake", o.ClientID)
	}
	if o.Send == nil {
		return invalidOptions("send function is required")
	}
	if o.Shards < 0 {
		return invalidOptions("shards must not be negative")
	}
	if o.Shards == 0 {
		o.Shards = 1
	}
	if o.ClientName == "" {
		o.ClientName = defaultClientName
	}
	if o.Selection == "" {
		o.Selection = SelectLeastUsed
	}
	if o.Selection != SelectLeastUsed && o.Selection != SelectLeastLoaded {
		return invalidOptions("unknown selection %q", o.Selection)
	}
	if o.LeastUsedMetric == "" {
		o.LeastUsedMetric = MetricPlayers
	}
	if o.LeastLoadedMetric == "" {
		o.LeastLoadedMetric = LoadCPU
	}
	if err := o.LeastUsedMetric.valid(); err != nil {
		return err
	}
	if err := o.LeastLoadedMetric.valid(); err != nil {
		return err
	}
	if i := o.PositionUpdateInterval; i < 0 || i > maxPositionInterval || (i > 0 && i < minPositionInterval) {
		return invalidOptions("position update interval %s out of range", i)
	}
	if o.FilterResyncTicks <= 0 {
		o.FilterResyncTicks = defaultResyncTicks
	}
	if o.VolumeDecrementer < 0 || o.VolumeDecrementer > 1 {
		return invalidOptions("volume decrementer %v outside [0,1]", o.VolumeDecrementer)
	}
	if o.VolumeDecrementer == 0 {
		o.VolumeDecrementer = 1
	}
	if o.MaxVolume <= 0 {
		o.MaxVolume = defaultMaxVolume
	}
	if o.DefaultSearchPlatform == "" {
		o.DefaultSearchPlatform = defaultSearchPlatform
	}
	if o.NewQueue == nil {
		o.NewQueue = NewQueue
	}
	return nil
}

// Manager is the hub: it owns all nodes and players and emits events to the host.
type Manager struct {
	opts     ManagerOptions
	log      zerolog.Logger
	jobs     *jobmgr.Manager
	sessions SessionStore
	resolver TrackResolver
	voice    *VoiceBridge
	events   emitter

	mu      sync.RWMutex
	nodes   []*Node
	players map[string]*Player
}

// NewManager validates options and registers the configured nodes without connecting them.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		opts:     opts,
		log:      opts.Logger.With().Str("component", "manager").Logger(),
		sessions: opts.Sessions,
		resolver: opts.Resolver,
		players:  make(map[string]*Player),
	}
	m.jobs = jobmgr.NewManager(func(s string) {
		m.log.Trace().Str("job", s).Msg("job status")
	})
	if m.resolver == nil {
		m.resolver = searchResolver{m: m}
	}
	m.voice = newVoiceBridge(m)

	for _, no := range opts.Nodes {
		if _, err := m.AddNode(no); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Options returns the effective options after defaults were applied.
func (m *Manager) Options() ManagerOptions { return m.opts }

// VoiceBridge is where the host feeds gateway voice packets.
func (m *Manager) VoiceBridge() *VoiceBridge { return m.voice }

// AddListener registers a listener and returns a function that removes it.
func (m *Manager) AddListener(l Listener) func() {
	return m.events.add(l)
}

func (m *Manager) emit(ev Event) {
	m.events.emit(ev)
}

// AddNode registers a new node. Identifiers must be unique.
func (m *Manager) AddNode(opts NodeOptions) (*Node, error) {
	n, err := NewNode(m, opts)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	for _, existing := range m.nodes {
		if existing.Identifier() == n.Identifier() {
			m.mu.Unlock()
			return nil, invalidOptions("duplicate node identifier %q", n.Identifier())
		}
	}
	m.nodes = append(m.nodes, n)
	m.mu.Unlock()

	m.log.Debug().Str("node", n.Identifier()).Str("version", string(n.Version())).Msg("node registered")
	m.emit(NodeCreateEvent{Node: n})
	return n, nil
}

// Node returns the node with the identifier, or nil.
func (m *Manager) Node(id string) *Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, n := range m.nodes {
		if n.Identifier() == id {
			return n
		}
	}
	return nil
}

// Nodes returns a snapshot of all registered nodes.
func (m *Manager) Nodes() []*Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Node(nil), m.nodes...)
}

func (m *Manager) removeNode(n *Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.nodes {
		if existing == n {
			m.nodes = append(m.nodes[:i], m.nodes[i+1:]...)
			return
		}
	}
}

// Connect opens every node concurrently. Failed nodes keep retrying in the background.
func (m *Manager) Connect(ctx context.Context) error {
	nodes := m.Nodes()
	err := util.Parallel(ctx, nodes, len(nodes), func(ctx context.Context, n *Node) error {
		return n.Connect(ctx)
	})
	if err != nil {
		m.log.Warn().Err(err).Msg("some nodes failed to connect")
	}
	return err
}

// Close destroys every node, which also destroys their players.
func (m *Manager) Close() {
	for _, n := range m.Nodes() {
		n.Destroy()
	}
}

// Create returns the guild's player, creating it on a selected node if needed.
func (m *Manager) Create(opts PlayerOptions) (*Player, error) {
	if _, err := snowflake.Parse(opts.GuildID); err != nil {
		return nil, invalidOptions("guild id %q is not a snowflake", opts.GuildID)
	}
	for _, id := range []string{opts.VoiceChannelID, opts.TextChannelID} {
		if id == "" {
			continue
		}
		if _, err := snowflake.Parse(id); err != nil {
			return nil, invalidOptions("channel id %q is not a snowflake", id)
		}
	}
	if p := m.Player(opts.GuildID); p != nil {
		return p, nil
	}

	var (
		node *Node
		err  error
	)
	if opts.Node != "" {
		node = m.Node(opts.Node)
		if node == nil || !node.Connected() {
			return nil, fmt.Errorf("create player for %s: %w: node %q", opts.GuildID, ErrNoAvailableNode, opts.Node)
		}
	} else if node, err = m.UsableNode(opts.Region); err != nil {
		return nil, fmt.Errorf("create player for %s: %w", opts.GuildID, err)
	}

	m.mu.Lock()
	if p, ok := m.players[opts.GuildID]; ok {
		m.mu.Unlock()
		return p, nil
	}
	p := newPlayer(m, node, opts)
	m.players[opts.GuildID] = p
	m.mu.Unlock()

	p.log.Info().Str("node", node.Identifier()).Msg("player created")
	m.emit(PlayerCreateEvent{Player: p})
	return p, nil
}

// Player returns the guild's player, or nil.
func (m *Manager) Player(guildID string) *Player {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.players[guildID]
}

// Players returns a snapshot of all players.
func (m *Manager) Players() []*Player {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Player, 0, len(m.players))
	for _, p := range m.players {
		out = append(out, p)
	}
	return out
}

func (m *Manager) playersOn(n *Node) []*Player {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Player
	for _, p := range m.players {
		if p.node == n {
			out = append(out, p)
		}
	}
	return out
}

func (m *Manager) removePlayer(p *Player) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.players[p.guildID] == p {
		delete(m.players, p.guildID)
	}
}

// Search loads tracks through a usable node. Plain text gets the default search platform prefix.
func (m *Manager) Search(ctx context.Context, query string, requester any) (*LoadResult, error) {
	node, err := m.UsableNode("")
	if err != nil {
		return nil, err
	}
	res, err := node.LoadTracks(ctx, searchIdentifier(query, m.opts.DefaultSearchPlatform), requester)
	if err != nil {
		return nil, err
	}
	if res.LoadType == LoadError && res.Exception != nil {
		return res, errors.New(res.Exception.Message)
	}
	return res, nil
}

func searchIdentifier(query, platform string) string {
	if u, err := url.Parse(query); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return query
	}
	if i := strings.Index(query, ":"); i > 0 && strings.HasSuffix(query[:i], "search") {
		return query
	}
	return platform + ":" + query
}
