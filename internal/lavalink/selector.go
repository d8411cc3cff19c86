package lavalink

import (
	"fmt"
	"sort"
	"strings"
)

// Selection picks the ranking used when no region matches.
type Selection string

const (
	SelectLeastUsed   Selection = "leastUsed"
	SelectLeastLoaded Selection = "leastLoaded"
)

// UsageMetric ranks nodes for SelectLeastUsed.
type UsageMetric string

const (
	MetricCalls   UsageMetric = "calls"
	MetricPlayers UsageMetric = "players"
	MetricMemory  UsageMetric = "memory"
)

// LoadMetric ranks nodes for SelectLeastLoaded.
type LoadMetric string

const (
	LoadCPU    LoadMetric = "cpu"
	LoadMemory LoadMetric = "memory"
)

func (m *Manager) connectedNodes() []*Node {
	var out []*Node
	for _, n := range m.Nodes() {
		if n.Connected() {
			out = append(out, n)
		}
	}
	return out
}

// rank sorts nodes ascending by key. Ties keep registration order.
func rank(nodes []*Node, key func(*Node) float64) []*Node {
	keys := make(map[*Node]float64, len(nodes))
	for _, n := range nodes {
		keys[n] = key(n)
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		return keys[nodes[i]] < keys[nodes[j]]
	})
	return nodes
}

// LeastUsed returns connected nodes, least used first.
func (m *Manager) LeastUsed(metric UsageMetric) ([]*Node, error) {
	var key func(*Node) float64
	switch metric {
	case MetricCalls:
		key = func(n *Node) float64 { return float64(n.Calls()) }
	case MetricPlayers:
		key = func(n *Node) float64 { return float64(n.Stats().Players) }
	case MetricMemory:
		key = func(n *Node) float64 { return float64(n.Stats().Memory.Used) }
	default:
		return nil, invalidOptions("unknown usage metric %q", metric)
	}
	return rank(m.connectedNodes(), key), nil
}

// LeastLoaded returns connected nodes, least loaded first.
func (m *Manager) LeastLoaded(metric LoadMetric) ([]*Node, error) {
	var key func(*Node) float64
	switch metric {
	case LoadCPU:
		key = func(n *Node) float64 { return n.Stats().LoadPercent() }
	case LoadMemory:
		key = func(n *Node) float64 { return float64(n.Stats().Memory.Used) }
	default:
		return nil, invalidOptions("unknown load metric %q", metric)
	}
	return rank(m.connectedNodes(), key), nil
}

// UsableNode picks a connected node. A node serving the region wins over the
// configured ranking; the region match is case-insensitive.
func (m *Manager) UsableNode(region string) (*Node, error) {
	var (
		ranked []*Node
		err    error
	)
	if m.opts.Selection == SelectLeastLoaded {
		ranked, err = m.LeastLoaded(m.opts.LeastLoadedMetric)
	} else {
		ranked, err = m.LeastUsed(m.opts.LeastUsedMetric)
	}
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, ErrNoAvailableNode
	}

	if region != "" {
		for _, n := range ranked {
			for _, r := range n.Regions() {
				if strings.EqualFold(r, region) {
					return n, nil
				}
			}
		}
		m.log.Debug().Str("region", region).Str("node", ranked[0].Identifier()).Msg("no node for region, using best ranked")
	}
	return ranked[0], nil
}

func (m UsageMetric) valid() error {
	switch m {
	case MetricCalls, MetricPlayers, MetricMemory:
		return nil
	}
	return fmt.Errorf("%w: unknown usage metric %q", ErrInvalidOptions, string(m))
}

func (m LoadMetric) valid() error {
	switch m {
	case LoadCPU, LoadMemory:
		return nil
	}
	return fmt.Errorf("%w: unknown load metric %q", ErrInvalidOptions, string(m))
}
