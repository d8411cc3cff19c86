package main

import (
	"context"
	"fmt"
	"time"

	"github.com/keshon/lavamux/internal/lavalink"
	"github.com/keshon/lavamux/pkg/cmd"
)

func commands() *cmd.Registry {
	reg := cmd.NewRegistry(withProbe)
	_ = reg.Register(
		cmd.Func{CmdName: "info", CmdUsage: "print server version, sources and plugins", Fn: info},
		cmd.Func{CmdName: "stats", CmdUsage: "print the latest stats", Fn: stats},
		cmd.Func{CmdName: "players", CmdUsage: "list players held by this session", Fn: players},
		cmd.Func{CmdName: "search", CmdUsage: "<query> search or load a track", MinArgs: 1, Fn: search},
		cmd.Func{CmdName: "decode", CmdUsage: "<encoded> decode a track handle", MinArgs: 1, Fn: decode},
		cmd.Func{CmdName: "routeplanner", CmdUsage: "print route planner status", Fn: routePlanner},
	)
	return reg
}

// withProbe rejects invocations that did not come with a connected node.
func withProbe(c cmd.Command) cmd.Command {
	return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
		if p, ok := inv.Data.(*probe); !ok || p.node == nil {
			return fmt.Errorf("%s: no node", c.Name())
		}
		return c.Run(ctx, inv)
	})
}

func probeOf(inv *cmd.Invocation) *probe { return inv.Data.(*probe) }

func info(ctx context.Context, inv *cmd.Invocation) error {
	p := probeOf(inv)
	i, err := p.node.FetchInfo(ctx)
	if err != nil {
		return err
	}
	return printJSON(p.out, i)
}

func stats(ctx context.Context, inv *cmd.Invocation) error {
	p := probeOf(inv)
	s, err := p.node.FetchStats(ctx)
	if err != nil {
		return err
	}
	return printJSON(p.out, map[string]any{
		"node":        p.node.Identifier(),
		"stats":       s,
		"loadPercent": s.LoadPercent(),
		"calls":       p.node.Calls(),
	})
}

func players(ctx context.Context, inv *cmd.Invocation) error {
	p := probeOf(inv)
	list, err := p.node.RemotePlayers(ctx)
	if err != nil {
		return err
	}
	return printJSON(p.out, list)
}

type trackLine struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	Duration string `json:"duration"`
	URI      string `json:"uri"`
	Encoded  string `json:"encoded"`
}

func lineOf(t *lavalink.Track) trackLine {
	return trackLine{Title: t.Title(), Author: t.Author(), Duration: t.Duration().Round(time.Second).String(), URI: t.URI, Encoded: t.Encoded}
}

func search(ctx context.Context, inv *cmd.Invocation) error {
	p := probeOf(inv)
	res, err := p.m.Search(ctx, joinArgs(inv.Args), nil)
	if err != nil {
		return err
	}
	lines := make([]trackLine, 0, len(res.Tracks))
	for _, t := range res.Tracks {
		lines = append(lines, lineOf(t))
	}
	return printJSON(p.out, map[string]any{"loadType": res.LoadType, "playlist": res.Playlist, "tracks": lines})
}

func decode(ctx context.Context, inv *cmd.Invocation) error {
	p := probeOf(inv)
	t, err := p.node.DecodeTrack(ctx, inv.Args[0])
	if err != nil {
		return err
	}
	return printJSON(p.out, lineOf(t))
}

func routePlanner(ctx context.Context, inv *cmd.Invocation) error {
	p := probeOf(inv)
	s, err := p.node.RoutePlannerStatus(ctx)
	if err != nil {
		return err
	}
	return printJSON(p.out, s)
}
