// Command nodeprobe connects to the configured nodes and prints what they report.
//
//	nodeprobe [-node id] [-timeout 10s] <command> [args]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/keshon/lavamux/internal/config"
	"github.com/keshon/lavamux/internal/lavalink"
	"github.com/keshon/lavamux/internal/logging"
	"github.com/keshon/lavamux/pkg/cmd"
)

// probe is the payload every command receives.
type probe struct {
	m    *lavalink.Manager
	node *lavalink.Node
	out  io.Writer
}

func main() {
	nodeID := flag.String("node", "", "node identifier (default: first connected node)")
	timeout := flag.Duration("timeout", 10*time.Second, "overall timeout")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	if err := run(*nodeID, *timeout, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "nodeprobe:", err)
		if errors.Is(err, cmd.ErrUsage) || errors.Is(err, cmd.ErrUnknownCommand) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(nodeID string, timeout time.Duration, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(logging.Options{Level: cfg.LogLevel, Console: os.Stderr})
	defer logger.Close()

	opts := cfg.ManagerOptions()
	if opts.ClientID == "" {
		opts.ClientID = "0"
	}
	opts.Send = func(string, lavalink.VoiceStatePayload) error { return errors.New("nodeprobe has no gateway") }
	opts.Logger = logger.Logger

	m, err := lavalink.NewManager(opts)
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_ = m.Connect(ctx)
	node, err := waitForNode(ctx, m, nodeID)
	if err != nil {
		return err
	}

	reg := commands()
	return reg.Dispatch(ctx, args[0], &cmd.Invocation{
		Args: args[1:],
		Data: &probe{m: m, node: node, out: os.Stdout},
	})
}

// waitForNode blocks until the node is connected and, on v4, has a session.
func waitForNode(ctx context.Context, m *lavalink.Manager, id string) (*lavalink.Node, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, n := range m.Nodes() {
			if id != "" && n.Identifier() != id {
				continue
			}
			if n.Connected() && (n.Version() != lavalink.V4 || n.SessionID() != "") {
				return n, nil
			}
		}
		select {
		case <-ctx.Done():
			if id != "" && m.Node(id) == nil {
				return nil, fmt.Errorf("node %q is not configured", id)
			}
			return nil, fmt.Errorf("no node became ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: nodeprobe [flags] <command> [args]")
	flag.PrintDefaults()
	fmt.Fprintln(os.Stderr, "\ncommands:")
	for _, c := range commands().All() {
		fmt.Fprintf(os.Stderr, "  %-13s %s\n", c.Name(), c.Usage())
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func joinArgs(args []string) string { return strings.Join(args, " ") }
