// Package cmd provides a transport-agnostic command core: a command has a name,
// a usage line and Run(ctx, invocation). Adapters decide how arguments arrive.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("usage")
)

// Invocation carries positional arguments and an adapter specific payload.
type Invocation struct {
	Args []string
	Data any
}

type Command interface {
	Name() string
	Usage() string
	Run(ctx context.Context, inv *Invocation) error
}

// Func adapts a function into a Command.
type Func struct {
	CmdName  string
	CmdUsage string
	MinArgs  int
	Fn       func(ctx context.Context, inv *Invocation) error
}

func (f Func) Name() string  { return f.CmdName }
func (f Func) Usage() string { return f.CmdUsage }

func (f Func) Run(ctx context.Context, inv *Invocation) error {
	if len(inv.Args) < f.MinArgs {
		return fmt.Errorf("%w: %s %s", ErrUsage, f.CmdName, f.CmdUsage)
	}
	return f.Fn(ctx, inv)
}

// Middleware wraps a command. The first in a list is the outermost.
type Middleware func(Command) Command

func Apply(c Command, mws ...Middleware) Command {
	for i := len(mws) - 1; i >= 0; i-- {
		c = mws[i](c)
	}
	return c
}

type wrapped struct {
	Command
	run func(ctx context.Context, inv *Invocation) error
}

func (w wrapped) Run(ctx context.Context, inv *Invocation) error { return w.run(ctx, inv) }

// Wrap keeps c's identity and replaces its Run.
func Wrap(c Command, run func(ctx context.Context, inv *Invocation) error) Command {
	return wrapped{Command: c, run: run}
}

// Registry stores commands by name.
type Registry struct {
	commands map[string]Command
	mws      []Middleware
}

func NewRegistry(mws ...Middleware) *Registry {
	return &Registry{commands: make(map[string]Command), mws: mws}
}

// Register adds commands wrapped with the registry middleware.
func (r *Registry) Register(cs ...Command) error {
	for _, c := range cs {
		if _, ok := r.commands[c.Name()]; ok {
			return fmt.Errorf("command %q registered twice", c.Name())
		}
		r.commands[c.Name()] = Apply(c, r.mws...)
	}
	return nil
}

func (r *Registry) Get(name string) Command {
	return r.commands[name]
}

// All returns the commands sorted by name.
func (r *Registry) All() []Command {
	list := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// Dispatch runs the named command.
func (r *Registry) Dispatch(ctx context.Context, name string, inv *Invocation) error {
	c := r.Get(name)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	return c.Run(ctx, inv)
}
