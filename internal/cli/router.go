// Package cli turns a table of typed command structs into a kong grammar and
// runs the selected one.
package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler is a command's argument struct. Its exported fields are the
// command's flags and positionals, described with kong tags.
type Handler[T any] interface {
	Run(ctx context.Context, deps T) error
}

// Command binds a subcommand name to a pointer to its argument struct.
type Command[T any] struct {
	Name string
	Help string
	Args Handler[T]
}

// UsageError is returned for invocations the grammar rejects.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }

func (e *UsageError) Unwrap() error { return e.Err }

// Router parses process arguments into one of its commands.
type Router[T any] struct {
	parser   *kong.Kong
	commands map[string]Command[T]
}

// New builds the grammar. globals is a pointer to a struct of flags shared by
// every command, or nil. Within a command, a flag with no default is
// required unless it is a bool, a counter or a slice; positionals are
// required unless tagged optional.
func New[T any](name, description string, globals any, commands []Command[T], opts ...kong.Option) (*Router[T], error) {
	if globals == nil {
		globals = &struct{}{}
	}
	r := &Router[T]{commands: make(map[string]Command[T], len(commands))}
	options := []kong.Option{
		kong.Name(name),
		kong.Description(description),
		kong.PostBuild(requireFlagsWithoutDefault),
	}
	for _, c := range commands {
		if c.Args == nil {
			return nil, fmt.Errorf("command %q has no argument struct", c.Name)
		}
		if _, dup := r.commands[c.Name]; dup {
			return nil, fmt.Errorf("command %q registered twice", c.Name)
		}
		r.commands[c.Name] = c
		options = append(options, kong.DynamicCommand(c.Name, c.Help, "", c.Args))
	}
	parser, err := kong.New(globals, append(options, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to build command grammar: %w", err)
	}
	r.parser = parser
	return r, nil
}

func requireFlagsWithoutDefault(k *kong.Kong) error {
	for _, node := range k.Model.Children {
		for _, f := range node.Flags {
			if f.HasDefault || f.IsBool() || f.IsCounter() || f.IsSlice() || f.IsMap() || f.Tag.Optional {
				continue
			}
			f.Required = true
		}
	}
	return nil
}

// Invocation is a parsed command line ready to run.
type Invocation[T any] struct {
	Name    string
	Command Command[T]
	ID      string
}

// Parse selects the command named by args. Rejected input comes back as a
// *UsageError after the usage summary has been written to the parser's
// error writer.
func (r *Router[T]) Parse(args []string) (*Invocation[T], error) {
	kctx, err := r.parser.Parse(args)
	if err != nil {
		var perr *kong.ParseError
		if errors.As(err, &perr) && perr.Context != nil {
			// kong prints help on stdout.
			stdout := perr.Context.Stdout
			perr.Context.Stdout = perr.Context.Stderr
			_ = perr.Context.PrintUsage(true)
			perr.Context.Stdout = stdout
		}
		return nil, &UsageError{Err: err}
	}
	node := kctx.Selected()
	if node == nil {
		return nil, &UsageError{Err: errors.New("no command given")}
	}
	cmd, ok := r.commands[node.Name]
	if !ok {
		return nil, &UsageError{Err: fmt.Errorf("unknown command %q", node.Name)}
	}
	return &Invocation[T]{Name: node.Name, Command: cmd, ID: uuid.NewString()}, nil
}

// Run calls the command's handler between two log markers.
func (inv *Invocation[T]) Run(ctx context.Context, deps T, log *zap.Logger) error {
	logCtx := log.With(zap.String("command", inv.Name), zap.String("invocation", inv.ID))
	logCtx.Debug("command started", zap.Any("args", inv.Command.Args))
	start := time.Now()
	err := inv.Command.Args.Run(ctx, deps)
	logCtx.Debug("command finished", zap.Duration("elapsed", time.Since(start)), zap.Bool("ok", err == nil))
	return err
}
