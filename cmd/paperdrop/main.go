package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/Lllllllleong/paperdrop/internal/cli"
	"github.com/Lllllllleong/paperdrop/internal/config"
	"github.com/Lllllllleong/paperdrop/internal/dropbox"
	"github.com/Lllllllleong/paperdrop/internal/gcp"
	"github.com/Lllllllleong/paperdrop/internal/logging"
	"github.com/Lllllllleong/paperdrop/internal/provider"
	"github.com/Lllllllleong/paperdrop/internal/services"
	"github.com/Lllllllleong/paperdrop/internal/storage"
)

const description = "Files papers and books into cloud storage and keeps annotated copies in sync."

// Globals are the flags accepted before any command.
type Globals struct {
	Verbose int    `short:"v" type:"counter" help:"Log more (repeat for debug output)."`
	Config  string `name:"cfg" default:"~/.paperdrop.yaml" type:"path" help:"Config file."`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], runEnv{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr})
	stop()
	os.Exit(code)
}

// runEnv is everything run takes from the process. open builds the storage
// stack; nil means the configured backend.
type runEnv struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	open   func(ctx context.Context, a *app) (*stack, error)
}

// run returns the process exit code: 2 for usage errors, 1 for failed
// commands and 0 otherwise, including when no provider accepts a put item.
func run(ctx context.Context, args []string, env runEnv) int {
	globals := &Globals{}
	router, err := cli.New("paperdrop", description, globals, commands(), kong.Writers(env.stdout, env.stderr))
	if err != nil {
		fmt.Fprintln(env.stderr, err)
		return 1
	}
	inv, err := router.Parse(args)
	if err != nil {
		fmt.Fprintf(env.stderr, "paperdrop: %v\n", err)
		return 2
	}

	log, err := logging.New(globals.Verbose)
	if err != nil {
		fmt.Fprintln(env.stderr, err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load(globals.Config)
	if err != nil {
		log.Error("failed to load config", zap.String("path", globals.Config), zap.Error(err))
		return 1
	}

	a := newApp(cfg, log, env)
	defer a.Close()

	err = inv.Run(ctx, a, log)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, provider.ErrNoProvider):
		log.Error("no provider for item", zap.Error(err))
		return 0
	default:
		log.Error("command failed", zap.String("command", inv.Name), zap.Error(err))
		return 1
	}
}

// app is what every command receives. The storage stack is built on first
// use so that commands like aliases never need credentials.
type app struct {
	cfg      config.Config
	aliases  *config.Aliases
	log      *zap.Logger
	out      io.Writer
	prompter *cli.Prompter
	open     func(ctx context.Context, a *app) (*stack, error)

	once    sync.Once
	stack   *stack
	initErr error
}

func newApp(cfg config.Config, log *zap.Logger, env runEnv) *app {
	open := env.open
	if open == nil {
		open = openConfigured
	}
	return &app{
		cfg:      cfg,
		aliases:  config.NewAliases(cfg.Dirs, cfg.Aliases, time.Now()),
		log:      log,
		out:      env.stdout,
		prompter: cli.NewPrompter(env.stdin, env.stderr),
		open:     open,
	}
}

// path expands alias tokens in a storage path argument.
func (a *app) path(p string) string {
	return storage.Clean(a.aliases.Expand(p))
}

func (a *app) services(ctx context.Context) (*stack, error) {
	a.once.Do(func() {
		a.stack, a.initErr = a.open(ctx, a)
	})
	if a.initErr != nil {
		return nil, fmt.Errorf("failed to initialise backend: %w", a.initErr)
	}
	return a.stack, nil
}

func (a *app) Close() {
	if a.stack == nil {
		return
	}
	for _, c := range a.stack.closers {
		if err := c.Close(); err != nil {
			a.log.Warn("failed to close client", zap.Error(err))
		}
	}
}

// stack is the storage backend and the services built on it.
type stack struct {
	store      storage.Store
	dispatcher *provider.Dispatcher
	library    *services.Library
	reconciler *services.Reconciler
	closers    []io.Closer
}

func newStack(a *app, store storage.Store, dispatcher *provider.Dispatcher, notes services.Notes) *stack {
	return &stack{
		store:      store,
		dispatcher: dispatcher,
		library: services.NewLibrary(store, dispatcher, services.LibraryConfig{
			PapersDir: a.cfg.Dirs.Papers,
			Confirm:   a.prompter.Confirm,
			Notes:     notes,
		}, a.log),
		reconciler: services.NewReconciler(store, a.log.Named("sync")),
	}
}

func openConfigured(ctx context.Context, a *app) (*stack, error) {
	var (
		store   storage.Store
		closers []io.Closer
	)
	switch a.cfg.Backend {
	case config.BackendGCS:
		bs, err := gcp.NewBucketStore(ctx, gcp.BucketStoreConfig{
			Bucket:          a.cfg.GCS.Bucket,
			CredentialsFile: a.cfg.GCS.CredentialsFile,
		}, a.log)
		if err != nil {
			return nil, err
		}
		store = bs
		closers = append(closers, bs)
	default:
		c, err := dropbox.NewClient(ctx, dropbox.Config{
			AccessToken:  a.cfg.Dropbox.AccessToken,
			RefreshToken: a.cfg.Dropbox.RefreshToken,
			AppKey:       a.cfg.Dropbox.AppKey,
			AppSecret:    a.cfg.Dropbox.AppSecret,
		}, a.log)
		if err != nil {
			return nil, err
		}
		store = c
	}

	fetcher := provider.NewHTTPFetcher(nil, provider.HTTPFetcherConfig{
		Interval:  a.cfg.HTTP.Interval,
		UserAgent: a.cfg.HTTP.UserAgent,
		Timeout:   a.cfg.HTTP.Timeout,
	}, a.log.Named("fetch"))
	dispatcher := provider.NewDispatcher(fetcher, a.log)

	var notes services.Notes
	if a.cfg.Notes.Enabled {
		var opts []option.ClientOption
		if a.cfg.GCS.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(a.cfg.GCS.CredentialsFile))
		}
		client, err := gcp.NewFirestoreClient(ctx, a.cfg.Notes.ProjectID, opts...)
		if err != nil {
			a.log.Warn("notes disabled", zap.Error(err))
		} else {
			pn := gcp.NewPaperNotes(client, a.cfg.Notes.Collection, a.log)
			notes = pn
			closers = append(closers, pn)
		}
	}

	s := newStack(a, store, dispatcher, notes)
	s.closers = closers
	return s, nil
}
