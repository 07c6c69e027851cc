package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gbionescu/reddit-moderator-bot/internal/bot"
	"github.com/gbionescu/reddit-moderator-bot/internal/config"
	"github.com/gbionescu/reddit-moderator-bot/internal/console"
	"github.com/gbionescu/reddit-moderator-bot/internal/docstore"
	"github.com/gbionescu/reddit-moderator-bot/internal/hook"
	"github.com/gbionescu/reddit-moderator-bot/internal/logging"
	"github.com/gbionescu/reddit-moderator-bot/internal/luaplugin"
	"github.com/gbionescu/reddit-moderator-bot/internal/notify"
	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
	"github.com/gbionescu/reddit-moderator-bot/internal/platform/fake"
	"github.com/gbionescu/reddit-moderator-bot/internal/platform/reddit"
	"github.com/gbionescu/reddit-moderator-bot/internal/plugins"
	"github.com/gbionescu/reddit-moderator-bot/internal/store"
)

// Backends accepted by run --backend.
const (
	BackendReddit = "reddit"
	BackendTest   = "test"
)

// RunOptions holds the flags of run.
type RunOptions struct {
	*RootOptions
	Config  string
	Backend string

	// Client replaces the backend chosen by --backend. Tests set it.
	Client platform.Client
	// Ready is called with the manager before it starts.
	Ready func(*bot.Manager)
}

// NewRunCommand returns the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}
	return newRunCommand(opts)
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot",
		Long: `Run the bot until interrupted.

The test backend runs against an in-memory platform where the bot
moderates the master subreddit; pair it with the console to try
plugins without a reddit account.

Example:
  modbot run --config bot.ini
  modbot run --config bot.ini --backend test --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(opts, cmd)
		},
	}
	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "configuration file (required)")
	cmd.Flags().StringVar(&opts.Backend, "backend", BackendReddit, "platform backend (reddit|test)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runBot(opts *RunOptions, cmd *cobra.Command) error {
	if opts.Backend != BackendReddit && opts.Backend != BackendTest {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown backend %q", opts.Backend))
	}
	live := opts.Backend == BackendReddit && opts.Client == nil

	cfg, err := config.Load(opts.Config, live)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	logger, closeLog, err := logging.New(logging.Options{
		Dir:        cfg.Log.Dir,
		Level:      level,
		Production: cfg.Mode.Production,
		Console:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up logging", err)
	}
	defer func() { _ = closeLog() }()
	log := logger.Sugar()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	docs, err := docstore.Open(cfg.Storage.Root, log.Named("storage"))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open storage", err)
	}

	var db *store.Store
	if cfg.Database.Path != "" {
		db, err = store.Open(cfg.Database.Path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Errorw("error closing database", "error", err)
			}
		}()
	}

	client := opts.Client
	if client == nil {
		client = newClient(cfg, opts.Backend, log)
	}

	sink, closeSinks, err := openSinks(ctx, cfg.Notify, log)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open notification sinks", err)
	}
	defer closeSinks()

	registry := hook.NewRegistry()
	if err := plugins.Register(registry, plugins.Options{
		Log:     log.Named("plugins"),
		Archive: cfg.Plugins.Archive,
		Forward: cfg.Plugins.Forward,
	}); err != nil {
		return WrapExitError(ExitFailure, "failed to register plugins", err)
	}

	loader := luaplugin.NewLoader(registry, log.Named("lua"))
	defer loader.Close()
	for _, dir := range cfg.Bot.PluginFolders {
		n, err := loader.LoadDir(dir)
		if err != nil {
			log.Warnw("some plugins failed to load", "dir", dir, "error", err)
		}
		log.Infow("plugins loaded", "dir", dir, "count", n)
	}

	var mgr *bot.Manager
	mopts := []bot.Option{bot.WithLogger(log.Named("bot"))}
	if sink != nil {
		mopts = append(mopts, bot.WithSink(sink))
	}
	if cfg.Debug.Reload && len(cfg.Bot.PluginFolders) > 0 {
		reloader := luaplugin.NewReloader(loader, cfg.Bot.PluginFolders, log.Named("reload"))
		mopts = append(mopts, bot.WithRunner(reloader.Run))
	}
	if cfg.Console.Enabled {
		mopts = append(mopts, bot.WithRunner(func(ctx context.Context) error {
			srv := console.New(cfg.Console.Addr, mgr,
				console.WithUser(cfg.Console.User),
				console.WithLogger(log.Named("console")))
			return srv.Run(ctx)
		}))
	}

	mgr, err = bot.New(bot.Config{
		Owner:           cfg.Owner.Name,
		MasterSubreddit: cfg.Bot.MasterSubreddit,
		CommandPrefix:   cfg.Bot.CommandPrefix,
		MaxWorkers:      cfg.Feeder.MaxWorkers,
		ItemsPerWorker:  int64(cfg.Feeder.ItemsPerWorker),
		WatchComments:   cfg.Feeder.WatchComments,
	}, client, docs, db, registry, mopts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create bot", err)
	}
	defer mgr.Close()
	if opts.Ready != nil {
		opts.Ready(mgr)
	}

	log.Infow("bot starting", "backend", opts.Backend, "config", opts.Config)
	fmt.Fprintln(cmd.OutOrStdout(), "Bot started. Press Ctrl-C to stop.")

	start := time.Now()
	if err := mgr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "bot stopped", err)
	}
	log.Infow("bot stopped", "uptime", time.Since(start).Round(time.Second))
	return nil
}

// newClient builds the platform client for backend.
func newClient(cfg config.Config, backend string, log *zap.SugaredLogger) platform.Client {
	if backend == BackendTest {
		name := cfg.Reddit.Username
		if name == "" {
			name = "modbot"
		}
		p := fake.New(name)
		if cfg.Bot.MasterSubreddit != "" {
			p.AddSubreddit(cfg.Bot.MasterSubreddit, cfg.Owner.Name)
		}
		return p
	}
	return reddit.New(reddit.Credentials{
		ClientID:     cfg.Reddit.ClientID,
		ClientSecret: cfg.Reddit.ClientSecret,
		Username:     cfg.Reddit.Username,
		Password:     cfg.Reddit.Password,
		UserAgent:    cfg.Reddit.UserAgent,
	}, reddit.WithLogger(log.Named("reddit")))
}

// openSinks connects the configured notification sinks. The returned sink
// is nil when none are configured.
func openSinks(ctx context.Context, cfg config.Notify, log *zap.SugaredLogger) (notify.Sink, func(), error) {
	var sinks notify.Multi
	var closers []func() error
	for _, url := range cfg.Webhooks {
		sinks = append(sinks, notify.NewWebhook(url, nil))
	}
	if cfg.RedisAddr != "" {
		r, err := notify.DialRedis(ctx, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			return nil, func() {}, err
		}
		sinks = append(sinks, r)
		closers = append(closers, r.Close)
		log.Infow("publishing events to redis", "addr", cfg.RedisAddr, "channel", cfg.RedisChannel)
	}
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Warnw("error closing sink", "error", err)
			}
		}
	}
	if len(sinks) == 0 {
		return nil, closeAll, nil
	}
	return sinks, closeAll, nil
}
