package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/thiagokokada/gitctx/internal/buildinfo"
	"github.com/thiagokokada/gitctx/internal/config"
	"github.com/thiagokokada/gitctx/internal/worker"
)

func Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
}

// app carries state shared by all subcommands once flags are parsed.
type app struct {
	v          *viper.Viper
	cfg        config.Config
	configFile string
	verbose    bool
	repo       string
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	root := newRootCmd(&app{v: config.New()})
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "gitctx",
		Short:         "Diff, list and read Git refs and the working tree",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.ErrOrStderr())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default ./gitctx.yaml)")
	flags.BoolVar(&a.verbose, "verbose", false, "enable verbose logging")
	flags.StringVarP(&a.repo, "repo", "C", ".", "path inside the repository")
	flags.String("log-format", "text", "log format: text or json")
	flags.Duration("timeout", worker.DefaultTimeout, "per request timeout")
	flags.Int("cache-size", 0, "blob cache capacity (default from config)")
	bindFlag(a.v, "log_format", flags.Lookup("log-format"))
	bindFlag(a.v, "request_timeout", flags.Lookup("timeout"))
	bindFlag(a.v, "blob_cache_size", flags.Lookup("cache-size"))

	root.AddCommand(
		newServeCmd(a),
		newBranchesCmd(a),
		newDiffCmd(a),
		newFilesCmd(a),
		newReadCmd(a),
		newResolveCmd(a),
		newAssembleCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) setup(stderr io.Writer) error {
	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.LogLevel = "debug"
	}
	logger, err := newLogger(stderr, cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	a.cfg = cfg
	return nil
}

func newLogger(w io.Writer, cfg config.Config) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// openRepo runs an in-process worker on the repository and loads it.
func (a *app) openRepo(ctx context.Context) (*worker.Client, func(), error) {
	root, err := filepath.Abs(a.repo)
	if err != nil {
		return nil, nil, err
	}
	w := worker.New(a.cfg.WorkerOptions())
	c := worker.Spawn(ctx, w, worker.ClientOptions{
		Timeout: a.cfg.RequestTimeout,
		OnProgress: func(id int64, msg string) {
			slog.Debug("progress", slog.Int64("id", id), slog.String("message", msg))
		},
	})
	cleanup := func() {
		c.Dispose()
		if err := w.Close(); err != nil {
			slog.Error("close worker", slog.Any("error", err))
		}
	}
	if _, err := c.LoadRepo(ctx, worker.LoadSpec{RepoPath: root}); err != nil {
		cleanup()
		return nil, nil, err
	}
	return c, cleanup, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Skips config loading so version works with a broken config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String())
			return err
		},
	}
}
