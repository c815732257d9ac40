package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/taskherd/taskherd/internal/audit"
	"github.com/taskherd/taskherd/internal/batch"
	"github.com/taskherd/taskherd/internal/config"
	"github.com/taskherd/taskherd/internal/engine"
	"github.com/taskherd/taskherd/internal/github"
	"github.com/taskherd/taskherd/internal/lockstore"
	"github.com/taskherd/taskherd/internal/rpc"
	"github.com/taskherd/taskherd/internal/telemetry"
	"github.com/taskherd/taskherd/internal/workflow"
)

var (
	serveToken  string
	serveSocket string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tool operations over line-delimited JSON",
	Long: `Starts one engine session and serves the twelve tool operations on
stdin/stdout, or on a unix socket when --socket (or the config "socket"
key) is set. Each session gets a fresh UUID identity.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveToken, "token", "", "GitHub token (default $GITHUB_TOKEN, then gh auth token)")
	serveCmd.Flags().StringVar(&serveSocket, "socket", "", "unix socket path (default: serve on stdio)")
	rootCmd.AddCommand(serveCmd)
}

// buildEngine runs the bootstrap sequence shared by serve and the
// inspection commands: config, credential, session identity, directories,
// stores, remote client.
func buildEngine(needToken bool) (*engine.Engine, *config.Config, error) {
	cfg, err := config.Load(baseDir)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, nil, err
	}

	token := ""
	if needToken {
		token, err = cfg.ResolveToken(serveToken)
		if err != nil {
			return nil, nil, err
		}
	}

	sessionID := uuid.NewString()

	logger := audit.NewLogger(cfg.Dir(config.LogsDir), sessionID).
		WithRetention(cfg.RetentionDays, cfg.LockRetainDays)
	if err := logger.Sweep(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: audit sweep: %v\n", err)
	}

	eng := engine.New(
		cfg,
		github.NewClient(token),
		lockstore.New(cfg.Dir(config.LocksDir), cfg.LockStaleTimeout),
		workflow.NewStore(cfg.Dir(config.WorkflowDir)),
		batch.NewStore(cfg.Dir(config.BatchesDir)),
		logger,
		sessionID,
	)
	return eng, cfg, nil
}

func runServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := telemetry.Init(ctx, "taskherd", Version); err != nil {
		return err
	}
	defer func() { _ = telemetry.Shutdown(ctx) }()

	eng, cfg, err := buildEngine(true)
	if err != nil {
		return err
	}

	metrics, err := telemetry.NewOperationMetrics()
	if err != nil {
		return fmt.Errorf("building metrics: %w", err)
	}

	server := rpc.NewServer(eng).WithMetrics(metrics)
	fmt.Fprintf(os.Stderr, "taskherd %s session %s\n", Version, eng.SessionID())

	socket := serveSocket
	if socket == "" {
		socket = cfg.SocketPath
	}
	if socket != "" {
		fmt.Fprintf(os.Stderr, "listening on %s\n", socket)
		return server.ServeSocket(ctx, socket)
	}
	return server.ServeStdio(ctx)
}
