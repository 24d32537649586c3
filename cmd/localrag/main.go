// Command localrag indexes personal notes, documents and code into a local
// SQLite database and answers hybrid semantic/keyword queries over them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/localrag/internal/config"
	"github.com/dshills/localrag/internal/logger"
	"github.com/dshills/localrag/internal/service"
	"github.com/dshills/localrag/pkg/types"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// Process exit codes
const (
	exitOK      = 0
	exitError   = 1
	exitPartial = 2 // indexing finished with unit errors
)

// skipConfig marks commands that run without loading the config file
const skipConfig = "skip-config"

// app carries global flags and what PersistentPreRunE builds from them
type app struct {
	cfgFile  string
	logLevel string
	dbPath   string

	cfg      *config.Config
	log      *logger.Logger
	exitCode int
	stderr   io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line and maps the outcome to an exit code
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stderr: stderr}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if a.log != nil {
		_ = a.log.Close()
	}
	if errors.Is(err, context.Canceled) {
		_, _ = fmt.Fprintln(stderr, "Interrupted.")
		return exitError
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	return a.exitCode
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "localrag",
		Short: "Personal knowledge retrieval over notes, documents and code",
		Long: `localrag indexes Obsidian vaults, document folders and git repositories
into a local SQLite database with vector and full-text indexes, and answers
hybrid semantic + keyword queries over everything it has indexed.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default ~/.localrag/config.toml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "database path (overrides db_path)")

	root.AddCommand(
		newIndexCmd(a),
		newSearchCmd(a),
		newCollectionsCmd(a),
		newStatusCmd(a),
		newServeCmd(a),
		newScheduleCmd(a),
		newWatchCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads configuration and the logger before any command runs
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[skipConfig] == "true" {
		return nil
	}

	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.DBPath = config.ExpandHome(a.dbPath)
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	l, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
		Out:    a.stderr,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrConfig, err)
	}

	a.cfg = cfg
	a.log = l
	return nil
}

// openService opens the database and embedder for a command
func (a *app) openService() (*service.Service, error) {
	return service.Open(a.cfg, a.log.Logger)
}
