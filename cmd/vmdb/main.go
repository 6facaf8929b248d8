package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/meteorwatch/vmdb/internal/config"
	"github.com/meteorwatch/vmdb/internal/database"
	"github.com/meteorwatch/vmdb/internal/log"
)

const version = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH

// Exit codes
const (
	exitOK        = 0
	exitSetup     = 1
	exitDatabase  = 2
	exitConflicts = 3
	exitRejected  = 4
)

// exitError carries the process exit code of a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// globals are the persistent flags and what PersistentPreRunE builds from
// them.
type globals struct {
	cfgFile string
	debug   bool
	logFile string

	cfg *config.Config
}

func main() {
	g := &globals{}
	root := newRootCmd(g)

	code := exitCode(root.ExecuteContext(context.Background()))
	log.Sync()
	os.Exit(code)
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		switch ee.code {
		case exitDatabase:
			log.Criticalw("run aborted", "error", ee.err)
		case exitConflicts, exitRejected:
			log.Warn(ee.err)
		default:
			fmt.Fprintf(os.Stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return exitSetup
}

func newRootCmd(g *globals) *cobra.Command {
	root := &cobra.Command{
		Use:           "vmdb",
		Short:         "Import and normalize visual meteor observations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return withCode(exitSetup, g.setup())
		},
	}

	root.PersistentFlags().StringVar(&g.cfgFile, "config", "", "Path to the configuration file (defaults and VMDB_* environment when empty)")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "Turn on debugging output")
	root.PersistentFlags().StringVar(&g.logFile, "log-file", "", "Also write a JSON log to this file")

	root.AddCommand(
		newInitDBCmd(g),
		newMigrateCmd(g),
		newImportCmd(g),
		newNormalizeCmd(g),
		newSolarLongCmd(g),
		newCleanupCmd(g),
		newVersionCmd(),
	)
	return root
}

// setup loads the configuration and initializes logging.
func (g *globals) setup() error {
	cfg, err := config.Load(g.cfgFile)
	if err != nil {
		return err
	}
	if g.debug {
		cfg.Logging.Debug = true
	}
	if g.logFile != "" {
		cfg.Logging.File = g.logFile
	}

	warnings, err := cfg.Validate()
	if err != nil {
		return err
	}

	if err := log.Init(log.Options{
		Debug:      cfg.Logging.Debug,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	for _, w := range warnings {
		log.Warn(w)
	}

	g.cfg = cfg
	return nil
}

// openDB connects to the configured database. The caller closes it.
func (g *globals) openDB(ctx context.Context) (*database.Client, error) {
	db, err := database.Open(ctx, database.Options{
		Driver:       g.cfg.Database.Driver,
		DSN:          g.cfg.Database.DSN,
		MaxOpenConns: g.cfg.Database.MaxOpenConns,
	}, log.GetSugaredLogger())
	if err != nil {
		return nil, withCode(exitDatabase, err)
	}
	return db, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vmdb %s\n", version)
		},
	}
}
