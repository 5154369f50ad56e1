package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sonodavide/androsync/internal/config"
	"github.com/sonodavide/androsync/internal/engine"
	"github.com/sonodavide/androsync/internal/platform"
	"github.com/sonodavide/androsync/internal/ui"
)

var version = "dev"

// Exit codes.
const (
	exitOK      = 0
	exitPartial = 1
	exitFatal   = 2
	exitLocked  = 3
)

func main() {
	os.Exit(run())
}

// globalOpts are the flags every command shares.
type globalOpts struct {
	verbose    bool
	quiet      bool
	logFile    string
	configFile string

	cfg     config.Config
	logger  *slog.Logger
	closeFn func()
}

func run() int {
	g := &globalOpts{}
	root := newRootCmd(g)
	err := root.Execute()
	if g.closeFn != nil {
		g.closeFn()
	}
	if err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFatal
	}
	return exitOK
}

func newRootCmd(g *globalOpts) *cobra.Command {
	var showVersion bool

	rootCmd := &cobra.Command{
		Use:   "androsync",
		Short: "Incremental, resumable backup of an Android device",
		Long: "androsync copies files from a handset (over adb, SFTP or a mounted " +
			"directory) into a local tree, remembering what it already has in a " +
			"manifest so interrupted or repeated sessions only move what changed.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.setup(cmd.Annotations[skipConfig] == "")
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				fmt.Fprintf(os.Stdout, "androsync %s\n", version)
				return nil
			}
			return cmd.Help()
		},
	}

	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "verbose output")
	pf.BoolVarP(&g.quiet, "quiet", "q", false, "suppress all output except errors")
	pf.StringVar(&g.logFile, "log", "", "write structured JSON log to FILE")
	pf.StringVar(&g.configFile, "config", "", "config file (default $XDG_CONFIG_HOME/androsync/config.toml)")

	rootCmd.AddCommand(
		newBackupCmd(g),
		newPlanCmd(g),
		newPruneCmd(g),
		newStatusCmd(g),
		newDevicesCmd(g),
		newConfigCmd(g),
		newDocsCmd(),
	)
	return rootCmd
}

// skipConfig marks commands that must run even when the config file is
// broken.
const skipConfig = "androsync/skip-config"

// setup configures logging and, when loadConfig is set, loads the config
// file.
func (g *globalOpts) setup(loadConfig bool) error {
	logLevel := slog.LevelWarn
	if g.verbose {
		logLevel = slog.LevelDebug
	} else if !g.quiet {
		logLevel = slog.LevelInfo
	}
	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	var logHandler slog.Handler = textHandler
	if g.logFile != "" {
		lf, err := os.Create(g.logFile)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		g.closeFn = func() { lf.Close() }
		jsonHandler := slog.NewJSONHandler(lf, &slog.HandlerOptions{Level: slog.LevelDebug})
		logHandler = ui.NewMultiHandler(textHandler, jsonHandler)
	}
	g.logger = slog.New(logHandler)
	slog.SetDefault(g.logger)

	if !loadConfig {
		return nil
	}
	var err error
	if g.configFile != "" {
		g.cfg, err = config.LoadFile(g.configFile)
	} else {
		g.cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return nil
}

// exitCode maps a session result onto the process exit status.
func exitCode(res engine.Result) int {
	switch {
	case errors.Is(res.Err, platform.ErrSessionLocked):
		return exitLocked
	case res.Failed() != nil:
		return exitFatal
	case res.DryRun:
		return exitOK
	case len(res.Session.Failed) > 0 || res.Session.Cancelled:
		if res.Session.Transferred() > 0 {
			return exitPartial
		}
		return exitFatal
	default:
		return exitOK
	}
}

// finish reports res and converts its outcome into an exit error.
func finish(w io.Writer, g *globalOpts, dest string, res engine.Result, format ui.Format) error {
	if err := res.Failed(); err != nil {
		g.logger.Error("session failed", "error", err)
	}
	if !g.quiet || format != ui.FormatText {
		if err := ui.WriteReport(w, ui.NewReport(dest, res), format); err != nil {
			return err
		}
	}
	if code := exitCode(res); code != exitOK {
		return &exitError{code: code}
	}
	return nil
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}
