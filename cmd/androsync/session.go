package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sonodavide/androsync/internal/config"
	"github.com/sonodavide/androsync/internal/engine"
	"github.com/sonodavide/androsync/internal/event"
	"github.com/sonodavide/androsync/internal/stats"
	"github.com/sonodavide/androsync/internal/ui"
)

// runner is either engine.Run or engine.RunPrune.
type runner func(context.Context, engine.Config) engine.Result

// session wires flags, link, presenter and engine together for one
// backup, plan or prune run.
type session struct {
	g      *globalOpts
	opts   *sessionOpts
	dest   string
	format ui.Format
	out    io.Writer
}

func newSession(cmd *cobra.Command, g *globalOpts, opts *sessionOpts, arg string) (*session, error) {
	dest, err := config.Expand(arg)
	if err != nil {
		return nil, err
	}
	if err := opts.applyConfigDefaults(cmd, g.cfg); err != nil {
		return nil, err
	}
	format, err := opts.reportFormat()
	if err != nil {
		return nil, err
	}
	return &session{g: g, opts: opts, dest: dest, format: format, out: cmd.OutOrStdout()}, nil
}

// execute runs fn against the device and returns its result. Progress is
// shown on stderr while it runs.
func (s *session) execute(fn runner, showProgress bool) (engine.Result, error) {
	ec, err := s.opts.engineConfig(s.g.cfg)
	if err != nil {
		return engine.Result{}, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	link, err := s.opts.link.open(ctx, s.g.logger)
	if err != nil {
		return engine.Result{}, err
	}
	defer func() {
		if err := link.Close(); err != nil {
			s.g.logger.Debug("closing link", "error", err)
		}
	}()

	collector := stats.NewCollector()
	events := make(chan event.Event, 256)
	var presented <-chan event.Event = events
	if s.g.logFile != "" {
		presented = ui.Tee(events, s.g.logger)
	}

	// Structured reports own stdout; progress goes to stderr.
	progressOut := s.out
	if s.format != ui.FormatText || !showProgress {
		progressOut = os.Stderr
	}
	isTTY, width := ui.Terminal(os.Stderr)
	presenter := ui.NewPresenter(ui.Config{
		Writer:     progressOut,
		ErrWriter:  os.Stderr,
		Stats:      collector,
		Dest:       s.dest,
		Width:      width,
		IsTTY:      isTTY,
		Quiet:      s.g.quiet || !showProgress,
		Verbose:    s.g.verbose,
		NoProgress: s.opts.noProgress,
	})
	done := make(chan error, 1)
	go func() { done <- presenter.Run(presented) }()

	ec.Link = link
	ec.Dest = s.dest
	ec.Stats = collector
	ec.Events = events
	ec.Logger = s.g.logger
	res := fn(ctx, ec)

	close(events)
	if err := <-done; err != nil {
		s.g.logger.Warn("progress display", "error", err)
	}
	if !s.g.quiet && showProgress && res.Err == nil {
		fmt.Fprintln(os.Stderr, presenter.Summary())
	}
	return res, nil
}
