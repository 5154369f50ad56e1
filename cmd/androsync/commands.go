package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sonodavide/androsync/internal/config"
	"github.com/sonodavide/androsync/internal/destfs"
	"github.com/sonodavide/androsync/internal/devicelink"
	"github.com/sonodavide/androsync/internal/engine"
	"github.com/sonodavide/androsync/internal/journal"
	"github.com/sonodavide/androsync/internal/manifest"
	"github.com/sonodavide/androsync/internal/ui"
)

func newBackupCmd(g *globalOpts) *cobra.Command {
	opts := newSessionOpts()
	cmd := &cobra.Command{
		Use:   "backup DEST",
		Short: "Copy new and changed files from the device into DEST",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, g, opts, args[0])
			if err != nil {
				return err
			}
			res, err := s.execute(engine.Run, true)
			if err != nil {
				return err
			}
			return finish(s.out, g, s.dest, res, s.format)
		},
	}
	opts.registerScan(cmd.Flags())
	opts.registerTransfer(cmd.Flags())
	return cmd
}

func newPlanCmd(g *globalOpts) *cobra.Command {
	opts := newSessionOpts()
	var all bool
	cmd := &cobra.Command{
		Use:   "plan DEST",
		Short: "Scan the device and show what a backup would do",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, g, opts, args[0])
			if err != nil {
				return err
			}
			opts.dryRun = true
			res, err := s.execute(engine.Run, false)
			if err != nil {
				return err
			}
			if err := res.Failed(); err != nil {
				g.logger.Error("scan failed", "error", err)
				return &exitError{code: exitCode(res)}
			}
			return ui.WritePlan(s.out, res.Plan, s.format, all)
		},
	}
	opts.registerScan(cmd.Flags())
	cmd.Flags().StringVar(&opts.mode, "mode", "metadata", "change signature: metadata or hash (BLAKE3)")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include unchanged files")
	return cmd
}

func newPruneCmd(g *globalOpts) *cobra.Command {
	opts := newSessionOpts()
	cmd := &cobra.Command{
		Use:   "prune DEST",
		Short: "Forget manifest rows of files deleted from the device",
		Long: "prune scans the device and removes the manifest rows of files that " +
			"are no longer there. Local copies are never deleted.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, g, opts, args[0])
			if err != nil {
				return err
			}
			res, err := s.execute(engine.RunPrune, true)
			if err != nil {
				return err
			}
			return finish(s.out, g, s.dest, res, s.format)
		},
	}
	opts.registerScan(cmd.Flags())
	cmd.Flags().BoolVarP(&opts.dryRun, "dry-run", "n", false, "list orphans without forgetting them")
	return cmd
}

func newStatusCmd(g *globalOpts) *cobra.Command {
	var (
		verify  bool
		workers int
		report  string
	)
	cmd := &cobra.Command{
		Use:   "status DEST",
		Short: "Show what DEST holds and which files keep failing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest, err := config.Expand(args[0])
			if err != nil {
				return err
			}
			format, err := ui.ParseFormat(report)
			if err != nil {
				return err
			}

			m, err := manifest.Load(afero.NewOsFs(), dest)
			if err != nil {
				return err
			}
			st := ui.StatusReport{Dest: dest, Manifest: m.Stats()}

			if _, err := os.Stat(filepath.Join(dest, journal.FileName)); err == nil {
				j, err := journal.Open(dest)
				if err != nil {
					g.logger.Warn("failure journal unavailable", "error", err)
				} else {
					st.Failures, err = j.Failures()
					if cerr := j.Close(); err == nil {
						err = cerr
					}
					if err != nil {
						return fmt.Errorf("read journal: %w", err)
					}
				}
			}

			if verify {
				ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				vr := engine.Verify(ctx, m, engine.VerifyConfig{Tree: destfs.NewOS(dest), Workers: workers})
				st.Verify = &vr
			}

			if err := ui.WriteStatus(cmd.OutOrStdout(), st, format); err != nil {
				return err
			}
			if st.Verify != nil && st.Verify.Failed > 0 {
				return &exitError{code: exitPartial}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "check every local copy against its manifest row")
	cmd.Flags().IntVarP(&workers, "workers", "w", engine.DefaultWorkers, "concurrent verifications")
	cmd.Flags().StringVar(&report, "report", "text", "output format (text, json, yaml)")
	return cmd
}

func newDevicesCmd(g *globalOpts) *cobra.Command {
	var (
		adbPath string
		report  string
	)
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List devices known to adb",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("adb") && g.cfg.Defaults.ADB != nil {
				adbPath = *g.cfg.Defaults.ADB
			}
			format, err := ui.ParseFormat(report)
			if err != nil {
				return err
			}
			path, err := config.Expand(adbPath)
			if err != nil {
				return err
			}
			adb := devicelink.NewADB(devicelink.ADBConfig{Path: path, Logger: g.logger})
			devices, err := adb.Devices(cmd.Context())
			if err != nil {
				return err
			}
			return ui.WriteDevices(cmd.OutOrStdout(), devices, format)
		},
	}
	cmd.Flags().StringVar(&adbPath, "adb", "adb", "path to the adb binary")
	cmd.Flags().StringVar(&report, "report", "text", "output format (text, json, yaml)")
	return cmd
}

func newConfigCmd(g *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the androsync config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a starter config file",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := g.configFile
			if path == "" {
				path = config.Path()
			}
			err := config.Write(path, config.Starter(), force)
			if errors.Is(err, config.ErrExists) {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	pathCmd := &cobra.Command{
		Use:         "path",
		Short:       "Print the config file location",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			path := g.configFile
			if path == "" {
				path = config.Path()
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
		},
	}

	cmd.AddCommand(initCmd, pathCmd)
	return cmd
}
