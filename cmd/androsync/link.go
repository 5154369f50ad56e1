package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sonodavide/androsync/internal/config"
	"github.com/sonodavide/androsync/internal/devicelink"
)

// passwordEnv holds the SFTP password; it is never taken from a flag.
const passwordEnv = "ANDROSYNC_SFTP_PASSWORD"

// linkOpts selects and configures the device link.
type linkOpts struct {
	kind       string
	adbPath    string
	serial     string
	localRoot  string
	host       string
	user       string
	port       int
	keyFile    string
	knownHosts string
	insecure   bool
}

func (o *linkOpts) register(fs *pflag.FlagSet) {
	fs.StringVar(&o.kind, "link", "adb", "device link: adb, sftp or local")
	fs.StringVar(&o.adbPath, "adb", "adb", "path to the adb binary")
	fs.StringVarP(&o.serial, "serial", "s", "", "adb device serial (default: the only connected device)")
	fs.StringVar(&o.localRoot, "device-root", "", "directory standing in for the device with --link local")
	fs.StringVar(&o.host, "host", "", "SFTP host of the handset")
	fs.StringVar(&o.user, "user", "", "SFTP user")
	fs.IntVar(&o.port, "port", 0, "SFTP port (default 2222)")
	fs.StringVarP(&o.keyFile, "ssh-key", "i", "", "SSH private key file")
	fs.StringVar(&o.knownHosts, "known-hosts", "", "known_hosts file (default ~/.ssh/known_hosts)")
	fs.BoolVar(&o.insecure, "insecure", false, "skip SSH host key verification")
}

func (o *linkOpts) applyConfigDefaults(cmd *cobra.Command, cfg config.Config) {
	changed := cmd.Flags().Changed
	d, s := cfg.Defaults, cfg.SFTP
	setString := func(flag string, dst *string, src *string) {
		if !changed(flag) && src != nil {
			*dst = *src
		}
	}
	setString("link", &o.kind, d.Link)
	setString("adb", &o.adbPath, d.ADB)
	setString("serial", &o.serial, d.Serial)
	setString("host", &o.host, s.Host)
	setString("user", &o.user, s.User)
	setString("ssh-key", &o.keyFile, s.KeyFile)
	setString("known-hosts", &o.knownHosts, s.KnownHosts)
	if !changed("port") && s.Port != nil {
		o.port = *s.Port
	}
}

// open connects the selected link. adb is checked for a usable version
// before anything else runs.
//
//nolint:ireturn // the link kind is chosen at runtime
func (o *linkOpts) open(ctx context.Context, logger *slog.Logger) (devicelink.Link, error) {
	switch o.kind {
	case "adb":
		path, err := config.Expand(o.adbPath)
		if err != nil {
			return nil, err
		}
		adb := devicelink.NewADB(devicelink.ADBConfig{Path: path, Serial: o.serial, Logger: logger})
		if err := adb.CheckVersion(ctx); err != nil {
			return nil, fmt.Errorf("adb: %w", err)
		}
		return adb, nil
	case "sftp":
		if o.host == "" {
			return nil, fmt.Errorf("--host is required with --link sftp")
		}
		keyFile, err := config.Expand(o.keyFile)
		if err != nil {
			return nil, err
		}
		knownHosts, err := config.Expand(o.knownHosts)
		if err != nil {
			return nil, err
		}
		logger.Debug("dialing sftp", "host", o.host, "port", o.port)
		link, err := devicelink.DialSFTP(o.host, devicelink.SSHOpts{
			User:       o.user,
			Port:       o.port,
			KeyFile:    keyFile,
			Password:   os.Getenv(passwordEnv),
			KnownHosts: knownHosts,
			Insecure:   o.insecure,
		})
		if err != nil {
			return nil, fmt.Errorf("sftp: %w", err)
		}
		return link, nil
	case "local":
		if o.localRoot == "" {
			return nil, fmt.Errorf("--device-root is required with --link local")
		}
		root, err := config.Expand(o.localRoot)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(root); err != nil {
			return nil, fmt.Errorf("device root: %w", err)
		}
		return devicelink.NewLocal(afero.NewOsFs(), root), nil
	default:
		return nil, fmt.Errorf("unknown --link %q (use adb, sftp or local)", o.kind)
	}
}
