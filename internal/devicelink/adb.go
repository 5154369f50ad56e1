package devicelink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-version"
)

// MinADBVersion is the oldest adb whose exec-out streams binary data
// without tty mangling.
var MinADBVersion = version.Must(version.NewVersion("1.0.39"))

const listFormat = "%F|%s|%Y|%n"

// ADBConfig configures an ADB link.
type ADBConfig struct {
	Path        string        // adb binary; default "adb"
	Serial      string        // target device; empty = the only device
	CallTimeout time.Duration // bound for short commands; default 30s
	Logger      *slog.Logger
}

// ADB drives the adb binary.
type ADB struct {
	path    string
	serial  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewADB returns a link that shells out to adb.
func NewADB(cfg ADBConfig) *ADB {
	if cfg.Path == "" {
		cfg.Path = "adb"
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ADB{path: cfg.Path, serial: cfg.Serial, timeout: cfg.CallTimeout, logger: cfg.Logger}
}

var _ Link = (*ADB)(nil)
var _ Describer = (*ADB)(nil)

func (a *ADB) args(rest ...string) []string {
	if a.serial == "" {
		return rest
	}
	return append([]string{"-s", a.serial}, rest...)
}

// run executes a short adb command and returns stdout. Failures are
// classified from stderr.
func (a *ADB) run(ctx context.Context, op, target string, args ...string) ([]byte, []byte, error) {
	return a.runRaw(ctx, op, target, a.args(args...))
}

func (a *ADB) runRaw(ctx context.Context, op, target string, argv []string) ([]byte, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, a.path, argv...)
	cmd.WaitDelay = time.Second
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		a.logger.Debug("adb command failed", "op", op, "path", target, "error", err,
			"stderr", strings.TrimSpace(stderr.String()))
		return stdout.Bytes(), stderr.Bytes(), a.classify(ctx, op, target, err, stderr.String())
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}

var (
	permissionMarkers = []string{"permission denied", "operation not permitted"}
	missingMarkers    = []string{"no such file or directory"}
)

func (a *ADB) classify(ctx context.Context, op, target string, err error, stderr string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return newError(Timeout, op, target, ctxErr)
		}
		return fmt.Errorf("%s %s: %w", op, target, ctxErr)
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return newError(Unreachable, op, target, fmt.Errorf("adb binary: %w", err))
	}

	low := strings.ToLower(stderr)
	detail := fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr))
	switch {
	case containsAny(low, permissionMarkers):
		return newError(PermissionDenied, op, target, detail)
	case containsAny(low, missingMarkers):
		return newError(NotFound, op, target, detail)
	default:
		// device offline, unauthorized, daemon gone, protocol fault...
		return newError(Unreachable, op, target, detail)
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// shellQuote quotes s for the device's /bin/sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// List runs find(1) on the device, one stat line per child.
func (a *ADB) List(ctx context.Context, dir string) ([]Entry, error) {
	target := strings.TrimRight(dir, "/") + "/"
	script := fmt.Sprintf("find %s -mindepth 1 -maxdepth 1 -exec stat -c %s {} +",
		shellQuote(target), shellQuote(listFormat))

	stdout, stderr, err := a.run(ctx, "list", dir, "shell", script)
	if err != nil {
		// find exits non-zero when a single child cannot be stat'ed; keep
		// what was listed unless the directory itself is the problem.
		if len(stdout) == 0 || dirDenied(string(stderr), target) {
			return nil, err
		}
		a.logger.Warn("partial directory listing", "path", dir, "error", err)
	}
	return parseStatLines(dir, stdout), nil
}

// rootsScript prints the resolved /sdcard, then "volume|resolved" for every
// entry under /storage.
const rootsScript = `readlink -f /sdcard; for d in /storage/*; do printf '%s|%s\n' "$d" "$(readlink -f "$d")"; done 2>/dev/null`

// Roots returns /sdcard followed by every removable volume under /storage
// that is not another name for a volume already listed.
func (a *ADB) Roots(ctx context.Context) ([]string, error) {
	stdout, _, err := a.run(ctx, "roots", "/storage", "shell", rootsScript)
	if err != nil && len(stdout) == 0 {
		return nil, err
	}
	return parseStorageRoots(stdout), nil
}

func dirDenied(stderr, dir string) bool {
	for _, p := range deniedPaths(stderr) {
		if strings.TrimRight(p, "/") == strings.TrimRight(dir, "/") {
			return true
		}
	}
	return false
}

var deniedRE = regexp.MustCompile(`(?m)^find:\s*'?(.*?)'?:\s*Permission denied`)

// deniedPaths extracts the paths find(1) could not read.
func deniedPaths(stderr string) []string {
	var out []string
	for _, m := range deniedRE.FindAllStringSubmatch(stderr, -1) {
		if p := strings.TrimSpace(m[1]); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Fetch streams path with exec-out cat. The size comes from a stat issued
// just before the stream starts.
func (a *ADB) Fetch(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	out, _, err := a.run(ctx, "stat", path, "shell", "stat -c %s "+shellQuote(path))
	if err != nil {
		return nil, 0, err
	}
	size, perr := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if perr != nil {
		return nil, 0, newError(Unreachable, "stat", path, fmt.Errorf("unexpected stat output %q", out))
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, a.path, a.args("exec-out", "cat "+shellQuote(path))...)
	cmd.WaitDelay = time.Second
	cmd.Stderr = &stderr
	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, 0, newError(Unreachable, "fetch", path, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, 0, a.classify(ctx, "fetch", path, err, "")
	}
	return &adbStream{a: a, ctx: ctx, path: path, cmd: cmd, pipe: pipe, stderr: &stderr}, size, nil
}

// adbStream turns a non-zero exit of the cat process into a read error
// instead of a silent EOF.
type adbStream struct {
	a      *ADB
	ctx    context.Context
	path   string
	cmd    *exec.Cmd
	pipe   io.ReadCloser
	stderr *bytes.Buffer

	once    sync.Once
	waitErr error
}

func (s *adbStream) Read(p []byte) (int, error) {
	n, err := s.pipe.Read(p)
	if err == io.EOF {
		if werr := s.wait(); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func (s *adbStream) wait() error {
	s.once.Do(func() {
		if err := s.cmd.Wait(); err != nil {
			s.waitErr = s.a.classify(s.ctx, "fetch", s.path, err, s.stderr.String())
		}
	})
	return s.waitErr
}

func (s *adbStream) Close() error {
	if s.cmd.ProcessState == nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.pipe.Close()
	s.once.Do(func() { s.waitErr = s.cmd.Wait() })
	return nil
}

// Close is a no-op; the adb server owns the device connection.
func (a *ADB) Close() error { return nil }

// Version returns the adb client version.
func (a *ADB) Version(ctx context.Context) (*version.Version, error) {
	out, _, err := a.runRaw(ctx, "version", "", []string{"version"})
	if err != nil {
		return nil, err
	}
	return parseADBVersion(string(out))
}

// CheckVersion fails if adb is older than MinADBVersion.
func (a *ADB) CheckVersion(ctx context.Context) error {
	v, err := a.Version(ctx)
	if err != nil {
		return err
	}
	if v.LessThan(MinADBVersion) {
		return fmt.Errorf("adb %s is too old: need %s or newer", v, MinADBVersion)
	}
	return nil
}

// Devices lists every device the adb server knows about.
func (a *ADB) Devices(ctx context.Context) ([]Device, error) {
	out, _, err := a.runRaw(ctx, "devices", "", []string{"devices", "-l"})
	if err != nil {
		return nil, err
	}
	return parseDevices(string(out)), nil
}

// Describe returns the configured device, or the single ready device when
// no serial was given.
func (a *ADB) Describe(ctx context.Context) (Device, error) {
	devices, err := a.Devices(ctx)
	if err != nil {
		return Device{}, err
	}
	return pickDevice(devices, a.serial)
}

func pickDevice(devices []Device, serial string) (Device, error) {
	var ready []Device
	for _, d := range devices {
		if serial != "" && d.Serial == serial {
			if !d.Ready() {
				return Device{}, newError(Unreachable, "describe", serial, fmt.Errorf("device state %q", d.State))
			}
			return d, nil
		}
		if d.Ready() {
			ready = append(ready, d)
		}
	}
	switch {
	case serial != "":
		return Device{}, newError(Unreachable, "describe", serial, errors.New("device not connected"))
	case len(ready) == 0:
		return Device{}, newError(Unreachable, "describe", "", errors.New("no authorized device connected"))
	case len(ready) > 1:
		return Device{}, newError(Unreachable, "describe", "", fmt.Errorf("%d devices connected; pick one with --serial", len(ready)))
	}
	return ready[0], nil
}
