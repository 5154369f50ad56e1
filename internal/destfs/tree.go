// Package destfs is the local destination tree: temp files next to their
// final location, atomic promotion, and free-space checks.
package destfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/sonodavide/androsync/internal/platform"
)

// TempSuffix marks in-progress transfers.
const TempSuffix = ".androsync-tmp"

var tempNameRE = regexp.MustCompile(`^\..+\.[0-9a-f]{8}` + regexp.QuoteMeta(TempSuffix) + `$`)

// IsTempName reports whether name looks like one of our temp files.
func IsTempName(name string) bool {
	return tempNameRE.MatchString(name)
}

// SpaceFunc reports the bytes still available on the filesystem holding
// path.
type SpaceFunc func(path string) (uint64, error)

// Option configures a Tree.
type Option func(*Tree)

// WithSpace overrides the free-space query.
func WithSpace(fn SpaceFunc) Option {
	return func(t *Tree) { t.space = fn }
}

// Tree is rooted at the backup destination. Paths given to it are
// slash-separated and relative to the root.
type Tree struct {
	fs    afero.Fs
	root  string
	space SpaceFunc

	mu    sync.Mutex
	temps map[string]struct{} // live temp files (absolute)
}

// New returns a tree over fsys. Free space is queried with statfs when fsys
// is the OS filesystem; other filesystems report errors.ErrUnsupported
// unless WithSpace is given.
func New(fsys afero.Fs, root string, opts ...Option) *Tree {
	t := &Tree{
		fs:    fsys,
		root:  filepath.Clean(root),
		temps: make(map[string]struct{}),
	}
	if _, ok := fsys.(*afero.OsFs); ok {
		t.space = platform.Available
	} else {
		t.space = func(string) (uint64, error) { return 0, errors.ErrUnsupported }
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// NewOS returns a tree on the real filesystem.
func NewOS(root string, opts ...Option) *Tree {
	return New(afero.NewOsFs(), root, opts...)
}

// Root returns the destination root.
func (t *Tree) Root() string { return t.root }

// Fs returns the underlying filesystem.
func (t *Tree) Fs() afero.Fs { return t.fs }

// Abs maps a relative path onto the destination.
func (t *Tree) Abs(rel string) string {
	return filepath.Join(t.root, filepath.FromSlash(rel))
}

// Exists reports whether rel exists.
func (t *Tree) Exists(rel string) (bool, error) {
	return afero.Exists(t.fs, t.Abs(rel))
}

// Available returns the free bytes on the destination filesystem.
func (t *Tree) Available() (uint64, error) {
	return t.space(t.root)
}

// TempFile is an in-progress transfer destined for Target.
type TempFile struct {
	afero.File
	tree   *Tree
	Target string // relative final path
	abs    string
	closed bool
}

// CreateTemp creates .<base>.<uuid8>.androsync-tmp in rel's final directory
// so promotion is a same-filesystem rename.
func (t *Tree) CreateTemp(rel string) (*TempFile, error) {
	final := t.Abs(rel)
	dir := filepath.Dir(final)
	if err := t.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}
	name := fmt.Sprintf(".%s.%s%s", filepath.Base(final), uuid.New().String()[:8], TempSuffix)
	abs := filepath.Join(dir, name)

	f, err := t.fs.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create temp %s: %w", abs, err)
	}
	t.register(abs)
	return &TempFile{File: f, tree: t, Target: path.Clean(rel), abs: abs}, nil
}

// Path returns the temp file's absolute path.
func (f *TempFile) Path() string { return f.abs }

// Preallocate reserves size bytes where the OS supports it.
func (f *TempFile) Preallocate(size int64) error {
	if osf, ok := f.File.(*os.File); ok {
		return platform.Preallocate(osf, size)
	}
	return nil
}

// Discard closes and removes the temp file. Safe to call more than once.
func (f *TempFile) Discard() error {
	if !f.closed {
		f.closed = true
		_ = f.File.Close()
	}
	err := f.tree.fs.Remove(f.abs)
	f.tree.deregister(f.abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Promote makes the temp file durable and renames it over its target,
// creating parent directories as needed.
func (t *Tree) Promote(f *TempFile) error {
	if err := f.Sync(); err != nil {
		return fmt.Errorf("fsync %s: %w", f.abs, err)
	}
	f.closed = true
	if err := f.File.Close(); err != nil {
		return fmt.Errorf("close %s: %w", f.abs, err)
	}
	final := t.Abs(f.Target)
	if err := t.fs.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", f.Target, err)
	}
	if err := t.fs.Rename(f.abs, final); err != nil {
		return fmt.Errorf("rename %s: %w", f.Target, err)
	}
	t.deregister(f.abs)
	syncDir(t.fs, filepath.Dir(final))
	return nil
}

// SweepTemp removes temp files left behind by a session that crashed. It
// returns how many were removed.
func (t *Tree) SweepTemp() (int, error) {
	removed := 0
	err := afero.Walk(t.fs, t.root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.IsDir() || !IsTempName(info.Name()) {
			return nil
		}
		t.mu.Lock()
		_, live := t.temps[p]
		t.mu.Unlock()
		if live {
			return nil
		}
		if err := t.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale temp %s: %w", p, err)
		}
		removed++
		return nil
	})
	return removed, err
}

// CleanupTemps removes every temp file this tree still has open.
func (t *Tree) CleanupTemps() {
	t.mu.Lock()
	paths := make([]string, 0, len(t.temps))
	for p := range t.temps {
		paths = append(paths, p)
	}
	t.temps = make(map[string]struct{})
	t.mu.Unlock()

	for _, p := range paths {
		_ = t.fs.Remove(p)
	}
}

// LiveTemps returns the number of temp files not yet promoted or discarded.
func (t *Tree) LiveTemps() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.temps)
}

func (t *Tree) register(p string) {
	t.mu.Lock()
	t.temps[p] = struct{}{}
	t.mu.Unlock()
}

func (t *Tree) deregister(p string) {
	t.mu.Lock()
	delete(t.temps, p)
	t.mu.Unlock()
}

func syncDir(fsys afero.Fs, dir string) {
	d, err := fsys.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
