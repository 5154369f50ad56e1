// Package manifest persists what has already been backed up from a device,
// keyed by remote path, in <dest>/.backup_manifest.json.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/sonodavide/androsync/internal/category"
)

const (
	// FileName is the manifest's name inside the destination root.
	FileName = ".backup_manifest.json"
	// SchemaVersion is the newest on-disk format this build understands.
	SchemaVersion = 1

	tmpSuffix = ".tmp"
)

// Entry records one remote file that was fully transferred and promoted.
type Entry struct {
	RemotePath  string            `json:"remote_path"`
	Size        uint64            `json:"size"`
	RemoteMtime time.Time         `json:"remote_mtime"`
	Signature   string            `json:"signature"`
	LocalPath   string            `json:"local_path"`
	SyncedAt    time.Time         `json:"synced_at"`
	Category    category.Category `json:"category"`
}

// Metadata describes the backup as a whole.
type Metadata struct {
	CreatedAt    time.Time `json:"created_at"`
	LastSync     time.Time `json:"last_sync,omitzero"`
	DeviceSerial string    `json:"device_serial,omitempty"`
	DeviceModel  string    `json:"device_model,omitempty"`
}

type document struct {
	SchemaVersion int      `json:"schema_version"`
	Metadata      Metadata `json:"metadata"`
	Files         []Entry  `json:"files"`
}

// Option configures Load.
type Option func(*Manifest)

// WithClock sets the clock used for SyncedAt, CreatedAt and LastSync.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manifest) { m.clock = c }
}

// Manifest is the in-memory view of the manifest file. It is safe for
// concurrent use, but a destination has exactly one owning session.
type Manifest struct {
	mu      sync.RWMutex
	fs      afero.Fs
	path    string
	clock   clockwork.Clock
	meta    Metadata
	entries map[string]Entry
	byLocal map[string]string // folded LocalPath -> RemotePath
}

// Load reads the manifest under root. A missing file yields an empty
// manifest; anything unreadable yields a *CorruptError.
func Load(fsys afero.Fs, root string, opts ...Option) (*Manifest, error) {
	m := &Manifest{
		fs:      fsys,
		path:    filepath.Join(root, FileName),
		clock:   clockwork.NewRealClock(),
		entries: make(map[string]Entry),
		byLocal: make(map[string]string),
	}
	for _, o := range opts {
		o(m)
	}

	data, err := afero.ReadFile(fsys, m.path)
	if errors.Is(err, fs.ErrNotExist) {
		m.meta.CreatedAt = m.now()
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &CorruptError{Path: m.path, Reason: "invalid JSON", Err: err}
	}
	if doc.SchemaVersion < 1 || doc.SchemaVersion > SchemaVersion {
		return nil, &CorruptError{
			Path:   m.path,
			Reason: fmt.Sprintf("unsupported schema_version %d (want <= %d)", doc.SchemaVersion, SchemaVersion),
		}
	}

	m.meta = doc.Metadata
	for _, e := range doc.Files {
		if reason := m.check(e); reason != "" {
			return nil, &CorruptError{Path: m.path, Reason: reason}
		}
		m.insert(e)
	}
	return m, nil
}

func (m *Manifest) check(e Entry) string {
	switch {
	case e.RemotePath == "":
		return "entry with empty remote_path"
	case e.LocalPath == "":
		return fmt.Sprintf("entry %s has empty local_path", e.RemotePath)
	}
	if _, dup := m.entries[e.RemotePath]; dup {
		return fmt.Sprintf("duplicate remote_path %s", e.RemotePath)
	}
	if owner, dup := m.byLocal[foldPath(e.LocalPath)]; dup {
		return fmt.Sprintf("local_path %s claimed by both %s and %s", e.LocalPath, owner, e.RemotePath)
	}
	return ""
}

func (m *Manifest) insert(e Entry) {
	m.entries[e.RemotePath] = e
	m.byLocal[foldPath(e.LocalPath)] = e.RemotePath
}

func (m *Manifest) now() time.Time {
	return m.clock.Now().UTC()
}

// Path returns the manifest file location.
func (m *Manifest) Path() string { return m.path }

// Lookup returns the entry for remotePath.
func (m *Manifest) Lookup(remotePath string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[remotePath]
	return e, ok
}

// Upsert inserts or replaces the entry for e.RemotePath. A zero SyncedAt is
// stamped with the current time. The entry is rejected if its LocalPath
// belongs to another remote path.
func (m *Manifest) Upsert(e Entry) error {
	if e.RemotePath == "" || e.LocalPath == "" {
		return fmt.Errorf("upsert: remote and local path are required")
	}
	e.LocalPath = path.Clean(filepath.ToSlash(e.LocalPath))
	e.RemoteMtime = e.RemoteMtime.UTC()
	if e.SyncedAt.IsZero() {
		e.SyncedAt = m.now()
	} else {
		e.SyncedAt = e.SyncedAt.UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if owner, ok := m.byLocal[foldPath(e.LocalPath)]; ok && owner != e.RemotePath {
		return fmt.Errorf("upsert %s: %w: %s is owned by %s", e.RemotePath, ErrLocalPathClaimed, e.LocalPath, owner)
	}
	if old, ok := m.entries[e.RemotePath]; ok {
		delete(m.byLocal, foldPath(old.LocalPath))
	}
	m.insert(e)
	return nil
}

// Remove drops the entry for remotePath. The local file is not touched.
func (m *Manifest) Remove(remotePath string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[remotePath]
	if !ok {
		return false
	}
	delete(m.entries, remotePath)
	delete(m.byLocal, foldPath(e.LocalPath))
	return true
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Entries returns a snapshot sorted by RemotePath.
func (m *Manifest) Entries() []Entry {
	m.mu.RLock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RemotePath < out[j].RemotePath })
	return out
}

// ClaimedLocalPaths returns the case-folded set of local paths in use.
func (m *Manifest) ClaimedLocalPaths() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.byLocal))
	for k, v := range m.byLocal {
		out[k] = v
	}
	return out
}

// Metadata returns the backup metadata block.
func (m *Manifest) Metadata() Metadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta
}

// SetDevice records the device the backup was taken from.
func (m *Manifest) SetDevice(serial, model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if serial != "" {
		m.meta.DeviceSerial = serial
	}
	if model != "" {
		m.meta.DeviceModel = model
	}
}

// MarkSynced stamps LastSync with the current time.
func (m *Manifest) MarkSynced() {
	now := m.now()
	m.mu.Lock()
	m.meta.LastSync = now
	m.mu.Unlock()
}

// Stats summarizes the manifest.
type Stats struct {
	Files      int                       `json:"files" yaml:"files"`
	Bytes      uint64                    `json:"bytes" yaml:"bytes"`
	ByCategory map[category.Category]int `json:"by_category" yaml:"by_category"`
	CreatedAt  time.Time                 `json:"created_at" yaml:"created_at"`
	LastSync   time.Time                 `json:"last_sync,omitzero" yaml:"last_sync,omitempty"`
	Device     string                    `json:"device,omitempty" yaml:"device,omitempty"`
}

// Stats returns counts and totals over all entries.
func (m *Manifest) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{
		Files:      len(m.entries),
		ByCategory: make(map[category.Category]int),
		CreatedAt:  m.meta.CreatedAt,
		LastSync:   m.meta.LastSync,
		Device:     strings.TrimSpace(m.meta.DeviceModel + " " + m.meta.DeviceSerial),
	}
	for _, e := range m.entries {
		s.Bytes += e.Size
		s.ByCategory[e.Category]++
	}
	return s
}

// Save atomically replaces the manifest file: encode to a sibling temp
// file, fsync, rename, then fsync the directory. Calling Save twice without
// changes writes identical bytes.
func (m *Manifest) Save() error {
	data, err := m.encode()
	if err != nil {
		return &WriteError{Path: m.path, Op: "encode", Err: err}
	}

	tmp := m.path + tmpSuffix
	if err := m.writeTemp(tmp, data); err != nil {
		_ = m.fs.Remove(tmp)
		return err
	}
	if err := m.fs.Rename(tmp, m.path); err != nil {
		_ = m.fs.Remove(tmp)
		return &WriteError{Path: m.path, Op: "rename", Err: err}
	}
	syncDir(m.fs, filepath.Dir(m.path))
	return nil
}

func (m *Manifest) encode() ([]byte, error) {
	m.mu.RLock()
	doc := document{
		SchemaVersion: SchemaVersion,
		Metadata:      m.meta,
		Files:         make([]Entry, 0, len(m.entries)),
	}
	for _, e := range m.entries {
		doc.Files = append(doc.Files, e)
	}
	m.mu.RUnlock()

	sort.Slice(doc.Files, func(i, j int) bool { return doc.Files[i].RemotePath < doc.Files[j].RemotePath })
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (m *Manifest) writeTemp(tmp string, data []byte) error {
	if err := m.fs.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return &WriteError{Path: m.path, Op: "mkdir", Err: err}
	}
	f, err := m.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return &WriteError{Path: m.path, Op: "create temp", Err: err}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return &WriteError{Path: m.path, Op: "write", Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return &WriteError{Path: m.path, Op: "fsync", Err: err}
	}
	if err := f.Close(); err != nil {
		return &WriteError{Path: m.path, Op: "close", Err: err}
	}
	return nil
}

// syncDir makes a completed rename durable. Filesystems that cannot fsync
// a directory are ignored.
func syncDir(fsys afero.Fs, dir string) {
	d, err := fsys.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func foldPath(p string) string {
	return strings.ToLower(p)
}
