// Package devicelinktest provides an in-memory device for tests.
package devicelinktest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sonodavide/androsync/internal/devicelink"
)

type file struct {
	data  []byte
	mtime time.Time
}

type fault struct {
	kind      devicelink.Kind
	remaining int // <0 = forever
}

// Fake is a device held in memory. Directories are implied by the files
// beneath them and by AddDir. Faults are injected per path.
type Fake struct {
	mu    sync.Mutex
	files map[string]file
	dirs  map[string]time.Time

	listFaults  map[string]*fault
	fetchFaults map[string]*fault
	short       map[string]int // path -> bytes actually delivered
	blocking    map[string]bool
	onFetch     func(path string)
	roots       []string
	rootsErr    error

	listCalls  map[string]int
	fetchCalls map[string]int
	closed     bool
}

var _ devicelink.Link = (*Fake)(nil)

// New returns an empty fake device.
func New() *Fake {
	return &Fake{
		files:       make(map[string]file),
		dirs:        map[string]time.Time{"/": {}},
		listFaults:  make(map[string]*fault),
		fetchFaults: make(map[string]*fault),
		short:       make(map[string]int),
		blocking:    make(map[string]bool),
		listCalls:   make(map[string]int),
		fetchCalls:  make(map[string]int),
	}
}

// AddFile creates or replaces a file, creating parent directories.
func (f *Fake) AddFile(p string, data []byte, mtime time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = path.Clean(p)
	f.files[p] = file{data: append([]byte(nil), data...), mtime: mtime}
	for d := path.Dir(p); ; d = path.Dir(d) {
		if _, ok := f.dirs[d]; !ok {
			f.dirs[d] = mtime
		}
		if d == "/" || d == "." {
			break
		}
	}
}

// AddDir creates an empty directory and its parents.
func (f *Fake) AddDir(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for d := path.Clean(p); ; d = path.Dir(d) {
		if _, ok := f.dirs[d]; !ok {
			f.dirs[d] = time.Time{}
		}
		if d == "/" || d == "." {
			break
		}
	}
}

// Remove deletes a file.
func (f *Fake) Remove(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path.Clean(p))
}

// FailList makes the next n List calls on dir fail with kind (n<0: always).
func (f *Fake) FailList(dir string, kind devicelink.Kind, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listFaults[path.Clean(dir)] = &fault{kind: kind, remaining: n}
}

// FailFetch makes the next n Fetch calls on p fail with kind (n<0: always).
func (f *Fake) FailFetch(p string, kind devicelink.Kind, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchFaults[path.Clean(p)] = &fault{kind: kind, remaining: n}
}

// ShortRead makes Fetch of p report the full size but deliver only n bytes.
func (f *Fake) ShortRead(p string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.short[path.Clean(p)] = n
}

// Block makes reads of p hang until the fetch context is done.
func (f *Fake) Block(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocking[path.Clean(p)] = true
}

// OnFetch registers a hook run at the start of every Fetch.
func (f *Fake) OnFetch(fn func(path string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFetch = fn
}

// ListCalls returns how many times dir was listed.
func (f *Fake) ListCalls(dir string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls[path.Clean(dir)]
}

// FetchCalls returns how many times p was fetched.
func (f *Fake) FetchCalls(p string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls[path.Clean(p)]
}

// TotalFetches returns the number of Fetch calls across all paths.
func (f *Fake) TotalFetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.fetchCalls {
		n += c
	}
	return n
}

func (f *Fake) trip(faults map[string]*fault, op, p string) error {
	ft, ok := faults[p]
	if !ok || ft.remaining == 0 {
		return nil
	}
	if ft.remaining > 0 {
		ft.remaining--
	}
	return &devicelink.Error{Kind: ft.kind, Op: op, Path: p, Err: errors.New("injected fault")}
}

func (f *Fake) List(ctx context.Context, dir string) ([]devicelink.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	dir = path.Clean(dir)
	f.listCalls[dir]++

	if f.closed {
		return nil, &devicelink.Error{Kind: devicelink.Unreachable, Op: "list", Path: dir, Err: errors.New("link closed")}
	}
	if err := f.trip(f.listFaults, "list", dir); err != nil {
		return nil, err
	}
	if _, ok := f.dirs[dir]; !ok {
		return nil, &devicelink.Error{Kind: devicelink.NotFound, Op: "list", Path: dir, Err: errors.New("no such directory")}
	}

	var out []devicelink.Entry
	for d, mt := range f.dirs {
		if d != dir && path.Dir(d) == dir {
			out = append(out, devicelink.Entry{Name: path.Base(d), Path: d, Mtime: mt, IsDir: true})
		}
	}
	for p, fl := range f.files {
		if path.Dir(p) == dir {
			out = append(out, devicelink.Entry{Name: path.Base(p), Path: p, Size: uint64(len(fl.data)), Mtime: fl.mtime})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *Fake) Fetch(ctx context.Context, p string) (io.ReadCloser, int64, error) {
	p = path.Clean(p)
	f.mu.Lock()
	hook := f.onFetch
	f.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls[p]++
	if f.closed {
		return nil, 0, &devicelink.Error{Kind: devicelink.Unreachable, Op: "fetch", Path: p, Err: errors.New("link closed")}
	}
	if err := f.trip(f.fetchFaults, "fetch", p); err != nil {
		return nil, 0, err
	}
	fl, ok := f.files[p]
	if !ok {
		return nil, 0, &devicelink.Error{Kind: devicelink.NotFound, Op: "fetch", Path: p, Err: fmt.Errorf("no such file")}
	}

	data := fl.data
	if n, ok := f.short[p]; ok && n < len(data) {
		data = data[:n]
	}
	var r io.Reader = bytes.NewReader(data)
	if f.blocking[p] {
		r = &blockingReader{ctx: ctx}
	}
	return io.NopCloser(r), int64(len(fl.data)), nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Paths returns every file path, sorted.
func (f *Fake) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.files))
	for p := range f.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// SetRoots sets what Roots reports.
func (f *Fake) SetRoots(roots ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roots = append([]string(nil), roots...)
}

// FailRoots makes Roots return err.
func (f *Fake) FailRoots(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rootsErr = err
}

// Roots reports the volumes given to SetRoots, or none.
func (f *Fake) Roots(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rootsErr != nil {
		return nil, f.rootsErr
	}
	return append([]string(nil), f.roots...), nil
}

// Describe reports a fixed test device.
func (f *Fake) Describe(context.Context) (devicelink.Device, error) {
	return devicelink.Device{Serial: "FAKE0001", State: "device", Model: "Fake Phone"}, nil
}

type blockingReader struct {
	ctx context.Context
}

func (b *blockingReader) Read([]byte) (int, error) {
	<-b.ctx.Done()
	return 0, &devicelink.Error{Kind: devicelink.Timeout, Op: "fetch", Err: b.ctx.Err()}
}

// Tree builds a fake from "path=content" pairs, all stamped with mtime.
func Tree(mtime time.Time, specs ...string) *Fake {
	f := New()
	for _, s := range specs {
		p, content, _ := strings.Cut(s, "=")
		f.AddFile(p, []byte(content), mtime)
	}
	return f
}
