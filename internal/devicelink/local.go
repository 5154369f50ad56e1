package devicelink

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"

	"github.com/spf13/afero"
)

// Local treats a directory (an MTP/FUSE mount of the handset, or a copy of
// its storage) as the device. Device path "/x/y" maps to <root>/x/y.
type Local struct {
	fs afero.Fs
}

var _ Link = (*Local)(nil)

// NewLocal returns a link rooted at root on fsys.
func NewLocal(fsys afero.Fs, root string) *Local {
	if root == "" || root == "/" {
		return &Local{fs: fsys}
	}
	return &Local{fs: afero.NewBasePathFs(fsys, root)}
}

func (l *Local) List(ctx context.Context, dir string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapFS(ctx, "list", dir, err)
	}
	infos, err := afero.ReadDir(l.fs, dir)
	if err != nil {
		return nil, wrapFS(ctx, "list", dir, err)
	}
	entries := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		if !fi.Mode().IsRegular() && !fi.IsDir() {
			continue
		}
		e := Entry{
			Name:  fi.Name(),
			Path:  path.Join(dir, fi.Name()),
			Mtime: fi.ModTime().UTC(),
			IsDir: fi.IsDir(),
		}
		if !e.IsDir {
			e.Size = uint64(fi.Size())
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (l *Local) Fetch(ctx context.Context, p string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, wrapFS(ctx, "fetch", p, err)
	}
	f, err := l.fs.Open(p)
	if err != nil {
		return nil, 0, wrapFS(ctx, "fetch", p, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, wrapFS(ctx, "fetch", p, err)
	}
	if fi.IsDir() {
		f.Close()
		return nil, 0, newError(NotFound, "fetch", p, fmt.Errorf("is a directory"))
	}
	return &ctxReader{ctx: ctx, op: "fetch", path: p, rc: f}, fi.Size(), nil
}

func (l *Local) Close() error { return nil }

// ctxReader fails reads once ctx is done so a cancelled fetch stops
// promptly even when the underlying reader would not block.
type ctxReader struct {
	ctx  context.Context
	op   string
	path string
	rc   io.ReadCloser
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, wrapFS(r.ctx, r.op, r.path, err)
	}
	n, err := r.rc.Read(p)
	if err != nil && err != io.EOF {
		return n, wrapFS(r.ctx, r.op, r.path, err)
	}
	return n, err
}

func (r *ctxReader) Close() error { return r.rc.Close() }
