package devicelink

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTP reaches a handset running an SFTP server app.
type SFTP struct {
	client *sftp.Client
	ssh    *ssh.Client
}

var _ Link = (*SFTP)(nil)

// NewSFTP opens an SFTP session over an established SSH connection. The
// link owns sshClient and closes it on Close.
func NewSFTP(sshClient *ssh.Client) (*SFTP, error) {
	client, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, newError(Unreachable, "sftp", "", err)
	}
	return &SFTP{client: client, ssh: sshClient}, nil
}

// DialSFTP connects to host and opens an SFTP session.
func DialSFTP(host string, opts SSHOpts) (*SFTP, error) {
	sshClient, err := DialSSH(host, opts)
	if err != nil {
		return nil, err
	}
	link, err := NewSFTP(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, err
	}
	return link, nil
}

// call runs fn, giving up when ctx is done. The SFTP client has no
// context support, so an abandoned call finishes in the background.
func call[T any](ctx context.Context, op, p string, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, wrapFS(ctx, op, p, r.err)
	case <-ctx.Done():
		var zero T
		return zero, wrapFS(ctx, op, p, ctx.Err())
	}
}

func (s *SFTP) List(ctx context.Context, dir string) ([]Entry, error) {
	infos, err := call(ctx, "list", dir, func() ([]os.FileInfo, error) {
		return s.client.ReadDir(dir)
	})
	if err != nil {
		return nil, err
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

func (s *SFTP) Fetch(ctx context.Context, p string) (io.ReadCloser, int64, error) {
	f, err := call(ctx, "fetch", p, func() (*sftp.File, error) {
		return s.client.Open(p)
	})
	if err != nil {
		return nil, 0, err
	}
	fi, err := call(ctx, "stat", p, f.Stat)
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	if fi.IsDir() {
		f.Close()
		return nil, 0, newError(NotFound, "fetch", p, fmt.Errorf("is a directory"))
	}
	return &ctxReader{ctx: ctx, op: "fetch", path: p, rc: f}, fi.Size(), nil
}

func (s *SFTP) Close() error {
	err := s.client.Close()
	if sshErr := s.ssh.Close(); sshErr != nil && err == nil {
		err = sshErr
	}
	return err
}
