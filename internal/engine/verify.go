package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/sonodavide/androsync/internal/destfs"
	"github.com/sonodavide/androsync/internal/event"
	"github.com/sonodavide/androsync/internal/manifest"
)

// VerifyConfig controls the local verification pass.
type VerifyConfig struct {
	Tree    *destfs.Tree
	Events  chan<- event.Event
	Workers int
}

// VerifyResult holds the outcome of a verification pass.
type VerifyResult struct {
	Errors   []VerifyError `json:"errors,omitempty" yaml:"errors,omitempty"`
	Verified int64         `json:"verified" yaml:"verified"`
	Failed   int64         `json:"failed" yaml:"failed"`
}

// VerifyError records a local copy that does not match its manifest row.
type VerifyError struct {
	Err        error  `json:"-" yaml:"-"`
	RemotePath string `json:"remote_path" yaml:"remote_path"`
	LocalPath  string `json:"local_path" yaml:"local_path"`
	Problem    string `json:"problem" yaml:"problem"`
}

// Verify checks every manifest entry against its local copy. Entries signed
// with a content digest are re-hashed; metadata-signed entries are checked
// for presence and size only. It fans out to cfg.Workers goroutines.
func Verify(ctx context.Context, m *manifest.Manifest, cfg VerifyConfig) VerifyResult {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	taskCh := make(chan manifest.Entry, workers*2)
	var mu sync.Mutex
	var result VerifyResult
	var wg sync.WaitGroup

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range taskCh {
				if ctx.Err() != nil {
					return
				}
				problem, err := verifyEntry(cfg.Tree, entry)
				mu.Lock()
				if problem == "" {
					result.Verified++
				} else {
					result.Failed++
					result.Errors = append(result.Errors, VerifyError{
						RemotePath: entry.RemotePath,
						LocalPath:  entry.LocalPath,
						Problem:    problem,
						Err:        err,
					})
				}
				mu.Unlock()

				typ := event.VerifyOK
				if problem != "" {
					typ = event.VerifyFailed
				}
				event.Emit(cfg.Events, event.Event{Type: typ, Path: entry.RemotePath, LocalPath: entry.LocalPath, Error: err})
			}
		}()
	}

feed:
	for _, e := range m.Entries() {
		select {
		case <-ctx.Done():
			break feed
		case taskCh <- e:
		}
	}
	close(taskCh)
	wg.Wait()

	return result
}

func verifyEntry(tree *destfs.Tree, entry manifest.Entry) (string, error) {
	abs := tree.Abs(entry.LocalPath)
	info, err := tree.Fs().Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return "missing", err
	}
	if err != nil {
		return "unreadable", err
	}
	if uint64(info.Size()) != entry.Size {
		return "size mismatch", fmt.Errorf("local size %d, manifest %d", info.Size(), entry.Size)
	}
	if !IsDigest(entry.Signature) {
		return "", nil
	}
	got, err := HashFile(tree.Fs(), abs)
	if err != nil {
		return "unreadable", err
	}
	if got != entry.Signature {
		return "content mismatch", fmt.Errorf("blake3 %s, manifest %s", got, entry.Signature)
	}
	return "", nil
}
