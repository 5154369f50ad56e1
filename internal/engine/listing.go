package engine

import (
	"context"
	"errors"
	"sort"
)

// Listing is a fully drained scan, grouped per root.
type Listing struct {
	Entries     map[string][]RemoteEntry // files only, sorted by RemotePath
	Excluded    map[string]struct{}      // files present on the device but filtered out
	Roots       []string
	Unreachable []string // directories whose listing failed
	Pruned      []string // directories excluded by the filter
	Warnings    []error
	Dirs        int
}

// Files returns the number of files across all roots.
func (l *Listing) Files() int {
	n := 0
	for _, es := range l.Entries {
		n += len(es)
	}
	return n
}

// Bytes returns the total size of all listed files.
func (l *Listing) Bytes() uint64 {
	var n uint64
	for _, es := range l.Entries {
		for _, e := range es {
			n += e.Size
		}
	}
	return n
}

// Covers reports whether the scan can vouch for remotePath's absence: it lies
// under a scanned root, no unreachable or pruned directory hides it, and it
// was not filtered out.
func (l *Listing) Covers(remotePath string) bool {
	if _, ok := l.Excluded[remotePath]; ok {
		return false
	}
	inRoot := false
	for _, r := range l.Roots {
		if under(r, remotePath) {
			inRoot = true
			break
		}
	}
	if !inRoot {
		return false
	}
	for _, d := range l.Unreachable {
		if d == remotePath || under(d, remotePath) {
			return false
		}
	}
	for _, d := range l.Pruned {
		if d == remotePath || under(d, remotePath) {
			return false
		}
	}
	return true
}

// Collect drains s into a Listing. It returns ctx's error if the scan was
// cut short, since an interrupted listing cannot be classified.
func Collect(ctx context.Context, s *Scanner) (*Listing, error) {
	entries, errs := s.Scan(ctx)

	l := &Listing{
		Roots:   s.Roots(),
		Entries: make(map[string][]RemoteEntry),
	}
	seen := make(map[string]bool)

	for entries != nil || errs != nil {
		select {
		case e, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			if e.IsDir {
				l.Dirs++
				continue
			}
			// Overlapping roots list the same file twice.
			if seen[e.RemotePath] {
				continue
			}
			seen[e.RemotePath] = true
			l.Entries[e.Root] = append(l.Entries[e.Root], e)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			l.Warnings = append(l.Warnings, err)
			var pe *PartialScanError
			if errors.As(err, &pe) {
				l.Unreachable = append(l.Unreachable, pe.Dir)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for root := range l.Entries {
		SortEntries(l.Entries[root])
	}
	l.Pruned = s.Pruned()
	sort.Strings(l.Pruned)
	sort.Strings(l.Unreachable)
	l.Excluded = s.Excluded()
	return l, nil
}
