package engine

import (
	"fmt"
	"path"
	"strings"

	"github.com/sonodavide/androsync/internal/destfs"
	"github.com/sonodavide/androsync/internal/journal"
	"github.com/sonodavide/androsync/internal/manifest"
	"github.com/sonodavide/androsync/internal/platform"
)

const internalDir = "internal"

// reservedNames are the destination root's own bookkeeping files, case
// folded. A device file mapping onto one of them is given a suffix.
var reservedNames = map[string]bool{
	strings.ToLower(manifest.FileName):             true,
	strings.ToLower(manifest.FileName + ".tmp"):    true,
	strings.ToLower(platform.LockFileName):         true,
	strings.ToLower(journal.FileName):              true,
	strings.ToLower(journal.FileName + "-wal"):     true,
	strings.ToLower(journal.FileName + "-shm"):     true,
	strings.ToLower(journal.FileName + "-journal"): true,
}

// reserved reports whether local path p would clobber a bookkeeping file or
// be removed by the temp sweep.
func reserved(p string) bool {
	if reservedNames[strings.ToLower(p)] {
		return true
	}
	return destfs.IsTempName(path.Base(p))
}

// MapLocalPath maps a device path to its slash-separated location below the
// destination root. Primary storage lands in internal/, removable volumes in
// sdcard_<VOL>/, and anything else keeps its absolute layout.
func MapLocalPath(remotePath string) string {
	p := path.Clean("/" + remotePath)

	for _, prefix := range []string{"/sdcard", "/storage/emulated/0"} {
		if p == prefix {
			return internalDir
		}
		if rest, ok := strings.CutPrefix(p, prefix+"/"); ok {
			return internalDir + "/" + rest
		}
	}

	if rest, ok := strings.CutPrefix(p, "/storage/"); ok {
		vol, tail, _ := strings.Cut(rest, "/")
		if vol != "emulated" && vol != "self" && vol != "" {
			if tail == "" {
				return "sdcard_" + vol
			}
			return "sdcard_" + vol + "/" + tail
		}
	}

	return strings.TrimPrefix(p, "/")
}

// withSuffix inserts " (n)" before the extension of the last element.
func withSuffix(p string, n int) string {
	if n == 0 {
		return p
	}
	dir, base := path.Split(p)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		// dotfile: ".nomedia" has no extension of its own
		stem, ext = base, ""
	}
	return fmt.Sprintf("%s%s (%d)%s", dir, stem, n, ext)
}

// localClaims tracks which remote path owns each case-folded local path.
type localClaims struct {
	owners map[string]string
}

func newLocalClaims(existing map[string]string) *localClaims {
	owners := make(map[string]string, len(existing))
	for k, v := range existing {
		owners[k] = v
	}
	return &localClaims{owners: owners}
}

// assign returns the first free variant of want for remotePath and claims it.
func (c *localClaims) assign(want, remotePath string) string {
	for n := 0; ; n++ {
		cand := withSuffix(want, n)
		if reserved(cand) {
			continue
		}
		key := strings.ToLower(cand)
		if owner, ok := c.owners[key]; ok && owner != remotePath {
			continue
		}
		c.owners[key] = remotePath
		return cand
	}
}
