package engine

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

// Mode selects how a file's signature is computed.
type Mode int

const (
	// MetadataMode signs a file with its size and mtime.
	MetadataMode Mode = iota
	// HashMode signs a file with the BLAKE3 digest of its content.
	HashMode
)

func (m Mode) String() string {
	if m == HashMode {
		return "hash"
	}
	return "metadata"
}

// ParseMode parses "metadata" or "hash".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "metadata", "meta":
		return MetadataMode, nil
	case "hash", "blake3":
		return HashMode, nil
	}
	return 0, fmt.Errorf("unknown mode %q (want metadata or hash)", s)
}

// MetadataSignature is the signature of a file in metadata mode.
func MetadataSignature(size uint64, mtime time.Time) string {
	return fmt.Sprintf("%d:%d", size, mtime.Unix())
}

// IsDigest reports whether sig is a content digest rather than a metadata
// signature.
func IsDigest(sig string) bool {
	if len(sig) != 64 {
		return false
	}
	_, err := hex.DecodeString(sig)
	return err == nil
}

// signer computes a signature while a file streams through it.
type signer struct {
	h    *blake3.Hasher
	mode Mode
}

func newSigner(mode Mode) *signer {
	s := &signer{mode: mode}
	if mode == HashMode {
		s.h = blake3.New()
	}
	return s
}

// wrap returns w teed into the hasher when hashing.
func (s *signer) wrap(w io.Writer) io.Writer {
	if s.h == nil {
		return w
	}
	return io.MultiWriter(w, s.h)
}

func (s *signer) sum(size uint64, mtime time.Time) string {
	if s.h == nil {
		return MetadataSignature(size, mtime)
	}
	return hex.EncodeToString(s.h.Sum(nil))
}

// HashFile computes the BLAKE3 hash of the file at path, returning the
// hex-encoded digest.
func HashFile(fsys afero.Fs, path string) (string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	buf := make([]byte, 32*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
