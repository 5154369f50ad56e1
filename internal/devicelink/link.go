// Package devicelink is the read-only channel to a handset: list a
// directory, stream a file. Nothing is ever written back to the device.
package devicelink

import (
	"context"
	"io"
	"time"
)

// Entry is one child of a listed directory.
type Entry struct {
	Name  string
	Path  string // absolute device path
	Size  uint64
	Mtime time.Time
	IsDir bool
}

// Link is an open connection to one device.
type Link interface {
	// List returns the immediate children of dir. Symlinks and special
	// files are omitted.
	List(ctx context.Context, dir string) ([]Entry, error)
	// Fetch opens path for streaming and reports the size the device
	// claims for it. The caller must Close the reader.
	Fetch(ctx context.Context, path string) (io.ReadCloser, int64, error)
	Close() error
}

// Device identifies a handset reachable over a link.
type Device struct {
	Serial    string `json:"serial" yaml:"serial"`
	State     string `json:"state" yaml:"state"`
	Model     string `json:"model,omitempty" yaml:"model,omitempty"`
	Product   string `json:"product,omitempty" yaml:"product,omitempty"`
	Transport string `json:"transport_id,omitempty" yaml:"transport_id,omitempty"`
}

// Ready reports whether the device accepts commands.
func (d Device) Ready() bool { return d.State == "device" }

// Describer is implemented by links that can identify the device behind
// them.
type Describer interface {
	Describe(ctx context.Context) (Device, error)
}

// RootLister is implemented by links that can discover the device's
// storage volumes.
type RootLister interface {
	Roots(ctx context.Context) ([]string, error)
}
