package filter

import (
	"bufio"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// LoadFile reads filter rules from path on fs and appends them to the chain.
//
//	- pattern  exclude
//	+ pattern  include
//	# comment  ignored
//	pattern    exclude
func (c *Chain) LoadFile(fs afero.Fs, path string) error {
	f, err := fs.Open(path)
	if err != nil {
		return fmt.Errorf("open filter file: %w", err)
	}
	defer f.Close()

	return c.Read(f, path)
}

// Read appends rules from r; name is used in error messages.
func (c *Chain) Read(r io.Reader, name string) error {
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		if err := c.AddRule(sc.Text()); err != nil {
			return fmt.Errorf("filter file %s line %d: %w", name, line, err)
		}
	}
	return sc.Err()
}
