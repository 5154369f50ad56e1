package ui

import (
	"os"

	"golang.org/x/term"
)

// defaultWidth is used when f is not a terminal or its size is unknown.
const defaultWidth = 80

// Terminal reports whether f is a terminal and how many columns it has.
func Terminal(f *os.File) (isTTY bool, width int) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return false, defaultWidth
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return true, defaultWidth
	}
	return true, w
}
