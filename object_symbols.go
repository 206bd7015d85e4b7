package hooksync

import (
	sym "github.com/k2io/hooksync/internal/symbols"
)

// GetSymbols maps the symbol names of a binary to their addresses.
func GetSymbols(name string) (map[string]uintptr, error) {
	return sym.ReadSymbols(name)
}
