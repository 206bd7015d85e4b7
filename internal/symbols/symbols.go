// Package symbols reads symbol tables of ELF, Mach-O and PE binaries.
package symbols

import (
	"errors"
	"io"
	"os"
)

var (
	// ErrNoSymbols means the binary carries no symbol table
	ErrNoSymbols = errors.New("no symbol table")
	// ErrUnrecognized means the file is not ELF, Mach-O or PE
	ErrUnrecognized = errors.New("unrecognized object file")
)

type rawFile interface {
	Symbols() (map[string]uintptr, error)
}

var objType = []func(io.ReaderAt) (rawFile, error){
	openElf,
	openMacho,
	openPE,
}

// ReadSymbols maps symbol names of the binary at name to their addresses.
func ReadSymbols(name string) (map[string]uintptr, error) {
	r, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return Read(r)
}

// Read is ReadSymbols over an already open binary.
func Read(r io.ReaderAt) (map[string]uintptr, error) {
	for _, try := range objType {
		if raw, err := try(r); err == nil {
			return raw.Symbols()
		}
	}
	return nil, ErrUnrecognized
}
