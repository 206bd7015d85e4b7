package symbols

import (
	"debug/pe"
	"io"
)

type peFile struct {
	pe *pe.File
}

func openPE(r io.ReaderAt) (rawFile, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &peFile{f}, nil
}

// Symbols returns virtual addresses: image base plus section address plus
// the section relative symbol value.
func (f *peFile) Symbols() (map[string]uintptr, error) {
	if len(f.pe.Symbols) == 0 {
		return nil, ErrNoSymbols
	}
	var base uint64
	switch oh := f.pe.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		base = uint64(oh.ImageBase)
	case *pe.OptionalHeader64:
		base = oh.ImageBase
	}
	out := make(map[string]uintptr, len(f.pe.Symbols))
	for _, s := range f.pe.Symbols {
		i := int(s.SectionNumber) - 1
		if i < 0 || i >= len(f.pe.Sections) {
			continue
		}
		out[s.Name] = uintptr(base + uint64(f.pe.Sections[i].VirtualAddress) + uint64(s.Value))
	}
	return out, nil
}
