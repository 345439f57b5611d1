package objfile

import (
	"debug/macho"
	"io"
)

type machoFile struct {
	macho *macho.File
}

func openMacho(r io.ReaderAt) (rawFile, error) {
	f, err := macho.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &machoFile{f}, nil
}

func (f *machoFile) format() string { return "macho" }

func (f *machoFile) base() uint64 {
	if seg := f.macho.Segment("__TEXT"); seg != nil {
		return seg.Addr
	}
	return 0
}

func (f *machoFile) text() (Section, error) {
	s := f.macho.Section("__text")
	if s == nil {
		return Section{}, ErrNoText
	}
	data, err := s.Data()
	if err != nil {
		return Section{}, err
	}
	return Section{Name: s.Name, Addr: s.Addr, Data: data}, nil
}

func (f *machoFile) symbols() (map[string]uint64, error) {
	out := make(map[string]uint64)
	if f.macho.Symtab == nil {
		return out, nil
	}
	for _, s := range f.macho.Symtab.Syms {
		out[s.Name] = s.Value
	}
	return out, nil
}
