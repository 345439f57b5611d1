package objfile

import (
	"debug/elf"
	"io"
)

type elfFile struct {
	elf *elf.File
}

func openElf(r io.ReaderAt) (rawFile, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &elfFile{f}, nil
}

func (e *elfFile) format() string { return "elf" }

func (e *elfFile) base() uint64 {
	for _, p := range e.elf.Progs {
		if p.Type == elf.PT_LOAD {
			return p.Vaddr - p.Off
		}
	}
	return 0
}

func (e *elfFile) text() (Section, error) {
	s := e.elf.Section(".text")
	if s == nil {
		return Section{}, ErrNoText
	}
	data, err := s.Data()
	if err != nil {
		return Section{}, err
	}
	return Section{Name: s.Name, Addr: s.Addr, Data: data}, nil
}

func (e *elfFile) symbols() (map[string]uint64, error) {
	syms, err := e.elf.Symbols()
	if err != nil {
		return nil, err
	}
	out := make(map[string]uint64, len(syms))
	for _, s := range syms {
		out[s.Name] = s.Value
	}
	return out, nil
}
