package objfile

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

func (f *peFile) format() string { return "pe" }

func (f *peFile) base() uint64 {
	switch oh := f.pe.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		return oh.ImageBase
	case *pe.OptionalHeader32:
		return uint64(oh.ImageBase)
	}
	return 0
}

func (f *peFile) text() (Section, error) {
	s := f.pe.Section(".text")
	if s == nil {
		return Section{}, ErrNoText
	}
	data, err := s.Data()
	if err != nil {
		return Section{}, err
	}
	// raw data is padded to the file alignment
	if n := int(s.VirtualSize); n > 0 && n < len(data) {
		data = data[:n]
	}
	return Section{Name: s.Name, Addr: f.base() + uint64(s.VirtualAddress), Data: data}, nil
}

func (f *peFile) symbols() (map[string]uint64, error) {
	out := make(map[string]uint64, len(f.pe.Symbols))
	base := f.base()
	for _, s := range f.pe.Symbols {
		if s.SectionNumber <= 0 || int(s.SectionNumber) > len(f.pe.Sections) {
			continue
		}
		sec := f.pe.Sections[s.SectionNumber-1]
		out[s.Name] = base + uint64(sec.VirtualAddress) + uint64(s.Value)
	}
	return out, nil
}
