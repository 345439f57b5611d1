// Package objfile reads the code of an executable image from disk, so
// signatures can be searched for offline.
package objfile

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNoText means the image has no executable code section.
var ErrNoText = errors.New("no text section")

// Section is a section's virtual address and contents.
type Section struct {
	Name string
	Addr uint64
	Data []byte
}

type rawFile interface {
	format() string
	base() uint64
	text() (Section, error)
	symbols() (map[string]uint64, error)
}

var objType = []func(io.ReaderAt) (rawFile, error){
	openElf,
	openMacho,
	openPE,
}

// File is an open executable image.
type File struct {
	f   *os.File
	raw rawFile
}

// Open tries each supported object format in turn.
func Open(name string) (*File, error) {
	r, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	for _, try := range objType {
		if raw, err := try(r); err == nil {
			return &File{f: r, raw: raw}, nil
		}
	}
	r.Close()
	return nil, fmt.Errorf("open %s: unrecognized object file", name)
}

func (f *File) Close() error { return f.f.Close() }

// Format is "elf", "macho" or "pe".
func (f *File) Format() string { return f.raw.format() }

// Base is the preferred load address of the image headers.
func (f *File) Base() uint64 { return f.raw.base() }

// Text returns the main code section.
func (f *File) Text() (Section, error) { return f.raw.text() }

// Symbols maps symbol names to their virtual addresses.
func (f *File) Symbols() (map[string]uint64, error) { return f.raw.symbols() }
