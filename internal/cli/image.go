package cli

import (
	"fmt"
	"sort"

	"github.com/zeebo/xxh3"

	"github.com/k2io/sighook/internal/memview"
	"github.com/k2io/sighook/internal/objfile"
)

// image is the code section of an executable on disk.
type image struct {
	path   string
	format string
	base   uint64
	text   objfile.Section
	syms   []symbol
}

type symbol struct {
	name string
	addr uint64
}

func openImage(path string) (*image, error) {
	f, err := objfile.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	text, err := f.Text()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	img := &image{path: path, format: f.Format(), base: f.Base(), text: text}
	// stripped images simply have no names to offer
	if m, err := f.Symbols(); err == nil {
		for name, addr := range m {
			img.syms = append(img.syms, symbol{name, addr})
		}
		sort.Slice(img.syms, func(i, j int) bool { return img.syms[i].addr < img.syms[j].addr })
	}
	return img, nil
}

// view presents the text section at its link-time address.
func (img *image) view() *memview.View {
	return memview.New(uintptr(img.text.Addr), img.text.Data)
}

// digest identifies the host build.
func (img *image) digest() string {
	return fmt.Sprintf("%016x", xxh3.Hash(img.text.Data))
}

// symbolize names the closest symbol at or below addr.
func (img *image) symbolize(addr uint64) string {
	i := sort.Search(len(img.syms), func(i int) bool { return img.syms[i].addr > addr })
	if i == 0 {
		return ""
	}
	s := img.syms[i-1]
	return fmt.Sprintf("%s+%#x", s.name, addr-s.addr)
}
