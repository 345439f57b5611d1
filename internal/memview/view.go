// Package memview provides a bounds-checked view over a contiguous range of
// the address space. The scanner, the verifier and the installer all go
// through a View so no address computed from a scan can reach outside the
// window it was found in.
package memview

import (
	"errors"
	"fmt"
	"unsafe"
)

// ErrOutOfRange is returned for any access that is not fully inside the view.
var ErrOutOfRange = errors.New("address range outside view")

// View is the half-open interval [Base, End) backed by mem.
type View struct {
	base uintptr
	mem  []byte
}

// New returns a view that presents mem at the logical address base. The base
// does not have to be the address of mem; offline images use their virtual
// address here.
func New(base uintptr, mem []byte) *View {
	return &View{base: base, mem: mem}
}

// FromBytes returns a view whose base is the real address of b.
func FromBytes(b []byte) *View {
	if len(b) == 0 {
		return &View{}
	}
	return &View{base: uintptr(unsafe.Pointer(&b[0])), mem: b}
}

// FromAddress returns a view over size bytes of live memory at addr. The
// caller is responsible for the range being mapped.
func FromAddress(addr, size uintptr) *View {
	if addr == 0 || size == 0 {
		return &View{base: addr}
	}
	return &View{base: addr, mem: unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)}
}

func (v *View) Base() uintptr { return v.base }

func (v *View) End() uintptr { return v.base + uintptr(len(v.mem)) }

func (v *View) Len() int { return len(v.mem) }

// Bytes returns the backing memory of the whole view.
func (v *View) Bytes() []byte { return v.mem }

// Contains reports whether [addr, addr+n) lies inside the view.
func (v *View) Contains(addr uintptr, n int) bool {
	if n < 0 || addr < v.base {
		return false
	}
	off := addr - v.base
	return off <= uintptr(len(v.mem)) && uintptr(n) <= uintptr(len(v.mem))-off
}

// Offset returns addr relative to the base of the view.
func (v *View) Offset(addr uintptr) (int, error) {
	if !v.Contains(addr, 0) {
		return 0, fmt.Errorf("%w: %#x not in [%#x, %#x)", ErrOutOfRange, addr, v.base, v.End())
	}
	return int(addr - v.base), nil
}

// Slice returns the n bytes at addr. The result aliases the view.
func (v *View) Slice(addr uintptr, n int) ([]byte, error) {
	if !v.Contains(addr, n) {
		return nil, fmt.Errorf("%w: %#x+%d not in [%#x, %#x)", ErrOutOfRange, addr, n, v.base, v.End())
	}
	off := int(addr - v.base)
	return v.mem[off : off+n : off+n], nil
}

// Sub narrows the view to [start, end).
func (v *View) Sub(start, end uintptr) (*View, error) {
	if end < start {
		return nil, fmt.Errorf("%w: inverted range [%#x, %#x)", ErrOutOfRange, start, end)
	}
	mem, err := v.Slice(start, int(end-start))
	if err != nil {
		return nil, err
	}
	return &View{base: start, mem: mem}, nil
}

// ReadMemory copies len(buf) bytes at addr into buf. Nothing is copied
// unless the whole range is inside the view.
func (v *View) ReadMemory(buf []byte, addr uintptr) (int, error) {
	src, err := v.Slice(addr, len(buf))
	if err != nil {
		return 0, err
	}
	return copy(buf, src), nil
}

func (v *View) WriteMemory(addr uintptr, data []byte) (int, error) {
	dst, err := v.Slice(addr, len(data))
	if err != nil {
		return 0, err
	}
	return copy(dst, data), nil
}

func (v *View) String() string {
	return fmt.Sprintf("[%#x, %#x)", v.base, v.End())
}
