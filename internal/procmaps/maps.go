// Package procmaps reads the memory map the Linux kernel exposes in
// /proc/<pid>/maps.
package procmaps

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Protection bits, numerically equal to PROT_READ, PROT_WRITE and PROT_EXEC.
const (
	Read  = 0x1
	Write = 0x2
	Exec  = 0x4
)

// Mapping is one line of a maps file.
type Mapping struct {
	Start, End uint64
	Perms      string
	Offset     uint64
	Dev        string
	Path       string
}

// Prot returns the protection bits of the mapping.
func (m Mapping) Prot() int {
	p := 0
	if m.Perms[0] == 'r' {
		p |= Read
	}
	if m.Perms[1] == 'w' {
		p |= Write
	}
	if m.Perms[2] == 'x' {
		p |= Exec
	}
	return p
}

func (m Mapping) Contains(addr uint64) bool { return addr >= m.Start && addr < m.End }

func (m Mapping) Size() uint64 { return m.End - m.Start }

func (m Mapping) String() string {
	return fmt.Sprintf("%#x-%#x %s %#x %s", m.Start, m.End, m.Perms, m.Offset, m.Path)
}

// Parse reads every mapping from r. The kernel emits them sorted by address;
// Parse sorts anyway so Find can rely on it.
func Parse(r io.Reader) ([]Mapping, error) {
	var out []Mapping
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		m, err := parseLine(lineno, line)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func parseLine(lineno int, in string) (Mapping, error) {
	var m Mapping
	bad := func(why string) error {
		return fmt.Errorf("malformed maps line %d: %q (%s)", lineno, in, why)
	}
	fields := strings.Fields(in)
	if len(fields) < 5 {
		return m, bad("wrong number of fields")
	}
	lo, hi, ok := strings.Cut(fields[0], "-")
	if !ok {
		return m, bad("bad address range")
	}
	var err error
	if m.Start, err = strconv.ParseUint(lo, 16, 64); err != nil {
		return m, bad(err.Error())
	}
	if m.End, err = strconv.ParseUint(hi, 16, 64); err != nil {
		return m, bad(err.Error())
	}
	if m.End < m.Start {
		return m, bad("end before start")
	}
	m.Perms = fields[1]
	if len(m.Perms) < 4 {
		return m, bad("permissions column too short")
	}
	if m.Offset, err = strconv.ParseUint(fields[2], 16, 64); err != nil {
		return m, bad(err.Error())
	}
	m.Dev = fields[3]
	// fields[4] is the inode; the path may contain spaces
	if len(fields) > 5 {
		m.Path = strings.Join(fields[5:], " ")
	}
	return m, nil
}

// ReadSelf parses /proc/self/maps.
func ReadSelf() ([]Mapping, error) {
	return ReadPid(-1)
}

// ReadPid parses the maps of pid, or of the calling process when pid < 0.
func ReadPid(pid int) ([]Mapping, error) {
	path := "/proc/self/maps"
	if pid >= 0 {
		path = fmt.Sprintf("/proc/%d/maps", pid)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Find returns the mapping holding addr.
func Find(maps []Mapping, addr uint64) (Mapping, bool) {
	i := sort.Search(len(maps), func(i int) bool { return maps[i].End > addr })
	if i < len(maps) && maps[i].Contains(addr) {
		return maps[i], true
	}
	return Mapping{}, false
}

// Covering returns the mappings that overlap [start, end) in address
// order, and whether they cover the range without a hole.
func Covering(maps []Mapping, start, end uint64) ([]Mapping, bool) {
	var out []Mapping
	next := start
	for _, m := range maps {
		if m.End <= start || m.Start >= end {
			continue
		}
		if m.Start > next {
			return out, false
		}
		out = append(out, m)
		next = m.End
	}
	return out, len(out) > 0 && next >= end
}

// ModuleBase returns the lowest address path is mapped at, which is where the
// loader placed the image headers.
func ModuleBase(maps []Mapping, path string) (uint64, bool) {
	for _, m := range maps {
		if m.Path == path && m.Offset == 0 {
			return m.Start, true
		}
	}
	for _, m := range maps {
		if m.Path == path {
			return m.Start - m.Offset, true
		}
	}
	return 0, false
}
