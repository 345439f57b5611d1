package sighook

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/k2io/sighook/internal/cpufeat"
)

var errInjected = errors.New("injected failure")

// fakeMemory records protection changes and can be told to fail them.
type fakeMemory struct {
	prot        Prot
	protects    []Prot
	flushes     int
	allocs      [][]byte
	frees       [][]byte
	failProtect func(call int, p Prot) error
	failAlloc   error
	failFree    error
}

func (m *fakeMemory) Protection([]byte) (Prot, error) { return m.prot, nil }

func (m *fakeMemory) Protect(_ []byte, p Prot) error {
	call := len(m.protects)
	m.protects = append(m.protects, p)
	if m.failProtect != nil {
		return m.failProtect(call, p)
	}
	return nil
}

func (m *fakeMemory) FlushInstructionCache([]byte) error {
	m.flushes++
	return nil
}

func (m *fakeMemory) AllocExec(size int) ([]byte, error) {
	if m.failAlloc != nil {
		return nil, m.failAlloc
	}
	b := make([]byte, size)
	m.allocs = append(m.allocs, b)
	return b, nil
}

func (m *fakeMemory) Free(b []byte) error {
	m.frees = append(m.frees, b)
	return m.failFree
}

// logRecords decodes the JSON lines zerolog wrote to buf.
func logRecords(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
		out = append(out, rec)
	}
	return out
}

func findRecord(recs []map[string]any, msg string) (map[string]any, bool) {
	for _, r := range recs {
		if r["message"] == msg {
			return r, true
		}
	}
	return nil, false
}

func testLogger(buf *bytes.Buffer) zerolog.Logger {
	return zerolog.New(buf).Level(zerolog.DebugLevel)
}

// host embeds the reference signature at off in a buffer of size bytes
// filled with int3.
func host(size, off int) []byte {
	b := bytes.Repeat([]byte{0xCC}, size)
	copy(b[off:], ReferenceSignature.Bytes())
	return b
}

// forget drops target from the hook registry so tests can reuse memory.
func forget(t *testing.T, target uintptr) {
	t.Cleanup(func() { release(target) })
}

var allTiers = Capabilities{SSE2: true, OSXSAVE: true, AVX: true, OSAVX: true, AVX2: true}

func detected() Capabilities { return cpufeat.Detect() }
