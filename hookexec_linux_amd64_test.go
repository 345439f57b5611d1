package sighook

import (
	"testing"

	"github.com/ebitengine/purego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/k2io/sighook/internal/memview"
)

// hostFunc wraps the reference signature in a function returning ebp:
//
//	push rbx; push rbp; <signature>; mov eax, ebp; pop rbp; pop rbx; ret
func hostFunc(t *testing.T) ([]byte, uintptr) {
	t.Helper()
	code := []byte{0x53, 0x55}
	code = append(code, ReferenceSignature.Bytes()...)
	code = append(code, 0x89, 0xE8, 0x5D, 0x5B, 0xC3)

	mem := mapHost(t, int(pageSize), 0)
	copy(mem, code)
	require.NoError(t, unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC))
	return mem, addrOf(mem) + 2
}

func TestHookedHostConsultsCallback(t *testing.T) {
	mem, target := hostFunc(t)
	v := memview.FromBytes(mem)
	forget(t, target)

	var seen []uintptr
	cb, err := NewDecisionCallback(func(actor uintptr) bool {
		seen = append(seen, actor)
		if actor == 13 {
			panic("unlucky actor")
		}
		return actor == 42
	})
	require.NoError(t, err)

	_, err = NewInstaller().InstallHook(v, target, ReferenceSignature, NewDecisionHook(cb))
	require.NoError(t, err)

	fn := addrOf(mem)
	r, _, _ := purego.SyscallN(fn, 42)
	assert.Equal(t, uintptr(1), r)
	r, _, _ = purego.SyscallN(fn, 7)
	assert.Equal(t, uintptr(0), r)

	before := CallbackPanics()
	r, _, _ = purego.SyscallN(fn, 13)
	assert.Equal(t, uintptr(0), r)
	assert.Equal(t, before+1, CallbackPanics())

	assert.Equal(t, []uintptr{42, 7, 13}, seen)
}
