package memview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestView_Contains(t *testing.T) {
	v := New(0x1000, make([]byte, 16))

	tests := []struct {
		name string
		addr uintptr
		n    int
		want bool
	}{
		{"whole", 0x1000, 16, true},
		{"empty at end", 0x1010, 0, true},
		{"last byte", 0x100f, 1, true},
		{"past end", 0x100f, 2, false},
		{"before base", 0x0fff, 1, false},
		{"after end", 0x1011, 0, false},
		{"negative", 0x1000, -1, false},
		{"huge", 0x1000, 1 << 30, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.Contains(tt.addr, tt.n))
		})
	}
}

func TestView_ReadWrite(t *testing.T) {
	backing := []byte{0xAA, 1, 2, 3, 4, 0xBB}
	v := New(0x2000, backing[1:5])

	buf := make([]byte, 2)
	n, err := v.ReadMemory(buf, 0x2001)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{2, 3}, buf)

	_, err = v.WriteMemory(0x2003, []byte{9, 9})
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.Equal(t, byte(0xBB), backing[5], "guard byte must stay untouched")

	_, err = v.WriteMemory(0x2002, []byte{7, 8})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 1, 2, 7, 8, 0xBB}, backing)
}

func TestView_Sub(t *testing.T) {
	v := New(0x4000, make([]byte, 64))

	sub, err := v.Sub(0x4010, 0x4020)
	require.NoError(t, err)
	assert.Equal(t, uintptr(0x4010), sub.Base())
	assert.Equal(t, uintptr(0x4020), sub.End())
	assert.Equal(t, 16, sub.Len())

	_, err = v.Sub(0x4020, 0x4010)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = v.Sub(0x4030, 0x4050)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestFromBytes(t *testing.T) {
	b := make([]byte, 8)
	v := FromBytes(b)
	s, err := v.Slice(v.Base()+2, 3)
	require.NoError(t, err)
	s[0] = 0x42
	assert.Equal(t, byte(0x42), b[2])

	empty := FromBytes(nil)
	assert.Equal(t, 0, empty.Len())
}

func TestFromAddress(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	v := FromAddress(FromBytes(b).Base(), 4)
	assert.Equal(t, b, v.Bytes())
	off, err := v.Offset(v.Base() + 3)
	require.NoError(t, err)
	assert.Equal(t, 3, off)
}
