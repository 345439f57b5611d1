package sighook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleBase(t *testing.T) {
	base, err := ModuleBase()
	require.NoError(t, err)
	assert.NotZero(t, base)
	assert.Zero(t, base%pageSize)
}

func TestEngine_Window(t *testing.T) {
	e, err := NewEngine(DefaultConfig(), WithEngineMemory(&fakeMemory{}))
	require.NoError(t, err)
	v, err := e.Window()
	require.NoError(t, err)

	base, err := ModuleBase()
	require.NoError(t, err)
	assert.Equal(t, base+DefaultScanOffset, v.Base())
	assert.Positive(t, v.Len())
	assert.LessOrEqual(t, v.Len(), DefaultScanSize)

	res := e.Locate(v)
	assert.NotEmpty(t, res.Attempts)
	if res.Found {
		assert.True(t, v.Contains(res.Address, ReferenceSignature.Len()))
	}
}
