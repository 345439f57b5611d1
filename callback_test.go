package sighook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecision(t *testing.T) {
	fn := decision(func(actor uintptr) bool { return actor%2 == 0 })
	assert.Equal(t, uintptr(1), fn(4))
	assert.Equal(t, uintptr(0), fn(5))
}

func TestDecision_PanicAnswersFalse(t *testing.T) {
	before := CallbackPanics()
	fn := decision(func(uintptr) bool { panic("boom") })
	assert.NotPanics(t, func() { assert.Equal(t, uintptr(0), fn(1)) })
	assert.Equal(t, before+1, CallbackPanics())
}
