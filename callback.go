package sighook

import "sync/atomic"

// callbackPanics counts decision callbacks that panicked and were answered
// with false.
var callbackPanics atomic.Uint64

// CallbackPanics returns the number of recovered callback panics.
func CallbackPanics() uint64 { return callbackPanics.Load() }

// decision turns fn into the shape foreign code calls: one integer argument
// and an integer result whose low byte is the answer. A panic answers false;
// unwinding into the host would take the process down.
func decision(fn func(actor uintptr) bool) func(uintptr) uintptr {
	return func(actor uintptr) (r uintptr) {
		defer func() {
			if recover() != nil {
				callbackPanics.Add(1)
				r = 0
			}
		}()
		if fn(actor) {
			return 1
		}
		return 0
	}
}
