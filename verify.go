package sighook

import (
	"github.com/rs/zerolog"
)

// Mismatch is one byte that differs from the signature.
type Mismatch struct {
	Offset   int
	Expected byte
	Found    byte
}

// VerifyAt reports whether the bytes at addr equal sig. It returns false with
// no mismatches when the range is not inside v.
func VerifyAt(v *View, addr uintptr, sig Signature) (bool, []Mismatch) {
	if sig.IsZero() {
		return false, nil
	}
	live, err := v.Slice(addr, sig.Len())
	if err != nil {
		return false, nil
	}
	var diff []Mismatch
	for i, want := range sig.pattern() {
		if live[i] != want {
			diff = append(diff, Mismatch{Offset: i, Expected: want, Found: live[i]})
		}
	}
	return len(diff) == 0, diff
}

// Verifier checks a target immediately before it is patched.
type Verifier struct {
	log zerolog.Logger
}

func NewVerifier(log zerolog.Logger) *Verifier {
	return &Verifier{log: log.With().Str("component", "verifier").Logger()}
}

// Verify returns nil when the bytes at addr are sig, and an
// *IncompatibleError otherwise.
func (vf *Verifier) Verify(v *View, addr uintptr, sig Signature) error {
	vf.log.Info().Str("signature", sig.Name()).Msg("verifying binary compatibility")
	if addr == 0 || !v.Contains(addr, sig.Len()) || sig.IsZero() {
		vf.log.Error().
			Str("address", hexAddr(addr)).
			Str("view", v.String()).
			Msg("binary compatibility check failed: address not readable")
		return &IncompatibleError{Address: addr, Signature: sig.Name(), Unreadable: true}
	}

	ok, diff := VerifyAt(v, addr, sig)
	if ok {
		vf.log.Info().Str("address", hexAddr(addr)).Msg("binary compatibility check passed")
		return nil
	}

	vf.log.Error().
		Str("address", hexAddr(addr)).
		Int("mismatches", len(diff)).
		Msg("binary compatibility check failed")
	live, _ := v.Slice(addr, sig.Len())
	j := 0
	for i, want := range sig.pattern() {
		ev := vf.log.Error().Int("offset", i).
			Str("expected", hexByte(want)).
			Str("found", hexByte(live[i]))
		if j < len(diff) && diff[j].Offset == i {
			ev = ev.Bool("mismatch", true)
			j++
		}
		ev.Msg("signature byte")
	}
	return &IncompatibleError{Address: addr, Signature: sig.Name(), Mismatches: diff}
}
