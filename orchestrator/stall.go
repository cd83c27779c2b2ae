package orchestrator

import (
	"crypto/sha256"
	"fmt"
)

// outputSignature is a short, stable fingerprint of an iteration's output.
func outputSignature(adapter, output string) string {
	h := sha256.Sum256([]byte(output))
	return fmt.Sprintf("%s:%x", adapter, h[:8])
}

// stallDetector remembers recent output signatures and reports when the
// last window of them repeats with a period of 1, 2, or 3.
type stallDetector struct {
	window int
	sigs   []string
}

func newStallDetector(window int) *stallDetector {
	return &stallDetector{window: window}
}

// observe records sig and reports whether the loop looks stalled.
func (d *stallDetector) observe(sig string) bool {
	if d == nil || d.window < 2 {
		return false
	}
	d.sigs = append(d.sigs, sig)
	if len(d.sigs) > d.window {
		d.sigs = d.sigs[len(d.sigs)-d.window:]
	}
	if len(d.sigs) < d.window {
		return false
	}
	return repeats(d.sigs)
}

func repeats(sigs []string) bool {
	n := len(sigs)
	for period := 1; period <= 3 && period < n; period++ {
		if n%period != 0 {
			continue
		}
		match := true
		for i := period; i < n && match; i++ {
			if sigs[i] != sigs[i%period] {
				match = false
			}
		}
		if match {
			return true
		}
	}
	return false
}
