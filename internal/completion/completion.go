// Package completion implements the Completion Detector (spec.md
// §4.10): the dual-confirmation rule requiring the promise token to
// appear across two consecutive iterations and the scratchpad to have
// zero pending `- [ ]` lines. Generalized from
// _examples/steveyegge-vc/internal/executor/executor_event_loop.go's
// checkEpicCompletion dual-check pattern.
package completion

import "strings"

// Detector holds the promise token and judges one iteration at a time.
// It keeps no state between iterations; the loop controller sequences
// the dual confirmation (candidate, then one confirming iteration).
type Detector struct {
	promiseToken string
}

func NewDetector(promiseToken string) *Detector {
	return &Detector{promiseToken: promiseToken}
}

// PromisePresent reports whether the promise token appears verbatim in
// output (an exact substring match, spec.md §4.10).
func PromisePresent(output, promiseToken string) bool {
	if promiseToken == "" {
		return false
	}
	return strings.Contains(output, promiseToken)
}

// ScratchpadClear reports whether scratchpad has zero pending checklist
// lines (`- [ ]`, spec.md §4.10).
func ScratchpadClear(scratchpad string) bool {
	for _, line := range strings.Split(scratchpad, "\n") {
		if strings.Contains(strings.TrimSpace(line), "- [ ]") {
			return false
		}
	}
	return true
}

// Observe records one iteration's output and scratchpad and reports
// whether this iteration is a completion candidate (promise present and
// scratchpad clear) — this is the caller's cue to emit
// loop.completion.candidate, per spec.md §4.4 step 6.
func (d *Detector) Observe(output, scratchpad string) bool {
	return PromisePresent(output, d.promiseToken) && ScratchpadClear(scratchpad)
}

// Confirm is called during the Completing state's one confirmation
// iteration (spec.md §4.5). It returns true only if this iteration is
// also a candidate, satisfying the dual-confirmation rule. It is the
// same check as Observe; the detector holds no per-iteration state
// (Completing is run at most once per candidacy, driven by the loop
// controller).
func (d *Detector) Confirm(output, scratchpad string) bool {
	return d.Observe(output, scratchpad)
}
