package reconciler

import (
	"sync"
	"testing"
)

// handledSignals routes each reconciler's handled signals to its test.
var handledSignals sync.Map

func init() {
	signalHandled = func(r *Reconciler, source signalSource) {
		if ch, ok := handledSignals.Load(r); ok {
			ch.(chan signalSource) <- source
		}
	}
}

func watchSignals(t *testing.T, r *Reconciler, ch chan signalSource) {
	t.Helper()
	handledSignals.Store(r, ch)
	t.Cleanup(func() { handledSignals.Delete(r) })
}
