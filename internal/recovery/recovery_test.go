package recovery

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestGuardRecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	ok := Guard(log, "idle-sweep", func() { panic("boom") })

	assert.False(t, ok)
	assert.Contains(t, buf.String(), "panic recovered")
	assert.Contains(t, buf.String(), "idle-sweep")
}

func TestGuardReportsNormalReturn(t *testing.T) {
	ran := false
	ok := Guard(zerolog.Nop(), "noop", func() { ran = true })
	assert.True(t, ok)
	assert.True(t, ran)
}

func TestAdvisoryNeverPropagates(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	assert.NotPanics(t, func() {
		Advisory(log, "pulse", func() error { return errors.New("tracker unreachable") })
		Advisory(log, "pulse", func() error { panic("nil client") })
	})
	assert.Contains(t, buf.String(), "tracker unreachable")
	assert.Contains(t, buf.String(), "advisory operation failed")
}

func TestSafeGoRuns(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	SafeGo(zerolog.Nop(), "worker", func() {
		defer wg.Done()
		panic("contained")
	})
	wg.Wait()
}
