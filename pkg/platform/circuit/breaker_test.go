package circuit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// outcome is one call against the primary store: true for success.
type outcome bool

const (
	ok   outcome = true
	fail outcome = false
)

func record(b *Breaker, o outcome) (usePrimary bool, c Change) {
	if o {
		return b.RecordSuccess()
	}
	useFallback, c := b.RecordFailure()
	return !useFallback, c
}

func TestRedisOutageSequences(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		successes int
		calls     []outcome
		wantOpen  bool
		opened    int
		closed    int
	}{
		{"stays on redis below the threshold", 3, 2, []outcome{fail, fail}, false, 0, 0},
		{"switches to memory at the threshold", 3, 2, []outcome{fail, fail, fail}, true, 1, 0},
		{"a success in between resets the failure run", 3, 2, []outcome{fail, fail, ok, fail, fail}, false, 0, 0},
		{"further failures while open change nothing", 1, 2, []outcome{fail, fail, fail}, true, 1, 0},
		{"one healthy probe is not enough to return", 1, 2, []outcome{fail, ok}, true, 1, 0},
		{"returns to redis after consecutive successes", 1, 2, []outcome{fail, ok, ok}, false, 1, 1},
		{"a failure while recovering restarts the count", 1, 2, []outcome{fail, ok, fail, ok}, true, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("ratelimit", WithFailureThreshold(tt.failures), WithSuccessThreshold(tt.successes))
			var opened, closed int
			for _, o := range tt.calls {
				_, c := record(b, o)
				if c.Opened {
					opened++
				}
				if c.Closed {
					closed++
				}
			}
			assert.Equal(t, tt.wantOpen, b.IsOpen())
			assert.Equal(t, tt.opened, opened)
			assert.Equal(t, tt.closed, closed)
		})
	}
}

func TestRecordReportsWhichStoreToUse(t *testing.T) {
	b := New("ratelimit", WithFailureThreshold(1), WithSuccessThreshold(1))

	usePrimary, _ := record(b, ok)
	assert.True(t, usePrimary, "closed circuit serves from redis")

	usePrimary, _ = record(b, fail)
	assert.False(t, usePrimary, "the failure that opens the circuit already goes to memory")

	usePrimary, c := record(b, ok)
	assert.True(t, usePrimary)
	assert.True(t, c.Closed)
}

func TestDefaultsAndReset(t *testing.T) {
	b := New("ratelimit", WithFailureThreshold(0), WithSuccessThreshold(-1))
	assert.Equal(t, "ratelimit", b.Name())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "closed", b.State().String())

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	assert.False(t, b.IsOpen(), "non-positive thresholds keep the default of five")
	b.RecordFailure()
	assert.True(t, b.IsOpen())
	assert.Equal(t, "open", b.State().String())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	b.RecordFailure()
	assert.False(t, b.IsOpen(), "reset clears the failure run")
}
