package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStats_Counters(t *testing.T) {
	s := New()

	s.IncSeen()
	s.IncSeen()
	s.IncBlocked()
	s.IncAllowed()
	s.IncForwardError()

	snap := s.Snapshot()
	assert.EqualValues(t, 2, snap.QueriesSeen)
	assert.EqualValues(t, 1, snap.QueriesBlocked)
	assert.EqualValues(t, 1, snap.QueriesAllowed)
	assert.EqualValues(t, 1, snap.ForwardErrors)
	assert.GreaterOrEqual(t, snap.Uptime.Nanoseconds(), int64(0))
}
