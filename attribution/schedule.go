package attribution

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// schedule is a backoff.BackOff that walks a fixed list of delays and then
// keeps returning the last one. Attempt limits come from
// backoff.WithMaxRetries.
type schedule struct {
	delays []time.Duration
	next   int
}

var _ backoff.BackOff = (*schedule)(nil)

func newSchedule(delays []time.Duration) *schedule {
	return &schedule{delays: delays}
}

func (s *schedule) NextBackOff() time.Duration {
	if len(s.delays) == 0 {
		return 0
	}
	i := min(s.next, len(s.delays)-1)
	s.next++
	return s.delays[i]
}

func (s *schedule) Reset() { s.next = 0 }
