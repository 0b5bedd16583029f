package ops

import (
	"time"

	"github.com/kk-code-lab/kbkeeper/internal/clock"
)

func now(c clock.Clock) time.Time {
	if c == nil {
		c = clock.RealClock{}
	}
	return c.Now()
}
