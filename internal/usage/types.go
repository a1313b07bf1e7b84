package usage

import (
	"time"

	"github.com/goodtune/tracktime/internal/ledger"
	"github.com/goodtune/tracktime/internal/sampler"
)

// Session is an uninterrupted run of focus on one app
type Session struct {
	App                string
	StartedAt          time.Time
	LastActivity       time.Time
	AccumulatedSeconds int64
}

// Status is reported to the tick hook after every tick
type Status struct {
	At      time.Time
	Result  sampler.Result
	Session *Session // nil while nothing is being tracked
	Today   *ledger.Ledger
}
