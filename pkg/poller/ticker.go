package poller

import "time"

// realClock implements Clock using the real time package.
type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Ticker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) Chan() <-chan time.Time {
	return r.t.C
}

func (r *realTicker) Stop() {
	r.t.Stop()
}

var _ Clock = realClock{}

// optionalTicker returns nil for a disabled (non-positive) period.
func (s *Scheduler) optionalTicker(d time.Duration) Ticker {
	if d <= 0 {
		return nil
	}

	return s.clock.Ticker(d)
}

// tickerChan returns nil for a disabled ticker so its select case never fires.
func tickerChan(t Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}

	return t.Chan()
}

// stopTickers stops every non-nil ticker.
func stopTickers(ts ...Ticker) {
	for _, t := range ts {
		if t != nil {
			t.Stop()
		}
	}
}
