package app

import "time"

// Clock supplies the ledger's notion of "now". Timestamps are Unix seconds.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}
