package sqlite

import (
	"strings"
	"time"

	"github.com/banshee-data/collision.report/internal/timeutil"
)

const (
	maxBusyAttempts  = 5
	busyInitialDelay = 10 * time.Millisecond
)

// clock is swapped in tests to observe backoff without sleeping.
var clock timeutil.Clock = timeutil.RealClock{}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy runs fn until it succeeds, fails with a non-busy error, or
// has been attempted maxBusyAttempts times. The delay doubles after each
// busy failure.
func retryOnBusy(fn func() error) error {
	delay := busyInitialDelay
	var err error
	for attempt := 1; attempt <= maxBusyAttempts; attempt++ {
		err = fn()
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt < maxBusyAttempts {
			clock.Sleep(delay)
			delay *= 2
		}
	}
	return err
}
