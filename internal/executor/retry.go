package executor

import (
	"context"
	"errors"
	"time"
)

var retryBackoff = 200 * time.Millisecond

// ErrAgentReported marks a failure the agent itself reported. Repeating the
// same prompt will not change the answer, so it is never retried.
var ErrAgentReported = errors.New("agent reported error")

// retry calls fn up to attempts times, backing off linearly, and stops early
// when ctx is done or fn fails with ErrAgentReported. It returns the last error.
func retry(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, ErrAgentReported) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(i+1) * retryBackoff):
		}
	}
	return err
}
