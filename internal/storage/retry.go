package storage

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	defaultRetryAttempts = 3
	defaultRetryBase     = 100 * time.Millisecond
)

// withRetry runs fn up to attempts times, sleeping an exponentially growing
// jittered delay between tries. Only transient faults are retried; the
// caller classifies them. The context deadline cuts both the waits and any
// further attempts short.
func withRetry(ctx context.Context, attempts int, base time.Duration, transient func(error) bool, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !transient(err) {
			return err
		}
		if ctx.Err() != nil || i == attempts-1 {
			return err
		}
		delay := base << uint(i)
		delay += time.Duration(rand.Int64N(int64(delay)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return err
		}
	}
	return err
}
