// Package async has small helpers for retrying and awaiting operations
// that depend on external state settling.
package async

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Retry calls fn until it succeeds, sleeping between attempts and
// doubling the sleep each time. The returned error wraps fn's last error
// with the attempt count and total duration.
func Retry(attempts int, sleep time.Duration, fn func() error) error {
	start := time.Now()

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(sleep)
			sleep *= 2
		}
		if err = fn(); err == nil {
			return nil
		}
	}

	return errors.Wrapf(err, "failed after %d attempts and %s total duration",
		attempts, time.Since(start))
}

// RetryNoBackoff is Retry with a constant sleep between attempts.
func RetryNoBackoff(attempts int, sleep time.Duration, fn func() error) error {
	start := time.Now()

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(sleep)
		}
		if err = fn(); err == nil {
			return nil
		}
	}

	return errors.Wrapf(err, "failed after %d attempts and %s total duration",
		attempts, time.Since(start))
}

// Await polls the given condition, doubling the sleep between attempts.
// If the condition never becomes true the error says how many times we
// tried, how long it took, and whatever msgs the caller added.
func Await(attempts int, sleep time.Duration, fn func() bool, msgs ...string) error {
	start := time.Now()

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(sleep)
			sleep *= 2
		}
		if fn() {
			return nil
		}
	}

	msg := fmt.Sprintf("condition was not true after %d attempts and %s total waiting time",
		attempts, time.Since(start))
	for _, m := range msgs {
		msg += ": " + m
	}
	return errors.New(msg)
}

// AwaitNoBackoff is Await with a constant sleep between attempts.
func AwaitNoBackoff(attempts int, sleep time.Duration, fn func() bool, msgs ...string) error {
	start := time.Now()

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(sleep)
		}
		if fn() {
			return nil
		}
	}

	msg := fmt.Sprintf("condition was not true after %d attempts and %s total waiting time",
		attempts, time.Since(start))
	for _, m := range msgs {
		msg += ": " + m
	}
	return errors.New(msg)
}

// WaitTimeout waits on the group until the timeout passes. It reports
// whether we gave up waiting.
func WaitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()

	select {
	case <-done:
		return false
	case <-time.After(timeout):
		return true
	}
}
