// Copyright 2025 Pedagogic Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package backoff provides retry with exponential backoff and jitter for
// transient failures such as embedding provider calls and storage I/O.
package backoff

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// ErrInvalidMaxAttempts indicates a non-positive maxAttempts argument.
var ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than zero")

// Permanent wraps an error to signal that retrying cannot help.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string {
	return p.Err.Error()
}

func (p *Permanent) Unwrap() error {
	return p.Err
}

// MarkPermanent wraps err so Retry returns it without further attempts.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// Delay computes the sleep before the given attempt: baseDelay doubled per
// prior attempt, with up to 25% random jitter added so synchronized callers
// spread out. Attempt numbering starts at 1.
func Delay(baseDelay time.Duration, attempt int) time.Duration {
	delay := baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

// Retry runs operation up to maxAttempts times with exponential backoff
// and jitter between attempts. It stops early when the context is
// cancelled or the operation returns an error marked permanent.
// Returns the error from the last attempt if all attempts fail.
func Retry(ctx context.Context, operation func() error, maxAttempts int, baseDelay time.Duration) error {
	if maxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 1 {
				slog.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}

		var perm *Permanent
		if errors.As(lastErr, &perm) {
			return perm.Err
		}

		slog.Debug("operation failed, will retry", "attempt", attempt, "maxAttempts", maxAttempts, "error", lastErr)

		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(Delay(baseDelay, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}
