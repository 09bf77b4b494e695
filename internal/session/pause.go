// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package session

import (
	"context"
	"math/rand/v2"
	"time"
)

// pause sleeps a random duration in [lo, hi] or until ctx is done. Tests
// replace it.
var pause = func(ctx context.Context, lo, hi time.Duration) {
	sleep(ctx, jitter(lo, hi))
}

// keyDelay is the gap between typed characters.
var keyDelay = func() time.Duration {
	return jitter(50*time.Millisecond, 180*time.Millisecond)
}

func jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
