// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package session

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dastyar-team/dastyar/internal/logging"
	"github.com/dastyar-team/dastyar/pkg/types"
)

// WarmupDelays spaces out the logins of a warmup run.
type WarmupDelays struct {
	FirstMin, FirstMax     time.Duration
	BetweenMin, BetweenMax time.Duration
}

// DefaultWarmupDelays are the production warmup pauses.
var DefaultWarmupDelays = WarmupDelays{
	FirstMin:   30 * time.Second,
	FirstMax:   60 * time.Second,
	BetweenMin: 180 * time.Second,
	BetweenMax: 600 * time.Second,
}

// Warmup establishes a session for every active account in order and
// returns how many succeeded.
func Warmup(ctx context.Context, sessions Sessions, slots []types.AccountSlot, vpnFor func(ctx context.Context, slot int) (string, error), d WarmupDelays, logger *log.Logger) int {
	logger = logging.OrDiscard(logger)
	active := 0
	for _, acc := range slots {
		if acc.Usable() {
			active++
		}
	}
	logger.Info("warmup_start", "total", len(slots), "active", active)

	sleep(ctx, jitter(d.FirstMin, d.FirstMax))
	ok := 0
	for i, acc := range slots {
		if ctx.Err() != nil {
			break
		}
		if !acc.Usable() {
			continue
		}
		vpn, err := vpnFor(ctx, acc.Slot)
		if err == nil {
			_, err = sessions.Get(ctx, acc, vpn)
		}
		if err != nil {
			logger.Warn("warmup_failed", "slot", acc.Slot, "err", err)
		} else {
			ok++
			logger.Info("warmup_ok", "slot", acc.Slot)
		}
		if i < len(slots)-1 {
			sleep(ctx, jitter(d.BetweenMin, d.BetweenMax))
		}
	}
	return ok
}
