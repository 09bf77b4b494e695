// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ratelimit enforces the per-slot hourly success ceiling on the
// paid venue. The usage history lives in the settings store as a JSON map
// of slot to unix timestamps and is only changed through atomic updates.
package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/dastyar-team/dastyar/internal/store"
)

// UsageKey is the settings key holding the usage history.
const UsageKey = "SCIDIR_USAGE_V2"

// Window is the rolling period the limit applies to.
const Window = time.Hour

// ErrLimited is wrapped by *LimitError.
var ErrLimited = errors.New("rate limited")

// LimitError reports a slot at its ceiling and the wait until the oldest
// entry leaves the window.
type LimitError struct {
	Slot int
	Wait time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("slot %d rate limited for %s", e.Slot, e.Wait.Round(time.Second))
}

func (e *LimitError) Unwrap() error { return ErrLimited }

// Updater is the atomic read-modify-write the limiter needs.
type Updater interface {
	Update(ctx context.Context, key string, fn store.UpdateFunc) error
}

// Limiter tracks successes per slot.
type Limiter struct {
	store Updater
	limit int
	now   func() time.Time
}

// New returns a Limiter allowing limit successes per slot per hour.
func New(st Updater, limit int) *Limiter {
	return &Limiter{store: st, limit: limit, now: time.Now}
}

// Reservation is a timestamp held against a slot's quota.
type Reservation struct {
	Slot int
	At   float64
}

type usage map[string][]float64

// Check prunes the slot's history and reports whether another success is
// allowed. A slot at its ceiling yields a *LimitError.
func (l *Limiter) Check(ctx context.Context, slot int) error {
	return l.modify(ctx, slot, func(ts []float64, now float64) ([]float64, error) {
		if err := l.admit(slot, ts, now); err != nil {
			return ts, err
		}
		return ts, nil
	})
}

// Record appends a success for slot.
func (l *Limiter) Record(ctx context.Context, slot int) error {
	return l.modify(ctx, slot, func(ts []float64, now float64) ([]float64, error) {
		return append(ts, now), nil
	})
}

// Reserve checks the ceiling and records a success in one atomic step.
// Release the reservation if the attempt fails.
func (l *Limiter) Reserve(ctx context.Context, slot int) (Reservation, error) {
	var r Reservation
	err := l.modify(ctx, slot, func(ts []float64, now float64) ([]float64, error) {
		if err := l.admit(slot, ts, now); err != nil {
			return nil, err
		}
		r = Reservation{Slot: slot, At: now}
		return append(ts, now), nil
	})
	return r, err
}

// Release removes a reservation's timestamp.
func (l *Limiter) Release(ctx context.Context, r Reservation) error {
	return l.modify(ctx, r.Slot, func(ts []float64, _ float64) ([]float64, error) {
		if i := slices.Index(ts, r.At); i >= 0 {
			ts = slices.Delete(ts, i, i+1)
		}
		return ts, nil
	})
}

// Count returns the successes for slot inside the window.
func (l *Limiter) Count(ctx context.Context, slot int) (int, error) {
	var n int
	err := l.modify(ctx, slot, func(ts []float64, _ float64) ([]float64, error) {
		n = len(ts)
		return ts, nil
	})
	return n, err
}

func (l *Limiter) admit(slot int, ts []float64, now float64) error {
	if len(ts) < l.limit {
		return nil
	}
	oldest := slices.Min(ts)
	wait := max(Window.Seconds()-(now-oldest), 0)
	return &LimitError{Slot: slot, Wait: time.Duration(wait * float64(time.Second))}
}

// modify runs fn on the slot's pruned history inside one store update.
// When fn fails without returning a history the stored value is kept.
func (l *Limiter) modify(ctx context.Context, slot int, fn func(ts []float64, now float64) ([]float64, error)) error {
	var fnErr error
	err := l.store.Update(ctx, UsageKey, func(current string, found bool) (string, error) {
		u := parse(current)
		now := float64(l.now().UnixNano()) / 1e9
		key := strconv.Itoa(slot)
		next, err := fn(prune(u[key], now), now)
		if err != nil {
			fnErr = err
			if next == nil {
				return current, nil
			}
		}
		u[key] = next
		raw, mErr := json.Marshal(u)
		if mErr != nil {
			return "", fmt.Errorf("encoding usage: %w", mErr)
		}
		return string(raw), nil
	})
	if err != nil {
		return err
	}
	return fnErr
}

func prune(ts []float64, now float64) []float64 {
	cutoff := now - Window.Seconds()
	out := make([]float64, 0, len(ts))
	for _, t := range ts {
		if t >= cutoff {
			out = append(out, t)
		}
	}
	return out
}

// parse decodes the history, tolerating numeric strings and dropping
// anything else.
func parse(raw string) usage {
	u := make(usage)
	var data map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return u
	}
	for k, msg := range data {
		var vals []any
		if err := json.Unmarshal(msg, &vals); err != nil {
			continue
		}
		for _, v := range vals {
			switch x := v.(type) {
			case float64:
				u[k] = append(u[k], x)
			case string:
				if f, err := strconv.ParseFloat(x, 64); err == nil && !math.IsNaN(f) {
					u[k] = append(u[k], f)
				}
			}
		}
	}
	return u
}
