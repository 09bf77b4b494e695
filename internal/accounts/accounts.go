// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package accounts loads the paid-venue account slots and their bound VPN
// configurations from the environment and the settings store.
// Implements: slot loading with activation and primary state, primary-first
// ordering, per-region VPN config lists, slot to VPN binding, and the
// retrieval activation flag.
package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dastyar-team/dastyar/internal/store"
	"github.com/dastyar-team/dastyar/pkg/types"
)

// Settings keys.
const (
	StateKey      = "IRANPAPER_STATE_V2"
	VPNMapKey     = "IRANPAPER_VPN_MAP"
	ActivationKey = "SCIDIR_ACTIVATION_FLAG"
)

// DefaultBaseURL is the venue entry point behind the affiliate proxy.
const DefaultBaseURL = "https://iranpaper.ir/directaccess"

// AccountRegion is the tunnel region every account slot uses.
const AccountRegion = "iran"

// Slots are the fixed account slot numbers.
var Slots = []int{1, 2, 3}

// Settings is the slice of the settings store this package needs.
type Settings interface {
	GetDefault(ctx context.Context, key, fallback string) (string, error)
	Update(ctx context.Context, key string, fn store.UpdateFunc) error
}

// Lookup resolves an environment-style variable; empty means unset.
type Lookup func(key string) string

type state struct {
	Active  map[string]bool `json:"active"`
	Primary int             `json:"primary,omitempty"`
}

// Load returns every slot in primary-first order. A slot is active only
// when it is flagged active and has both credentials.
func Load(ctx context.Context, st Settings, lookup Lookup) ([]types.AccountSlot, error) {
	s, err := loadState(ctx, st)
	if err != nil {
		return nil, err
	}
	vpnMap, err := loadVPNMap(ctx, st)
	if err != nil {
		return nil, err
	}

	slots := make([]types.AccountSlot, 0, len(Slots))
	for _, n := range Slots {
		a := types.AccountSlot{
			Slot:     n,
			Email:    lookup(fmt.Sprintf("IRANPAPER_EMAIL_%d", n)),
			Password: lookup(fmt.Sprintf("IRANPAPER_PASSWORD_%d", n)),
			Primary:  s.Primary == n,
			VPNID:    vpnMap[strconv.Itoa(n)],
			Region:   AccountRegion,
			BaseURL:  DefaultBaseURL,
		}
		// Slot 1 falls back to the single-account variables.
		if n == Slots[0] && a.Email == "" {
			if email, pw := lookup("IRANPAPER_EMAIL"), lookup("IRANPAPER_PASSWORD"); email != "" && pw != "" {
				a.Email, a.Password = email, pw
			}
		}
		a.Active = s.Active[strconv.Itoa(n)] && a.HasCredentials()
		slots = append(slots, a)
	}
	return Ordered(slots), nil
}

// Ordered sorts slots primary first, then by slot number. It sorts in place
// and returns its argument.
func Ordered(slots []types.AccountSlot) []types.AccountSlot {
	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].Primary != slots[j].Primary {
			return slots[i].Primary
		}
		return slots[i].Slot < slots[j].Slot
	})
	return slots
}

// SetActive flags a slot active or inactive.
func SetActive(ctx context.Context, st Settings, slot int, active bool) error {
	return updateState(ctx, st, func(s *state) { s.Active[strconv.Itoa(slot)] = active })
}

// SetPrimary marks slot as the primary account.
func SetPrimary(ctx context.Context, st Settings, slot int) error {
	return updateState(ctx, st, func(s *state) { s.Primary = slot })
}

// BindVPN binds slot to the VPN config with id.
func BindVPN(ctx context.Context, st Settings, slot int, id string) error {
	return st.Update(ctx, VPNMapKey, func(current string, _ bool) (string, error) {
		m := decodeVPNMap(current)
		m[strconv.Itoa(slot)] = id
		return encode(m)
	})
}

// VPNFor returns the config data bound to slot, or "" when the slot is
// unbound or its config no longer exists.
func VPNFor(ctx context.Context, st Settings, slot int) (string, error) {
	m, err := loadVPNMap(ctx, st)
	if err != nil {
		return "", err
	}
	id := m[strconv.Itoa(slot)]
	if id == "" {
		return "", nil
	}
	configs, err := Configs(ctx, st, AccountRegion)
	if err != nil {
		return "", err
	}
	for _, c := range configs {
		if c.ID == id {
			return c.Data, nil
		}
	}
	return "", nil
}

// Activated reports whether paid retrieval is switched on.
func Activated(ctx context.Context, st Settings) (bool, error) {
	v, err := st.GetDefault(ctx, ActivationKey, "0")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(v) == "1", nil
}

// SetActivated switches paid retrieval on or off.
func SetActivated(ctx context.Context, st Settings, on bool) error {
	v := "0"
	if on {
		v = "1"
	}
	return st.Update(ctx, ActivationKey, func(string, bool) (string, error) { return v, nil })
}

func loadState(ctx context.Context, st Settings) (state, error) {
	raw, err := st.GetDefault(ctx, StateKey, "{}")
	if err != nil {
		return state{}, fmt.Errorf("loading account state: %w", err)
	}
	return decodeState(raw), nil
}

func decodeState(raw string) state {
	var s state
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		s = state{}
	}
	if s.Active == nil {
		s.Active = make(map[string]bool)
	}
	return s
}

func updateState(ctx context.Context, st Settings, fn func(*state)) error {
	return st.Update(ctx, StateKey, func(current string, _ bool) (string, error) {
		s := decodeState(current)
		fn(&s)
		return encode(s)
	})
}

func loadVPNMap(ctx context.Context, st Settings) (map[string]string, error) {
	raw, err := st.GetDefault(ctx, VPNMapKey, "{}")
	if err != nil {
		return nil, fmt.Errorf("loading vpn map: %w", err)
	}
	return decodeVPNMap(raw), nil
}

func decodeVPNMap(raw string) map[string]string {
	m := make(map[string]string)
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return m
	}
	for k, v := range data {
		switch x := v.(type) {
		case string:
			m[k] = x
		case float64:
			m[k] = strconv.FormatFloat(x, 'f', -1, 64)
		}
	}
	return m
}

func encode(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding: %w", err)
	}
	return string(raw), nil
}
