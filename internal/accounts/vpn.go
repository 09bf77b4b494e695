// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dastyar-team/dastyar/pkg/types"
)

// NormRegion maps anything but "global" to the account region.
func NormRegion(region string) string {
	if r := strings.ToLower(strings.TrimSpace(region)); r == "global" {
		return r
	}
	return AccountRegion
}

// ConfigsKey is the settings key holding a region's VPN configs.
func ConfigsKey(region string) string {
	return "V2RAY_CONFIGS_" + strings.ToUpper(NormRegion(region))
}

// Configs returns the region's VPN configs, dropping entries without data.
func Configs(ctx context.Context, st Settings, region string) ([]types.VPNConfig, error) {
	raw, err := st.GetDefault(ctx, ConfigsKey(region), "[]")
	if err != nil {
		return nil, fmt.Errorf("loading vpn configs: %w", err)
	}
	return decodeConfigs(raw), nil
}

func decodeConfigs(raw string) []types.VPNConfig {
	var all []types.VPNConfig
	if err := json.Unmarshal([]byte(raw), &all); err != nil {
		return nil
	}
	out := all[:0]
	for _, c := range all {
		if c.Data != "" {
			out = append(out, c)
		}
	}
	return out
}

func updateConfigs(ctx context.Context, st Settings, region string, fn func([]types.VPNConfig) ([]types.VPNConfig, error)) error {
	return st.Update(ctx, ConfigsKey(region), func(current string, _ bool) (string, error) {
		next, err := fn(decodeConfigs(current))
		if err != nil {
			return "", err
		}
		if next == nil {
			next = []types.VPNConfig{}
		}
		return encode(next)
	})
}

// AddConfig stores a new config. The first config of a region becomes
// active.
func AddConfig(ctx context.Context, st Settings, region, label, data string) (types.VPNConfig, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return types.VPNConfig{}, errors.New("empty vpn config")
	}
	var added types.VPNConfig
	err := updateConfigs(ctx, st, region, func(configs []types.VPNConfig) ([]types.VPNConfig, error) {
		if label == "" {
			label = fmt.Sprintf("Config %d", len(configs)+1)
		}
		added = types.VPNConfig{
			ID:     strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
			Label:  label,
			Data:   data,
			Active: len(configs) == 0,
		}
		return append(configs, added), nil
	})
	return added, err
}

// RemoveConfig deletes the config with id. When the active config is
// removed the first remaining one becomes active. It reports whether a
// config was removed.
func RemoveConfig(ctx context.Context, st Settings, region, id string) (bool, error) {
	var removed bool
	err := updateConfigs(ctx, st, region, func(configs []types.VPNConfig) ([]types.VPNConfig, error) {
		out := configs[:0]
		anyActive := false
		for _, c := range configs {
			if c.ID == id {
				removed = true
				continue
			}
			anyActive = anyActive || c.Active
			out = append(out, c)
		}
		if len(out) > 0 && !anyActive {
			out[0].Active = true
		}
		return out, nil
	})
	return removed, err
}

// SetActiveConfig makes id the only active config of the region.
func SetActiveConfig(ctx context.Context, st Settings, region, id string) (bool, error) {
	var found bool
	err := updateConfigs(ctx, st, region, func(configs []types.VPNConfig) ([]types.VPNConfig, error) {
		for i := range configs {
			configs[i].Active = configs[i].ID == id
			found = found || configs[i].Active
		}
		if !found {
			return nil, errNoChange
		}
		return configs, nil
	})
	if errors.Is(err, errNoChange) {
		return false, nil
	}
	return found, err
}

// ActiveConfig returns the active config of the region, the first config
// when none is flagged, or false when the region has none.
func ActiveConfig(ctx context.Context, st Settings, region string) (types.VPNConfig, bool, error) {
	configs, err := Configs(ctx, st, region)
	if err != nil || len(configs) == 0 {
		return types.VPNConfig{}, false, err
	}
	for _, c := range configs {
		if c.Active {
			return c, true, nil
		}
	}
	return configs[0], true, nil
}

// SetStatus records a health check result for a config.
func SetStatus(ctx context.Context, st Settings, region, id, status string, pingMS int) error {
	return updateConfigs(ctx, st, region, func(configs []types.VPNConfig) ([]types.VPNConfig, error) {
		for i := range configs {
			if configs[i].ID == id {
				configs[i].Status = status
				configs[i].Ping = pingMS
			}
		}
		return configs, nil
	})
}

var errNoChange = errors.New("no change")
