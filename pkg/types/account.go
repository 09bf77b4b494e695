// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// AccountSlot is one rotating paid-venue account.
type AccountSlot struct {
	Slot     int    `json:"slot" yaml:"slot"`
	Email    string `json:"email" yaml:"email"`
	Password string `json:"-" yaml:"-"`

	Active  bool `json:"active" yaml:"active"`
	Primary bool `json:"primary" yaml:"primary"`

	// VPNID is the id of the bound VPN config, if any.
	VPNID string `json:"vpn_id,omitempty" yaml:"vpn_id,omitempty"`

	// Region is the network region of the bound VPN config.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	BaseURL string `json:"base_url" yaml:"base_url"`
}

// HasCredentials reports whether both credentials are present.
func (a AccountSlot) HasCredentials() bool {
	return a.Email != "" && a.Password != ""
}

// Usable reports whether the slot may be used for retrieval.
func (a AccountSlot) Usable() bool {
	return a.Active && a.HasCredentials()
}

// VPNConfig is a named tunnel configuration. Data holds either a raw
// process config document or a single-line share URL.
type VPNConfig struct {
	ID     string `json:"id" yaml:"id"`
	Label  string `json:"label" yaml:"label"`
	Data   string `json:"data" yaml:"data"`
	Active bool   `json:"active" yaml:"active"`
	Status string `json:"status,omitempty" yaml:"status,omitempty"`
	Ping   int    `json:"ping,omitempty" yaml:"ping,omitempty"`
}
