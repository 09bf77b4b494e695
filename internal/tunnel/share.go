// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package tunnel

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Local inbound ports per region. Unknown regions share DefaultPort.
var Ports = map[string]int{
	"iran":   21870,
	"global": 21880,
}

const DefaultPort = 21900

// ErrNoInbound is returned when a config has no socks or http inbound.
var ErrNoInbound = errors.New("config has no local proxy inbound")

// PortFor returns the local inbound port for region.
func PortFor(region string) int {
	if p, ok := Ports[region]; ok {
		return p
	}
	return DefaultPort
}

// Config is the process configuration document.
type Config struct {
	Log       LogSettings `json:"log"`
	Inbounds  []Inbound   `json:"inbounds"`
	Outbounds []Outbound  `json:"outbounds"`
}

type LogSettings struct {
	Level string `json:"loglevel"`
}

type Inbound struct {
	Listen   string         `json:"listen"`
	Port     int            `json:"port"`
	Protocol string         `json:"protocol"`
	Settings map[string]any `json:"settings,omitempty"`
	Sniffing *Sniffing      `json:"sniffing,omitempty"`
}

type Sniffing struct {
	Enabled      bool     `json:"enabled"`
	DestOverride []string `json:"destOverride"`
}

type Outbound struct {
	Protocol       string         `json:"protocol"`
	Settings       map[string]any `json:"settings"`
	StreamSettings StreamSettings `json:"streamSettings"`
}

type StreamSettings struct {
	Network     string       `json:"network"`
	Security    string       `json:"security,omitempty"`
	TLSSettings *TLSSettings `json:"tlsSettings,omitempty"`
	TCPSettings *TCPSettings `json:"tcpSettings,omitempty"`
}

type TLSSettings struct {
	ServerName string `json:"serverName"`
}

type TCPSettings struct {
	Header TCPHeader `json:"header"`
}

// TCPHeader is the HTTP-disguise framing for tcp streams.
type TCPHeader struct {
	Type    string         `json:"type"`
	Request *HeaderRequest `json:"request,omitempty"`
}

type HeaderRequest struct {
	Path    []string            `json:"path"`
	Headers map[string][]string `json:"headers"`
}

// ParseShare converts a vless:// share line into a config with a local
// socks inbound on the region's port.
func ParseShare(line, region string) (*Config, error) {
	u, err := url.Parse(strings.TrimSpace(line))
	if err != nil {
		return nil, fmt.Errorf("parsing share url: %w", err)
	}
	if !strings.EqualFold(u.Scheme, "vless") {
		return nil, fmt.Errorf("unsupported share scheme %q", u.Scheme)
	}
	host := u.Hostname()
	user := u.User.Username()
	if host == "" || user == "" {
		return nil, errors.New("share url is missing host or user id")
	}
	port := 443
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return nil, fmt.Errorf("parsing share port: %w", err)
		}
	}

	q := u.Query()
	param := func(key, fallback string) string {
		if v := q.Get(key); v != "" {
			return v
		}
		return fallback
	}
	network := strings.ToLower(param("type", "tcp"))
	security := strings.ToLower(param("security", "none"))
	headerType := strings.ToLower(param("headerType", "none"))
	hostOverride := q.Get("host")
	path := param("path", "/")

	stream := StreamSettings{Network: network}
	if security != "none" {
		stream.Security = security
		stream.TLSSettings = &TLSSettings{ServerName: host}
		if hostOverride != "" {
			stream.TLSSettings.ServerName = hostOverride
		}
	}
	if network == "tcp" && headerType == "http" {
		headerHost := host
		if hostOverride != "" {
			headerHost = hostOverride
		}
		stream.TCPSettings = &TCPSettings{Header: TCPHeader{
			Type: "http",
			Request: &HeaderRequest{
				Path:    []string{path},
				Headers: map[string][]string{"Host": {headerHost}},
			},
		}}
	}

	return &Config{
		Log: LogSettings{Level: "warning"},
		Inbounds: []Inbound{{
			Listen:   "127.0.0.1",
			Port:     PortFor(region),
			Protocol: "socks",
			Settings: map[string]any{"udp": true, "auth": "noauth"},
			Sniffing: &Sniffing{Enabled: true, DestOverride: []string{"http", "tls"}},
		}},
		Outbounds: []Outbound{{
			Protocol: "vless",
			Settings: map[string]any{
				"vnext": []any{map[string]any{
					"address": host,
					"port":    port,
					"users": []any{map[string]any{
						"id":         user,
						"encryption": param("encryption", "none"),
					}},
				}},
			},
			StreamSettings: stream,
		}},
	}, nil
}

// Resolve returns the config document for raw, which is either a JSON
// config or a share line, together with its local proxy URL.
func Resolve(raw, region string) ([]byte, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, "", errors.New("empty tunnel config")
	}

	doc := []byte(raw)
	if !strings.HasPrefix(raw, "{") {
		cfg, err := ParseShare(raw, region)
		if err != nil {
			return nil, "", err
		}
		if doc, err = json.Marshal(cfg); err != nil {
			return nil, "", fmt.Errorf("encoding config: %w", err)
		}
	}

	proxy, err := ProxyURL(doc)
	if err != nil {
		return nil, "", err
	}
	return doc, proxy, nil
}

// ProxyURL returns the URL of the first socks or http inbound in doc.
func ProxyURL(doc []byte) (string, error) {
	var cfg struct {
		Inbounds []struct {
			Protocol string          `json:"protocol"`
			Port     json.RawMessage `json:"port"`
		} `json:"inbounds"`
	}
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return "", fmt.Errorf("parsing config: %w", err)
	}
	for _, in := range cfg.Inbounds {
		port, err := strconv.Atoi(strings.Trim(string(in.Port), `"`))
		if err != nil || port == 0 {
			continue
		}
		switch strings.ToLower(in.Protocol) {
		case "socks":
			return fmt.Sprintf("socks5://127.0.0.1:%d", port), nil
		case "http":
			return fmt.Sprintf("http://127.0.0.1:%d", port), nil
		}
	}
	return "", ErrNoInbound
}
