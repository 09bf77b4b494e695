// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout (default 15s).
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Contact is the polite contact email sent as mailto in the User-Agent
	// and as the email parameter of open-access lookups.
	Contact string `json:"contact" yaml:"contact"`

	// RequestsPerSecond paces calls to each registry (default 5).
	RequestsPerSecond float64 `json:"rps" yaml:"rps"`
}

// ResolverConfig holds settings for metadata resolution and classification.
type ResolverConfig struct {
	// MaxParallel bounds the metadata fan-out (default 4).
	MaxParallel int `json:"max_parallel" yaml:"max_parallel"`

	// AIMinConfidence is the lowest AI confidence accepted as a category (default 0.40).
	AIMinConfidence float64 `json:"ai_min_confidence" yaml:"ai_min_confidence"`

	// CategoryMinShare is the lowest bucket share accepted by the concept
	// fallback (default 0.30).
	CategoryMinShare float64 `json:"category_min_share" yaml:"category_min_share"`
}

// AIConfig holds settings for the OpenAI-compatible classification service.
type AIConfig struct {
	// BaseURL is the API root (e.g. "https://api.groq.com/openai/v1").
	BaseURL string `json:"base_url" yaml:"base_url"`

	// Model is the primary model identifier.
	Model string `json:"model" yaml:"model"`

	// FallbackModel is the smaller model tried last.
	FallbackModel string `json:"fallback_model" yaml:"fallback_model"`

	// APIKey is the authentication key for the AI API. Empty disables AI.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// Timeout bounds each call (default 20s).
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// DownloadConfig holds settings for the download executor.
type DownloadConfig struct {
	// MaxMB caps a single download (default 40).
	MaxMB int `json:"max_mb" yaml:"max_mb"`

	// TmpDir receives downloaded files until they are packaged.
	TmpDir string `json:"tmp_dir" yaml:"tmp_dir"`
}

// ProvidersConfig holds the static provider lists.
type ProvidersConfig struct {
	// PreCutoff is the JSON list used for years before CutoffYear.
	PreCutoff string `json:"pre_cutoff" yaml:"pre_cutoff"`

	// PostCutoff is the JSON list used from CutoffYear on, and first when the
	// year is unknown.
	PostCutoff string `json:"post_cutoff" yaml:"post_cutoff"`

	// CutoffYear splits the two lists (default 2022).
	CutoffYear int `json:"cutoff_year" yaml:"cutoff_year"`

	// HTTPProxy is an optional outbound proxy for search providers.
	HTTPProxy string `json:"http_proxy,omitempty" yaml:"http_proxy,omitempty"`
}

// VenueConfig holds settings for the paid venue path.
type VenueConfig struct {
	// LimitPerHour is the per-slot success ceiling (default 6).
	LimitPerHour int `json:"limit_per_hour" yaml:"limit_per_hour"`

	// MinYear is the first publication year routed to the venue (default 2022).
	MinYear int `json:"min_year" yaml:"min_year"`

	// MatchMinConfidence is the AI comparator threshold for clicking a
	// candidate (default 0.95).
	MatchMinConfidence float64 `json:"match_min_confidence" yaml:"match_min_confidence"`

	// JournalMinConfidence is the threshold for the journal check (default 0.6).
	JournalMinConfidence float64 `json:"journal_min_confidence" yaml:"journal_min_confidence"`

	// RefreshMin and RefreshMax bound the random session refresh interval
	// (default 3h and 4h).
	RefreshMin time.Duration `json:"refresh_min" yaml:"refresh_min"`
	RefreshMax time.Duration `json:"refresh_max" yaml:"refresh_max"`

	// Headless runs the browser without a window.
	Headless bool `json:"headless" yaml:"headless"`

	// ArchiveBase is the dark-archive mirror root (default "https://www.sci-hub.ee").
	ArchiveBase string `json:"archive_base" yaml:"archive_base"`
}

// TunnelConfig holds settings for the tunnel manager.
type TunnelConfig struct {
	// Root holds bin/ and configs/ (default "v2ray").
	Root string `json:"root" yaml:"root"`

	// PortTimeout bounds the wait for the local listener (default 6s).
	PortTimeout time.Duration `json:"port_timeout" yaml:"port_timeout"`
}

// CaptchaConfig holds settings for the CAPTCHA solving service.
type CaptchaConfig struct {
	// APIKey is the solving-service key. Empty disables solving.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// PollInterval is the wait between result polls (default 5s).
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`

	// MaxPolls bounds polling per run (default 90).
	MaxPolls int `json:"max_polls" yaml:"max_polls"`

	// Runs is the number of submit-and-poll cycles (default 3).
	Runs int `json:"runs" yaml:"runs"`
}

// StoreDriver selects the settings/metadata backend.
type StoreDriver string

const (
	DriverSQLite   StoreDriver = "sqlite"
	DriverPostgres StoreDriver = "postgres"
)

// StoreConfig holds settings for the persistent store.
type StoreConfig struct {
	Driver StoreDriver `json:"driver" yaml:"driver"`

	// DSN is a file path for sqlite or a connection string for postgres.
	DSN string `json:"dsn" yaml:"dsn"`
}

// DeliveryConfig holds settings for outbound delivery.
type DeliveryConfig struct {
	// TelegramToken is the bot token. Empty selects the writer notifier.
	TelegramToken string `json:"telegram_token,omitempty" yaml:"telegram_token,omitempty"`

	// LinkBot is the username of the download bot. When set, archives are
	// delivered as single-use deep links.
	LinkBot string `json:"link_bot,omitempty" yaml:"link_bot,omitempty"`

	// LinkTTL is the download-link lifetime (default 48h, minimum 1h).
	LinkTTL time.Duration `json:"link_ttl" yaml:"link_ttl"`

	// LinkDir receives packaged archives (default "downloads").
	LinkDir string `json:"link_dir" yaml:"link_dir"`
}

// Config groups all settings for the engine.
type Config struct {
	HTTP      HTTPConfig      `json:"http" yaml:"http"`
	Resolver  ResolverConfig  `json:"resolver" yaml:"resolver"`
	AI        AIConfig        `json:"ai" yaml:"ai"`
	Download  DownloadConfig  `json:"download" yaml:"download"`
	Providers ProvidersConfig `json:"providers" yaml:"providers"`
	Venue     VenueConfig     `json:"venue" yaml:"venue"`
	Tunnel    TunnelConfig    `json:"tunnel" yaml:"tunnel"`
	Captcha   CaptchaConfig   `json:"captcha" yaml:"captcha"`
	Store     StoreConfig     `json:"store" yaml:"store"`
	Delivery  DeliveryConfig  `json:"delivery" yaml:"delivery"`
}

// DefaultConfig returns the configuration with every default filled in.
func DefaultConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			Timeout:           15 * time.Second,
			RequestsPerSecond: 5,
		},
		Resolver: ResolverConfig{
			MaxParallel:      4,
			AIMinConfidence:  0.40,
			CategoryMinShare: 0.30,
		},
		AI: AIConfig{
			BaseURL:       "https://api.groq.com/openai/v1",
			Model:         "llama-3.3-70b-versatile",
			FallbackModel: "llama-3.1-8b-instant",
			Timeout:       20 * time.Second,
		},
		Download: DownloadConfig{
			MaxMB:  40,
			TmpDir: "tmp",
		},
		Providers: ProvidersConfig{
			CutoffYear: 2022,
		},
		Venue: VenueConfig{
			LimitPerHour:         6,
			MinYear:              2022,
			MatchMinConfidence:   0.95,
			JournalMinConfidence: 0.6,
			RefreshMin:           3 * time.Hour,
			RefreshMax:           4 * time.Hour,
			Headless:             true,
			ArchiveBase:          "https://www.sci-hub.ee",
		},
		Tunnel: TunnelConfig{
			Root:        "v2ray",
			PortTimeout: 6 * time.Second,
		},
		Captcha: CaptchaConfig{
			PollInterval: 5 * time.Second,
			MaxPolls:     90,
			Runs:         3,
		},
		Store: StoreConfig{
			Driver: DriverSQLite,
			DSN:    "dastyar.db",
		},
		Delivery: DeliveryConfig{
			LinkTTL: 48 * time.Hour,
			LinkDir: "downloads",
		},
	}
}
