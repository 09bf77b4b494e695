// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the dastyar CLI.
// Implements: batch runs, metadata-only resolution, activation, download
// links, account slots, VPN configs, and tunnels (CLI surface).
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dastyar-team/dastyar/internal/logging"
	"github.com/dastyar-team/dastyar/internal/secrets"
	"github.com/dastyar-team/dastyar/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys and credentials loaded from .secrets/ at startup.
var loadedSecrets map[string]string

// logger is the root logger, built once flags are parsed.
var logger *log.Logger

// secretDefault returns value if set, or the secret stored under key.
func secretDefault(value, key string) string {
	if value != "" {
		return value
	}
	return loadedSecrets[key]
}

// lookup reads credentials from the environment, then from .secrets/.
func lookup(key string) string {
	return secrets.Lookup(loadedSecrets, os.Getenv)(key)
}

// rootCmd is the base command for the dastyar CLI.
var rootCmd = &cobra.Command{
	Use:   "dastyar",
	Short: "Resolve DOIs and retrieve their PDFs",
	Long: `dastyar turns a batch of DOIs into retrieved PDF files. It resolves
metadata from Crossref and OpenAlex, classifies each document, looks for an
open-access copy, falls back to configured providers and the paid venue
through per-account browser sessions, and packages the results into an
archive with a summary document.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		logger = logging.New(os.Stderr, level)

		s, err := secrets.Load(secrets.DefaultDir, logger)
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			logger.Debug("secrets_loaded", "keys", keys)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./dastyar.yaml or ~/.config/dastyar/dastyar.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "warning: reading .env:", err)
	}

	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("dastyar")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "dastyar"))
		}
	}

	viper.SetEnvPrefix("DASTYAR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults(types.DefaultConfig())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func setDefaults(d types.Config) {
	viper.SetDefault("http.timeout", d.HTTP.Timeout)
	viper.SetDefault("http.contact", d.HTTP.Contact)
	viper.SetDefault("http.rps", d.HTTP.RequestsPerSecond)
	viper.SetDefault("resolver.max_parallel", d.Resolver.MaxParallel)
	viper.SetDefault("resolver.ai_min_confidence", d.Resolver.AIMinConfidence)
	viper.SetDefault("resolver.category_min_share", d.Resolver.CategoryMinShare)
	viper.SetDefault("ai.base_url", d.AI.BaseURL)
	viper.SetDefault("ai.model", d.AI.Model)
	viper.SetDefault("ai.fallback_model", d.AI.FallbackModel)
	viper.SetDefault("ai.api_key", "")
	viper.SetDefault("ai.timeout", d.AI.Timeout)
	viper.SetDefault("download.max_mb", d.Download.MaxMB)
	viper.SetDefault("download.tmp_dir", d.Download.TmpDir)
	viper.SetDefault("providers.pre_cutoff", "")
	viper.SetDefault("providers.post_cutoff", "")
	viper.SetDefault("providers.cutoff_year", d.Providers.CutoffYear)
	viper.SetDefault("providers.http_proxy", "")
	viper.SetDefault("venue.limit_per_hour", d.Venue.LimitPerHour)
	viper.SetDefault("venue.min_year", d.Venue.MinYear)
	viper.SetDefault("venue.match_min_confidence", d.Venue.MatchMinConfidence)
	viper.SetDefault("venue.journal_min_confidence", d.Venue.JournalMinConfidence)
	viper.SetDefault("venue.refresh_min", d.Venue.RefreshMin)
	viper.SetDefault("venue.refresh_max", d.Venue.RefreshMax)
	viper.SetDefault("venue.headless", d.Venue.Headless)
	viper.SetDefault("venue.archive_base", d.Venue.ArchiveBase)
	viper.SetDefault("tunnel.root", d.Tunnel.Root)
	viper.SetDefault("tunnel.port_timeout", d.Tunnel.PortTimeout)
	viper.SetDefault("captcha.api_key", "")
	viper.SetDefault("captcha.poll_interval", d.Captcha.PollInterval)
	viper.SetDefault("captcha.max_polls", d.Captcha.MaxPolls)
	viper.SetDefault("captcha.runs", d.Captcha.Runs)
	viper.SetDefault("store.driver", string(d.Store.Driver))
	viper.SetDefault("store.dsn", d.Store.DSN)
	viper.SetDefault("delivery.telegram_token", "")
	viper.SetDefault("delivery.link_bot", "")
	viper.SetDefault("delivery.link_ttl", d.Delivery.LinkTTL)
	viper.SetDefault("delivery.link_dir", d.Delivery.LinkDir)
}

// loadConfig materialises the viper settings, with secrets as fallbacks
// for keys and the contact address.
func loadConfig() types.Config {
	return types.Config{
		HTTP: types.HTTPConfig{
			Timeout:           viper.GetDuration("http.timeout"),
			Contact:           secretDefault(viper.GetString("http.contact"), secrets.Contact),
			RequestsPerSecond: viper.GetFloat64("http.rps"),
		},
		Resolver: types.ResolverConfig{
			MaxParallel:      viper.GetInt("resolver.max_parallel"),
			AIMinConfidence:  viper.GetFloat64("resolver.ai_min_confidence"),
			CategoryMinShare: viper.GetFloat64("resolver.category_min_share"),
		},
		AI: types.AIConfig{
			BaseURL:       viper.GetString("ai.base_url"),
			Model:         viper.GetString("ai.model"),
			FallbackModel: viper.GetString("ai.fallback_model"),
			APIKey:        secretDefault(viper.GetString("ai.api_key"), secrets.AIKey),
			Timeout:       viper.GetDuration("ai.timeout"),
		},
		Download: types.DownloadConfig{
			MaxMB:  viper.GetInt("download.max_mb"),
			TmpDir: viper.GetString("download.tmp_dir"),
		},
		Providers: types.ProvidersConfig{
			PreCutoff:  viper.GetString("providers.pre_cutoff"),
			PostCutoff: viper.GetString("providers.post_cutoff"),
			CutoffYear: viper.GetInt("providers.cutoff_year"),
			HTTPProxy:  viper.GetString("providers.http_proxy"),
		},
		Venue: types.VenueConfig{
			LimitPerHour:         viper.GetInt("venue.limit_per_hour"),
			MinYear:              viper.GetInt("venue.min_year"),
			MatchMinConfidence:   viper.GetFloat64("venue.match_min_confidence"),
			JournalMinConfidence: viper.GetFloat64("venue.journal_min_confidence"),
			RefreshMin:           viper.GetDuration("venue.refresh_min"),
			RefreshMax:           viper.GetDuration("venue.refresh_max"),
			Headless:             viper.GetBool("venue.headless"),
			ArchiveBase:          viper.GetString("venue.archive_base"),
		},
		Tunnel: types.TunnelConfig{
			Root:        viper.GetString("tunnel.root"),
			PortTimeout: viper.GetDuration("tunnel.port_timeout"),
		},
		Captcha: types.CaptchaConfig{
			APIKey:       secretDefault(viper.GetString("captcha.api_key"), secrets.CaptchaKey),
			PollInterval: viper.GetDuration("captcha.poll_interval"),
			MaxPolls:     viper.GetInt("captcha.max_polls"),
			Runs:         viper.GetInt("captcha.runs"),
		},
		Store: types.StoreConfig{
			Driver: types.StoreDriver(viper.GetString("store.driver")),
			DSN:    viper.GetString("store.dsn"),
		},
		Delivery: types.DeliveryConfig{
			TelegramToken: secretDefault(viper.GetString("delivery.telegram_token"), secrets.TelegramToken),
			LinkBot:       viper.GetString("delivery.link_bot"),
			LinkTTL:       viper.GetDuration("delivery.link_ttl"),
			LinkDir:       viper.GetString("delivery.link_dir"),
		},
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
