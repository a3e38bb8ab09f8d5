package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel    = "deepseek/deepseek-r1-0528:free"
	DefaultBaseURL  = "https://openrouter.ai/api/v1"
	DefaultSiteURL  = "http://localhost"
	DefaultSiteName = "Hamdam"

	DefaultReplyMaxTokens      = 1500
	DefaultReplyTemperature    = 0.8
	DefaultAnalysisMaxTokens   = 800
	DefaultAnalysisTemperature = 0.3
	DefaultRequestTimeoutSec   = 60

	DefaultLongTermThreshold = 0.7
	DefaultCandidatePool     = 50
	DefaultContextLimit      = 10
	DefaultCacheCap          = 20
	DefaultCacheMaxAge       = "1h"
	DefaultPurgeAfterDays    = 7

	DefaultDelayMinSec = 2
	DefaultDelayMaxSec = 5

	DefaultBufSize = 100
)

type Config struct {
	Provider ProviderConfig `json:"provider"`
	Channels ChannelsConfig `json:"channels"`
	Memory   MemoryConfig   `json:"memory"`
	Store    StoreConfig    `json:"store"`
	Bot      BotConfig      `json:"bot"`
}

type ProviderConfig struct {
	APIKey              string  `json:"apiKey"`
	BaseURL             string  `json:"baseUrl,omitempty"`
	Model               string  `json:"model,omitempty"`
	SiteURL             string  `json:"siteUrl,omitempty"`
	SiteName            string  `json:"siteName,omitempty"`
	ReplyMaxTokens      int     `json:"replyMaxTokens,omitempty"`
	ReplyTemperature    float64 `json:"replyTemperature,omitempty"`
	AnalysisMaxTokens   int     `json:"analysisMaxTokens,omitempty"`
	AnalysisTemperature float64 `json:"analysisTemperature,omitempty"`
	RequestTimeoutSec   int     `json:"requestTimeoutSec,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type MemoryConfig struct {
	DBPath            string  `json:"dbPath,omitempty"`
	LongTermThreshold float64 `json:"longTermThreshold,omitempty"`
	CandidatePool     int     `json:"candidatePool,omitempty"`
	ContextLimit      int     `json:"contextLimit,omitempty"`
	CacheCap          int     `json:"cacheCap,omitempty"`
	CacheMaxAge       string  `json:"cacheMaxAge,omitempty"`
	PurgeAfterDays    int     `json:"purgeAfterDays,omitempty"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath,omitempty"`
}

type BotConfig struct {
	DelayMinSec int `json:"delayMinSec,omitempty"`
	DelayMaxSec int `json:"delayMaxSec,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			BaseURL:             DefaultBaseURL,
			Model:               DefaultModel,
			SiteURL:             DefaultSiteURL,
			SiteName:            DefaultSiteName,
			ReplyMaxTokens:      DefaultReplyMaxTokens,
			ReplyTemperature:    DefaultReplyTemperature,
			AnalysisMaxTokens:   DefaultAnalysisMaxTokens,
			AnalysisTemperature: DefaultAnalysisTemperature,
			RequestTimeoutSec:   DefaultRequestTimeoutSec,
		},
		Channels: ChannelsConfig{},
		Memory: MemoryConfig{
			LongTermThreshold: DefaultLongTermThreshold,
			CandidatePool:     DefaultCandidatePool,
			ContextLimit:      DefaultContextLimit,
			CacheCap:          DefaultCacheCap,
			CacheMaxAge:       DefaultCacheMaxAge,
			PurgeAfterDays:    DefaultPurgeAfterDays,
		},
		Bot: BotConfig{
			DelayMinSec: DefaultDelayMinSec,
			DelayMaxSec: DefaultDelayMaxSec,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".hamdam")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func DataDir() string {
	return filepath.Join(ConfigDir(), "data")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("HAMDAM_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if url := os.Getenv("HAMDAM_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("HAMDAM_MODEL"); model != "" {
		cfg.Provider.Model = model
	}
	if url := os.Getenv("HAMDAM_SITE_URL"); url != "" {
		cfg.Provider.SiteURL = url
	}
	if name := os.Getenv("HAMDAM_SITE_NAME"); name != "" {
		cfg.Provider.SiteName = name
	}
	if token := os.Getenv("HAMDAM_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" && cfg.Channels.Telegram.Token == "" {
		cfg.Channels.Telegram.Token = token
	}
	if dbPath := os.Getenv("HAMDAM_MEMORY_DB_PATH"); dbPath != "" {
		cfg.Memory.DBPath = dbPath
	}
	if dbPath := os.Getenv("HAMDAM_STORE_DB_PATH"); dbPath != "" {
		cfg.Store.DBPath = dbPath
	}
	if threshold := os.Getenv("HAMDAM_LONG_TERM_THRESHOLD"); threshold != "" {
		if parsed, err := strconv.ParseFloat(threshold, 64); err == nil {
			cfg.Memory.LongTermThreshold = parsed
		}
	}

	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = DefaultBaseURL
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = DefaultModel
	}
	if cfg.Provider.ReplyMaxTokens <= 0 {
		cfg.Provider.ReplyMaxTokens = DefaultReplyMaxTokens
	}
	if cfg.Provider.ReplyTemperature <= 0 {
		cfg.Provider.ReplyTemperature = DefaultReplyTemperature
	}
	if cfg.Provider.AnalysisMaxTokens <= 0 {
		cfg.Provider.AnalysisMaxTokens = DefaultAnalysisMaxTokens
	}
	if cfg.Provider.AnalysisTemperature <= 0 {
		cfg.Provider.AnalysisTemperature = DefaultAnalysisTemperature
	}
	if cfg.Provider.RequestTimeoutSec <= 0 {
		cfg.Provider.RequestTimeoutSec = DefaultRequestTimeoutSec
	}
	if cfg.Memory.LongTermThreshold <= 0 {
		cfg.Memory.LongTermThreshold = DefaultLongTermThreshold
	}
	if cfg.Memory.CandidatePool <= 0 {
		cfg.Memory.CandidatePool = DefaultCandidatePool
	}
	if cfg.Memory.ContextLimit <= 0 {
		cfg.Memory.ContextLimit = DefaultContextLimit
	}
	if cfg.Memory.CacheCap <= 0 {
		cfg.Memory.CacheCap = DefaultCacheCap
	}
	if cfg.Memory.CacheMaxAge == "" {
		cfg.Memory.CacheMaxAge = DefaultCacheMaxAge
	}
	if cfg.Memory.PurgeAfterDays <= 0 {
		cfg.Memory.PurgeAfterDays = DefaultPurgeAfterDays
	}
	if cfg.Bot.DelayMinSec <= 0 {
		cfg.Bot.DelayMinSec = DefaultDelayMinSec
	}
	if cfg.Bot.DelayMaxSec <= 0 {
		cfg.Bot.DelayMaxSec = DefaultDelayMaxSec
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
