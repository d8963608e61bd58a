// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/postlab/deliverability/internal/models"
)

// defaultInboxes are the fixed test addresses, one per provider.
// Overridable per deployment in config.yaml.
var defaultInboxes = map[models.Provider]string{
	models.ProviderGmail:      "spamtest.gmail@gmail.com",
	models.ProviderOutlook:    "spamtest.outlook@outlook.com",
	models.ProviderYahoo:      "spamtest.yahoo@yahoo.com",
	models.ProviderProtonMail: "spamtest.proton@proton.me",
	models.ProviderICloud:     "spamtest.icloud@icloud.com",
}

// ProviderConfig holds the fixed inbox and credentials for a single
// provider. Which credential fields apply depends on the provider:
// Gmail uses the OAuth refresh-token trio, Outlook the tenant
// client-credentials trio, and the IMAP providers host/username/password.
type ProviderConfig struct {
	Inbox string `yaml:"inbox"`

	// OAuth (Gmail, Outlook)
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	TenantID     string `yaml:"tenant_id"`

	// IMAP (Yahoo, ProtonMail bridge, iCloud)
	IMAPHost string `yaml:"imap_host"`
	IMAPPort int    `yaml:"imap_port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Config holds all configuration for the deliverability service.
type Config struct {
	Providers map[models.Provider]ProviderConfig

	// Postgres
	DatabaseURL string

	// Redis
	RedisURL      string
	ChannelPrefix string

	// Engine
	CheckTimeout    time.Duration
	MaxCodeAttempts int

	// Sweep
	SweepStuckAfter   time.Duration
	SweepAbandonAfter time.Duration

	// Server
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL           string `yaml:"url"`
		ChannelPrefix string `yaml:"channel_prefix"`
	} `yaml:"redis"`
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// Load reads configuration from config.yaml (with env var expansion)
// and environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		DatabaseURL:       firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "")),
		RedisURL:          firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		ChannelPrefix:     firstNonEmpty(raw.Redis.ChannelPrefix, "deliverability"),
		CheckTimeout:      envOrDefaultDuration("CHECK_TIMEOUT", 90*time.Second),
		MaxCodeAttempts:   envOrDefaultInt("MAX_CODE_ATTEMPTS", 5),
		SweepStuckAfter:   envOrDefaultDuration("SWEEP_STUCK_AFTER", 10*time.Minute),
		SweepAbandonAfter: envOrDefaultDuration("SWEEP_ABANDON_AFTER", 5*time.Minute),
		Port:              envOrDefaultInt("PORT", 8080),
		Providers:         make(map[models.Provider]ProviderConfig),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database URL is required: set database.url in config.yaml or DATABASE_URL")
	}

	// Every provider gets an entry; missing inboxes fall back to the
	// defaults. Credentials may be absent; those providers simply
	// have no live checker.
	for _, p := range models.Providers() {
		pc := raw.Providers[string(p)]
		if pc.Inbox == "" {
			pc.Inbox = defaultInboxes[p]
		}
		cfg.Providers[p] = pc
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
