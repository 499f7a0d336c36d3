// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package guildhall holds the runtime core: configuration, the host
// server wiring the subsystems together, and the periodic scheduler.
package guildhall

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/hashicorp/guildhall/guildhall/lang"
)

// Config is the immutable process configuration. It is read once from
// the environment at startup and never mutated afterwards.
type Config struct {
	// DB coordinates.
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// Pool and breaker tuning.
	PoolSize         int
	QueryTimeout     time.Duration
	BreakerThreshold int
	BreakerTimeout   time.Duration

	// Translation catalog.
	TranslationPath     string
	TranslationMaxBytes int64

	// Timezone drives the scheduler's wall-clock triggers.
	Timezone *time.Location

	// AnthropicAPIKey is passed through to the AI relay feature module.
	AnthropicAPIKey string
}

// DefaultConfig returns the tuning defaults; DB coordinates and the
// translation path have no defaults and must come from the environment.
func DefaultConfig() *Config {
	return &Config{
		DBHost:              "127.0.0.1",
		DBPort:              5432,
		PoolSize:            10,
		QueryTimeout:        5 * time.Second,
		BreakerThreshold:    5,
		BreakerTimeout:      30 * time.Second,
		TranslationMaxBytes: lang.DefaultMaxCatalogBytes,
		Timezone:            time.UTC,
	}
}

// LoadConfig reads the environment once and overlays it on the
// defaults.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()
	var mErr *multierror.Error

	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				mErr = multierror.Append(mErr, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	seconds := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				mErr = multierror.Append(mErr, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = time.Duration(n) * time.Second
		}
	}

	str("GUILDHALL_DB_HOST", &cfg.DBHost)
	num("GUILDHALL_DB_PORT", &cfg.DBPort)
	str("GUILDHALL_DB_USER", &cfg.DBUser)
	str("GUILDHALL_DB_PASSWORD", &cfg.DBPassword)
	str("GUILDHALL_DB_NAME", &cfg.DBName)
	num("GUILDHALL_DB_POOL_SIZE", &cfg.PoolSize)
	seconds("GUILDHALL_DB_QUERY_TIMEOUT", &cfg.QueryTimeout)
	num("GUILDHALL_DB_BREAKER_THRESHOLD", &cfg.BreakerThreshold)
	seconds("GUILDHALL_DB_BREAKER_TIMEOUT", &cfg.BreakerTimeout)
	str("GUILDHALL_TRANSLATIONS_PATH", &cfg.TranslationPath)
	str("GUILDHALL_ANTHROPIC_API_KEY", &cfg.AnthropicAPIKey)

	if v := os.Getenv("GUILDHALL_TRANSLATIONS_MAX_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("GUILDHALL_TRANSLATIONS_MAX_BYTES: %w", err))
		} else {
			cfg.TranslationMaxBytes = n
		}
	}
	if v := os.Getenv("GUILDHALL_TIMEZONE"); v != "" {
		loc, err := time.LoadLocation(v)
		if err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("GUILDHALL_TIMEZONE: %w", err))
		} else {
			cfg.Timezone = loc
		}
	}

	if err := mErr.ErrorOrNil(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings a running process cannot do without.
func (c *Config) Validate() error {
	var mErr *multierror.Error

	if c.DBHost == "" {
		mErr = multierror.Append(mErr, fmt.Errorf("db host is required"))
	}
	if c.DBPort <= 0 || c.DBPort > 65535 {
		mErr = multierror.Append(mErr, fmt.Errorf("db port %d out of range", c.DBPort))
	}
	if c.DBUser == "" {
		mErr = multierror.Append(mErr, fmt.Errorf("db user is required"))
	}
	if c.DBName == "" {
		mErr = multierror.Append(mErr, fmt.Errorf("db name is required"))
	}
	if c.PoolSize <= 0 {
		mErr = multierror.Append(mErr, fmt.Errorf("pool size must be positive, got %d", c.PoolSize))
	}
	if c.QueryTimeout < 0 {
		mErr = multierror.Append(mErr, fmt.Errorf("query timeout cannot be negative"))
	}
	if c.BreakerThreshold <= 0 {
		mErr = multierror.Append(mErr, fmt.Errorf("breaker threshold must be positive, got %d", c.BreakerThreshold))
	}
	if c.TranslationPath == "" {
		mErr = multierror.Append(mErr, fmt.Errorf("translation catalog path is required"))
	}
	if c.Timezone == nil {
		mErr = multierror.Append(mErr, fmt.Errorf("timezone is required"))
	}

	return mErr.ErrorOrNil()
}

// DSN renders the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		url.QueryEscape(c.DBUser), url.QueryEscape(c.DBPassword), c.DBHost, c.DBPort, c.DBName)
}
