// Copyright 2025 Tom Barlow
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

// Package config loads ServiceNow connection settings.
//
// Priority order:
//  1. Environment variables (SERVICENOW_INSTANCE, SERVICENOW_USERNAME,
//     SERVICENOW_PASSWORD).
//  2. A YAML or JSON credentials file named by SERVICENOW_CONFIG_FILE.
//
// Tuning knobs (SERVICENOW_VERIFY_SSL, API_TIMEOUT, MAX_RETRIES) come
// from the environment in both cases.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNotConfigured is returned when no credentials can be found in the
// environment or a configuration file.
var ErrNotConfigured = errors.New("config: servicenow credentials not configured")

// Defaults applied when the environment does not override them.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 1 * time.Second
)

// Settings is the resolved ServiceNow connection configuration.
type Settings struct {
	// Instance is the base URL of the ServiceNow instance.
	Instance string `yaml:"instance" json:"instance"`

	// Username and Password authenticate basic-auth requests.
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`

	// Auth is "basic" (default) or "oauth".
	Auth string `yaml:"auth,omitempty" json:"auth,omitempty"`

	// ClientID, ClientSecret, and TokenURL configure OAuth2
	// client-credentials mode.
	ClientID     string `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty" json:"client_secret,omitempty"`
	TokenURL     string `yaml:"token_url,omitempty" json:"token_url,omitempty"`

	// VerifySSL controls TLS certificate validation (default true).
	VerifySSL bool `yaml:"-" json:"-"`

	// Timeout is the per-attempt request timeout.
	Timeout time.Duration `yaml:"-" json:"-"`

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"-" json:"-"`

	// BackoffBase is the multiplier for exponential retry backoff.
	BackoffBase time.Duration `yaml:"-" json:"-"`
}

// Load resolves settings from the environment, falling back to the file
// named by SERVICENOW_CONFIG_FILE. Returns ErrNotConfigured (wrapped)
// when neither source yields credentials.
func Load() (*Settings, error) {
	s := &Settings{
		Instance: os.Getenv("SERVICENOW_INSTANCE"),
		Username: os.Getenv("SERVICENOW_USERNAME"),
		Password: os.Getenv("SERVICENOW_PASSWORD"),
		Auth:     strings.ToLower(os.Getenv("SERVICENOW_AUTH")),

		ClientID:     os.Getenv("SERVICENOW_CLIENT_ID"),
		ClientSecret: os.Getenv("SERVICENOW_CLIENT_SECRET"),
		TokenURL:     os.Getenv("SERVICENOW_TOKEN_URL"),
	}

	if !s.complete() {
		path := os.Getenv("SERVICENOW_CONFIG_FILE")
		if path == "" {
			return nil, fmt.Errorf("%w: set SERVICENOW_INSTANCE, SERVICENOW_USERNAME, and SERVICENOW_PASSWORD", ErrNotConfigured)
		}
		fromFile, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		s.merge(fromFile)
		if !s.complete() {
			return nil, fmt.Errorf("%w: %s is missing instance, username, or password", ErrNotConfigured, path)
		}
	}

	s.applyEnvironmentTuning()
	return s, nil
}

// complete reports whether enough credentials are present for some auth
// mode: instance + user/password for basic, instance + client id/secret
// for oauth.
func (s *Settings) complete() bool {
	if s.Instance == "" {
		return false
	}
	if s.Auth == "oauth" {
		return s.ClientID != "" && s.ClientSecret != ""
	}
	return s.Username != "" && s.Password != ""
}

// merge fills empty fields from another settings value.
func (s *Settings) merge(other *Settings) {
	if s.Instance == "" {
		s.Instance = other.Instance
	}
	if s.Username == "" {
		s.Username = other.Username
	}
	if s.Password == "" {
		s.Password = other.Password
	}
	if s.Auth == "" {
		s.Auth = other.Auth
	}
	if s.ClientID == "" {
		s.ClientID = other.ClientID
	}
	if s.ClientSecret == "" {
		s.ClientSecret = other.ClientSecret
	}
	if s.TokenURL == "" {
		s.TokenURL = other.TokenURL
	}
}

// loadFile parses a YAML or JSON credentials file. JSON is a YAML
// subset, so one parser covers both.
func loadFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &s, nil
}

// applyEnvironmentTuning reads the optional override variables, falling
// back to defaults on absence or unparsable values.
func (s *Settings) applyEnvironmentTuning() {
	s.VerifySSL = verifySSLFromEnv()
	s.Timeout = DefaultTimeout
	s.MaxRetries = DefaultMaxRetries
	s.BackoffBase = DefaultBackoffBase

	if raw := os.Getenv("API_TIMEOUT"); raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
			s.Timeout = time.Duration(secs * float64(time.Second))
		}
	}
	if raw := os.Getenv("MAX_RETRIES"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			s.MaxRetries = n
		}
	}
}

// verifySSLFromEnv interprets SERVICENOW_VERIFY_SSL; anything except an
// explicit "false", "0", or "no" keeps verification on.
func verifySSLFromEnv() bool {
	switch strings.ToLower(os.Getenv("SERVICENOW_VERIFY_SSL")) {
	case "false", "0", "no":
		return false
	default:
		return true
	}
}
