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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SERVICENOW_INSTANCE", "SERVICENOW_USERNAME", "SERVICENOW_PASSWORD",
		"SERVICENOW_AUTH", "SERVICENOW_CLIENT_ID", "SERVICENOW_CLIENT_SECRET",
		"SERVICENOW_TOKEN_URL", "SERVICENOW_CONFIG_FILE",
		"SERVICENOW_VERIFY_SSL", "API_TIMEOUT", "MAX_RETRIES",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVICENOW_INSTANCE", "https://dev.service-now.com")
	t.Setenv("SERVICENOW_USERNAME", "api.user")
	t.Setenv("SERVICENOW_PASSWORD", "secret")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://dev.service-now.com", s.Instance)
	assert.Equal(t, "api.user", s.Username)
	assert.Equal(t, "secret", s.Password)
	assert.True(t, s.VerifySSL)
	assert.Equal(t, DefaultTimeout, s.Timeout)
	assert.Equal(t, DefaultMaxRetries, s.MaxRetries)
	assert.Equal(t, DefaultBackoffBase, s.BackoffBase)
}

func TestLoad_NotConfigured(t *testing.T) {
	clearEnv(t)

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestLoad_FromYAMLFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "servicenow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
instance: https://file.service-now.com
username: file.user
password: file-secret
`), 0o600))
	t.Setenv("SERVICENOW_CONFIG_FILE", path)

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://file.service-now.com", s.Instance)
	assert.Equal(t, "file.user", s.Username)
	assert.Equal(t, "file-secret", s.Password)
}

func TestLoad_FromJSONFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "servicenow.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "instance": "https://json.service-now.com",
  "username": "json.user",
  "password": "json-secret"
}`), 0o600))
	t.Setenv("SERVICENOW_CONFIG_FILE", path)

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://json.service-now.com", s.Instance)
	assert.Equal(t, "json.user", s.Username)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "servicenow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
instance: https://file.service-now.com
username: file.user
password: file-secret
`), 0o600))
	t.Setenv("SERVICENOW_CONFIG_FILE", path)
	t.Setenv("SERVICENOW_INSTANCE", "https://env.service-now.com")
	t.Setenv("SERVICENOW_USERNAME", "env.user")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://env.service-now.com", s.Instance)
	assert.Equal(t, "env.user", s.Username)
	// Password only exists in the file; merge fills the gap.
	assert.Equal(t, "file-secret", s.Password)
}

func TestLoad_IncompleteFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "servicenow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("instance: https://dev.service-now.com\n"), 0o600))
	t.Setenv("SERVICENOW_CONFIG_FILE", path)

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVICENOW_CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotConfigured)
}

func TestLoad_OAuthMode(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVICENOW_INSTANCE", "https://dev.service-now.com")
	t.Setenv("SERVICENOW_AUTH", "oauth")
	t.Setenv("SERVICENOW_CLIENT_ID", "client")
	t.Setenv("SERVICENOW_CLIENT_SECRET", "secret")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "oauth", s.Auth)
	assert.Equal(t, "client", s.ClientID)
	assert.Equal(t, "secret", s.ClientSecret)
}

func TestLoad_OAuthIncomplete(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVICENOW_INSTANCE", "https://dev.service-now.com")
	t.Setenv("SERVICENOW_AUTH", "oauth")
	t.Setenv("SERVICENOW_CLIENT_ID", "client")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestLoad_EnvironmentTuning(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVICENOW_INSTANCE", "https://dev.service-now.com")
	t.Setenv("SERVICENOW_USERNAME", "u")
	t.Setenv("SERVICENOW_PASSWORD", "p")
	t.Setenv("API_TIMEOUT", "2.5")
	t.Setenv("MAX_RETRIES", "0")
	t.Setenv("SERVICENOW_VERIFY_SSL", "false")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, s.Timeout)
	assert.Equal(t, 0, s.MaxRetries)
	assert.False(t, s.VerifySSL)
}

func TestLoad_TuningIgnoresGarbage(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVICENOW_INSTANCE", "https://dev.service-now.com")
	t.Setenv("SERVICENOW_USERNAME", "u")
	t.Setenv("SERVICENOW_PASSWORD", "p")
	t.Setenv("API_TIMEOUT", "soon")
	t.Setenv("MAX_RETRIES", "-2")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, s.Timeout)
	assert.Equal(t, DefaultMaxRetries, s.MaxRetries)
}

func TestVerifySSLFromEnv(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"", true},
		{"true", true},
		{"yes", true},
		{"anything", true},
		{"false", false},
		{"FALSE", false},
		{"0", false},
		{"no", false},
	}

	for _, tt := range tests {
		t.Run("value "+tt.value, func(t *testing.T) {
			t.Setenv("SERVICENOW_VERIFY_SSL", tt.value)
			assert.Equal(t, tt.want, verifySSLFromEnv())
		})
	}
}
