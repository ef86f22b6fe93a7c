// Copyright 2018 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and generates the plugin configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DirEnv names the environment variable that overrides DefaultDir.
const DirEnv = "QIITA_PLUGINS_DIR"

// ArtifactDefinition is the plugin type of plugins that define artifact
// types.
const ArtifactDefinition = "artifact definition"

// Config is the plugin configuration.
type Config struct {
	Name              string        `yaml:"name"`
	Version           string        `yaml:"version"`
	Description       string        `yaml:"description"`
	EnvironmentScript string        `yaml:"environment_script"`
	StartScript       string        `yaml:"start_script"`
	PluginType        string        `yaml:"plugin_type"`
	Publications      []Publication `yaml:"publications,omitempty"`
	OAuth2            OAuth2        `yaml:"oauth2"`
	Storage           Storage       `yaml:"storage"`
	LogLevel          string        `yaml:"log_level"`
}

// Publication references a paper describing the plugin.
type Publication struct {
	DOI      string `yaml:"doi"`
	PubMedID string `yaml:"pubmed_id"`
}

// OAuth2 holds the credentials used to authenticate against the server.
type OAuth2 struct {
	ServerCert   string `yaml:"server_cert"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// Storage configures access to remote object stores.
type Storage struct {
	GCS GCS `yaml:"gcs"`
	S3  S3  `yaml:"s3"`
}

// GCS configures Google Cloud Storage access.
type GCS struct {
	CredentialsFile string `yaml:"credentials_file"`
	Anonymous       bool   `yaml:"anonymous"`
}

// S3 configures access to an S3 compatible object store.
type S3 struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	Insecure  bool   `yaml:"insecure"`
}

// FileName returns the configuration file name of a plugin.
func FileName(name, version string) string {
	return strings.ReplaceAll(name+"_"+version, " ", "_") + ".yaml"
}

// DefaultDir returns the directory holding plugin configuration files.
func DefaultDir() string {
	if dir := os.Getenv(DirEnv); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".qiita_plugins"
	}
	return filepath.Join(home, ".qiita_plugins")
}

// DefaultPath returns the default configuration path of a plugin.
func DefaultPath(name, version string) string {
	return filepath.Join(DefaultDir(), FileName(name, version))
}

// Load reads the configuration at path and applies environment overrides.
// Variables missing from the process environment are looked up in envFiles
// (".env" when none are given); missing env files are ignored.
func Load(path string, envFiles ...string) (*Config, error) {
	getenv, err := readEnv(envFiles)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.applyEnvOverrides(getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readEnv(files []string) (func(string) string, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	values := make(map[string]string)
	for _, file := range files {
		env, err := godotenv.Read(file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}
		for key, value := range env {
			if _, ok := values[key]; !ok {
				values[key] = value
			}
		}
	}
	return func(key string) string {
		if value, ok := os.LookupEnv(key); ok {
			return value
		}
		return values[key]
	}, nil
}

func (c *Config) applyEnvOverrides(getenv func(string) string) error {
	texts := []struct {
		key    string
		target *string
	}{
		{"QIITA_CLIENT_ID", &c.OAuth2.ClientID},
		{"QIITA_CLIENT_SECRET", &c.OAuth2.ClientSecret},
		{"QIITA_SERVER_CERT", &c.OAuth2.ServerCert},
		{"QTP_BAM_LOG_LEVEL", &c.LogLevel},
		{"QTP_BAM_GCS_CREDENTIALS", &c.Storage.GCS.CredentialsFile},
		{"QTP_BAM_S3_ENDPOINT", &c.Storage.S3.Endpoint},
		{"QTP_BAM_S3_ACCESS_KEY", &c.Storage.S3.AccessKey},
		{"QTP_BAM_S3_SECRET_KEY", &c.Storage.S3.SecretKey},
		{"QTP_BAM_S3_REGION", &c.Storage.S3.Region},
	}
	for _, s := range texts {
		if value := getenv(s.key); value != "" {
			*s.target = value
		}
	}

	bools := []struct {
		key    string
		target *bool
	}{
		{"QTP_BAM_GCS_ANONYMOUS", &c.Storage.GCS.Anonymous},
		{"QTP_BAM_S3_INSECURE", &c.Storage.S3.Insecure},
	}
	for _, b := range bools {
		value := getenv(b.key)
		if value == "" {
			continue
		}
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", b.key, err)
		}
		*b.target = parsed
	}
	return nil
}

// Validate checks that the configuration can be used to talk to a server.
func (c *Config) Validate() error {
	if c.OAuth2.ClientID == "" || c.OAuth2.ClientSecret == "" {
		return errors.New("OAuth2 client credentials not configured (set oauth2.client_id and oauth2.client_secret, or QIITA_CLIENT_ID and QIITA_CLIENT_SECRET)")
	}
	return nil
}

// Save writes the configuration to path, creating its directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	// The file holds the client secret.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// GenerateOptions are the installation specific settings of a new
// configuration.
type GenerateOptions struct {
	Name              string
	Version           string
	Description       string
	EnvironmentScript string
	StartScript       string
	ServerCert        string
}

// Generate writes a new configuration to path.  Client credentials are
// random and must be registered with the server before use.
func Generate(path string, opts GenerateOptions) (*Config, error) {
	cfg := &Config{
		Name:              opts.Name,
		Version:           opts.Version,
		Description:       opts.Description,
		EnvironmentScript: opts.EnvironmentScript,
		StartScript:       opts.StartScript,
		PluginType:        ArtifactDefinition,
		OAuth2: OAuth2{
			ServerCert:   opts.ServerCert,
			ClientID:     uuid.New().String(),
			ClientSecret: uuid.New().String(),
		},
	}
	if err := cfg.Save(path); err != nil {
		return nil, err
	}
	return cfg, nil
}
