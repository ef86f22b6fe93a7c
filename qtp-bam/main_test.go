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

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiita-spots/qtp-bam/internal/config"
	"github.com/qiita-spots/qtp-bam/internal/qiitatest"
	"github.com/qiita-spots/qtp-bam/plugin"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := execute(args, &out, &out)
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	t.Setenv("QIITA_CLIENT_ID", qiitatest.ClientID)
	t.Setenv("QIITA_CLIENT_SECRET", qiitatest.ClientSecret)
	path := filepath.Join(t.TempDir(), "plugin.yaml")
	cfg := &config.Config{Name: plugin.Name, Version: plugin.Version, LogLevel: "error"}
	require.NoError(t, cfg.Save(path))
	return path
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins", "bam.yaml")
	out, err := run(t, "config", "source activate qtp-bam", "qtp-bam run", "--config", path, "--server-cert", "/certs/ca.crt")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	t.Setenv("QIITA_CLIENT_ID", "")
	t.Setenv("QIITA_CLIENT_SECRET", "")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, plugin.Name, cfg.Name)
	assert.Equal(t, plugin.Version, cfg.Version)
	assert.Equal(t, "source activate qtp-bam", cfg.EnvironmentScript)
	assert.Equal(t, "qtp-bam run", cfg.StartScript)
	assert.Equal(t, "/certs/ca.crt", cfg.OAuth2.ServerCert)
	assert.NoError(t, cfg.Validate())
}

func TestRegisterCommand(t *testing.T) {
	server := qiitatest.New(t)
	path := writeConfig(t)

	_, err := run(t, "register", server.URL, "--config", path)
	require.NoError(t, err)

	types := server.ArtifactTypes()
	require.Len(t, types, 1)
	assert.Equal(t, "BAM", types[0].Get("type_name"))
}

func TestRunCommand_RegisterAlias(t *testing.T) {
	server := qiitatest.New(t)
	path := writeConfig(t)

	_, err := run(t, "run", server.URL, "register", t.TempDir(), "--config", path)
	require.NoError(t, err)
	assert.Len(t, server.ArtifactTypes(), 1)
}

func TestRunCommand_MissingJob(t *testing.T) {
	server := qiitatest.New(t)
	path := writeConfig(t)

	_, err := run(t, "run", server.URL, "no-such-job", t.TempDir(), "--config", path)
	assert.Error(t, err)
}

func TestRunCommand_Errors(t *testing.T) {
	t.Setenv("QIITA_CLIENT_ID", "")
	t.Setenv("QIITA_CLIENT_SECRET", "")
	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, (&config.Config{}).Save(empty))

	testCases := []struct {
		name string
		args []string
	}{
		{"missing arguments", []string{"run", "http://localhost"}},
		{"missing config", []string{"run", "http://localhost", "1", t.TempDir(), "--config", filepath.Join(t.TempDir(), "missing.yaml")}},
		{"no credentials", []string{"register", "http://localhost", "--config", empty}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := run(t, tc.args...)
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("warn", false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))
	assert.True(t, logger.Core().Enabled(1))

	logger, err = newLogger("warn", true)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	_, err = newLogger("loud", false)
	assert.Error(t, err)
}

func TestProfileWrittenOnFailure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profile")
	_, err := run(t, "register", "http://localhost", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "--profile", dir)
	require.Error(t, err)

	info, err := os.Stat(filepath.Join(dir, "cpu.pprof"))
	require.NoError(t, err)
	assert.NotZero(t, info.Size())
}
