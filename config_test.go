// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opcpack

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemon4ksan/opcpack/keystore"
	"github.com/lemon4ksan/opcpack/warning"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, keystore.DefaultPartName, cfg.KeyStorePath)

	sess, err := cfg.newSession()
	require.NoError(t, err)
	assert.Equal(t, warning.Fatal, sess.threshold)
	assert.Equal(t, logrus.InfoLevel, sess.logger.GetLevel())
	assert.Equal(t, 6, sess.streamLevel())
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
zip64: true
compression_level: 0
strict: true
warning_threshold: invalid_mandatory
log_level: debug
keystore_path: Secure\store.xml
`))
	require.NoError(t, err)
	assert.True(t, cfg.Zip64)
	assert.True(t, cfg.Strict)
	assert.Equal(t, 0, cfg.CompressionLevel)

	sess, err := cfg.newSession()
	require.NoError(t, err)
	assert.Equal(t, warning.InvalidMandatoryValue, sess.threshold)
	assert.Equal(t, logrus.DebugLevel, sess.logger.GetLevel())
	assert.Equal(t, "/Secure/store.xml", sess.keyStorePath)
	assert.Equal(t, 6, sess.streamLevel())
}

func TestParseConfig_Partial(t *testing.T) {
	cfg, err := ParseConfig([]byte("compression_level: 9\n"))
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.CompressionLevel)
	assert.Equal(t, "fatal", cfg.WarningThreshold)
	assert.Equal(t, keystore.DefaultPartName, cfg.KeyStorePath)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed yaml", "zip64: [true"},
		{"level too high", "compression_level: 12"},
		{"negative level", "compression_level: -1"},
		{"unknown threshold", "warning_threshold: sometimes"},
		{"unknown log level", "log_level: loud"},
		{"directory as key store", "keystore_path: /Secure/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "opcpack.yaml")
	require.NoError(t, os.WriteFile(path, []byte("strict: true\nlog_level: warn\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.Strict)
	assert.Equal(t, "warn", cfg.LogLevel)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSessionKeepsLogger(t *testing.T) {
	logger := logrus.New()
	cfg := DefaultConfig()
	cfg.Logger = logger
	sess, err := cfg.newSession()
	require.NoError(t, err)
	assert.Same(t, logger, sess.logger)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "refreshing", StateRefreshing.String())
	assert.Equal(t, "state(9)", State(9).String())
}
