// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opcpack

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/lemon4ksan/opcpack/archive"
	"github.com/lemon4ksan/opcpack/keystore"
	"github.com/lemon4ksan/opcpack/opc"
	"github.com/lemon4ksan/opcpack/warning"
)

// Config controls a secure package session.
type Config struct {
	// Zip64 forces ZIP64 records even for small archives.
	Zip64 bool `yaml:"zip64"`

	// CompressionLevel is the deflate level of archive entries and of the
	// compression stage of encrypted parts. 0 stores archive entries.
	CompressionLevel int `yaml:"compression_level"`

	// Strict rejects container inconsistencies on read and turns a missing
	// key wrapper on write into an error instead of a warning.
	Strict bool `yaml:"strict"`

	WarningThreshold string `yaml:"warning_threshold"`
	LogLevel         string `yaml:"log_level"`
	KeyStorePath     string `yaml:"keystore_path"`

	Logger  *logrus.Logger  `yaml:"-"`
	Context context.Context `yaml:"-"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		CompressionLevel: archive.DeflateNormal,
		WarningThreshold: warning.Fatal.String(),
		LogLevel:         logrus.InfoLevel.String(),
		KeyStorePath:     keystore.DefaultPartName,
	}
}

// LoadConfig reads a YAML configuration file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML on top of DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field that has a restricted domain.
func (c Config) Validate() error {
	if c.CompressionLevel < 0 || c.CompressionLevel > archive.DeflateMaximum {
		return fmt.Errorf("%w: compression level %d", ErrInvalidConfig, c.CompressionLevel)
	}
	if _, err := warning.ParseSeverity(c.WarningThreshold); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if c.KeyStorePath != "" {
		if _, err := opc.NormalizePartName(c.KeyStorePath); err != nil {
			return fmt.Errorf("%w: keystore path: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

// session is a validated Config with its derived values.
type session struct {
	Config
	logger       *logrus.Logger
	threshold    warning.Severity
	keyStorePath string
}

func (c Config) newSession() (*session, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	s := &session{Config: c, logger: c.Logger, keyStorePath: keystore.DefaultPartName}
	if s.logger == nil {
		s.logger = newLogger(c.LogLevel)
	}
	s.threshold, _ = warning.ParseSeverity(c.WarningThreshold)
	if c.KeyStorePath != "" {
		s.keyStorePath, _ = opc.NormalizePartName(c.KeyStorePath)
	}
	return s, nil
}

// newLogger creates a logger at the given level, info when unset.
func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

func (s *session) archiveWriterOptions() []archive.WriterOption {
	opts := []archive.WriterOption{
		archive.WithZip64(s.Zip64),
		archive.WithCompressionLevel(s.CompressionLevel),
	}
	if s.Context != nil {
		opts = append(opts, archive.WithWriterContext(s.Context))
	}
	return opts
}

func (s *session) archiveReaderOptions(list *warning.List) []archive.ReaderOption {
	opts := []archive.ReaderOption{
		archive.WithStrict(s.Strict),
		archive.WithWarnings(list),
	}
	if s.Context != nil {
		opts = append(opts, archive.WithReaderContext(s.Context))
	}
	return opts
}

// streamLevel is the zlib level of the compression stage of encrypted parts.
func (s *session) streamLevel() int {
	if s.CompressionLevel == 0 {
		return archive.DeflateNormal
	}
	return s.CompressionLevel
}
