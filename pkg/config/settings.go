package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"plex/pkg/codec"
)

// Settings is the content of config.yaml. Missing keys keep their defaults.
type Settings struct {
	IntermediateFill bool          `yaml:"intermediate_fill"`
	Cache            CacheSettings `yaml:"cache"`
	Fetch            FetchSettings `yaml:"fetch"`
}

type CacheSettings struct {
	Enabled       bool   `yaml:"enabled"`
	Compression   string `yaml:"compression"`
	MemoryEntries int    `yaml:"memory_entries"`
}

type FetchSettings struct {
	Timeout     time.Duration `yaml:"timeout"`
	UserAgent   string        `yaml:"user_agent"`
	Concurrency int           `yaml:"concurrency"`
}

// DefaultSettings returns the settings used when config.yaml is absent.
func DefaultSettings() Settings {
	return Settings{
		IntermediateFill: true,
		Cache: CacheSettings{
			Enabled:       true,
			Compression:   codec.Zstd.String(),
			MemoryEntries: 256,
		},
		Fetch: FetchSettings{
			Timeout:     time.Minute,
			UserAgent:   "plex/" + BuildVersion,
			Concurrency: 4,
		},
	}
}

// LoadSettings reads path over the defaults. A missing file is not an error.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("failed to read settings: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return s, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("invalid settings in %s: %w", path, err)
	}
	return s, nil
}

// Validate reports the first out-of-range value.
func (s Settings) Validate() error {
	if _, err := codec.ParseTag(s.Cache.Compression); err != nil {
		return fmt.Errorf("cache.compression: %w", err)
	}
	if s.Cache.MemoryEntries < 0 {
		return fmt.Errorf("cache.memory_entries must not be negative, got %d", s.Cache.MemoryEntries)
	}
	if s.Fetch.Timeout < 0 {
		return fmt.Errorf("fetch.timeout must not be negative, got %s", s.Fetch.Timeout)
	}
	if s.Fetch.Concurrency < 1 {
		return fmt.Errorf("fetch.concurrency must be at least 1, got %d", s.Fetch.Concurrency)
	}
	return nil
}

// CompressionTag returns the parsed cache.compression value.
func (s Settings) CompressionTag() codec.Tag {
	t, _ := codec.ParseTag(s.Cache.Compression)
	return t
}
