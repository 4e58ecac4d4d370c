package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

// AppName names the XDG subdirectories.
const AppName = "plex"

// ReadOnly defines the read-only interface for Config.
// Immutable
type ReadOnly interface {
	GetCacheDir() string
	GetConfigDir() string
	GetStateDir() string
	GetAssetCacheDir() string
	GetSettingsFile() string
	GetSettings() Settings
	Freeze()
	Checkout() Writable
}

// Writable defines the writable interface for Config.
// Mutable
type Writable interface {
	ReadOnly
	SetCacheDir(string)
	SetConfigDir(string)
	SetStateDir(string)
	SetSettings(Settings)
}

// Config holds the base directories and settings for plex.
// Mutable
type Config struct {
	cacheDir  string
	configDir string
	stateDir  string

	assetCacheDir string
	settingsFile  string

	settings Settings

	frozen bool
	edited bool
}

var _ ReadOnly = (*Config)(nil)
var _ Writable = (*Config)(nil)

func (c *Config) GetCacheDir() string      { return c.cacheDir }
func (c *Config) GetConfigDir() string     { return c.configDir }
func (c *Config) GetStateDir() string      { return c.stateDir }
func (c *Config) GetAssetCacheDir() string { return c.assetCacheDir }
func (c *Config) GetSettingsFile() string  { return c.settingsFile }
func (c *Config) GetSettings() Settings    { return c.settings }

func (c *Config) SetCacheDir(s string) {
	c.mustBeEditable()
	c.cacheDir = s
	c.updateDerived()
}

func (c *Config) SetConfigDir(s string) {
	c.mustBeEditable()
	c.configDir = s
	c.updateDerived()
}

func (c *Config) SetStateDir(s string) {
	c.mustBeEditable()
	c.stateDir = s
	c.updateDerived()
}

func (c *Config) SetSettings(s Settings) {
	c.mustBeEditable()
	c.settings = s
}

func (c *Config) mustBeEditable() {
	if c.frozen {
		panic("cannot modify frozen config")
	}
}

func (c *Config) Freeze() {
	c.frozen = true
}

func (c *Config) Checkout() Writable {
	if c.frozen {
		panic("cannot checkout from frozen config")
	}
	if c.edited {
		panic("config already checked out")
	}
	c.edited = true
	return c
}

func (c *Config) updateDerived() {
	c.assetCacheDir = filepath.Join(c.cacheDir, "assets")
	c.settingsFile = filepath.Join(c.configDir, "config.yaml")
}

// Init builds the configuration from the XDG base directories and loads the
// settings file if there is one.
func Init() (ReadOnly, error) {
	return initAt(
		filepath.Join(xdg.CacheHome, AppName),
		filepath.Join(xdg.ConfigHome, AppName),
		filepath.Join(xdg.StateHome, AppName),
	)
}

func initAt(cacheDir, configDir, stateDir string) (*Config, error) {
	c := &Config{
		cacheDir:  cacheDir,
		configDir: configDir,
		stateDir:  stateDir,
	}
	c.updateDerived()

	s, err := LoadSettings(c.settingsFile)
	if err != nil {
		return nil, err
	}
	c.settings = s
	return c, nil
}
