// Package config loads ./config.json, the single external
// configuration surface spec.md §6 defines, writing out a default file
// on first run so the control plane always has something to read.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	geoerr "github.com/ishanjain28/geofw/internal/pkg/errors"
)

// DB holds the GeoDB refresh settings. RefreshInterval is seconds, not
// a Go duration string, matching spec.md §6's documented config.json
// shape (e.g. "refresh_interval": 86400).
type DB struct {
	MaxMindKey      string `json:"maxmind_key" mapstructure:"maxmind_key"`
	RefreshInterval int64  `json:"refresh_interval" mapstructure:"refresh_interval"`
	Path            string `json:"path" mapstructure:"path"`
}

// Config is the decoded shape of config.json.
type Config struct {
	DB              DB       `json:"db" mapstructure:"db"`
	Interface       string   `json:"interface" mapstructure:"interface"`
	SourceCountries []string `json:"source_countries" mapstructure:"source_countries"`
	SourceASN       []uint32 `json:"source_asn" mapstructure:"source_asn"`
}

// RefreshIntervalDuration converts DB.RefreshInterval (whole seconds)
// to a time.Duration, falling back to one hour if it is zero or
// negative.
func (c Config) RefreshIntervalDuration() time.Duration {
	if c.DB.RefreshInterval <= 0 {
		return time.Hour
	}
	return time.Duration(c.DB.RefreshInterval) * time.Second
}

// CountrySet returns SourceCountries as a membership set for
// geodb/record.CountryPredicate.
func (c Config) CountrySet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.SourceCountries))
	for _, code := range c.SourceCountries {
		set[code] = struct{}{}
	}
	return set
}

// ASNSet returns SourceASN as a membership set for
// geodb/record.ASNPredicate.
func (c Config) ASNSet() map[uint32]struct{} {
	set := make(map[uint32]struct{}, len(c.SourceASN))
	for _, asn := range c.SourceASN {
		set[asn] = struct{}{}
	}
	return set
}

// defaultConfig is written to disk the first time Load runs against a
// path that doesn't exist yet.
func defaultConfig() Config {
	return Config{
		DB: DB{
			MaxMindKey:      "",
			RefreshInterval: 3600,
			Path:            "./geodb",
		},
		Interface:       "eth0",
		SourceCountries: []string{},
		SourceASN:       []uint32{},
	}
}

// Load reads path as JSON via viper, creating it with defaults first
// if it does not already exist.
func Load(path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefault(path); err != nil {
			return Config{}, err
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("%w: reading %s: %v", geoerr.ErrConfig, path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: decoding %s: %v", geoerr.ErrConfig, path, err)
	}
	return cfg, nil
}

func writeDefault(path string) error {
	data, err := json.MarshalIndent(defaultConfig(), "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", geoerr.ErrConfig, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: writing default config to %s: %v", geoerr.ErrConfig, path, err)
	}
	return nil
}
