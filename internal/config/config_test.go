package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, int64(3600), cfg.DB.RefreshInterval)
	require.Equal(t, "eth0", cfg.Interface)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}

func TestLoadReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	contents := `{
		"db": {"maxmind_key": "abc123", "refresh_interval": 1800, "path": "/var/lib/geofw"},
		"interface": "eth1",
		"source_countries": ["RU", "KP"],
		"source_asn": [64512, 64513]
	}`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "abc123", cfg.DB.MaxMindKey)
	require.Equal(t, "eth1", cfg.Interface)
	require.ElementsMatch(t, []string{"RU", "KP"}, cfg.SourceCountries)
	require.ElementsMatch(t, []uint32{64512, 64513}, cfg.SourceASN)
}

func TestRefreshIntervalDurationParsesValue(t *testing.T) {
	cfg := Config{DB: DB{RefreshInterval: 2700}}
	require.Equal(t, 45*time.Minute, cfg.RefreshIntervalDuration())
}

func TestRefreshIntervalDurationFallsBackOnGarbage(t *testing.T) {
	cfg := Config{DB: DB{RefreshInterval: -1}}
	require.Equal(t, time.Hour, cfg.RefreshIntervalDuration())
}

func TestCountrySetAndASNSet(t *testing.T) {
	cfg := Config{
		SourceCountries: []string{"RU", "CN"},
		SourceASN:       []uint32{111, 222},
	}
	countries := cfg.CountrySet()
	require.Contains(t, countries, "RU")
	require.Contains(t, countries, "CN")
	require.Len(t, countries, 2)

	asns := cfg.ASNSet()
	require.Contains(t, asns, uint32(111))
	require.Contains(t, asns, uint32(222))
	require.Len(t, asns, 2)
}
