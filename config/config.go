// config.go - Konfiguration der Batch-Konvertierung
// Haupttypen: Config; Hauptfunktionen: Validate, Options
package config

import (
	"errors"
	"slices"

	"github.com/7blacky7/ckptconv/convert"
)

// Config - Inhalt von .ckptconv.yaml, Tags fuer viper/mapstructure
type Config struct {
	Roots        []string `mapstructure:"roots"`
	Workers      int      `mapstructure:"workers"`
	Formats      []string `mapstructure:"formats"`
	StrictShards bool     `mapstructure:"strict_shards"`
	Prefixes     []string `mapstructure:"prefixes"`
}

// Defaults
const (
	DefaultWorkers      = 1
	DefaultStrictShards = false
)

// DefaultFormats und DefaultPrefixes entsprechen denen des convert Pakets
var (
	DefaultFormats  = convert.DefaultFormats
	DefaultPrefixes = convert.DefaultPrefixes
)

var (
	// ErrInvalidWorkers - workers ist negativ
	ErrInvalidWorkers = errors.New("workers must be non-negative")
	// ErrNoFormats - keine Ausgabeformate konfiguriert
	ErrNoFormats = errors.New("formats must not be empty")
	// ErrEmptyPrefix - ein Praefix ist leer
	ErrEmptyPrefix = errors.New("prefixes must not contain empty strings")
)

// Validate prueft die Konfiguration und gibt den ersten Fehler zurueck
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return ErrInvalidWorkers
	}

	if len(c.Formats) == 0 {
		return ErrNoFormats
	}

	if slices.Contains(c.Prefixes, "") {
		return ErrEmptyPrefix
	}

	return nil
}

// Options erzeugt die Driver-Optionen
func (c *Config) Options() convert.Options {
	return convert.Options{
		Workers:      c.Workers,
		Formats:      slices.Clone(c.Formats),
		Prefixes:     slices.Clone(c.Prefixes),
		StrictShards: c.StrictShards,
	}
}
