// loader.go - Laden der Konfiguration aus Datei, Environment und Defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	// configName - Dateiname ohne Endung
	configName = ".ckptconv"
	configType = "yaml"

	// envPrefix - CKPTCONV_WORKERS, CKPTCONV_STRICT_SHARDS, ...
	envPrefix       = "CKPTCONV"
	envKeySeparator = "_"
)

// LoadConfig laedt die Konfiguration. Ist configPath leer, wird
// .ckptconv.yaml im Arbeitsverzeichnis und in $HOME gesucht; eine
// fehlende Datei ist dann kein Fehler. Listen in Environment-Variablen
// sind komma-separiert.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("roots", []string{})
	v.SetDefault("workers", DefaultWorkers)
	v.SetDefault("formats", DefaultFormats)
	v.SetDefault("strict_shards", DefaultStrictShards)
	v.SetDefault("prefixes", DefaultPrefixes)
}
