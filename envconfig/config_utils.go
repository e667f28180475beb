// config_utils.go - Getter und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - String: String-Getter
// - Uint: Integer-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// =============================================================================
// Getter
// =============================================================================

// BoolWithDefault gibt eine Funktion zurueck, die einen Bool mit Default-Wert liest.
// Nicht parsebare Werte gelten als gesetzt.
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Workers liest CKPTCONV_WORKERS nur fuer die Anzeige; massgeblich ist config.Workers
var Workers = Uint("CKPTCONV_WORKERS", 1)

// =============================================================================
// Export
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"CKPTCONV_DEBUG":         {"CKPTCONV_DEBUG", LogLevel(), "Show additional debug information (e.g. CKPTCONV_DEBUG=1, 2 for trace)"},
		"CKPTCONV_CONFIG":        {"CKPTCONV_CONFIG", ConfigFile(), "Path to the config file (default: .ckptconv.yaml in the working or home directory)"},
		"CKPTCONV_NOCOLOR":       {"CKPTCONV_NOCOLOR", NoColor(), "Disable colored status tags"},
		"CKPTCONV_WORKERS":       {"CKPTCONV_WORKERS", Workers(), "Number of checkpoints converted in parallel (default: 1)"},
		"CKPTCONV_FORMATS":       {"CKPTCONV_FORMATS", String("CKPTCONV_FORMATS")(), "Output formats in order of preference (default: \"safetensors pytorch\")"},
		"CKPTCONV_STRICT_SHARDS": {"CKPTCONV_STRICT_SHARDS", Bool("CKPTCONV_STRICT_SHARDS")(), "Skip multi-rank checkpoints instead of converting rank 0"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
