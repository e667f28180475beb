// config.go - Environment-Konfiguration fuer ckptconv
//
// Dieses Modul enthaelt:
// - LogLevel: Gibt Log-Level zurueck (CKPTCONV_DEBUG)
// - ConfigFile: Pfad zur Konfigurationsdatei (CKPTCONV_CONFIG)
// - NoColor: Farbige Ausgabe abschalten (CKPTCONV_NOCOLOR)
// - Var: Liest eine Environment-Variable
//
// Die Schluessel der Konfigurationsdatei (CKPTCONV_WORKERS usw.) liest
// das config Paket ueber viper; hier sind sie nur dokumentiert.
//
// Weitere Funktionen sind ausgelagert:
// - config_utils.go: Getter und AsMap/Values
package envconfig

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

var (
	// ConfigFile ueberschreibt die Suche nach .ckptconv.yaml
	ConfigFile = String("CKPTCONV_CONFIG")

	// NoColor deaktiviert farbige Status-Tags
	NoColor = Bool("CKPTCONV_NOCOLOR")
)

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via CKPTCONV_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("CKPTCONV_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
