// detect.go - Lesen und Auswerten des config.json Sidecars
//
// Prueft ob ein Ausgabeverzeichnis konvertierbar ist und liefert die
// Metadaten, die in den Header der Ausgabedatei uebernommen werden.
package huggingface

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Fehler-Definitionen
var (
	ErrConfigNotFound = errors.New("config.json nicht gefunden")
	ErrInvalidConfig  = errors.New("ungueltige config.json Struktur")
)

// HasConfig prueft ob dir eine config.json enthaelt
func HasConfig(dir string) bool {
	fi, err := os.Stat(filepath.Join(dir, ConfigFile))
	return err == nil && fi.Mode().IsRegular()
}

// ReadConfig liest und parst dir/config.json.
func ReadConfig(dir string) (*ConfigModelInfo, error) {
	configPath := filepath.Join(dir, ConfigFile)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &HuggingFaceError{Op: "read", Path: configPath, Err: ErrConfigNotFound}
		}
		return nil, &HuggingFaceError{Op: "read", Path: configPath, Err: fmt.Errorf("lesen: %w", err)}
	}

	info, err := ParseConfig(data)
	if err != nil {
		var hfErr *HuggingFaceError
		if errors.As(err, &hfErr) {
			hfErr.Path = configPath
		}
		return nil, err
	}
	return info, nil
}

// ParseConfig parst die rohen JSON-Bytes einer config.json in ConfigModelInfo.
func ParseConfig(data []byte) (*ConfigModelInfo, error) {
	var info ConfigModelInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, &HuggingFaceError{Op: "parse", Err: fmt.Errorf("%w: %v", ErrInvalidConfig, err)}
	}
	if info.ModelType == "" && len(info.Architectures) == 0 {
		return nil, &HuggingFaceError{Op: "parse", Err: ErrInvalidConfig}
	}
	return &info, nil
}

// Metadata gibt die Header-Metadaten fuer die Ausgabedatei zurueck.
// Leere Felder werden ausgelassen.
func Metadata(info *ConfigModelInfo) map[string]string {
	meta := map[string]string{}
	if info == nil {
		return meta
	}

	if arch := info.Architecture(); arch != "" {
		meta["architecture"] = arch
	}
	if info.ModelType != "" {
		meta["model_type"] = info.ModelType
	}
	if info.TorchDtype != "" {
		meta["torch_dtype"] = info.TorchDtype
	}
	return meta
}
