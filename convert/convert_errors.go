// convert_errors.go - Fehler-Definitionen der Konvertierung
// Haupttypen: ConvertError, Sentinel-Fehler
package convert

import "errors"

// Fehler-Definitionen
var (
	ErrNoWeights         = errors.New("no model weights found")
	ErrMissingConfig     = errors.New("config.json missing in output directory")
	ErrUnexpectedValue   = errors.New("unexpected value in state dict")
	ErrDuplicateKey      = errors.New("duplicate tensor name after normalization")
	ErrFormatUnavailable = errors.New("output format unavailable")
)

// ConvertError - Fehler mit Operation und betroffenem Pfad
type ConvertError struct {
	Op   string // load, normalize, write, locate, convert
	Path string
	Err  error
}

// Error implementiert das error Interface
func (e *ConvertError) Error() string {
	if e.Path != "" {
		return e.Op + " " + e.Path + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

// Unwrap ermoeglicht errors.Is/As
func (e *ConvertError) Unwrap() error {
	return e.Err
}
