// writer.go - Ausgabe der normalisierten Gewichte in das HuggingFace-Verzeichnis
//
// Dieses Modul enthaelt:
// - Format: Interface fuer Ausgabeformate (safetensors, pytorch)
// - Writer: waehlt das erste verfuegbare Format und schreibt atomar
// - Existing: Idempotenz-Pruefung auf vorhandene Ausgabedateien
package convert

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/7blacky7/ckptconv/huggingface"
)

// Formatnamen und kanonische Ausgabedateien
const (
	FormatSafetensors = "safetensors"
	FormatPyTorch     = "pytorch"

	SafetensorsFile = "model.safetensors"
	TorchFile       = "pytorch_model.bin"
)

// OutputFiles - jede dieser Dateien markiert einen Checkpoint als konvertiert
var OutputFiles = []string{SafetensorsFile, TorchFile}

// DefaultFormats - bevorzugtes Format zuerst
var DefaultFormats = []string{FormatSafetensors, FormatPyTorch}

// Format - serialisiert normalisierte Gewichte in eine einzelne Datei
type Format interface {
	Name() string
	FileName() string
	Encode(w io.Writer, ws *Weights, meta map[string]string) error
}

var formats = map[string]Format{
	FormatSafetensors: safetensorsFormat{},
	FormatPyTorch:     torchFormat{},
}

// WriteOutcome - Ergebnis eines Schreibvorgangs
type WriteOutcome struct {
	Format   string
	Path     string
	Size     int64
	Existing bool // Ausgabe war bereits vorhanden, nichts geschrieben
}

// Writer schreibt Gewichte im ersten verfuegbaren Format
type Writer struct {
	formats []Format
}

// NewWriter erstellt einen Writer fuer die Formate in Praeferenzreihenfolge.
// Unbekannte Formate gelten als nicht verfuegbar und werden uebersprungen.
func NewWriter(names ...string) (*Writer, error) {
	if len(names) == 0 {
		names = DefaultFormats
	}

	w := &Writer{}
	for _, name := range names {
		f, ok := formats[name]
		if !ok {
			if guess := closestFormat(name); guess != "" {
				slog.Warn("output format unavailable", "format", name, "did_you_mean", guess)
			} else {
				slog.Warn("output format unavailable", "format", name)
			}
			continue
		}
		if slices.Contains(w.formats, f) {
			continue
		}
		w.formats = append(w.formats, f)
	}

	if len(w.formats) == 0 {
		return nil, fmt.Errorf("%w: none of %v", ErrFormatUnavailable, names)
	}
	return w, nil
}

// closestFormat gibt den bekannten Formatnamen mit hoechstens zwei Tippfehlern Abstand zurueck
func closestFormat(name string) string {
	best, bestDist := "", 3
	for known := range formats {
		if d := levenshtein.ComputeDistance(strings.ToLower(name), known); d < bestDist || (d == bestDist && known < best) {
			best, bestDist = known, d
		}
	}
	return best
}

// Formats gibt die verfuegbaren Formatnamen in Praeferenzreihenfolge zurueck
func (w *Writer) Formats() []string {
	names := make([]string, len(w.formats))
	for i, f := range w.formats {
		names[i] = f.Name()
	}
	return names
}

// Existing gibt die erste vorhandene kanonische Ausgabedatei in dir zurueck.
// Geprueft werden alle Formate, unabhaengig von der Konfiguration.
func Existing(dir string) (string, bool) {
	for _, name := range OutputFiles {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// CheckConfig prueft ob das config.json Sidecar in dir vorhanden ist
func CheckConfig(dir string) error {
	if !huggingface.HasConfig(dir) {
		return &ConvertError{Op: "write", Path: dir, Err: ErrMissingConfig}
	}
	return nil
}

// Write schreibt ws nach dir. Ohne config.json wird nichts geschrieben;
// ist bereits eine Ausgabedatei vorhanden, wird sie unveraendert gelassen.
// Liefert ein Format ErrFormatUnavailable, wird das naechste versucht.
func (w *Writer) Write(ws *Weights, dir string, meta map[string]string) (WriteOutcome, error) {
	if err := CheckConfig(dir); err != nil {
		return WriteOutcome{}, err
	}

	if p, ok := Existing(dir); ok {
		return WriteOutcome{Path: p, Existing: true}, nil
	}

	var errs []error
	for _, f := range w.formats {
		out, err := writeAtomic(f, ws, dir, meta)
		if errors.Is(err, ErrFormatUnavailable) {
			slog.Warn("output format unavailable, trying next", "format", f.Name(), "error", err)
			errs = append(errs, err)
			continue
		}
		if err != nil {
			return WriteOutcome{}, &ConvertError{Op: "write", Path: filepath.Join(dir, f.FileName()), Err: err}
		}
		return out, nil
	}

	return WriteOutcome{}, &ConvertError{Op: "write", Path: dir, Err: errors.Join(errs...)}
}

// writeAtomic schreibt in eine temporaere Datei in dir und benennt sie danach um
func writeAtomic(f Format, ws *Weights, dir string, meta map[string]string) (_ WriteOutcome, err error) {
	tmp, err := os.CreateTemp(dir, ".convert-*.tmp")
	if err != nil {
		return WriteOutcome{}, err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriterSize(tmp, 4<<20)
	if err = f.Encode(bw, ws, meta); err != nil {
		return WriteOutcome{}, err
	}
	if err = bw.Flush(); err != nil {
		return WriteOutcome{}, err
	}
	if err = tmp.Sync(); err != nil {
		return WriteOutcome{}, err
	}

	fi, err := tmp.Stat()
	if err != nil {
		return WriteOutcome{}, err
	}
	if err = tmp.Close(); err != nil {
		return WriteOutcome{}, err
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return WriteOutcome{}, err
	}

	path := filepath.Join(dir, f.FileName())
	if err = os.Rename(tmp.Name(), path); err != nil {
		return WriteOutcome{}, err
	}

	return WriteOutcome{Format: f.Name(), Path: path, Size: fi.Size()}, nil
}
