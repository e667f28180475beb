// convert_result.go - Ergebnis pro Checkpoint und Batch-Bericht
// Haupttypen: Status, Result, Report
package convert

import (
	"github.com/7blacky7/ckptconv/checkpoint"
)

// Status - Ausgang einer Konvertierung
type Status int

const (
	StatusConverted Status = iota
	StatusAlreadyDone
	StatusNoOutputDir
	StatusNoWeights
	StatusAmbiguousShards
	StatusMissingConfig
	StatusFailed
	// StatusReady - nur im Dry-Run: alle Vorbedingungen erfuellt, nichts geladen
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusConverted:
		return "converted"
	case StatusAlreadyDone:
		return "already converted"
	case StatusNoOutputDir:
		return "no output dir"
	case StatusNoWeights:
		return "no weights"
	case StatusAmbiguousShards:
		return "ambiguous shards"
	case StatusMissingConfig:
		return "missing config"
	case StatusFailed:
		return "failed"
	case StatusReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Succeeded meldet ob der Status als Erfolg zaehlt
func (s Status) Succeeded() bool {
	return s == StatusConverted || s == StatusAlreadyDone || s == StatusReady
}

// Skipped meldet ob der Checkpoint ohne Fehler uebersprungen wurde
func (s Status) Skipped() bool {
	switch s {
	case StatusAlreadyDone, StatusNoOutputDir, StatusNoWeights, StatusAmbiguousShards, StatusMissingConfig:
		return true
	}
	return false
}

// Result - Ausgang fuer genau einen Checkpoint
type Result struct {
	Checkpoint checkpoint.Checkpoint
	Status     Status
	Err        error

	Shard       string  // geladene Shard-Datei
	Nesting     Nesting // Verpackung des State-Dicts
	Degraded    bool    // nur ein Rank eines Multi-Rank-Checkpoints
	Loaded      bool    // Gewichte wurden gelesen
	TensorCount int
	Output      WriteOutcome
	Warnings    []string
}

// Report - Zusammenfassung eines Batch-Laufs
type Report struct {
	Attempted    int
	Succeeded    int
	Results      []Result
	MissingRoots []string
}

// OK meldet ob mindestens ein Checkpoint gefunden wurde und alle erfolgreich waren
func (r *Report) OK() bool {
	return r.Attempted > 0 && r.Succeeded == r.Attempted
}

// Count gibt die Anzahl der Ergebnisse mit Status s zurueck
func (r *Report) Count(s Status) int {
	var n int
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}
