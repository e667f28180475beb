// checkpoint.go - Typen und Dateikonventionen fuer Trainings-Checkpoints
//
// Dieses Modul enthaelt:
// - Layout: Wrapped (actor/ Unterverzeichnis), Flat (Shards direkt im Step), None
// - Checkpoint: ein Step-Verzeichnis mit aufgeloesten Gewichts- und Ausgabepfaden
// - ParseStep: liest den Integer-Step aus global_step_<N>
// - ShardFiles: listet model_world_size_*.pt Dateien eines Verzeichnisses
package checkpoint

import (
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
)

// Dateinamen-Konventionen des Trainingsframeworks
const (
	ActorDir       = "actor"
	OutputSubdir   = "huggingface"
	CanonicalShard = "model_world_size_1_rank_0.pt"
	ShardPattern   = "model_world_size_*.pt"
	StepPrefix     = "global_step_"
)

// Layout beschreibt, wie ein Checkpoint auf der Platte abgelegt ist
type Layout int

const (
	// LayoutNone - kein Checkpoint (weder actor/ noch Shard-Dateien)
	LayoutNone Layout = iota
	// LayoutWrapped - Gewichte liegen unter <dir>/actor (RL-Training)
	LayoutWrapped
	// LayoutFlat - Gewichte liegen direkt in <dir> (SFT-Training)
	LayoutFlat
)

func (l Layout) String() string {
	switch l {
	case LayoutWrapped:
		return "wrapped"
	case LayoutFlat:
		return "flat"
	default:
		return "none"
	}
}

// Checkpoint ist ein einzelner Trainings-Step auf der Platte.
// Step ist -1 wenn der Verzeichnisname keinen global_step_<N> enthaelt.
type Checkpoint struct {
	Path       string
	Step       int
	Layout     Layout
	WeightsDir string
	OutputDir  string
}

// Name gibt "<run>/<step>" zurueck, wie es in Statuszeilen erscheint
func (c Checkpoint) Name() string {
	return filepath.Join(filepath.Base(filepath.Dir(c.Path)), filepath.Base(c.Path))
}

var stepPattern = regexp.MustCompile(`^` + StepPrefix + `(\d+)$`)

// ParseStep liest N aus einem Verzeichnisnamen global_step_<N>
func ParseStep(name string) (int, bool) {
	m := stepPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}

	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// ShardFiles gibt die Namen aller Shard-Dateien in dir sortiert zurueck.
// Der Verzeichnispfad selbst wird nicht als Glob interpretiert.
func ShardFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ok, _ := path.Match(ShardPattern, e.Name()); ok {
			names = append(names, e.Name())
		}
	}

	slices.Sort(names)
	return names, nil
}
