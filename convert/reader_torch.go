// reader_torch.go - Laden eines Rank-Shards (.pt) in eine geordnete Tensorliste
//
// Dieses Modul enthaelt:
// - FindShard: waehlt die Shard-Datei eines Gewichtsverzeichnisses
// - LoadShard: deserialisiert die Datei (PyTorch zip oder legacy pickle)
// - Nesting: ob die Gewichte unter "model" oder "state_dict" verpackt waren
package convert

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"

	"github.com/7blacky7/ckptconv/checkpoint"
	"github.com/7blacky7/ckptconv/logutil"
)

// Nesting beschreibt die Verpackung des State-Dicts in der Shard-Datei
type Nesting int

const (
	// NestingRaw - das oberste Dict ist bereits Name -> Tensor
	NestingRaw Nesting = iota
	// NestingModelKey - die Gewichte liegen unter "model"
	NestingModelKey
	// NestingStateDictKey - die Gewichte liegen unter "state_dict"
	NestingStateDictKey
)

func (n Nesting) String() string {
	switch n {
	case NestingModelKey:
		return "model"
	case NestingStateDictKey:
		return "state_dict"
	default:
		return "raw"
	}
}

// outerKeys - Schluessel, unter denen ein Trainingsframework das State-Dict ablegt
var outerKeys = []struct {
	key     string
	nesting Nesting
}{
	{"model", NestingModelKey},
	{"state_dict", NestingStateDictKey},
}

// ShardSelection - Ergebnis der Shard-Suche in einem Gewichtsverzeichnis
type ShardSelection struct {
	Path       string
	Canonical  bool     // model_world_size_1_rank_0.pt
	Candidates []string // alle gefundenen Shard-Dateien
	WorldSize  int      // aus dem Dateinamen, 0 wenn unbekannt
}

// Degraded meldet, ob die Auswahl nur einen Teil eines Multi-Rank-Checkpoints abdeckt
func (s ShardSelection) Degraded() bool {
	return !s.Canonical && (len(s.Candidates) > 1 || s.WorldSize > 1)
}

var shardNamePattern = regexp.MustCompile(`^model_world_size_(\d+)_rank_(\d+)\.pt$`)

// FindShard waehlt die Shard-Datei in dir. Die kanonische Single-Rank-Datei
// wird bevorzugt, sonst die erste (sortierte) model_world_size_*.pt Datei.
func FindShard(dir string) (ShardSelection, error) {
	names, err := checkpoint.ShardFiles(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ShardSelection{}, &ConvertError{Op: "locate", Path: dir, Err: ErrNoWeights}
		}
		return ShardSelection{}, &ConvertError{Op: "locate", Path: dir, Err: err}
	}

	if len(names) == 0 {
		return ShardSelection{}, &ConvertError{Op: "locate", Path: dir, Err: ErrNoWeights}
	}

	sel := ShardSelection{Candidates: make([]string, len(names))}
	for i, name := range names {
		sel.Candidates[i] = filepath.Join(dir, name)
	}

	sel.Path = sel.Candidates[0]
	for i, name := range names {
		if name == checkpoint.CanonicalShard {
			sel.Path, sel.Canonical = sel.Candidates[i], true
			break
		}
	}

	if m := shardNamePattern.FindStringSubmatch(filepath.Base(sel.Path)); m != nil {
		sel.WorldSize, _ = strconv.Atoi(m[1])
	}

	if sel.Degraded() {
		slog.Warn("multi-rank checkpoint, using a single shard", "file", filepath.Base(sel.Path), "shards", len(names), "world_size", sel.WorldSize)
	}

	return sel, nil
}

// Shard - deserialisierte Shard-Datei
type Shard struct {
	Path    string
	Nesting Nesting
	Tensors []Tensor
}

// LoadShard deserialisiert path und entpackt hoechstens eine aeussere Ebene.
// Die Reihenfolge der Tensoren entspricht der Reihenfolge in der Datei.
func LoadShard(path string) (*Shard, error) {
	slog.Debug("loading shard", "file", path)

	obj, err := pytorch.Load(path)
	if err != nil {
		return nil, &ConvertError{Op: "load", Path: path, Err: err}
	}

	entries, ok := dictEntries(obj)
	if !ok {
		return nil, &ConvertError{Op: "load", Path: path, Err: fmt.Errorf("%w: top level is %T, not a dict", ErrUnexpectedValue, obj)}
	}

	shard := &Shard{Path: path, Nesting: NestingRaw}
	entries, shard.Nesting = unwrap(entries)

	shard.Tensors = make([]Tensor, 0, len(entries))
	for _, e := range entries {
		name, ok := e.key.(string)
		if !ok {
			return nil, &ConvertError{Op: "load", Path: path, Err: fmt.Errorf("%w: key %v is %T", ErrUnexpectedValue, e.key, e.key)}
		}

		pt, ok := e.value.(*pytorch.Tensor)
		if !ok {
			return nil, &ConvertError{Op: "load", Path: path, Err: fmt.Errorf("%w: %q is %T, not a tensor", ErrUnexpectedValue, name, e.value)}
		}

		t, err := newTorchTensor(name, pt)
		if err != nil {
			return nil, &ConvertError{Op: "load", Path: path, Err: err}
		}
		logutil.Trace("tensor", "name", name, "dtype", t.DType, "shape", t.Shape)
		shard.Tensors = append(shard.Tensors, t)
	}

	slog.Debug("loaded shard", "file", path, "tensors", len(shard.Tensors), "nesting", shard.Nesting)
	return shard, nil
}

// unwrap entpackt das State-Dict, falls es unter einem bekannten Schluessel liegt
func unwrap(entries []dictEntry) ([]dictEntry, Nesting) {
	for _, outer := range outerKeys {
		for _, e := range entries {
			if k, ok := e.key.(string); !ok || k != outer.key {
				continue
			}
			if inner, ok := dictEntries(e.value); ok {
				return inner, outer.nesting
			}
		}
	}
	return entries, NestingRaw
}

type dictEntry struct {
	key, value any
}

// dictEntries liest Dict und OrderedDict in Einfuegereihenfolge
func dictEntries(v any) ([]dictEntry, bool) {
	switch d := v.(type) {
	case *types.OrderedDict:
		entries := make([]dictEntry, 0, d.Len())
		for el := d.List.Front(); el != nil; el = el.Next() {
			e := el.Value.(*types.OrderedDictEntry)
			entries = append(entries, dictEntry{e.Key, e.Value})
		}
		return entries, true
	case *types.Dict:
		keys := d.Keys()
		entries := make([]dictEntry, 0, len(keys))
		for _, k := range keys {
			v, _ := d.Get(k)
			entries = append(entries, dictEntry{k, v})
		}
		return entries, true
	default:
		return nil, false
	}
}
