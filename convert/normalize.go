// normalize.go - Entfernen von Wrapper-Praefixen aus Tensornamen
// Hauptfunktionen: Normalize, NormalizeName
package convert

import (
	"fmt"
	"iter"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultPrefixes - Praefixe in fester Reihenfolge: DDP, dann FSDP
var DefaultPrefixes = []string{"module.", "_fsdp_wrapped_module."}

// NormalizeName entfernt jeden Praefix hoechstens einmal, in der gegebenen Reihenfolge.
// "module._fsdp_wrapped_module.x" wird zu "x", "module.module.x" zu "module.x".
func NormalizeName(name string, prefixes []string) string {
	for _, p := range prefixes {
		name = strings.TrimPrefix(name, p)
	}
	return name
}

// Weights - normalisierte Tensoren in Einfuegereihenfolge mit eindeutigen Namen
type Weights struct {
	m *orderedmap.OrderedMap[string, Tensor]
}

// Normalize benennt alle Tensoren um und prueft die Eindeutigkeit der neuen Namen.
// Ohne prefixes werden DefaultPrefixes verwendet.
func Normalize(ts []Tensor, prefixes ...string) (*Weights, error) {
	if len(prefixes) == 0 {
		prefixes = DefaultPrefixes
	}

	w := &Weights{m: orderedmap.New[string, Tensor]()}
	for _, t := range ts {
		name := NormalizeName(t.Name, prefixes)
		if prev, ok := w.m.Get(name); ok {
			return nil, &ConvertError{Op: "normalize", Err: fmt.Errorf("%w: %q and %q both map to %q", ErrDuplicateKey, prev.Name, t.Name, name)}
		}
		w.m.Set(name, t)
	}
	return w, nil
}

// Len gibt die Anzahl der Tensoren zurueck
func (w *Weights) Len() int {
	return w.m.Len()
}

// Get gibt den Tensor mit normalisiertem Namen zurueck
func (w *Weights) Get(name string) (Tensor, bool) {
	t, ok := w.m.Get(name)
	if !ok {
		return Tensor{}, false
	}
	return t.Renamed(name), true
}

// All liefert (Name, Tensor) in Einfuegereihenfolge; Tensor.Name ist der normalisierte Name
func (w *Weights) All() iter.Seq2[string, Tensor] {
	return func(yield func(string, Tensor) bool) {
		for pair := w.m.Oldest(); pair != nil; pair = pair.Next() {
			if !yield(pair.Key, pair.Value.Renamed(pair.Key)) {
				return
			}
		}
	}
}

// Names gibt die normalisierten Namen in Einfuegereihenfolge zurueck
func (w *Weights) Names() []string {
	names := make([]string, 0, w.m.Len())
	for pair := w.m.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Size gibt die Summe der Tensorgroessen in Bytes zurueck
func (w *Weights) Size() int64 {
	var n int64
	for pair := w.m.Oldest(); pair != nil; pair = pair.Next() {
		n += pair.Value.Size()
	}
	return n
}
