// locate.go - Auffinden von Checkpoints unterhalb eines Wurzelpfads
//
// Drei Faelle, der erste Treffer gewinnt:
// - A: root ist selbst ein Checkpoint
// - B: root ist ein Run-Verzeichnis mit global_step_<N> Kindern
// - C: root enthaelt Run-Verzeichnisse, jedes wird wie B behandelt
package checkpoint

import (
	"cmp"
	"iter"
	"os"
	"path/filepath"
	"slices"
)

// Locate liefert alle Checkpoints unter root. Die Sequenz scannt das
// Dateisystem beim Iterieren und ist nicht wiederholbar gedacht.
// Fehler beim Lesen eines Verzeichnisses werden mit Path des betroffenen
// Verzeichnisses geliefert, danach wird mit dem naechsten Run fortgefahren.
func Locate(root string) iter.Seq2[Checkpoint, error] {
	return func(yield func(Checkpoint, error) bool) {
		if Classify(root) != LayoutNone {
			yield(Resolve(root), nil)
			return
		}

		steps, err := stepDirs(root)
		if err != nil {
			yield(Checkpoint{Path: root, Step: -1}, err)
			return
		}

		if len(steps) > 0 {
			for _, s := range steps {
				if !yield(Resolve(s), nil) {
					return
				}
			}
			return
		}

		runs, err := subdirs(root)
		if err != nil {
			yield(Checkpoint{Path: root, Step: -1}, err)
			return
		}

		for _, run := range runs {
			steps, err := stepDirs(run)
			if err != nil {
				if !yield(Checkpoint{Path: run, Step: -1}, err) {
					return
				}
				continue
			}

			for _, s := range steps {
				if !yield(Resolve(s), nil) {
					return
				}
			}
		}
	}
}

// subdirs gibt die direkten Unterverzeichnisse von dir lexikographisch sortiert zurueck
func subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var dirs []string
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if e.IsDir() || (e.Type()&os.ModeSymlink != 0 && isDir(p)) {
			dirs = append(dirs, p)
		}
	}
	return dirs, nil
}

// stepDirs gibt die global_step_<N> Unterverzeichnisse numerisch aufsteigend sortiert zurueck
func stepDirs(dir string) ([]string, error) {
	dirs, err := subdirs(dir)
	if err != nil {
		return nil, err
	}

	type step struct {
		path string
		n    int
	}

	var steps []step
	for _, d := range dirs {
		if n, ok := ParseStep(filepath.Base(d)); ok {
			steps = append(steps, step{d, n})
		}
	}

	slices.SortStableFunc(steps, func(a, b step) int {
		return cmp.Compare(a.n, b.n)
	})

	paths := make([]string, len(steps))
	for i, s := range steps {
		paths[i] = s.path
	}
	return paths, nil
}
