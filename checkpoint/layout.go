// layout.go - Layout-Erkennung fuer Checkpoint-Verzeichnisse
// Hauptfunktionen: Classify, Resolve
package checkpoint

import (
	"os"
	"path/filepath"
)

// Classify bestimmt das Layout eines Verzeichnisses.
// Reihenfolge: actor/ vorhanden -> Wrapped, Shards vorhanden -> Flat, sonst None.
func Classify(dir string) Layout {
	if isDir(filepath.Join(dir, ActorDir)) {
		return LayoutWrapped
	}

	if names, err := ShardFiles(dir); err == nil && len(names) > 0 {
		return LayoutFlat
	}

	return LayoutNone
}

// Resolve klassifiziert dir und setzt Gewichts- und Ausgabeverzeichnis.
// Fuer LayoutNone wird wie bei Flat das Verzeichnis selbst verwendet.
func Resolve(dir string) Checkpoint {
	c := Checkpoint{Path: dir, Step: -1, Layout: Classify(dir)}
	if n, ok := ParseStep(filepath.Base(dir)); ok {
		c.Step = n
	}

	c.WeightsDir = dir
	if c.Layout == LayoutWrapped {
		c.WeightsDir = filepath.Join(dir, ActorDir)
	}
	c.OutputDir = filepath.Join(c.WeightsDir, OutputSubdir)

	return c
}

// isDir folgt Symlinks
func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}
