// convert_driver.go - Batch-Konvertierung aller Checkpoints unter den Wurzelpfaden
//
// Ablauf pro Checkpoint:
//  1. Ausgabeverzeichnis vorhanden?
//  2. Bereits konvertiert? (vor jedem Laden der Gewichte)
//  3. Shard-Datei vorhanden, eindeutig?
//  4. config.json vorhanden?
//  5. Laden, Normalisieren, Schreiben
//
// Jeder Fehler und jeder Panic bleibt auf den einzelnen Checkpoint beschraenkt.
package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/7blacky7/ckptconv/checkpoint"
	"github.com/7blacky7/ckptconv/huggingface"
)

// Options steuert einen Driver
type Options struct {
	Workers      int      // parallele Konvertierungen, <= 1 bedeutet sequentiell
	Formats      []string // Ausgabeformate in Praeferenzreihenfolge
	Prefixes     []string // Wrapper-Praefixe, leer bedeutet DefaultPrefixes
	StrictShards bool     // mehrdeutige Shards ueberspringen statt degradiert konvertieren
	DryRun       bool     // nur pruefen, nichts laden oder schreiben

	// OnResult wird nach jedem Checkpoint aufgerufen, nie nebenlaeufig
	OnResult func(Result)
}

// Driver konvertiert Checkpoints und sammelt die Ergebnisse
type Driver struct {
	opts   Options
	writer *Writer
	mu     sync.Mutex
}

// NewDriver erstellt einen Driver
func NewDriver(opts Options) (*Driver, error) {
	w, err := NewWriter(opts.Formats...)
	if err != nil {
		return nil, err
	}
	return &Driver{opts: opts, writer: w}, nil
}

type job struct {
	checkpoint checkpoint.Checkpoint
	err        error
}

// discover expandiert die Wurzelpfade zu Checkpoints.
// Fehlende Wurzeln werden zurueckgegeben, nicht als Fehler behandelt.
func discover(roots []string) (jobs []job, missing []string) {
	for _, root := range roots {
		if _, err := os.Stat(root); err != nil {
			slog.Warn("path does not exist", "path", root)
			missing = append(missing, root)
			continue
		}

		n := len(jobs)
		for c, err := range checkpoint.Locate(root) {
			jobs = append(jobs, job{c, err})
		}
		slog.Debug("located checkpoints", "root", root, "count", len(jobs)-n)
	}
	return jobs, missing
}

// Run konvertiert alle Checkpoints unter roots. Der Bericht enthaelt die
// Ergebnisse in Fundreihenfolge, auch wenn parallel konvertiert wurde.
func (d *Driver) Run(ctx context.Context, roots []string) *Report {
	jobs, missing := discover(roots)
	report := &Report{
		Attempted:    len(jobs),
		Results:      make([]Result, len(jobs)),
		MissingRoots: missing,
	}

	if len(jobs) > 0 {
		slog.Info("found checkpoints", "count", len(jobs), "roots", len(roots))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, d.opts.Workers))
	for i, j := range jobs {
		g.Go(func() error {
			res := d.convertJob(ctx, j)
			report.Results[i] = res
			d.emit(res)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	for _, res := range report.Results {
		if res.Status.Succeeded() {
			report.Succeeded++
		}
	}
	return report
}

// emit ruft OnResult serialisiert auf
func (d *Driver) emit(res Result) {
	if d.opts.OnResult == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts.OnResult(res)
}

func (d *Driver) convertJob(ctx context.Context, j job) Result {
	if j.err != nil {
		return Result{Checkpoint: j.checkpoint, Status: StatusFailed, Err: &ConvertError{Op: "locate", Path: j.checkpoint.Path, Err: j.err}}
	}
	return d.Convert(ctx, j.checkpoint)
}

// Convert konvertiert einen einzelnen Checkpoint
func (d *Driver) Convert(ctx context.Context, c checkpoint.Checkpoint) (res Result) {
	res = Result{Checkpoint: c}
	defer func() {
		if p := recover(); p != nil {
			res.Status = StatusFailed
			res.Err = &ConvertError{Op: "convert", Path: c.Path, Err: fmt.Errorf("panic: %v", p)}
		}
		if res.Status == StatusFailed {
			slog.Error("conversion failed", "checkpoint", c.Path, "error", res.Err)
		}
	}()

	if err := ctx.Err(); err != nil {
		res.Status, res.Err = StatusFailed, err
		return res
	}

	if fi, err := os.Stat(c.OutputDir); err != nil || !fi.IsDir() {
		res.Status = StatusNoOutputDir
		return res
	}

	if p, ok := Existing(c.OutputDir); ok {
		res.Status = StatusAlreadyDone
		res.Output = WriteOutcome{Path: p, Existing: true}
		return res
	}

	sel, err := FindShard(c.WeightsDir)
	if errors.Is(err, ErrNoWeights) {
		res.Status = StatusNoWeights
		return res
	} else if err != nil {
		res.Status, res.Err = StatusFailed, err
		return res
	}

	res.Shard = sel.Path
	if sel.Degraded() {
		if d.opts.StrictShards {
			res.Status = StatusAmbiguousShards
			return res
		}
		res.Degraded = true
		res.Warnings = append(res.Warnings, fmt.Sprintf("using %s of %d shard file(s), multi-rank checkpoint may be incomplete", filepath.Base(sel.Path), len(sel.Candidates)))
	}

	if err := CheckConfig(c.OutputDir); err != nil {
		res.Status, res.Err = StatusMissingConfig, err
		return res
	}

	if d.opts.DryRun {
		res.Status = StatusReady
		return res
	}

	slog.Info("converting", "checkpoint", c.Name(), "shard", filepath.Base(sel.Path))

	shard, err := LoadShard(sel.Path)
	res.Loaded = true
	if err != nil {
		res.Status, res.Err = StatusFailed, err
		return res
	}
	res.Nesting = shard.Nesting

	ws, err := Normalize(shard.Tensors, d.opts.Prefixes...)
	if err != nil {
		res.Status, res.Err = StatusFailed, err
		return res
	}
	res.TensorCount = ws.Len()

	out, err := d.writer.Write(ws, c.OutputDir, sidecarMetadata(c.OutputDir, &res))
	if err != nil {
		res.Status, res.Err = StatusFailed, err
		return res
	}

	res.Status, res.Output = StatusConverted, out
	if out.Existing {
		res.Status = StatusAlreadyDone
	}
	return res
}

// sidecarMetadata liest die Header-Metadaten aus config.json; Parse-Fehler sind nur Warnungen
func sidecarMetadata(dir string, res *Result) map[string]string {
	meta := map[string]string{"format": "pt"}

	info, err := huggingface.ReadConfig(dir)
	if err != nil {
		slog.Warn("config.json unreadable, writing without model metadata", "dir", dir, "error", err)
		res.Warnings = append(res.Warnings, err.Error())
		return meta
	}

	maps.Copy(meta, huggingface.Metadata(info))
	return meta
}
