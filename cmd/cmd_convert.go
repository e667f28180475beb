// cmd_convert.go - Root Command: Batch-Konvertierung
// Hauptfunktionen: ConvertHandler, statusLine, printSummary
package cmd

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/7blacky7/ckptconv/convert"
)

var (
	errNoCheckpoints = errors.New("no checkpoints found")
	errIncomplete    = errors.New("not all checkpoints were converted")
)

// tagColors - Farben der Status-Tags; color.NoColor wird beim Ausgeben geprueft
var tagColors = map[string]*color.Color{
	"INFO":    color.New(color.FgCyan),
	"DONE":    color.New(color.FgGreen, color.Bold),
	"READY":   color.New(color.FgGreen),
	"SKIP":    color.New(color.FgYellow),
	"WARN":    color.New(color.FgYellow, color.Bold),
	"ERROR":   color.New(color.FgRed, color.Bold),
	"SUMMARY": color.New(color.Bold),
}

// tag gibt "[NAME]" in der Farbe des Tags zurueck
func tag(name string) string {
	return tagColors[name].Sprint("[" + name + "]")
}

// ConvertHandler - Konvertiert alle Checkpoints unter den Wurzeln
func ConvertHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := cfg.Options()
	opts.DryRun, _ = cmd.Flags().GetBool("dry-run")

	out := cmd.OutOrStdout()
	opts.OnResult = func(res convert.Result) {
		for _, w := range res.Warnings {
			fmt.Fprintf(out, "%s %s: %s\n", tag("WARN"), res.Checkpoint.Name(), w)
		}
		fmt.Fprintln(out, statusLine(res))
	}

	d, err := convert.NewDriver(opts)
	if err != nil {
		return err
	}

	if opts.DryRun {
		printInfo(out, "Dry run, no weights are loaded or written")
	}

	report := d.Run(cmd.Context(), roots(cfg, args))

	for _, root := range report.MissingRoots {
		fmt.Fprintf(out, "%s Path does not exist: %s\n", tag("WARN"), root)
	}

	if report.Attempted == 0 {
		fmt.Fprintf(out, "%s No checkpoints found\n", tag("ERROR"))
		return errNoCheckpoints
	}

	printSummary(out, report, opts.DryRun)

	if !report.OK() {
		return fmt.Errorf("%w: %d of %d", errIncomplete, report.Attempted-report.Succeeded, report.Attempted)
	}
	return nil
}

// statusLine formatiert das Ergebnis eines Checkpoints als eine Zeile
func statusLine(res convert.Result) string {
	c := res.Checkpoint
	switch res.Status {
	case convert.StatusConverted:
		return fmt.Sprintf("%s %s -> %s (%s, %d tensors)", tag("DONE"), c.Name(), filepath.Base(res.Output.Path), humanize.Bytes(uint64(res.Output.Size)), res.TensorCount)
	case convert.StatusAlreadyDone:
		return fmt.Sprintf("%s Already converted: %s", tag("SKIP"), c.Name())
	case convert.StatusNoOutputDir:
		return fmt.Sprintf("%s No huggingface dir: %s", tag("SKIP"), c.Path)
	case convert.StatusNoWeights:
		return fmt.Sprintf("%s No model weights found: %s", tag("SKIP"), c.Path)
	case convert.StatusAmbiguousShards:
		return fmt.Sprintf("%s Multi-rank checkpoint, not converted: %s", tag("SKIP"), c.Path)
	case convert.StatusMissingConfig:
		return fmt.Sprintf("%s No config.json in %s", tag("ERROR"), c.OutputDir)
	case convert.StatusReady:
		return fmt.Sprintf("%s %s (%s)", tag("READY"), c.Name(), filepath.Base(res.Shard))
	default:
		return fmt.Sprintf("%s %s: %v", tag("ERROR"), c.Name(), res.Err)
	}
}

// printSummary gibt die Erfolgsquote und eine Tabelle der Status aus
func printSummary(w io.Writer, report *convert.Report, dryRun bool) {
	verb := "Converted"
	if dryRun {
		verb = "Ready"
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %s %d/%d checkpoints\n", tag("SUMMARY"), verb, report.Succeeded, report.Attempted)

	var data [][]string
	for _, s := range []convert.Status{
		convert.StatusConverted,
		convert.StatusReady,
		convert.StatusAlreadyDone,
		convert.StatusNoOutputDir,
		convert.StatusNoWeights,
		convert.StatusAmbiguousShards,
		convert.StatusMissingConfig,
		convert.StatusFailed,
	} {
		if n := report.Count(s); n > 0 {
			data = append(data, []string{s.String(), humanize.Comma(int64(n))})
		}
	}

	var degraded int
	for _, res := range report.Results {
		if res.Degraded && res.Status == convert.StatusConverted {
			degraded++
		}
	}
	if degraded > 0 {
		data = append(data, []string{"degraded (single rank)", humanize.Comma(int64(degraded))})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"STATUS", "COUNT"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}

// printInfo - einzeilige Hinweise im Stil der Status-Zeilen
func printInfo(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", tag("INFO"), fmt.Sprintf(format, args...))
}
