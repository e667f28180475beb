// cmd_inspect.go - Inspect Command: Tensoren einer Shard- oder Ausgabedatei
// Hauptfunktionen: InspectHandler
package cmd

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/7blacky7/ckptconv/convert"
)

// tensorRow - eine Tabellenzeile von inspect
type tensorRow struct {
	name  string
	dtype convert.DType
	shape []int
	size  int64
}

// InspectHandler - Zeigt Namen, Typen und Formen aller Tensoren einer Datei
func InspectHandler(cmd *cobra.Command, args []string) error {
	path := args[0]
	normalize, _ := cmd.Flags().GetBool("normalize")
	out := cmd.OutOrStdout()

	var rows []tensorRow
	if strings.EqualFold(filepath.Ext(path), ".safetensors") {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		infos, meta, err := convert.ReadSafetensorsHeader(f)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		for _, k := range slices.Sorted(maps.Keys(meta)) {
			printInfo(out, "%s: %s", k, meta[k])
		}
		for _, info := range infos {
			rows = append(rows, tensorRow{info.Name, info.DType, info.Shape, info.DataOffsets[1] - info.DataOffsets[0]})
		}
	} else {
		shard, err := convert.LoadShard(path)
		if err != nil {
			return err
		}
		printInfo(out, "nesting: %s", shard.Nesting)

		tensors := shard.Tensors
		if normalize {
			// gleiche Praefixe wie bei der Konvertierung
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ws, err := convert.Normalize(tensors, cfg.Prefixes...)
			if err != nil {
				return err
			}
			tensors = tensors[:0:0]
			for _, t := range ws.All() {
				tensors = append(tensors, t)
			}
		}

		for _, t := range tensors {
			rows = append(rows, tensorRow{t.Name, t.DType, t.Shape, t.Size()})
		}
	}

	var total int64
	data := make([][]string, 0, len(rows))
	for _, r := range rows {
		total += r.size
		data = append(data, []string{r.name, string(r.dtype), formatShape(r.shape), humanize.Bytes(uint64(r.size))})
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"NAME", "DTYPE", "SHAPE", "SIZE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	printInfo(out, "%s tensors, %s", humanize.Comma(int64(len(rows))), humanize.Bytes(uint64(total)))
	return nil
}

// formatShape - [2 3] wird zu "2x3", Skalare zu "scalar"
func formatShape(shape []int) string {
	if len(shape) == 0 {
		return "scalar"
	}
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = fmt.Sprint(d)
	}
	return strings.Join(parts, "x")
}

// newInspectCmd - Erstellt den inspect Command
func newInspectCmd() *cobra.Command {
	inspectCmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Show the tensors of a shard (.pt) or converted file",
		Args:  cobra.ExactArgs(1),
		RunE:  InspectHandler,
	}

	inspectCmd.Flags().Bool("normalize", false, "Show tensor names with wrapper prefixes removed")

	return inspectCmd
}
