// cmd_list.go - List Command: gefundene Checkpoints und ihr Zustand
// Hauptfunktionen: ListHandler
package cmd

import (
	"path/filepath"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/7blacky7/ckptconv/convert"
)

// ListHandler - Listet alle Checkpoints unter den Wurzeln ohne Gewichte zu laden
func ListHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := cfg.Options()
	opts.DryRun = true

	d, err := convert.NewDriver(opts)
	if err != nil {
		return err
	}

	report := d.Run(cmd.Context(), roots(cfg, args))

	var data [][]string
	for _, res := range report.Results {
		c := res.Checkpoint

		step := "-"
		if c.Step >= 0 {
			step = strconv.Itoa(c.Step)
		}

		shard := "-"
		if res.Shard != "" {
			shard = filepath.Base(res.Shard)
			if res.Degraded {
				shard += " (degraded)"
			}
		}

		status := res.Status.String()
		if res.Status == convert.StatusAlreadyDone {
			status += " (" + filepath.Base(res.Output.Path) + ")"
		}

		data = append(data, []string{c.Name(), step, c.Layout.String(), shard, status})
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"CHECKPOINT", "STEP", "LAYOUT", "SHARD", "STATUS"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	return nil
}

// newListCmd - Erstellt den list Command
func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list [ROOT...]",
		Aliases: []string{"ls"},
		Short:   "List checkpoints and whether they are converted",
		RunE:    ListHandler,
	}
}
