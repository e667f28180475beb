// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs, loadConfig
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/7blacky7/ckptconv/config"
	"github.com/7blacky7/ckptconv/envconfig"
	"github.com/7blacky7/ckptconv/logutil"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:   "ckptconv [ROOT...]",
		Short: "Convert sharded training checkpoints to HuggingFace weights",
		Long: `Discovers training checkpoints under each ROOT (a checkpoint, a run
directory with global_step_<N> children, or a directory of runs) and writes
model.safetensors next to the config.json in each huggingface/ directory.
Without ROOT arguments the roots from the config file are used.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), envconfig.LogLevel()))

			// Farben nur auf einem Terminal
			f, ok := cmd.OutOrStdout().(*os.File)
			if !ok || !term.IsTerminal(int(f.Fd())) || envconfig.NoColor() {
				color.NoColor = true
			}
		},
		RunE: ConvertHandler,
	}

	rootCmd.PersistentFlags().String("config", "", "Config file (default .ckptconv.yaml in the working or home directory)")
	rootCmd.Flags().Int("workers", config.DefaultWorkers, "Number of checkpoints converted in parallel")
	rootCmd.Flags().StringSlice("format", config.DefaultFormats, "Output formats in order of preference (safetensors, pytorch)")
	rootCmd.Flags().Bool("strict-shards", false, "Skip multi-rank checkpoints instead of converting a single rank")
	rootCmd.Flags().Bool("dry-run", false, "Report what would be converted without loading or writing weights")

	listCmd := newListCmd()
	inspectCmd := newInspectCmd()

	envVars := envconfig.AsMap()
	common := []envconfig.EnvVar{envVars["CKPTCONV_DEBUG"], envVars["CKPTCONV_CONFIG"], envVars["CKPTCONV_NOCOLOR"]}

	appendEnvDocs(rootCmd, append(common,
		envVars["CKPTCONV_WORKERS"],
		envVars["CKPTCONV_FORMATS"],
		envVars["CKPTCONV_STRICT_SHARDS"],
	))
	appendEnvDocs(listCmd, common)
	appendEnvDocs(inspectCmd, []envconfig.EnvVar{envVars["CKPTCONV_DEBUG"], envVars["CKPTCONV_CONFIG"]})

	rootCmd.AddCommand(listCmd, inspectCmd)

	return rootCmd
}

// loadConfig - Laedt die Konfiguration; gesetzte Flags haben Vorrang
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = envconfig.ConfigFile()
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("format") {
		cfg.Formats, _ = flags.GetStringSlice("format")
	}
	if flags.Changed("strict-shards") {
		cfg.StrictShards, _ = flags.GetBool("strict-shards")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	slog.Debug("configuration", "workers", cfg.Workers, "formats", cfg.Formats, "strict_shards", cfg.StrictShards, "prefixes", cfg.Prefixes)
	return cfg, nil
}

// roots - Argumente vor konfigurierten Wurzeln
func roots(cfg *config.Config, args []string) []string {
	if len(args) > 0 {
		return args
	}
	return cfg.Roots
}
