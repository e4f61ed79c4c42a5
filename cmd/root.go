package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ridoystarlord/pbmigrato/diff"
	"github.com/ridoystarlord/pbmigrato/loader"
	"github.com/ridoystarlord/pbmigrato/parser"
	"github.com/ridoystarlord/pbmigrato/runner"
	"github.com/ridoystarlord/pbmigrato/schema"
	"github.com/ridoystarlord/pbmigrato/utils"
)

var (
	migrationsDir string
	schemaFile    string
	modelsDir     string
	snapshotFile  string

	cfg utils.Config

	warn = color.New(color.FgYellow)
)

var rootCmd = &cobra.Command{
	Use:   "pbmigrato",
	Short: "Generate PocketBase migrations from a declarative schema",
	Long: `pbmigrato compares your schema with the state recorded in pb_migrations
and writes the JavaScript migration that gets from one to the other.

Examples:

  pbmigrato init
  pbmigrato diff --visual
  pbmigrato generate
  pbmigrato status
`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		utils.LoadEnv()
		cfg = utils.LoadConfig()
		if !cmd.Flags().Changed("dir") {
			migrationsDir = cfg.MigrationsDir
		}
		if !cmd.Flags().Changed("file") {
			schemaFile = cfg.SchemaFile
		}
		if !cmd.Flags().Changed("snapshot") {
			snapshotFile = cfg.SnapshotFile
		}
	},
}

// Execute runs the CLI
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("❌", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&migrationsDir, "dir", "d", utils.DefaultMigrationsDir, "Migrations folder")
	rootCmd.PersistentFlags().StringVarP(&schemaFile, "file", "f", utils.DefaultSchemaFile, "Schema YAML file to load")
	rootCmd.PersistentFlags().StringVarP(&modelsDir, "models", "m", "", "Load the schema from Go structs in this folder instead of YAML")
	rootCmd.PersistentFlags().StringVar(&snapshotFile, "snapshot", "", "Snapshot file to prefer over replaying migrations")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(snapshotCmd)
}

func loadSchema() (schema.Schema, error) {
	if modelsDir != "" {
		s, err := loader.LoadSchemaFromTags(modelsDir)
		if err != nil {
			return s, fmt.Errorf("loading models from structs: %w", err)
		}
		return s, nil
	}
	s, err := loader.LoadSchemaFromYAML(schemaFile)
	if err != nil {
		return s, fmt.Errorf("loading %s: %w", schemaFile, err)
	}
	return s, nil
}

func loadState() (*schema.Snapshot, error) {
	snap, diags, err := runner.ResolveSnapshot(migrationsDir, snapshotFile)
	if err != nil {
		return nil, fmt.Errorf("reading applied state: %w", err)
	}
	printDiagnostics(diags)
	return snap, nil
}

func newEngine() *diff.Engine {
	var opts []diff.Option
	if len(cfg.SystemCollections) > 0 {
		opts = append(opts, diff.WithSystemCollections(cfg.SystemCollections...))
	}
	return diff.NewEngine(nil, opts...)
}

// computeDiff loads both sides and compares them.
func computeDiff() (*diff.Diff, error) {
	current, err := loadSchema()
	if err != nil {
		return nil, err
	}
	previous, err := loadState()
	if err != nil {
		return nil, err
	}
	return newEngine().Compare(current, previous), nil
}

func printDiagnostics(diags []parser.Diagnostic) {
	if len(diags) == 0 {
		return
	}
	warn.Printf("⚠️  %d statement(s) could not be recovered:\n", len(diags))
	for _, d := range diags {
		warn.Println("   -", d.String())
	}
}
