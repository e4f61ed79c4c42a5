package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ridoystarlord/pbmigrato/generator"
	"github.com/ridoystarlord/pbmigrato/runner"
	"github.com/ridoystarlord/pbmigrato/schema"
	"github.com/ridoystarlord/pbmigrato/watch"
)

var (
	forceGenerate  bool
	dryRunGenerate bool
	timestampFlag  int64
	writeSnapshot  bool
	watchGenerate  bool
)

func init() {
	generateCmd.Flags().BoolVar(&forceGenerate, "force", false, "Write the migration even if it repeats the latest one")
	generateCmd.Flags().BoolVar(&dryRunGenerate, "dry-run", false, "Preview the migration that would be generated without writing files")
	generateCmd.Flags().Int64Var(&timestampFlag, "timestamp", 0, "Unix timestamp to use in the file name instead of the current time")
	generateCmd.Flags().BoolVarP(&watchGenerate, "watch", "w", false, "Regenerate whenever the schema changes")
	generateCmd.Flags().BoolVar(&writeSnapshot, "write-snapshot", false, "Persist the resulting state to the --snapshot file")
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a migration file from the schema",
	Long: `Generate a migration that moves the applied state to your schema.

The applied state is rebuilt from the migrations already in --dir, or read
from --snapshot when that file exists.

Examples:
  pbmigrato generate                      # Generate from schema.yaml
  pbmigrato generate -m models/           # Generate from Go structs
  pbmigrato generate --dry-run            # Print the migration only
  pbmigrato generate --force              # Write even if nothing new
  pbmigrato generate --watch              # Regenerate on every schema save
`,
	Run: func(cmd *cobra.Command, args []string) {
		if watchGenerate {
			if err := watchSchema(generateOnce); err != nil {
				fmt.Println("❌", err)
				os.Exit(1)
			}
			return
		}
		if err := generateOnce(); err != nil {
			fmt.Println("❌", err)
			os.Exit(1)
		}
	},
}

func generateOnce() error {
	d, err := computeDiff()
	if err != nil {
		return err
	}

	if d.IsEmpty() {
		fmt.Println("✅ No changes detected.")
		return nil
	}

	if dryRunGenerate {
		if err := generator.Validate(d); err != nil {
			return fmt.Errorf("generating migration: %w", err)
		}
		fmt.Println("\n================ DRY RUN: Migration Preview ================")
		fmt.Print(generator.Render(d))
		fmt.Println("============================================================")
		fmt.Println("(Dry run only. No files were written.)")
		return nil
	}

	opts := []generator.Option{generator.WithForce(forceGenerate)}
	if timestampFlag > 0 {
		ts := time.Unix(timestampFlag, 0)
		opts = append(opts, generator.WithClock(func() time.Time { return ts }))
	}

	paths, err := generator.New(migrationsDir, opts...).Generate(d)
	if err != nil {
		var werr *generator.WriteError
		if errors.As(err, &werr) && werr.Code != "" {
			return fmt.Errorf("writing migration file (%s): %w", werr.Code, werr.Err)
		}
		return fmt.Errorf("generating migration: %w", err)
	}

	if len(paths) == 0 {
		fmt.Println("✅ No changes detected. The latest migration already covers the schema.")
		return nil
	}
	for _, p := range paths {
		fmt.Println("✅ Migration generated:", p)
	}

	if writeSnapshot {
		return persistSnapshot()
	}
	return nil
}

// watchSchema runs fn now and again each time the schema source changes,
// until interrupted.
func watchSchema(fn func() error) error {
	if err := fn(); err != nil {
		fmt.Println("❌", err)
	}

	source := schemaFile
	if modelsDir != "" {
		source = modelsDir
	}
	w := watch.New(source, func() {
		fmt.Println("\n🔁 Schema changed, regenerating...")
		if err := fn(); err != nil {
			fmt.Println("❌", err)
		}
	})
	if err := w.Start(); err != nil {
		return err
	}
	fmt.Printf("👀 Watching %s (Ctrl+C to stop)\n", source)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	return w.Stop()
}

func persistSnapshot() error {
	if snapshotFile == "" {
		return fmt.Errorf("--write-snapshot needs --snapshot or PB_SNAPSHOT_FILE")
	}
	snap, diags, err := runner.RecoverSnapshot(migrationsDir)
	if err != nil {
		return fmt.Errorf("recovering state: %w", err)
	}
	printDiagnostics(diags)
	if err := schema.SaveSnapshot(snapshotFile, snap, time.Now()); err != nil {
		return err
	}
	fmt.Println("💾 Snapshot written:", snapshotFile)
	return nil
}
