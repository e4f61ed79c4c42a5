package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ridoystarlord/pbmigrato/runner"
	"github.com/ridoystarlord/pbmigrato/schema"
)

var snapshotOut string

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Rebuild the applied schema from the migrations folder",
	Long: `Replay the forward block of every migration in --dir and print the
resulting collections. With -o the state is written as JSON so later runs
can read it instead of replaying.

Examples:
  pbmigrato snapshot
  pbmigrato snapshot -o .pb_snapshot.json
`,
	Run: func(cmd *cobra.Command, args []string) {
		snap, diags, err := runner.RecoverSnapshot(migrationsDir)
		if err != nil {
			fmt.Println("❌ Recovering state:", err)
			os.Exit(1)
		}
		printDiagnostics(diags)

		fmt.Printf("📦 %d collection(s) recovered from %s\n", len(snap.Collections), migrationsDir)
		showSchemaSummary(snap)

		out := snapshotOut
		if out == "" {
			return
		}
		if err := schema.SaveSnapshot(out, snap, time.Now()); err != nil {
			fmt.Println("❌", err)
			os.Exit(1)
		}
		fmt.Println("💾 Snapshot written:", out)
	},
}

func init() {
	snapshotCmd.Flags().StringVarP(&snapshotOut, "output", "o", "", "Write the recovered state to this JSON file")
}
