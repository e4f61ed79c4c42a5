package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ridoystarlord/pbmigrato/runner"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the migrations found and whether they could be replayed",
	Run: func(cmd *cobra.Command, args []string) {
		records, err := runner.Status(migrationsDir)
		if err != nil {
			fmt.Println("❌ Status error:", err)
			os.Exit(1)
		}

		if len(records) == 0 {
			fmt.Println("🕒 No migrations found in", migrationsDir)
			return
		}

		fmt.Println("✅ Migrations:")
		var broken int
		for _, r := range records {
			fmt.Printf("   - %s  [%s, %s]  %s\n", r.Name, r.Operation, r.Timestamp.UTC().Format("2006-01-02 15:04:05"), shortChecksum(r.Checksum))
			if len(r.Diagnostics) > 0 {
				broken++
			}
		}

		if broken > 0 {
			fmt.Println("\n❌ Migrations with statements that could not be replayed:")
			for _, r := range records {
				for _, d := range r.Diagnostics {
					fmt.Printf("   - %s: %s\n", r.Name, d.Message)
				}
			}
		}
	},
}

func shortChecksum(sum string) string {
	if len(sum) < 12 {
		return "unreadable"
	}
	return sum[:12]
}
