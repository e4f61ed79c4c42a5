package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ridoystarlord/pbmigrato/diff"
	"github.com/ridoystarlord/pbmigrato/schema"
)

var diffVisual bool

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Show differences between the schema and the applied migrations",
	Long: `Show differences between your schema and the state recorded in the
migrations folder.

Examples:
  pbmigrato diff                    # Show differences in text format
  pbmigrato diff --visual           # Show differences in tree format with colors
  pbmigrato diff -f custom.yaml     # Use custom schema file
`,
	Run: func(cmd *cobra.Command, args []string) {
		d, err := computeDiff()
		if err != nil {
			fmt.Printf("❌ Error computing diff: %v\n", err)
			os.Exit(1)
		}

		if d.IsEmpty() {
			fmt.Println("✅ No differences found between schema and migrations")
			return
		}

		if diffVisual {
			showVisualDiff(d)
		} else {
			showTextDiff(d)
		}
	},
}

func showVisualDiff(d *diff.Diff) {
	fmt.Println("🌳 Schema Changes (Visual Diff)")
	fmt.Println(strings.Repeat("=", 50))

	showCollectionChanges(d)
	showFieldChanges(d)
	showIndexChanges(d)
	showRuleChanges(d)
}

func showCollectionChanges(d *diff.Diff) {
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)

	fmt.Println("\n📋 Collections:")
	for _, c := range d.CollectionsToCreate {
		green.Printf("  ➕ CREATE %s (%s, %d fields)\n", c.Name, c.Type, len(c.Fields))
	}
	for _, c := range d.CollectionsToDelete {
		red.Printf("  ❌ DELETE %s\n", c.Name)
	}
	for _, m := range d.CollectionsToModify {
		if tc := m.TypeChange; tc != nil {
			yellow.Printf("  ⚡ MODIFY %s (type %v → %v, not supported)\n", m.Name, tc.Old, tc.New)
			continue
		}
		yellow.Printf("  ⚡ MODIFY %s\n", m.Name)
	}
}

func showFieldChanges(d *diff.Diff) {
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	blue := color.New(color.FgBlue, color.Bold)

	fmt.Println("\n📝 Fields:")
	for _, m := range d.CollectionsToModify {
		if len(m.FieldsToAdd)+len(m.FieldsToRemove)+len(m.FieldsToModify) == 0 {
			continue
		}
		fmt.Printf("  📋 %s:\n", m.Name)
		for _, f := range m.FieldsToAdd {
			green.Printf("    ➕ ADD %s (%s)", f.Name, f.Type)
			if f.Required {
				green.Print(" REQUIRED")
			}
			if f.Relation != nil {
				green.Printf(" → %s", d.ResolveTarget(f.Relation.Collection))
			}
			green.Println()
		}
		for _, f := range m.FieldsToRemove {
			red.Printf("    ❌ REMOVE %s\n", f.Name)
		}
		for _, fm := range m.FieldsToModify {
			blue.Printf("    🔄 MODIFY %s:\n", fm.Name)
			showFieldModifications(fm)
		}
	}
}

func showFieldModifications(fm diff.FieldModification) {
	blue := color.New(color.FgBlue)
	cyan := color.New(color.FgCyan)
	magenta := color.New(color.FgMagenta)

	for _, c := range fm.Changes {
		switch c.Property {
		case diff.PropName:
			cyan.Printf("      ✏️  RENAME: %v → %v\n", c.Old, c.New)
		case diff.PropType:
			blue.Printf("      📊 TYPE: %v → %v\n", c.Old, c.New)
		case diff.PropRequired, diff.PropUnique:
			cyan.Printf("      🚫 %s: %v → %v\n", strings.ToUpper(c.Property), c.Old, c.New)
		default:
			magenta.Printf("      🔧 %s: %s → %s\n", c.Property, showValue(c.Old), showValue(c.New))
		}
	}
}

func showIndexChanges(d *diff.Diff) {
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println("\n🔍 Indexes:")
	for _, m := range d.CollectionsToModify {
		if len(m.IndexesToAdd)+len(m.IndexesToRemove) == 0 {
			continue
		}
		fmt.Printf("  📋 %s:\n", m.Name)
		for _, idx := range m.IndexesToAdd {
			green.Printf("    ➕ %s\n", idx)
		}
		for _, idx := range m.IndexesToRemove {
			red.Printf("    ❌ %s\n", idx)
		}
	}
}

func showRuleChanges(d *diff.Diff) {
	magenta := color.New(color.FgMagenta, color.Bold)

	fmt.Println("\n🔐 Rules:")
	for _, m := range d.CollectionsToModify {
		if len(m.RuleChanges) == 0 {
			continue
		}
		fmt.Printf("  📋 %s:\n", m.Name)
		for _, rc := range m.RuleChanges {
			magenta.Printf("    🔧 %s: %s → %s\n", rc.Rule, showRule(rc.Old), showRule(rc.New))
		}
	}
}

func showTextDiff(d *diff.Diff) {
	fmt.Println("📋 Schema Changes (Text Format)")
	fmt.Println(strings.Repeat("=", 40))

	n := 0
	step := func(format string, args ...any) {
		n++
		fmt.Printf("%d. "+format+"\n", append([]any{n}, args...)...)
	}

	for _, c := range d.CollectionsToCreate {
		step("CREATE COLLECTION %s", c.Name)
	}
	for _, m := range d.CollectionsToModify {
		if tc := m.TypeChange; tc != nil {
			step("CHANGE COLLECTION TYPE %s %v → %v (not supported)", m.Name, tc.Old, tc.New)
		}
		for _, f := range m.FieldsToRemove {
			step("REMOVE FIELD %s.%s", m.Name, f.Name)
		}
		for _, f := range m.FieldsToAdd {
			step("ADD FIELD %s.%s (%s)", m.Name, f.Name, f.Type)
		}
		for _, fm := range m.FieldsToModify {
			if c, ok := fm.Change(diff.PropName); ok {
				step("RENAME FIELD %s.%v TO %v", m.Name, c.Old, c.New)
			}
			if fm.TypeChanged() {
				step("CHANGE TYPE %s.%s %s → %s", m.Name, fm.Name, fm.Previous.Type, fm.Current.Type)
			}
			if len(fm.Changes) > 0 {
				step("MODIFY FIELD %s.%s", m.Name, fm.Name)
			}
		}
		for _, idx := range m.IndexesToRemove {
			step("DROP INDEX ON %s: %s", m.Name, idx)
		}
		for _, idx := range m.IndexesToAdd {
			step("CREATE INDEX ON %s: %s", m.Name, idx)
		}
		for _, rc := range m.RuleChanges {
			step("SET %s.%s = %s", m.Name, rc.Rule, showRule(rc.New))
		}
	}
	for _, c := range d.CollectionsToDelete {
		step("DELETE COLLECTION %s", c.Name)
	}
}

func showRule(r *string) string {
	switch {
	case r == nil:
		return "null (superusers only)"
	case *r == "":
		return `"" (public)`
	}
	return fmt.Sprintf("%q", *r)
}

func showValue(v any) string {
	if v == nil {
		return "unset"
	}
	return fmt.Sprint(v)
}

// showSchemaSummary prints one line per collection of snap.
func showSchemaSummary(snap *schema.Snapshot) {
	cyan := color.New(color.FgCyan, color.Bold)
	for _, key := range schema.Names(snap.Collections) {
		c := snap.Collections[key]
		cyan.Printf("  📋 %s", c.Name)
		fmt.Printf(" (%s, id %s, %d fields, %d indexes)\n", c.Type, c.ID, len(c.Fields), len(c.Indexes))
	}
}

func init() {
	diffCmd.Flags().BoolVarP(&diffVisual, "visual", "v", false, "Show changes in visual tree format")
}
