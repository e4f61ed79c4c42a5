package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ridoystarlord/pbmigrato/validator"
)

var validateFormat string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the schema before generating a migration",
	Long: `Validate your schema against naming rules and the collections already
applied in the migrations folder.

This command checks:
- Collection and field names (identifier rules, reserved system fields)
- Relation targets (declared in the schema or already applied)
- Index definitions (syntax, field references, names unique across collections)
- Select fields without values and relation selection bounds

Examples:
  pbmigrato validate                  # Validate schema.yaml
  pbmigrato validate -m models/       # Validate Go structs
  pbmigrato validate --format json    # Output validation results as JSON
`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := validateSchema(); err != nil {
			fmt.Printf("❌ Schema validation failed: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateFormat, "format", "text", "Output format (text, json)")
	rootCmd.AddCommand(validateCmd)
}

func validateSchema() error {
	current, err := loadSchema()
	if err != nil {
		return err
	}
	previous, err := loadState()
	if err != nil {
		return err
	}

	result := validator.NewSchemaValidator(previous).ValidateSchema(current)
	if validateFormat == "json" {
		if err := outputJSON(result); err != nil {
			return err
		}
	} else {
		outputText(result)
	}
	if !result.Valid {
		return fmt.Errorf("%d error(s)", len(result.Errors))
	}
	return nil
}

func outputJSON(result *validator.ValidationResult) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func outputText(result *validator.ValidationResult) {
	if result.Valid {
		color.Green("✅ Schema validation passed!")
	} else {
		color.Red("❌ Schema validation failed!")
	}

	printFindings("🔴 Errors", result.Errors)
	printFindings("🟡 Warnings", result.Warnings)
	printFindings("🔵 Info", result.Info)

	fmt.Printf("\n📊 Summary:\n")
	fmt.Printf("  • Errors: %d\n", len(result.Errors))
	fmt.Printf("  • Warnings: %d\n", len(result.Warnings))
	fmt.Printf("  • Info: %d\n", len(result.Info))

	if result.Valid {
		fmt.Printf("\n🎉 Your schema is valid and ready for migration generation!\n")
	} else {
		fmt.Printf("\n💡 Fix the errors above before generating migrations.\n")
	}
}

func printFindings(title string, findings []validator.ValidationError) {
	if len(findings) == 0 {
		return
	}
	fmt.Printf("\n%s (%d):\n", title, len(findings))
	for i, f := range findings {
		fmt.Printf("  %d. ", i+1)
		if f.Collection != "" {
			fmt.Printf("[%s]", f.Collection)
		}
		if f.Field != "" {
			fmt.Printf(".%s", f.Field)
		}
		if f.Index != "" {
			fmt.Printf(" (index: %s)", f.Index)
		}
		fmt.Printf(": %s\n", f.Message)
	}
}
