package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initStructs bool

const sampleSchema = `# Collections managed by pbmigrato.
# Run 'pbmigrato generate' after editing to write a migration into pb_migrations.
collections:
  - name: posts
    fields:
      - name: title
        type: text
        required: true
        options:
          max: 120
      - name: body
        type: editor
      - name: status
        type: select
        options:
          values: [draft, published]
          maxSelect: 1
      - name: author
        type: relation
        required: true
        relation:
          collection: users
          cascadeDelete: true
          maxSelect: 1
      - name: tags
        type: relation
        relation:
          collection: tags
    indexes:
      - CREATE INDEX idx_posts_status ON posts (status)
    permissions:
      list: public
      view: public
      create: authenticated
    rules:
      updateRule: "author = @request.auth.id"
      deleteRule: null

  - name: tags
    fields:
      - name: name
        type: text
        required: true
        unique: true
    permissions:
      list: public
      view: public

# Permission templates: public, authenticated, locked, owner:<field>.
# Rules set under 'rules' win over permissions; null locks the action to superusers.
`

const sampleModels = `package models

// Post is a blog post.
type Post struct {
	_      struct{} ` + "`pb:\"list:public;view:public;create:authenticated;index:CREATE INDEX idx_posts_status ON posts (status)\"`" + `
	Title  string   ` + "`pb:\"title;required;max:120\"`" + `
	Body   string   ` + "`pb:\"type:editor\"`" + `
	Status string   ` + "`pb:\"type:select;values:draft|published;maxSelect:1\"`" + `
	Author string   ` + "`pb:\"author;relation:users;required;cascade;maxSelect:1\"`" + `
	Tags   []string ` + "`pb:\"relation:tags\"`" + `
}

// Tag labels posts.
type Tag struct {
	_    struct{} ` + "`pb:\"list:public;view:public\"`" + `
	Name string   ` + "`pb:\"required;unique\"`" + `
}
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new pbmigrato project",
	Long: `Initialize a new pbmigrato project with a sample schema.

Default: YAML schema file (schema.yaml)
With --structs: Go structs with pb tags in models/

Examples:
  pbmigrato init                 # Create schema.yaml
  pbmigrato init --structs       # Create models/models.go`,
	Run: func(cmd *cobra.Command, args []string) {
		if initStructs {
			dir := modelsDir
			if dir == "" {
				dir = "models"
			}
			if _, err := os.Stat(dir); err == nil {
				fmt.Printf("❌ %s directory already exists!\n", dir)
				return
			}
			if err := os.MkdirAll(dir, 0755); err != nil {
				fmt.Println("❌ Failed to create models directory:", err)
				return
			}
			path := filepath.Join(dir, "models.go")
			if err := os.WriteFile(path, []byte(sampleModels), 0644); err != nil {
				fmt.Println("❌ Failed to create models.go:", err)
				return
			}
			fmt.Println("✅ Models directory created successfully!")
			fmt.Println("📁 Directory:", dir)
			fmt.Printf("🚀 Run 'pbmigrato generate -m %s' to create a migration from your structs\n", dir)
			return
		}

		if _, err := os.Stat(schemaFile); err == nil {
			fmt.Printf("❌ %s already exists!\n", schemaFile)
			return
		}
		if err := os.WriteFile(schemaFile, []byte(sampleSchema), 0644); err != nil {
			fmt.Printf("❌ Error creating %s: %v\n", schemaFile, err)
			return
		}
		fmt.Printf("✅ Created %s example file.\n", schemaFile)
		fmt.Printf("📝 Edit %s to define your collections\n", schemaFile)
		fmt.Println("🚀 Run 'pbmigrato generate' to create a migration from your schema")
	},
}

func init() {
	initCmd.Flags().BoolVar(&initStructs, "structs", false, "Create Go structs with pb tags instead of a YAML file")
}
