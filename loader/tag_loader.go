package loader

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/ridoystarlord/pbmigrato/diff"
	"github.com/ridoystarlord/pbmigrato/schema"
)

// TagLoader loads collections from Go structs carrying `pb` struct tags.
//
//	type Post struct {
//		_      struct{} `pb:"collection:posts;list:public;index:CREATE INDEX idx_title ON posts (title)"`
//		Title  string   `pb:"title;required;max:120"`
//		Author string   `pb:"author;relation:users;cascade"`
//		Status string   `pb:"status;type:select;values:draft|live"`
//	}
//
// Only structs with at least one `pb` tag are collections.
type TagLoader struct {
	modelsDir string
}

func NewTagLoader(modelsDir string) *TagLoader {
	return &TagLoader{
		modelsDir: modelsDir,
	}
}

// LoadSchemaFromTags loads the schema declared by the Go files in modelsDir.
func LoadSchemaFromTags(modelsDir string) (schema.Schema, error) {
	return NewTagLoader(modelsDir).Load()
}

// Load parses every .go file below the models directory.
func (tl *TagLoader) Load() (schema.Schema, error) {
	if _, err := os.Stat(tl.modelsDir); os.IsNotExist(err) {
		return schema.Schema{}, fmt.Errorf("models directory '%s' does not exist", tl.modelsDir)
	}

	var collections []schema.Collection
	err := filepath.Walk(tl.modelsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		found, err := tl.parseGoFile(path)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		collections = append(collections, found...)
		return nil
	})
	if err != nil {
		return schema.Schema{}, fmt.Errorf("failed to load models: %w", err)
	}

	sort.SliceStable(collections, func(i, j int) bool { return collections[i].Name < collections[j].Name })
	for _, c := range collections {
		if err := check(c); err != nil {
			return schema.Schema{}, fmt.Errorf("collection %q: %w", c.Name, err)
		}
	}
	return build(collections)
}

func (tl *TagLoader) parseGoFile(filePath string) ([]schema.Collection, error) {
	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, filePath, nil, parser.SkipObjectResolution)
	if err != nil {
		return nil, err
	}

	var collections []schema.Collection
	var firstErr error
	ast.Inspect(node, func(n ast.Node) bool {
		ts, ok := n.(*ast.TypeSpec)
		if !ok {
			return true
		}
		st, ok := ts.Type.(*ast.StructType)
		if !ok {
			return true
		}
		c, ok, err := tl.parseStruct(ts.Name.Name, st)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("struct %s: %w", ts.Name.Name, err)
		}
		if ok {
			collections = append(collections, c)
		}
		return true
	})
	return collections, firstErr
}

// parseStruct converts a struct into a collection. ok is false when the
// struct has no pb tags at all.
func (tl *TagLoader) parseStruct(structName string, st *ast.StructType) (schema.Collection, bool, error) {
	c := schema.Collection{
		Name: tl.getCollectionName(structName),
		Type: schema.BaseCollection,
	}
	tagged := false

	for _, field := range st.Fields.List {
		tag, ok := pbTag(field.Tag)
		if !ok {
			continue
		}
		tagged = true

		if len(field.Names) == 1 && field.Names[0].Name == "_" {
			if err := tl.parseCollectionTag(&c, tag); err != nil {
				return c, false, err
			}
			continue
		}
		if len(field.Names) == 0 || !ast.IsExported(field.Names[0].Name) || tag == "-" {
			continue
		}

		f, err := tl.parseField(field.Names[0].Name, tl.getGoType(field.Type), tag)
		if err != nil {
			return c, false, fmt.Errorf("field %s: %w", field.Names[0].Name, err)
		}
		c.Fields = append(c.Fields, f)
	}
	return c, tagged, nil
}

func pbTag(lit *ast.BasicLit) (string, bool) {
	if lit == nil {
		return "", false
	}
	raw, err := strconv.Unquote(lit.Value)
	if err != nil {
		return "", false
	}
	return reflect.StructTag(raw).Lookup("pb")
}

// splitTag splits "a;b:c" into its parts. Each part is either a flag or a
// key:value pair.
func splitTag(tag string) [][2]string {
	var parts [][2]string
	for _, part := range strings.Split(tag, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, ":")
		parts = append(parts, [2]string{strings.TrimSpace(key), strings.TrimSpace(value)})
	}
	return parts
}

func (tl *TagLoader) parseCollectionTag(c *schema.Collection, tag string) error {
	for _, kv := range splitTag(tag) {
		key, value := kv[0], kv[1]
		switch {
		case key == "collection" || key == "name":
			c.Name = value
		case key == "id":
			c.ID = value
		case key == "type":
			c.Type = schema.CollectionType(value)
		case key == "index":
			c.Indexes = append(c.Indexes, value)
		case key == "auth":
			c.Type = schema.AuthCollection
		case schema.IsRuleName(key) || schema.IsRuleName(key+"Rule"):
			if c.Permissions == nil {
				c.Permissions = map[string]string{}
			}
			c.Permissions[key] = value
		default:
			return fmt.Errorf("unknown collection setting %q", key)
		}
	}
	return nil
}

func (tl *TagLoader) parseField(goName, goType, tag string) (schema.Field, error) {
	f := schema.Field{Name: tl.toSnakeCase(goName)}

	for i, kv := range splitTag(tag) {
		key, value := kv[0], kv[1]
		// a leading bare word that is not a flag names the field
		if i == 0 && value == "" && !isFieldFlag(key) {
			f.Name = key
			continue
		}
		switch key {
		case "type":
			f.Type = schema.FieldType(value)
		case "required":
			f.Required = true
		case "unique":
			f.Unique = true
		case "relation":
			f.Type = schema.RelationField
			if f.Relation == nil {
				f.Relation = &schema.Relation{}
			}
			f.Relation.Collection = value
		case "cascade":
			if f.Relation == nil {
				f.Relation = &schema.Relation{}
			}
			f.Relation.CascadeDelete = true
		case "values":
			setTagOption(&f, key, splitList(value))
		default:
			if value == "" {
				setTagOption(&f, key, true)
				continue
			}
			setTagOption(&f, key, parseScalar(value))
		}
	}

	if f.Type == "" {
		f.Type = tl.inferFieldType(goType)
	}
	if f.Type == schema.RelationField && f.Relation != nil {
		// selection bounds belong to the relation, not to the options
		f = diff.FoldRelationOptions(f)
	}
	return f, nil
}

func isFieldFlag(key string) bool {
	switch key {
	case "required", "unique", "cascade", "hidden", "presentable":
		return true
	}
	return false
}

func setTagOption(f *schema.Field, key string, v any) {
	if f.Options == nil {
		f.Options = map[string]any{}
	}
	f.Options[key] = v
}

func splitList(value string) []any {
	items := []any{}
	for _, item := range strings.Split(value, "|") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseScalar(value string) any {
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return value
}

func (tl *TagLoader) getGoType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return tl.getGoType(t.X)
	case *ast.ArrayType:
		return "[]" + tl.getGoType(t.Elt)
	case *ast.MapType:
		return "map"
	case *ast.SelectorExpr:
		if x, ok := t.X.(*ast.Ident); ok {
			return x.Name + "." + t.Sel.Name
		}
	}
	return ""
}

// getCollectionName converts a struct name to a plural snake_case name.
func (tl *TagLoader) getCollectionName(structName string) string {
	name := tl.toSnakeCase(structName)
	switch {
	case strings.HasSuffix(name, "y"):
		name = strings.TrimSuffix(name, "y") + "ies"
	case !strings.HasSuffix(name, "s"):
		name += "s"
	}
	return name
}

func (tl *TagLoader) inferFieldType(goType string) schema.FieldType {
	switch goType {
	case "string":
		return schema.TextField
	case "bool":
		return schema.BoolField
	case "int", "int8", "int16", "int32", "int64", "uint", "uint8", "uint16", "uint32", "uint64", "float32", "float64":
		return schema.NumberField
	case "time.Time", "types.DateTime":
		return schema.DateField
	}
	return schema.JSONField
}

func (tl *TagLoader) toSnakeCase(s string) string {
	var b strings.Builder
	var prev rune
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' && ((prev >= 'a' && prev <= 'z') || (prev >= '0' && prev <= '9')) {
			b.WriteByte('_')
		}
		b.WriteRune(r)
		prev = r
	}
	return strings.ToLower(b.String())
}
