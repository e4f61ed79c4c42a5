package loader

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ridoystarlord/pbmigrato/schema"
)

type yamlFile struct {
	Collections []yamlCollection `yaml:"collections"`
}

type yamlCollection struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Type        string            `yaml:"type"`
	Fields      []yamlField       `yaml:"fields"`
	Indexes     []string          `yaml:"indexes"`
	Rules       map[string]any    `yaml:"rules"`
	Permissions map[string]string `yaml:"permissions"`
}

type yamlField struct {
	Name     string           `yaml:"name"`
	Type     string           `yaml:"type"`
	Required bool             `yaml:"required"`
	Unique   bool             `yaml:"unique"`
	Options  map[string]any   `yaml:"options"`
	Relation *schema.Relation `yaml:"relation"`
}

// LoadSchemaFromYAML reads the desired schema from a YAML file.
func LoadSchemaFromYAML(filename string) (schema.Schema, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return schema.Schema{}, fmt.Errorf("reading schema file: %w", err)
	}
	return ParseSchemaYAML(data)
}

// ParseSchemaYAML decodes and checks a YAML schema document.
func ParseSchemaYAML(data []byte) (schema.Schema, error) {
	var yf yamlFile
	if err := yaml.Unmarshal(data, &yf); err != nil {
		return schema.Schema{}, fmt.Errorf("unmarshalling YAML: %w", err)
	}

	var collections []schema.Collection
	for i, yc := range yf.Collections {
		c, err := yc.toCollection()
		if err != nil {
			if yc.Name == "" {
				return schema.Schema{}, fmt.Errorf("collection #%d: %w", i+1, err)
			}
			return schema.Schema{}, fmt.Errorf("collection %q: %w", yc.Name, err)
		}
		collections = append(collections, c)
	}
	return build(collections)
}

func (yc yamlCollection) toCollection() (schema.Collection, error) {
	c := schema.Collection{
		ID:          strings.TrimSpace(yc.ID),
		Name:        strings.TrimSpace(yc.Name),
		Type:        schema.CollectionType(yc.Type),
		Indexes:     yc.Indexes,
		Permissions: yc.Permissions,
	}

	for _, yf := range yc.Fields {
		c.Fields = append(c.Fields, schema.Field{
			Name:     strings.TrimSpace(yf.Name),
			Type:     schema.FieldType(yf.Type),
			Required: yf.Required,
			Unique:   yf.Unique,
			Options:  yf.Options,
			Relation: yf.Relation,
		})
	}

	if len(yc.Rules) > 0 {
		c.Rules = make(map[string]*string, len(yc.Rules))
		for slot, v := range yc.Rules {
			switch val := v.(type) {
			case nil:
				c.Rules[slot] = nil
			case string:
				c.Rules[slot] = &val
			default:
				return c, fmt.Errorf("rule %s must be a string or null", slot)
			}
		}
	}
	return c, check(c)
}

// check verifies what the diff engine relies on. It is not a semantic
// validation of rules or options.
// fieldProps are the keys a field literal carries outside its options.
var fieldProps = []string{"id", "name", "type", "required", "unique"}

func check(c schema.Collection) error {
	if c.Name == "" {
		return fmt.Errorf("collection has no name")
	}
	switch c.Type {
	case "":
	case schema.BaseCollection, schema.AuthCollection:
	default:
		return fmt.Errorf("unknown collection type %q", c.Type)
	}

	seen := map[string]bool{}
	for _, f := range c.Fields {
		if f.Name == "" {
			return fmt.Errorf("field without a name")
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field %q", f.Name)
		}
		seen[f.Name] = true

		if !f.Type.Valid() {
			return fmt.Errorf("field %q has unknown type %q", f.Name, f.Type)
		}
		if f.Type == schema.RelationField && (f.Relation == nil || strings.TrimSpace(f.Relation.Collection) == "") {
			return fmt.Errorf("relation field %q has no target collection", f.Name)
		}
		if f.Type != schema.RelationField && f.Relation != nil {
			return fmt.Errorf("field %q is not a relation but declares a target", f.Name)
		}
		for _, key := range fieldProps {
			if _, ok := f.Options[key]; ok {
				return fmt.Errorf("field %q sets %q under options; declare it on the field itself", f.Name, key)
			}
		}
	}

	for slot := range c.Rules {
		if !schema.IsRuleName(slot) {
			return fmt.Errorf("unknown rule %q", slot)
		}
	}
	for key := range c.Permissions {
		if !schema.IsRuleName(key) && !schema.IsRuleName(key+"Rule") {
			return fmt.Errorf("unknown permission slot %q", key)
		}
	}
	return nil
}

// build turns the collections into a Schema, rejecting names that only
// differ by case.
func build(collections []schema.Collection) (schema.Schema, error) {
	s := schema.NewSchema()
	seen := map[string]string{}
	for _, c := range collections {
		key := strings.ToLower(c.Name)
		if prev, ok := seen[key]; ok {
			return schema.Schema{}, fmt.Errorf("collection %q is declared twice (also as %q)", c.Name, prev)
		}
		seen[key] = c.Name
		s.Collections[c.Name] = c
	}
	return s, nil
}
