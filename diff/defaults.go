package diff

import (
	"github.com/ridoystarlord/pbmigrato/format"
	"github.com/ridoystarlord/pbmigrato/schema"
)

// Platform defaults per field type. An option holding its default value is
// treated the same as an omitted option.
var optionDefaults = map[schema.FieldType]map[string]any{
	schema.TextField: {
		"min":                 0,
		"max":                 0,
		"pattern":             "",
		"autogeneratePattern": "",
		"primaryKey":          false,
	},
	schema.NumberField: {
		"onlyInt": false,
	},
	schema.EmailField: {
		"onlyDomains":   []any{},
		"exceptDomains": []any{},
	},
	schema.URLField: {
		"onlyDomains":   []any{},
		"exceptDomains": []any{},
	},
	schema.DateField: {
		"min": "",
		"max": "",
	},
	schema.SelectField: {
		"maxSelect": 1,
	},
	schema.FileField: {
		"maxSelect": 1,
		"maxSize":   0,
		"mimeTypes": []any{},
		"thumbs":    []any{},
		"protected": false,
	},
	schema.EditorField: {
		"maxSize":     0,
		"convertURLs": false,
	},
	schema.JSONField: {
		"maxSize": 0,
	},
}

var commonDefaults = map[string]any{
	"hidden":      false,
	"presentable": false,
	"system":      false,
}

// NormalizeOptions drops nil options and options equal to the platform
// default for t. Unknown keys are kept as they are.
func NormalizeOptions(t schema.FieldType, opts map[string]any) map[string]any {
	out := make(map[string]any, len(opts))
	defaults := optionDefaults[t]
	for k, v := range opts {
		if v == nil {
			continue
		}
		if def, ok := defaults[k]; ok && format.Equal(def, v) {
			continue
		}
		if def, ok := commonDefaults[k]; ok && format.Equal(def, v) {
			continue
		}
		out[k] = v
	}
	return out
}

// NormalizeMinSelect returns nil for the default relation minSelect.
func NormalizeMinSelect(v int) any {
	if v <= 0 {
		return nil
	}
	return v
}

// NormalizeMaxSelect returns nil for the default relation maxSelect, which
// is a single relation.
func NormalizeMaxSelect(v int) any {
	if v <= 1 {
		return nil
	}
	return v
}

// relationOptionKeys are relation settings that may also be written as plain
// options of a relation field.
var relationOptionKeys = []string{PropCollectionID, "collection", PropCascadeDelete, PropMinSelect, PropMaxSelect}

// FoldRelationOptions moves relation settings found in the options of a
// relation field into its Relation. A setting already carried by Relation
// wins over the option. Other fields are returned unchanged.
func FoldRelationOptions(f schema.Field) schema.Field {
	if f.Type != schema.RelationField || !hasRelationOption(f.Options) {
		return f
	}

	f = f.Clone()
	if f.Relation == nil {
		f.Relation = &schema.Relation{}
	}
	rel := f.Relation
	for _, key := range relationOptionKeys {
		v, ok := f.Options[key]
		if !ok {
			continue
		}
		delete(f.Options, key)

		switch key {
		case PropCollectionID, "collection":
			if s, ok := v.(string); ok && rel.Collection == "" {
				rel.Collection = s
			}
		case PropCascadeDelete:
			if b, ok := v.(bool); ok && !rel.CascadeDelete {
				rel.CascadeDelete = b
			}
		case PropMinSelect:
			if n, ok := optionInt(v); ok && rel.MinSelect == 0 {
				rel.MinSelect = n
			}
		case PropMaxSelect:
			if n, ok := optionInt(v); ok && rel.MaxSelect == 0 {
				rel.MaxSelect = n
			}
		}
	}
	if len(f.Options) == 0 {
		f.Options = nil
	}
	return f
}

func hasRelationOption(opts map[string]any) bool {
	for _, key := range relationOptionKeys {
		if _, ok := opts[key]; ok {
			return true
		}
	}
	return false
}

func optionInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

func foldCollection(c *schema.Collection) {
	for i, f := range c.Fields {
		c.Fields[i] = FoldRelationOptions(f)
	}
}
