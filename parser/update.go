package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ridoystarlord/pbmigrato/diff"
	"github.com/ridoystarlord/pbmigrato/schema"
)

type StepKind int

const (
	StepAddField StepKind = iota
	StepRemoveField
	StepSetField
	StepAddIndex
	StepRemoveIndex
	StepSetIndexes
	StepSetRule
	StepSetCollection
)

var stepNames = map[StepKind]string{
	StepAddField:      "add field",
	StepRemoveField:   "remove field",
	StepSetField:      "set field property",
	StepAddIndex:      "add index",
	StepRemoveIndex:   "remove index",
	StepSetIndexes:    "set indexes",
	StepSetRule:       "set rule",
	StepSetCollection: "set collection property",
}

func (k StepKind) String() string {
	if s, ok := stepNames[k]; ok {
		return s
	}
	return fmt.Sprintf("step(%d)", int(k))
}

// Step is one recovered mutation of a collection.
type Step struct {
	Kind StepKind
	// Field is the added field for StepAddField.
	Field schema.Field
	// Name is the field, rule or collection property the step targets.
	Name string
	// Path is the property path below a field for StepSetField, e.g.
	// ["options", "max"] or ["required"].
	Path    []string
	Value   any
	Index   string
	Indexes []string
}

// CollectionUpdate is the set of mutations a migration applies to an
// existing collection, in source order.
type CollectionUpdate struct {
	// Collection is the name or identifier the collection was looked up by.
	Collection string
	Steps      []Step
}

// Apply replays the steps onto c. Steps that cannot be applied are reported
// and skipped; the rest still run.
func (u *CollectionUpdate) Apply(c *schema.Collection) error {
	return applySteps(c, u.Steps)
}

func applySteps(c *schema.Collection, steps []Step) error {
	var errs []error
	for _, s := range steps {
		if err := applyStep(c, s); err != nil {
			errs = append(errs, fmt.Errorf("%s on %q: %w", s.Kind, c.Name, err))
		}
	}
	return errors.Join(errs...)
}

func applyStep(c *schema.Collection, s Step) error {
	switch s.Kind {
	case StepAddField:
		if i := c.FieldIndex(s.Field.Name); i >= 0 {
			c.Fields[i] = s.Field.Clone()
			return nil
		}
		c.Fields = append(c.Fields, s.Field.Clone())
	case StepRemoveField:
		i := c.FieldIndex(s.Name)
		if i < 0 {
			return fmt.Errorf("field %q not found", s.Name)
		}
		c.Fields = append(c.Fields[:i], c.Fields[i+1:]...)
	case StepSetField:
		i := c.FieldIndex(s.Name)
		if i < 0 {
			return fmt.Errorf("field %q not found", s.Name)
		}
		return setFieldProp(&c.Fields[i], s.Path, s.Value)
	case StepAddIndex:
		c.Indexes = append(c.Indexes, s.Index)
	case StepRemoveIndex:
		for i, idx := range c.Indexes {
			if idx == s.Index || diff.NormalizeIndex(idx) == diff.NormalizeIndex(s.Index) {
				c.Indexes = append(c.Indexes[:i], c.Indexes[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("index %q not found", s.Index)
	case StepSetIndexes:
		c.Indexes = append([]string(nil), s.Indexes...)
	case StepSetRule:
		rule, err := ruleValue(s.Value)
		if err != nil {
			return err
		}
		if c.Rules == nil {
			c.Rules = map[string]*string{}
		}
		c.Rules[s.Name] = rule
	case StepSetCollection:
		return setCollectionProp(c, s.Name, s.Value)
	default:
		return fmt.Errorf("unknown step")
	}
	return nil
}

func ruleValue(v any) (*string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return &val, nil
	}
	return nil, fmt.Errorf("rule must be a string or null, got %T", v)
}

func setCollectionProp(c *schema.Collection, prop string, v any) error {
	switch prop {
	case "name":
		s, ok := asString(v)
		if !ok || s == "" {
			return fmt.Errorf("collection name must be a non-empty string")
		}
		c.Name = s
	case "type":
		s, ok := asString(v)
		if !ok {
			return fmt.Errorf("collection type must be a string")
		}
		c.Type = schema.CollectionType(s)
	case "id":
		s, ok := asString(v)
		if !ok {
			return fmt.Errorf("collection id must be a string")
		}
		c.ID = s
	case "indexes":
		idx, err := stringList(v)
		if err != nil {
			return err
		}
		c.Indexes = idx
	default:
		return fmt.Errorf("unsupported collection property %q", prop)
	}
	return nil
}

// relationProps are the keys a relation field keeps on its Relation.
var relationProps = map[string]bool{
	diff.PropCollectionID:  true,
	"collection":           true,
	diff.PropCascadeDelete: true,
	diff.PropMinSelect:     true,
	diff.PropMaxSelect:     true,
}

func setFieldProp(f *schema.Field, path []string, v any) error {
	if len(path) == 0 {
		return fmt.Errorf("empty property path")
	}
	prop := path[len(path)-1]
	switch {
	case len(path) == 2 && path[0] == "options":
		if f.Type == schema.RelationField && relationProps[prop] {
			return setRelationProp(f, prop, v)
		}
		return setOption(f, prop, v)
	case len(path) == 2 && path[0] == "relation":
		return setRelationProp(f, prop, v)
	case len(path) != 1:
		return fmt.Errorf("unsupported property path %q", strings.Join(path, "."))
	}

	switch prop {
	case "id":
	case "name":
		s, ok := asString(v)
		if !ok || s == "" {
			return fmt.Errorf("field name must be a non-empty string")
		}
		f.Name = s
	case "type":
		s, ok := asString(v)
		if !ok {
			return fmt.Errorf("field type must be a string")
		}
		f.Type = schema.FieldType(s)
	case "required":
		b, ok := asBool(v)
		if !ok {
			return fmt.Errorf("required must be a boolean")
		}
		f.Required = b
	case "unique":
		b, ok := asBool(v)
		if !ok {
			return fmt.Errorf("unique must be a boolean")
		}
		f.Unique = b
	default:
		if f.Type == schema.RelationField && relationProps[prop] {
			return setRelationProp(f, prop, v)
		}
		return setOption(f, prop, v)
	}
	return nil
}

func setOption(f *schema.Field, key string, v any) error {
	if v == nil {
		delete(f.Options, key)
		return nil
	}
	if f.Options == nil {
		f.Options = map[string]any{}
	}
	f.Options[key] = v
	return nil
}

func setRelationProp(f *schema.Field, prop string, v any) error {
	if f.Relation == nil {
		f.Relation = &schema.Relation{}
	}
	switch prop {
	case diff.PropCollectionID, "collection":
		ref, ok := collectionRef(v)
		if !ok {
			return fmt.Errorf("relation target must be a collection reference, got %T", v)
		}
		f.Relation.Collection = ref
	case diff.PropCascadeDelete:
		b, ok := asBool(v)
		if !ok {
			return fmt.Errorf("cascadeDelete must be a boolean")
		}
		f.Relation.CascadeDelete = b
	case diff.PropMinSelect:
		n, ok := asInt(v)
		if !ok {
			return fmt.Errorf("minSelect must be an integer")
		}
		f.Relation.MinSelect = n
	case diff.PropMaxSelect:
		n, ok := asInt(v)
		if !ok {
			return fmt.Errorf("maxSelect must be an integer")
		}
		f.Relation.MaxSelect = n
	default:
		return fmt.Errorf("unsupported relation property %q", prop)
	}
	return nil
}

func stringList(v any) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return append([]string(nil), val...), nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected a list of strings, found %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a list of strings, got %T", v)
}

// fieldFromLiteral builds a field from an evaluated field literal. Options
// may be flat or nested under "options".
func fieldFromLiteral(v any) (schema.Field, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return schema.Field{}, fmt.Errorf("field definition must be an object, got %T", v)
	}

	var f schema.Field
	name, ok := asString(m["name"])
	if !ok || name == "" {
		return f, fmt.Errorf("field definition has no name")
	}
	f.Name = name
	typ, ok := asString(m["type"])
	if !ok || typ == "" {
		return f, fmt.Errorf("field %q has no type", name)
	}
	f.Type = schema.FieldType(typ)

	var errs []error
	set := func(path []string, val any) {
		if err := setFieldProp(&f, path, val); err != nil {
			errs = append(errs, err)
		}
	}

	for _, key := range sortedKeys(m) {
		val := m[key]
		switch key {
		case "name", "type", "id":
		case "options", "relation":
			nested, ok := val.(map[string]any)
			if !ok {
				if val != nil {
					errs = append(errs, fmt.Errorf("%s of field %q must be an object", key, name))
				}
				continue
			}
			for _, k := range sortedKeys(nested) {
				set([]string{key, k}, nested[k])
			}
		default:
			set([]string{key}, val)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return f, fmt.Errorf("field %q: %w", name, err)
	}
	return f, nil
}

// collectionFromLiteral builds a collection from an evaluated collection
// literal.
func collectionFromLiteral(v any) (schema.Collection, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return schema.Collection{}, fmt.Errorf("collection definition must be an object, got %T", v)
	}

	var c schema.Collection
	name, ok := asString(m["name"])
	if !ok || name == "" {
		return c, fmt.Errorf("collection definition has no name")
	}
	c.Name = name
	c.ID, _ = asString(m["id"])
	c.Type = schema.BaseCollection
	if typ, ok := asString(m["type"]); ok && typ != "" {
		c.Type = schema.CollectionType(typ)
	}

	if raw, ok := m["fields"]; ok && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			return c, fmt.Errorf("fields of %q must be a list", name)
		}
		for _, item := range list {
			f, err := fieldFromLiteral(item)
			if err != nil {
				return c, fmt.Errorf("collection %q: %w", name, err)
			}
			c.Fields = append(c.Fields, f)
		}
	}

	if raw, ok := m["indexes"]; ok {
		idx, err := stringList(raw)
		if err != nil {
			return c, fmt.Errorf("indexes of %q: %w", name, err)
		}
		c.Indexes = idx
	}

	for _, slot := range schema.RuleNames {
		raw, ok := m[slot]
		if !ok {
			continue
		}
		rule, err := ruleValue(raw)
		if err != nil {
			return c, fmt.Errorf("%s of %q: %w", slot, name, err)
		}
		if c.Rules == nil {
			c.Rules = map[string]*string{}
		}
		c.Rules[slot] = rule
	}
	return c, nil
}
