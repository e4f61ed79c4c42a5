package schema

import (
	"sort"
	"strings"
	"time"
)

type FieldType string

const (
	TextField     FieldType = "text"
	NumberField   FieldType = "number"
	BoolField     FieldType = "bool"
	EmailField    FieldType = "email"
	URLField      FieldType = "url"
	DateField     FieldType = "date"
	SelectField   FieldType = "select"
	FileField     FieldType = "file"
	RelationField FieldType = "relation"
	JSONField     FieldType = "json"
	EditorField   FieldType = "editor"
	AutodateField FieldType = "autodate"
	GeoPointField FieldType = "geoPoint"
)

// FieldTypes lists every supported field type.
var FieldTypes = []FieldType{
	TextField, NumberField, BoolField, EmailField, URLField, DateField,
	SelectField, FileField, RelationField, JSONField, EditorField,
	AutodateField, GeoPointField,
}

// Valid reports whether t is one of FieldTypes.
func (t FieldType) Valid() bool {
	for _, ft := range FieldTypes {
		if ft == t {
			return true
		}
	}
	return false
}

type CollectionType string

const (
	BaseCollection CollectionType = "base"
	AuthCollection CollectionType = "auth"
)

// Rule slot names as they appear on a collection.
const (
	ListRule   = "listRule"
	ViewRule   = "viewRule"
	CreateRule = "createRule"
	UpdateRule = "updateRule"
	DeleteRule = "deleteRule"
	ManageRule = "manageRule"
)

// RuleNames is the order in which rules are compared and rendered.
var RuleNames = []string{ListRule, ViewRule, CreateRule, UpdateRule, DeleteRule, ManageRule}

// IsRuleName reports whether name is one of RuleNames.
func IsRuleName(name string) bool {
	for _, r := range RuleNames {
		if r == name {
			return true
		}
	}
	return false
}

type Relation struct {
	// Collection is the target collection name or identifier.
	Collection    string `json:"collection" yaml:"collection"`
	CascadeDelete bool   `json:"cascadeDelete,omitempty" yaml:"cascadeDelete"`
	MinSelect     int    `json:"minSelect,omitempty" yaml:"minSelect"`
	MaxSelect     int    `json:"maxSelect,omitempty" yaml:"maxSelect"`
}

type Field struct {
	Name     string         `json:"name"`
	Type     FieldType      `json:"type"`
	Required bool           `json:"required,omitempty"`
	Unique   bool           `json:"unique,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
	Relation *Relation      `json:"relation,omitempty"`
}

// Clone returns a deep copy of f. Option values are copied one level deep,
// which covers the scalar and list values options hold.
func (f Field) Clone() Field {
	out := f
	if f.Options != nil {
		out.Options = make(map[string]any, len(f.Options))
		for k, v := range f.Options {
			out.Options[k] = cloneValue(v)
		}
	}
	if f.Relation != nil {
		rel := *f.Relation
		out.Relation = &rel
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case []any:
		return append([]any(nil), val...)
	case []string:
		return append([]string(nil), val...)
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, x := range val {
			m[k] = cloneValue(x)
		}
		return m
	}
	return v
}

type Collection struct {
	ID      string         `json:"id,omitempty"`
	Name    string         `json:"name"`
	Type    CollectionType `json:"type"`
	Fields  []Field        `json:"fields"`
	Indexes []string       `json:"indexes,omitempty"`
	// Rules maps a rule slot to its expression. A present key with a nil
	// value is an explicit null rule; a missing key is unset.
	Rules map[string]*string `json:"rules,omitempty"`
	// Permissions holds permission templates used for unset rule slots.
	Permissions map[string]string `json:"permissions,omitempty"`
}

// IsAuth reports whether c is an auth collection.
func (c Collection) IsAuth() bool {
	return c.Type == AuthCollection
}

// RuleSlots returns the rule slots that apply to c.
func (c Collection) RuleSlots() []string {
	if c.IsAuth() {
		return RuleNames
	}
	return RuleNames[:5]
}

// EffectiveRule returns the rule for slot, falling back to the permission
// template when the rule itself is unset.
func (c Collection) EffectiveRule(slot string) *string {
	if v, ok := c.Rules[slot]; ok {
		return v
	}
	if p, ok := c.Permissions[slot]; ok {
		return ResolvePermission(p)
	}
	if p, ok := c.Permissions[strings.TrimSuffix(slot, "Rule")]; ok {
		return ResolvePermission(p)
	}
	return nil
}

// Field returns the field called name. Field names are case-sensitive.
func (c Collection) Field(name string) (Field, bool) {
	i := c.FieldIndex(name)
	if i < 0 {
		return Field{}, false
	}
	return c.Fields[i], true
}

// FieldIndex returns the position of the field called name, or -1.
func (c Collection) FieldIndex(name string) int {
	for i, f := range c.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of c.
func (c Collection) Clone() Collection {
	out := c
	out.Fields = make([]Field, len(c.Fields))
	for i, f := range c.Fields {
		out.Fields[i] = f.Clone()
	}
	out.Indexes = append([]string(nil), c.Indexes...)
	if c.Rules != nil {
		out.Rules = make(map[string]*string, len(c.Rules))
		for k, v := range c.Rules {
			if v != nil {
				s := *v
				v = &s
			}
			out.Rules[k] = v
		}
	}
	if c.Permissions != nil {
		out.Permissions = make(map[string]string, len(c.Permissions))
		for k, v := range c.Permissions {
			out.Permissions[k] = v
		}
	}
	return out
}

// Schema is the desired state, keyed by collection name.
type Schema struct {
	Collections map[string]Collection `json:"collections"`
}

// NewSchema builds a Schema from a list of collections.
func NewSchema(collections ...Collection) Schema {
	s := Schema{Collections: make(map[string]Collection, len(collections))}
	for _, c := range collections {
		s.Collections[c.Name] = c
	}
	return s
}

// Snapshot is the last known applied state.
type Snapshot struct {
	Version     string                `json:"version"`
	Timestamp   time.Time             `json:"timestamp"`
	Collections map[string]Collection `json:"collections"`
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Version:     SnapshotVersion,
		Collections: map[string]Collection{},
	}
}

// Lookup finds a collection by case-insensitive name.
func (s *Snapshot) Lookup(name string) (Collection, string, bool) {
	return lookup(s.Collections, name)
}

// Lookup finds a collection by case-insensitive name.
func (s Schema) Lookup(name string) (Collection, string, bool) {
	return lookup(s.Collections, name)
}

func lookup(collections map[string]Collection, name string) (Collection, string, bool) {
	if c, ok := collections[name]; ok {
		return c, name, true
	}
	for key, c := range collections {
		if strings.EqualFold(key, name) {
			return c, key, true
		}
	}
	return Collection{}, "", false
}

// Names returns the collection keys of m in sorted order.
func Names(m map[string]Collection) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
