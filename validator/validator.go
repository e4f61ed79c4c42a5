package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ridoystarlord/pbmigrato/diff"
	"github.com/ridoystarlord/pbmigrato/registry"
	"github.com/ridoystarlord/pbmigrato/schema"
)

// Severity levels of a ValidationError.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// ValidationError represents a validation finding with details
type ValidationError struct {
	Type       string `json:"type"`
	Collection string `json:"collection,omitempty"`
	Field      string `json:"field,omitempty"`
	Index      string `json:"index,omitempty"`
	Message    string `json:"message"`
	Severity   string `json:"severity"`
}

// ValidationResult contains all validation results
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []ValidationError `json:"warnings"`
	Info     []ValidationError `json:"info"`
}

func (r *ValidationResult) add(e ValidationError) {
	switch e.Severity {
	case SeverityError:
		r.Errors = append(r.Errors, e)
	case SeverityWarning:
		r.Warnings = append(r.Warnings, e)
	default:
		r.Info = append(r.Info, e)
	}
}

// maxNameLength bounds collection and field names.
const maxNameLength = 100

// systemFields are present on every collection.
var systemFields = []string{"id", "created", "updated"}

// authFields are added by the platform to auth collections.
var authFields = []string{"email", "emailVisibility", "verified", "password", "tokenKey"}

var indexPattern = regexp.MustCompile(`(?is)^\s*create\s+(unique\s+)?index\s+(if\s+not\s+exists\s+)?` +
	"[`\"']?([A-Za-z0-9_]+)[`\"']?" + `\s+on\s+[` + "`\"'" + `]?([A-Za-z0-9_]+)[` + "`\"'" + `]?\s*\(([^)]*)\)`)

// SchemaValidator checks a schema for problems the platform would reject
// when the migration is applied. previous may be nil.
type SchemaValidator struct {
	previous *schema.Snapshot
}

// NewSchemaValidator creates a validator that also knows the collections
// already applied in previous.
func NewSchemaValidator(previous *schema.Snapshot) *SchemaValidator {
	return &SchemaValidator{previous: previous}
}

// ValidateSchema validates every collection and the references between them.
func (v *SchemaValidator) ValidateSchema(s schema.Schema) *ValidationResult {
	result := &ValidationResult{
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
		Info:     []ValidationError{},
	}

	indexOwners := map[string]string{}
	for _, key := range schema.Names(s.Collections) {
		c := s.Collections[key]
		v.validateCollection(c, result)
		v.validateFields(c, result)
		v.validateIndexes(c, indexOwners, result)
	}
	v.validateRelations(s, result)

	result.Valid = len(result.Errors) == 0
	return result
}

func (v *SchemaValidator) validateCollection(c schema.Collection, result *ValidationResult) {
	if err := validateName("collection", c.Name); err != nil {
		result.add(ValidationError{Type: "collection_name", Collection: c.Name, Message: err.Error(), Severity: SeverityError})
	}
	if strings.HasPrefix(c.Name, "_") {
		result.add(ValidationError{
			Type:       "collection_name",
			Collection: c.Name,
			Message:    fmt.Sprintf("collection name '%s' uses the '_' prefix reserved for system collections", c.Name),
			Severity:   SeverityError,
		})
	}

	if v.previous != nil {
		if prev, _, ok := v.previous.Lookup(c.Name); ok {
			result.add(ValidationError{
				Type:       "collection_exists",
				Collection: c.Name,
				Message:    fmt.Sprintf("collection '%s' is already applied", c.Name),
				Severity:   SeverityInfo,
			})
			if c.ID != "" && prev.ID != "" && c.ID != prev.ID {
				result.add(ValidationError{
					Type:       "collection_id",
					Collection: c.Name,
					Message:    fmt.Sprintf("declared id '%s' differs from applied id '%s'", c.ID, prev.ID),
					Severity:   SeverityWarning,
				})
			}
		}
	}

	if len(c.Fields) == 0 {
		result.add(ValidationError{
			Type:       "no_fields",
			Collection: c.Name,
			Message:    fmt.Sprintf("collection '%s' declares no fields", c.Name),
			Severity:   SeverityWarning,
		})
	}
}

func (v *SchemaValidator) validateFields(c schema.Collection, result *ValidationResult) {
	seen := map[string]bool{}
	for _, f := range c.Fields {
		lower := strings.ToLower(f.Name)
		if seen[lower] {
			result.add(ValidationError{
				Type:       "duplicate_field",
				Collection: c.Name,
				Field:      f.Name,
				Message:    fmt.Sprintf("duplicate field name '%s' in collection '%s'", f.Name, c.Name),
				Severity:   SeverityError,
			})
			continue
		}
		seen[lower] = true

		if err := validateName("field", f.Name); err != nil {
			result.add(ValidationError{Type: "field_name", Collection: c.Name, Field: f.Name, Message: err.Error(), Severity: SeverityError})
		}
		if containsFold(systemFields, f.Name) {
			result.add(ValidationError{
				Type:       "reserved_field",
				Collection: c.Name,
				Field:      f.Name,
				Message:    fmt.Sprintf("field '%s' is a system field", f.Name),
				Severity:   SeverityError,
			})
		}
		if c.IsAuth() && containsFold(authFields, f.Name) {
			result.add(ValidationError{
				Type:       "reserved_field",
				Collection: c.Name,
				Field:      f.Name,
				Message:    fmt.Sprintf("field '%s' overrides a built-in auth field", f.Name),
				Severity:   SeverityWarning,
			})
		}

		switch f.Type {
		case schema.SelectField:
			if values, _ := f.Options["values"].([]any); len(values) == 0 {
				result.add(ValidationError{
					Type:       "select_values",
					Collection: c.Name,
					Field:      f.Name,
					Message:    fmt.Sprintf("select field '%s' has no values", f.Name),
					Severity:   SeverityWarning,
				})
			}
		case schema.RelationField:
			if f.Relation != nil && f.Relation.MaxSelect > 0 && f.Relation.MinSelect > f.Relation.MaxSelect {
				result.add(ValidationError{
					Type:       "relation_bounds",
					Collection: c.Name,
					Field:      f.Name,
					Message:    fmt.Sprintf("minSelect %d is greater than maxSelect %d", f.Relation.MinSelect, f.Relation.MaxSelect),
					Severity:   SeverityError,
				})
			}
		}
	}
}

// validateIndexes checks index syntax and that index names are unique
// across collections, as they share one namespace in the database.
func (v *SchemaValidator) validateIndexes(c schema.Collection, owners map[string]string, result *ValidationResult) {
	columns := map[string]bool{}
	for _, name := range systemFields {
		columns[name] = true
	}
	if c.IsAuth() {
		for _, name := range authFields {
			columns[strings.ToLower(name)] = true
		}
	}
	for _, f := range c.Fields {
		columns[strings.ToLower(f.Name)] = true
	}

	seen := map[string]bool{}
	for _, idx := range c.Indexes {
		norm := diff.NormalizeIndex(idx)
		if seen[norm] {
			result.add(ValidationError{
				Type:       "duplicate_index",
				Collection: c.Name,
				Index:      idx,
				Message:    fmt.Sprintf("index declared twice in collection '%s'", c.Name),
				Severity:   SeverityError,
			})
			continue
		}
		seen[norm] = true

		m := indexPattern.FindStringSubmatch(idx)
		if m == nil {
			result.add(ValidationError{
				Type:       "index_syntax",
				Collection: c.Name,
				Index:      idx,
				Message:    "index must be a CREATE [UNIQUE] INDEX name ON table (columns) statement",
				Severity:   SeverityError,
			})
			continue
		}
		name, table, cols := m[3], m[4], m[5]

		if owner, ok := owners[strings.ToLower(name)]; ok {
			result.add(ValidationError{
				Type:       "duplicate_index",
				Collection: c.Name,
				Index:      name,
				Message:    fmt.Sprintf("index name '%s' is already used by collection '%s'", name, owner),
				Severity:   SeverityError,
			})
		} else {
			owners[strings.ToLower(name)] = c.Name
		}

		if !strings.EqualFold(table, c.Name) {
			result.add(ValidationError{
				Type:       "index_table",
				Collection: c.Name,
				Index:      name,
				Message:    fmt.Sprintf("index '%s' is declared on '%s', not '%s'", name, table, c.Name),
				Severity:   SeverityWarning,
			})
		}
		for _, col := range indexColumns(cols) {
			if !columns[strings.ToLower(col)] {
				result.add(ValidationError{
					Type:       "index_field_not_found",
					Collection: c.Name,
					Index:      name,
					Field:      col,
					Message:    fmt.Sprintf("index '%s' references non-existent field '%s'", name, col),
					Severity:   SeverityError,
				})
			}
		}
	}
}

// validateRelations checks that relation targets exist either in the schema
// or among the collections already applied.
func (v *SchemaValidator) validateRelations(s schema.Schema, result *ValidationResult) {
	for _, key := range schema.Names(s.Collections) {
		c := s.Collections[key]
		for _, f := range c.Fields {
			if f.Type != schema.RelationField || f.Relation == nil {
				continue
			}
			target := f.Relation.Collection
			if v.targetExists(s, target) {
				continue
			}
			result.add(ValidationError{
				Type:       "relation_target_not_found",
				Collection: c.Name,
				Field:      f.Name,
				Message:    fmt.Sprintf("relation references non-existent collection '%s'", target),
				Severity:   SeverityError,
			})
		}
	}
}

func (v *SchemaValidator) targetExists(s schema.Schema, target string) bool {
	if strings.EqualFold(target, "users") || target == registry.UsersCollectionID {
		return true
	}
	if _, _, ok := s.Lookup(target); ok {
		return true
	}
	for _, c := range s.Collections {
		if c.ID != "" && c.ID == target {
			return true
		}
	}
	if v.previous == nil {
		return false
	}
	if _, _, ok := v.previous.Lookup(target); ok {
		return true
	}
	for _, c := range v.previous.Collections {
		if c.ID == target {
			return true
		}
	}
	return false
}

// validateName applies the identifier rules shared by collections and fields.
func validateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s name cannot be empty", kind)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%s name '%s' is too long (max %d characters)", kind, name, maxNameLength)
	}
	for i, char := range name {
		if !((char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '_') {
			return fmt.Errorf("%s name '%s' contains invalid character '%c'", kind, name, char)
		}
		if i == 0 && char >= '0' && char <= '9' {
			return fmt.Errorf("%s name '%s' cannot start with a digit", kind, name)
		}
	}
	return nil
}

// indexColumns extracts the column names of an index column list, dropping
// sort order and collation suffixes and expressions.
func indexColumns(list string) []string {
	var cols []string
	for _, part := range strings.Split(list, ",") {
		words := strings.Fields(part)
		if len(words) == 0 {
			continue
		}
		col := strings.Trim(words[0], "`\"'[]")
		if col == "" || strings.ContainsAny(col, "()") {
			continue
		}
		cols = append(cols, col)
	}
	return cols
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
