package generator

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ridoystarlord/pbmigrato/diff"
	"github.com/ridoystarlord/pbmigrato/format"
	"github.com/ridoystarlord/pbmigrato/registry"
	"github.com/ridoystarlord/pbmigrato/schema"
)

const header = `/// <reference path="../pb_data/types.d.ts" />` + "\n"

const indent = "  "

// maxSubjectNames caps how many collection names go into a file name.
const maxSubjectNames = 3

type Generator struct {
	dir   string
	force bool
	now   func() time.Time
}

type Option func(*Generator)

// WithForce writes a migration even when it duplicates the latest one.
func WithForce(force bool) Option {
	return func(g *Generator) {
		g.force = force
	}
}

// WithClock sets the timestamp source used for file names.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// New creates a generator writing into dir.
func New(dir string, opts ...Option) *Generator {
	g := &Generator{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate renders d and writes it as a new migration file. It returns the
// written paths; an empty result means there was nothing to write or the
// migration duplicates the latest one.
func (g *Generator) Generate(d *diff.Diff) ([]string, error) {
	if d.IsEmpty() {
		return nil, nil
	}
	if err := Validate(d); err != nil {
		return nil, err
	}

	body := Render(d)

	if err := os.MkdirAll(g.dir, 0755); err != nil {
		return nil, newWriteError("mkdir", g.dir, err)
	}

	if !g.force {
		dup, err := g.duplicatesLatest(body)
		if err != nil {
			return nil, err
		}
		if dup {
			return nil, nil
		}
	}

	op, subject := describe(d)
	ts := g.now()
	path := filepath.Join(g.dir, FileName(ts, op, subject))
	for exists(path) {
		ts = ts.Add(time.Second)
		path = filepath.Join(g.dir, FileName(ts, op, subject))
	}

	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		return nil, newWriteError("write", path, err)
	}
	return []string{path}, nil
}

func (g *Generator) duplicatesLatest(body string) (bool, error) {
	latest, err := LatestArtifact(g.dir)
	if err != nil {
		return false, err
	}
	if latest == "" {
		return false, nil
	}
	content, err := os.ReadFile(latest)
	if err != nil {
		return false, fmt.Errorf("reading latest migration: %w", err)
	}
	content = bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	return string(content) == body, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}

// Validate checks the invariants the renderer relies on.
func Validate(d *diff.Diff) error {
	for _, m := range d.CollectionsToModify {
		if tc := m.TypeChange; tc != nil {
			return &SynthesisError{
				Collection: m.Name,
				Message:    fmt.Sprintf("collection type cannot change from %v to %v; create a new collection instead", tc.Old, tc.New),
			}
		}
		for _, fm := range m.FieldsToModify {
			if _, ok := m.Previous.Field(fm.Name); !ok {
				return &SynthesisError{
					Collection: m.Name,
					Message:    fmt.Sprintf("modified field %q does not exist in the previous collection", fm.Name),
				}
			}
		}
	}
	for _, c := range d.CollectionsToCreate {
		if c.Name == "" {
			return &SynthesisError{Message: "collection to create has no name"}
		}
	}
	return nil
}

func describe(d *diff.Diff) (string, string) {
	op := OpUpdated
	switch {
	case len(d.CollectionsToModify) == 0 && len(d.CollectionsToDelete) == 0:
		op = OpCreated
	case len(d.CollectionsToModify) == 0 && len(d.CollectionsToCreate) == 0:
		op = OpDeleted
	}

	var names []string
	for _, c := range d.CollectionsToCreate {
		names = append(names, Sanitize(c.Name))
	}
	for _, m := range d.CollectionsToModify {
		names = append(names, Sanitize(m.Name))
	}
	for _, c := range d.CollectionsToDelete {
		names = append(names, Sanitize(c.Name))
	}

	if len(names) <= maxSubjectNames {
		return op, strings.Join(names, "_")
	}
	return op, fmt.Sprintf("%s_and_%d_more", strings.Join(names[:maxSubjectNames], "_"), len(names)-maxSubjectNames)
}

// Render turns d into the text of a migration file. The same diff always
// renders to the same bytes.
func Render(d *diff.Diff) string {
	r := &renderer{d: d}

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("migrate((app) => {\n")
	b.WriteString(r.forward())
	b.WriteString("}, (app) => {\n")
	b.WriteString(r.reverse())
	b.WriteString("});\n")
	return b.String()
}

type renderer struct {
	d *diff.Diff
}

// block collects the statements of one migration function.
type block struct {
	b    strings.Builder
	vars map[string]bool
}

func newBlock() *block {
	return &block{vars: map[string]bool{}}
}

func (blk *block) line(tmpl string, args ...any) {
	blk.b.WriteString(indent)
	fmt.Fprintf(&blk.b, tmpl, args...)
	blk.b.WriteByte('\n')
}

func (blk *block) blank() {
	if blk.b.Len() > 0 {
		blk.b.WriteByte('\n')
	}
}

// name returns a variable name unique within the block.
func (blk *block) name(prefix string, parts ...string) string {
	base := prefix
	for _, p := range parts {
		base += "_" + Sanitize(p)
	}
	name := base
	for i := 2; blk.vars[name]; i++ {
		name = fmt.Sprintf("%s_%d", base, i)
	}
	blk.vars[name] = true
	return name
}

func (r *renderer) forward() string {
	blk := newBlock()

	for _, c := range r.d.CollectionsToCreate {
		blk.blank()
		r.createCollection(blk, c)
	}
	for _, m := range r.d.CollectionsToModify {
		blk.blank()
		r.applyModification(blk, m)
	}
	for _, c := range r.d.CollectionsToDelete {
		blk.blank()
		r.deleteCollection(blk, c.Name)
	}
	return blk.b.String()
}

func (r *renderer) reverse() string {
	blk := newBlock()

	for i := len(r.d.CollectionsToDelete) - 1; i >= 0; i-- {
		blk.blank()
		r.createCollection(blk, r.d.CollectionsToDelete[i])
	}
	for i := len(r.d.CollectionsToModify) - 1; i >= 0; i-- {
		blk.blank()
		r.revertModification(blk, r.d.CollectionsToModify[i])
	}
	for i := len(r.d.CollectionsToCreate) - 1; i >= 0; i-- {
		blk.blank()
		r.deleteCollection(blk, r.d.CollectionsToCreate[i].Name)
	}
	return blk.b.String()
}

func (r *renderer) createCollection(blk *block, c schema.Collection) {
	v := blk.name("collection", c.Name)
	blk.line("const %s = new Collection(%s);", v, format.Indented(r.collectionLiteral(c), indent))
	blk.line("app.save(%s);", v)
}

func (r *renderer) deleteCollection(blk *block, name string) {
	v := blk.name("collection", name)
	blk.line("const %s = app.findCollectionByNameOrId(%s);", v, format.String(name))
	blk.line("app.delete(%s);", v)
}

func (r *renderer) applyModification(blk *block, m diff.CollectionModification) {
	v := blk.name("collection", m.Name)
	blk.line("const %s = app.findCollectionByNameOrId(%s);", v, format.String(m.Name))

	for _, f := range m.FieldsToAdd {
		r.addField(blk, v, f)
	}
	for _, fm := range m.FieldsToModify {
		if fm.TypeChanged() {
			r.removeField(blk, v, fm.Name)
			r.addField(blk, v, fm.Current)
			continue
		}
		r.assignField(blk, v, m.Name, fm.Name, fm.Changes, false)
	}
	for _, f := range m.FieldsToRemove {
		r.removeField(blk, v, f.Name)
	}
	for _, idx := range m.IndexesToAdd {
		r.pushIndex(blk, v, idx)
	}
	for _, idx := range m.IndexesToRemove {
		r.spliceIndex(blk, v, idx)
	}
	for _, rc := range m.RuleChanges {
		blk.line("%s.%s = %s;", v, rc.Rule, format.Literal(rc.New))
	}

	blk.line("app.save(%s);", v)
}

func (r *renderer) revertModification(blk *block, m diff.CollectionModification) {
	v := blk.name("collection", m.Name)
	blk.line("const %s = app.findCollectionByNameOrId(%s);", v, format.String(m.Name))

	for _, rc := range m.RuleChanges {
		blk.line("%s.%s = %s;", v, rc.Rule, format.Literal(rc.Old))
	}
	for _, idx := range m.IndexesToRemove {
		r.pushIndex(blk, v, idx)
	}
	for _, idx := range m.IndexesToAdd {
		r.spliceIndex(blk, v, idx)
	}
	for _, f := range m.FieldsToRemove {
		r.addField(blk, v, f)
	}
	for i := len(m.FieldsToModify) - 1; i >= 0; i-- {
		fm := m.FieldsToModify[i]
		if fm.TypeChanged() {
			r.removeField(blk, v, fm.Current.Name)
			r.addField(blk, v, fm.Previous)
			continue
		}
		r.assignField(blk, v, m.Name, fm.Current.Name, fm.Changes, true)
	}
	for _, f := range m.FieldsToAdd {
		r.removeField(blk, v, f.Name)
	}

	blk.line("app.save(%s);", v)
}

func (r *renderer) addField(blk *block, v string, f schema.Field) {
	blk.line("%s.fields.add(new Field(%s));", v, format.Indented(r.fieldLiteral(f), indent))
}

func (r *renderer) removeField(blk *block, v, name string) {
	blk.line("%s.fields.removeByName(%s);", v, format.String(name))
}

func (r *renderer) assignField(blk *block, v, collection, field string, changes []diff.PropertyChange, revert bool) {
	fv := blk.name("field", collection, field)
	blk.line("const %s = %s.fields.getByName(%s);", fv, v, format.String(field))
	for _, ch := range changes {
		val := ch.New
		if revert {
			val = ch.Old
		}
		blk.line("%s%s = %s;", fv, propertyAccess(ch.Property), format.Literal(r.propertyValue(ch.Property, val)))
	}
}

func (r *renderer) pushIndex(blk *block, v, idx string) {
	blk.line("%s.indexes.push(%s);", v, format.String(idx))
}

func (r *renderer) spliceIndex(blk *block, v, idx string) {
	blk.line("%s.indexes.splice(%s.indexes.indexOf(%s), 1);", v, v, format.String(idx))
}

func propertyAccess(prop string) string {
	for i, c := range prop {
		ok := c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (i > 0 && c >= '0' && c <= '9')
		if !ok {
			return "[" + format.String(prop) + "]"
		}
	}
	if prop == "" {
		return `[""]`
	}
	return "." + prop
}

func (r *renderer) propertyValue(prop string, v any) any {
	if prop == diff.PropCollectionID {
		if s, ok := v.(string); ok && s != "" {
			return r.collectionRef(s)
		}
	}
	return v
}

func (r *renderer) collectionLiteral(c schema.Collection) format.Object {
	var obj format.Object
	obj.Set("id", c.ID)
	obj.Set("name", c.Name)
	typ := c.Type
	if typ == "" {
		typ = schema.BaseCollection
	}
	obj.Set("type", string(typ))
	for _, slot := range c.RuleSlots() {
		obj.Set(slot, c.EffectiveRule(slot))
	}

	fields := make([]any, len(c.Fields))
	for i, f := range c.Fields {
		fields[i] = r.fieldLiteral(f)
	}
	obj.Set("fields", fields)

	indexes := make([]any, len(c.Indexes))
	for i, idx := range c.Indexes {
		indexes[i] = idx
	}
	obj.Set("indexes", indexes)
	return obj
}

func (r *renderer) fieldLiteral(f schema.Field) format.Object {
	var obj format.Object
	obj.Set("name", f.Name)
	obj.Set("type", string(f.Type))
	obj.Set("required", f.Required)
	if f.Unique {
		obj.Set("unique", true)
	}

	f = diff.FoldRelationOptions(f)
	for _, p := range sortedOptions(f.Options) {
		if !obj.Has(p.Key) {
			obj = append(obj, p)
		}
	}

	if f.Type == schema.RelationField && f.Relation != nil {
		obj.Set(diff.PropCollectionID, r.collectionRef(f.Relation.Collection))
		obj.Set(diff.PropCascadeDelete, f.Relation.CascadeDelete)
		if f.Relation.MinSelect > 0 {
			obj.Set(diff.PropMinSelect, f.Relation.MinSelect)
		}
		if f.Relation.MaxSelect > 0 {
			obj.Set(diff.PropMaxSelect, f.Relation.MaxSelect)
		}
	}
	return obj
}

func sortedOptions(opts map[string]any) format.Object {
	keys := make([]string, 0, len(opts))
	for k, v := range opts {
		if v == nil {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(format.Object, 0, len(keys))
	for _, k := range keys {
		out = append(out, format.Pair{Key: k, Value: opts[k]})
	}
	return out
}

// collectionRef renders a reference to the target collection of a relation.
func (r *renderer) collectionRef(target string) any {
	name := r.d.ResolveTarget(target)
	if registry.IsUsers(name) {
		return registry.UsersCollectionID
	}
	if id, ok := r.d.KnownID(name); ok {
		return id
	}
	return format.Raw("app.findCollectionByNameOrId(" + format.String(name) + ").id")
}
