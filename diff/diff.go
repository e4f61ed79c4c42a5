package diff

import (
	"sort"
	"strings"

	"github.com/ridoystarlord/pbmigrato/format"
	"github.com/ridoystarlord/pbmigrato/registry"
	"github.com/ridoystarlord/pbmigrato/schema"
)

// Properties reported in PropertyChange that are not option keys.
const (
	PropName          = "name"
	PropType          = "type"
	PropRequired      = "required"
	PropUnique        = "unique"
	PropCollectionID  = "collectionId"
	PropCascadeDelete = "cascadeDelete"
	PropMinSelect     = "minSelect"
	PropMaxSelect     = "maxSelect"
)

// DefaultSystemCollections are platform-internal collections that never show
// up as user-facing changes.
var DefaultSystemCollections = []string{"_superusers", "_externalAuths", "_mfas", "_otps", "_authOrigins"}

type PropertyChange struct {
	Property string
	Old      any
	New      any
}

// FieldModification describes a field present on both sides. Name is the
// field's previous name, which is how the platform addresses it.
type FieldModification struct {
	Name     string
	Previous schema.Field
	Current  schema.Field
	Changes  []PropertyChange
}

// Change returns the change for property, if any.
func (m FieldModification) Change(property string) (PropertyChange, bool) {
	for _, c := range m.Changes {
		if c.Property == property {
			return c, true
		}
	}
	return PropertyChange{}, false
}

// TypeChanged reports whether the field changes type.
func (m FieldModification) TypeChanged() bool {
	_, ok := m.Change(PropType)
	return ok
}

type RuleChange struct {
	Rule string
	Old  *string
	New  *string
}

type CollectionModification struct {
	// Name is the stored name of the collection.
	Name     string
	Previous schema.Collection
	Current  schema.Collection

	FieldsToAdd     []schema.Field
	FieldsToRemove  []schema.Field
	FieldsToModify  []FieldModification
	IndexesToAdd    []string
	IndexesToRemove []string
	RuleChanges     []RuleChange

	// TypeChange is set when the collection switches between base and auth.
	TypeChange *PropertyChange
}

// IsEmpty reports whether m carries no change at all.
func (m CollectionModification) IsEmpty() bool {
	return m.TypeChange == nil &&
		len(m.FieldsToAdd) == 0 &&
		len(m.FieldsToRemove) == 0 &&
		len(m.FieldsToModify) == 0 &&
		len(m.IndexesToAdd) == 0 &&
		len(m.IndexesToRemove) == 0 &&
		len(m.RuleChanges) == 0
}

type Diff struct {
	CollectionsToCreate []schema.Collection
	// CollectionsToDelete holds the previous definitions so the reverse
	// migration can recreate them.
	CollectionsToDelete []schema.Collection
	CollectionsToModify []CollectionModification

	// KnownIDs maps the lower-cased name of every previously applied
	// collection to its stored identifier.
	KnownIDs map[string]string

	names map[string]string
}

// IsEmpty reports whether the diff has nothing to migrate.
func (d *Diff) IsEmpty() bool {
	return d == nil ||
		len(d.CollectionsToCreate) == 0 &&
			len(d.CollectionsToDelete) == 0 &&
			len(d.CollectionsToModify) == 0
}

// ResolveTarget turns a relation target, which may be a collection
// identifier, into a collection name.
func (d *Diff) ResolveTarget(ref string) string {
	if d != nil {
		if name, ok := d.names[ref]; ok {
			return name
		}
	}
	if ref == registry.UsersCollectionID {
		return "users"
	}
	return ref
}

// KnownID returns the stored identifier of a previously applied collection.
func (d *Diff) KnownID(name string) (string, bool) {
	if d == nil {
		return "", false
	}
	id, ok := d.KnownIDs[strings.ToLower(name)]
	return id, ok
}

func (d *Diff) targetKey(f schema.Field) string {
	if f.Relation == nil {
		return ""
	}
	return strings.ToLower(d.ResolveTarget(f.Relation.Collection))
}

type Engine struct {
	reg    *registry.Registry
	system map[string]bool
}

type Option func(*Engine)

// WithSystemCollections replaces the set of filtered system collections.
func WithSystemCollections(names ...string) Option {
	return func(e *Engine) {
		e.system = map[string]bool{}
		for _, n := range names {
			e.system[strings.ToLower(n)] = true
		}
	}
}

// NewEngine creates a diff engine that allocates identifiers from reg. A nil
// registry gets a fresh one.
func NewEngine(reg *registry.Registry, opts ...Option) *Engine {
	if reg == nil {
		reg = registry.New()
	}
	e := &Engine{reg: reg}
	WithSystemCollections(DefaultSystemCollections...)(e)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compare diffs current against previous with a fresh registry.
func Compare(current schema.Schema, previous *schema.Snapshot) *Diff {
	return NewEngine(nil).Compare(current, previous)
}

func (e *Engine) isSystem(name string) bool {
	return e.system[strings.ToLower(name)]
}

// Compare computes the changes needed to turn previous into current. A nil
// previous snapshot makes every collection new.
func (e *Engine) Compare(current schema.Schema, previous *schema.Snapshot) *Diff {
	prev := map[string]schema.Collection{}
	if previous != nil && previous.Collections != nil {
		prev = previous.Collections
	}

	d := &Diff{
		KnownIDs: map[string]string{},
		names:    map[string]string{},
	}

	for _, key := range schema.Names(prev) {
		c := prev[key]
		if c.ID == "" {
			continue
		}
		e.reg.Register(c.ID)
		d.KnownIDs[strings.ToLower(collectionName(key, c))] = c.ID
		d.names[c.ID] = collectionName(key, c)
	}
	for _, key := range schema.Names(current.Collections) {
		c := current.Collections[key]
		if c.ID == "" {
			continue
		}
		e.reg.Register(c.ID)
		if _, ok := d.names[c.ID]; !ok {
			d.names[c.ID] = collectionName(key, c)
		}
	}

	matched := map[string]bool{}
	var creates []schema.Collection

	for _, key := range schema.Names(current.Collections) {
		cur := current.Collections[key].Clone()
		cur.Name = collectionName(key, cur)
		if cur.Type == "" {
			cur.Type = schema.BaseCollection
		}
		foldCollection(&cur)
		if e.isSystem(cur.Name) {
			continue
		}

		old, oldKey, ok := schema.Schema{Collections: prev}.Lookup(cur.Name)
		if !ok {
			if cur.ID == "" {
				cur.ID = e.reg.Generate(cur.Name)
			}
			d.names[cur.ID] = cur.Name
			creates = append(creates, cur)
			continue
		}
		matched[oldKey] = true

		old = old.Clone()
		old.Name = collectionName(oldKey, old)
		if old.Type == "" {
			old.Type = schema.BaseCollection
		}
		foldCollection(&old)
		if mod := d.compareCollection(old, cur); !mod.IsEmpty() {
			d.CollectionsToModify = append(d.CollectionsToModify, mod)
		}
	}

	var deletes []schema.Collection
	for _, key := range schema.Names(prev) {
		if matched[key] || e.isSystem(collectionName(key, prev[key])) {
			continue
		}
		c := prev[key].Clone()
		c.Name = collectionName(key, c)
		foldCollection(&c)
		deletes = append(deletes, c)
	}

	d.CollectionsToCreate = d.orderByDependencies(creates)
	deletes = d.orderByDependencies(deletes)
	for i, j := 0, len(deletes)-1; i < j; i, j = i+1, j-1 {
		deletes[i], deletes[j] = deletes[j], deletes[i]
	}
	d.CollectionsToDelete = deletes

	return d
}

func collectionName(key string, c schema.Collection) string {
	if c.Name != "" {
		return c.Name
	}
	return key
}

func (d *Diff) compareCollection(old, cur schema.Collection) CollectionModification {
	mod := CollectionModification{
		Name:     old.Name,
		Previous: old,
		Current:  cur,
	}
	if old.Type != cur.Type {
		mod.TypeChange = &PropertyChange{Property: PropType, Old: string(old.Type), New: string(cur.Type)}
	}

	var added, removed []schema.Field
	for _, f := range cur.Fields {
		p, ok := old.Field(f.Name)
		if !ok {
			added = append(added, f)
			continue
		}
		if changes := d.fieldChanges(p, f); len(changes) > 0 {
			mod.FieldsToModify = append(mod.FieldsToModify, FieldModification{
				Name:     p.Name,
				Previous: p,
				Current:  f,
				Changes:  changes,
			})
		}
	}
	for _, p := range old.Fields {
		if _, ok := cur.Field(p.Name); !ok {
			removed = append(removed, p)
		}
	}

	added, removed, renamed := d.collapseRenames(added, removed)
	mod.FieldsToAdd = added
	mod.FieldsToRemove = removed
	mod.FieldsToModify = append(mod.FieldsToModify, renamed...)

	mod.IndexesToAdd, mod.IndexesToRemove = compareIndexes(old.Indexes, cur.Indexes)
	mod.RuleChanges = compareRules(old, cur)

	return mod
}

// collapseRenames turns a removed and an added field into one rename when
// each is the other's only compatible candidate. Anything ambiguous stays an
// add plus a remove.
func (d *Diff) collapseRenames(added, removed []schema.Field) ([]schema.Field, []schema.Field, []FieldModification) {
	compatible := func(r, a schema.Field) bool {
		if r.Type != a.Type {
			return false
		}
		return r.Type != schema.RelationField || d.targetKey(r) == d.targetKey(a)
	}

	pairedAdded := map[int]bool{}
	pairedRemoved := map[int]bool{}
	var renamed []FieldModification

	for ri, r := range removed {
		candidate := -1
		count := 0
		for ai, a := range added {
			if compatible(r, a) {
				candidate = ai
				count++
			}
		}
		if count != 1 {
			continue
		}

		reverse := 0
		for _, other := range removed {
			if compatible(other, added[candidate]) {
				reverse++
			}
		}
		if reverse != 1 {
			continue
		}

		a := added[candidate]
		pairedAdded[candidate] = true
		pairedRemoved[ri] = true
		renamed = append(renamed, FieldModification{
			Name:     r.Name,
			Previous: r,
			Current:  a,
			Changes:  d.fieldChanges(r, a),
		})
	}

	var keptAdded, keptRemoved []schema.Field
	for i, a := range added {
		if !pairedAdded[i] {
			keptAdded = append(keptAdded, a)
		}
	}
	for i, r := range removed {
		if !pairedRemoved[i] {
			keptRemoved = append(keptRemoved, r)
		}
	}
	return keptAdded, keptRemoved, renamed
}

func (d *Diff) fieldChanges(p, f schema.Field) []PropertyChange {
	var changes []PropertyChange
	add := func(prop string, old, cur any) {
		changes = append(changes, PropertyChange{Property: prop, Old: old, New: cur})
	}

	if p.Name != f.Name {
		add(PropName, p.Name, f.Name)
	}
	if p.Type != f.Type {
		add(PropType, string(p.Type), string(f.Type))
	}
	if p.Required != f.Required {
		add(PropRequired, p.Required, f.Required)
	}
	if p.Unique != f.Unique {
		add(PropUnique, p.Unique, f.Unique)
	}

	po := NormalizeOptions(p.Type, p.Options)
	fo := NormalizeOptions(f.Type, f.Options)
	for _, key := range unionKeys(po, fo) {
		if !format.Equal(po[key], fo[key]) {
			add(key, po[key], fo[key])
		}
	}

	if p.Type == schema.RelationField && f.Type == schema.RelationField {
		pr, fr := relationOf(p), relationOf(f)
		if d.targetKey(p) != d.targetKey(f) {
			add(PropCollectionID, d.ResolveTarget(pr.Collection), d.ResolveTarget(fr.Collection))
		}
		if pr.CascadeDelete != fr.CascadeDelete {
			add(PropCascadeDelete, pr.CascadeDelete, fr.CascadeDelete)
		}
		if old, cur := NormalizeMinSelect(pr.MinSelect), NormalizeMinSelect(fr.MinSelect); !format.Equal(old, cur) {
			add(PropMinSelect, old, cur)
		}
		if old, cur := NormalizeMaxSelect(pr.MaxSelect), NormalizeMaxSelect(fr.MaxSelect); !format.Equal(old, cur) {
			add(PropMaxSelect, old, cur)
		}
	}

	return changes
}

func relationOf(f schema.Field) schema.Relation {
	if f.Relation == nil {
		return schema.Relation{}
	}
	return *f.Relation
}

func unionKeys(a, b map[string]any) []string {
	seen := map[string]bool{}
	var keys []string
	for _, m := range []map[string]any{a, b} {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// NormalizeIndex is the comparison form of an index definition.
func NormalizeIndex(idx string) string {
	idx = strings.TrimSpace(idx)
	idx = strings.TrimSuffix(idx, ";")
	return strings.ToLower(strings.Join(strings.Fields(idx), " "))
}

func compareIndexes(old, cur []string) (toAdd, toRemove []string) {
	oldSet := map[string]bool{}
	for _, idx := range old {
		oldSet[NormalizeIndex(idx)] = true
	}
	curSet := map[string]bool{}
	for _, idx := range cur {
		curSet[NormalizeIndex(idx)] = true
	}

	seen := map[string]bool{}
	for _, idx := range cur {
		n := NormalizeIndex(idx)
		if !oldSet[n] && !seen[n] {
			seen[n] = true
			toAdd = append(toAdd, idx)
		}
	}
	seen = map[string]bool{}
	for _, idx := range old {
		n := NormalizeIndex(idx)
		if !curSet[n] && !seen[n] {
			seen[n] = true
			toRemove = append(toRemove, idx)
		}
	}
	return toAdd, toRemove
}

func compareRules(old, cur schema.Collection) []RuleChange {
	slots := cur.RuleSlots()
	if old.IsAuth() {
		slots = old.RuleSlots()
	}

	var changes []RuleChange
	for _, slot := range slots {
		o, n := old.EffectiveRule(slot), cur.EffectiveRule(slot)
		if sameRule(o, n) {
			continue
		}
		changes = append(changes, RuleChange{Rule: slot, Old: o, New: n})
	}
	return changes
}

func sameRule(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// orderByDependencies puts relation targets ahead of the collections that
// point at them. Cycles fall back to name order.
func (d *Diff) orderByDependencies(cols []schema.Collection) []schema.Collection {
	if len(cols) < 2 {
		return cols
	}

	inSet := map[string]bool{}
	for _, c := range cols {
		inSet[strings.ToLower(c.Name)] = true
	}
	deps := make([]map[string]bool, len(cols))
	for i, c := range cols {
		deps[i] = map[string]bool{}
		self := strings.ToLower(c.Name)
		for _, f := range c.Fields {
			if f.Type != schema.RelationField {
				continue
			}
			if t := d.targetKey(f); t != "" && t != self && inSet[t] {
				deps[i][t] = true
			}
		}
	}

	placed := map[string]bool{}
	done := make([]bool, len(cols))
	out := make([]schema.Collection, 0, len(cols))
	for len(out) < len(cols) {
		next := -1
		for i := range cols {
			if done[i] {
				continue
			}
			ready := true
			for t := range deps[i] {
				if !placed[t] {
					ready = false
					break
				}
			}
			if ready {
				next = i
				break
			}
		}
		if next < 0 {
			for i := range cols {
				if !done[i] {
					next = i
					break
				}
			}
		}
		done[next] = true
		placed[strings.ToLower(cols[next].Name)] = true
		out = append(out, cols[next])
	}
	return out
}
