package diff

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridoystarlord/pbmigrato/registry"
	"github.com/ridoystarlord/pbmigrato/schema"
)

func strp(s string) *string { return &s }

func snapshotOf(cols ...schema.Collection) *schema.Snapshot {
	snap := schema.NewSnapshot()
	for _, c := range cols {
		snap.Collections[c.Name] = c
	}
	return snap
}

func projects() schema.Collection {
	return schema.Collection{
		Name: "projects",
		Type: schema.BaseCollection,
		Fields: []schema.Field{
			{Name: "title", Type: schema.TextField, Required: true},
			{Name: "status", Type: schema.SelectField, Options: map[string]any{"values": []any{"draft", "active"}}},
		},
	}
}

func TestCompareNilSnapshotCreatesEverything(t *testing.T) {
	d := Compare(schema.NewSchema(projects()), nil)

	require.Len(t, d.CollectionsToCreate, 1)
	assert.Empty(t, d.CollectionsToDelete)
	assert.Empty(t, d.CollectionsToModify)

	created := d.CollectionsToCreate[0]
	assert.Equal(t, "projects", created.Name)
	assert.Regexp(t, regexp.MustCompile(`^pbc_[a-z0-9]{11}$`), created.ID)
	assert.Len(t, created.Fields, 2)
}

func TestCompareKeepsDeclaredID(t *testing.T) {
	c := projects()
	c.ID = "pbc_declared000"
	reg := registry.New()

	d := NewEngine(reg).Compare(schema.NewSchema(c), nil)

	require.Len(t, d.CollectionsToCreate, 1)
	assert.Equal(t, "pbc_declared000", d.CollectionsToCreate[0].ID)
	assert.True(t, reg.Has("pbc_declared000"))
}

func TestCompareUsersGetsReservedID(t *testing.T) {
	reg := registry.New()
	d := NewEngine(reg).Compare(schema.NewSchema(schema.Collection{Name: "Users", Type: schema.AuthCollection}), nil)

	require.Len(t, d.CollectionsToCreate, 1)
	assert.Equal(t, registry.UsersCollectionID, d.CollectionsToCreate[0].ID)
	assert.True(t, reg.Has(registry.UsersCollectionID))
}

func TestCompareIdenticalIsEmpty(t *testing.T) {
	prev := projects()
	prev.ID = "pbc_aaaaaaaaaaa"
	d := Compare(schema.NewSchema(projects()), snapshotOf(prev))
	assert.True(t, d.IsEmpty())
}

func TestCompareCollectionNamesAreCaseInsensitive(t *testing.T) {
	cur := projects()
	cur.Name = "Projects"
	d := Compare(schema.NewSchema(cur), snapshotOf(projects()))
	assert.True(t, d.IsEmpty())
}

func TestCompareFieldNamesAreCaseSensitive(t *testing.T) {
	cur := projects()
	cur.Fields = append(cur.Fields, schema.Field{Name: "Slug", Type: schema.TextField})
	prev := projects()
	prev.Fields = append(prev.Fields, schema.Field{Name: "slug", Type: schema.NumberField})

	d := Compare(schema.NewSchema(cur), snapshotOf(prev))
	require.Len(t, d.CollectionsToModify, 1)
	mod := d.CollectionsToModify[0]
	require.Len(t, mod.FieldsToAdd, 1)
	assert.Equal(t, "Slug", mod.FieldsToAdd[0].Name)
	require.Len(t, mod.FieldsToRemove, 1)
	assert.Equal(t, "slug", mod.FieldsToRemove[0].Name)
}

func TestCompareDeletesRemovedCollections(t *testing.T) {
	old := schema.Collection{Name: "archive", ID: "pbc_archive0000", Type: schema.BaseCollection}
	d := Compare(schema.NewSchema(projects()), snapshotOf(projects(), old))

	require.Len(t, d.CollectionsToDelete, 1)
	assert.Equal(t, "archive", d.CollectionsToDelete[0].Name)
	assert.Equal(t, "pbc_archive0000", d.CollectionsToDelete[0].ID)
}

func TestCompareFiltersSystemCollections(t *testing.T) {
	cur := schema.NewSchema(projects(), schema.Collection{Name: "_superusers", Type: schema.AuthCollection})
	prev := snapshotOf(projects(), schema.Collection{Name: "_mfas"})

	d := Compare(cur, prev)
	assert.True(t, d.IsEmpty())

	d = NewEngine(nil, WithSystemCollections("projects")).Compare(schema.NewSchema(projects()), nil)
	assert.True(t, d.IsEmpty())
}

func TestRenameCollapse(t *testing.T) {
	prev := schema.Collection{Name: "posts", Fields: []schema.Field{{Name: "a", Type: schema.TextField}}}
	cur := schema.Collection{Name: "posts", Fields: []schema.Field{{Name: "b", Type: schema.TextField, Required: true}}}

	d := Compare(schema.NewSchema(cur), snapshotOf(prev))
	require.Len(t, d.CollectionsToModify, 1)
	mod := d.CollectionsToModify[0]

	assert.Empty(t, mod.FieldsToAdd)
	assert.Empty(t, mod.FieldsToRemove)
	require.Len(t, mod.FieldsToModify, 1)

	fm := mod.FieldsToModify[0]
	assert.Equal(t, "a", fm.Name, "renames are keyed by the old name")
	name, ok := fm.Change(PropName)
	require.True(t, ok)
	assert.Equal(t, "a", name.Old)
	assert.Equal(t, "b", name.New)
	req, ok := fm.Change(PropRequired)
	require.True(t, ok)
	assert.Equal(t, true, req.New)
}

func TestRenameCollapseDeclinesAmbiguousPairs(t *testing.T) {
	prev := schema.Collection{Name: "posts", Fields: []schema.Field{
		{Name: "a", Type: schema.TextField},
		{Name: "b", Type: schema.TextField},
	}}
	cur := schema.Collection{Name: "posts", Fields: []schema.Field{
		{Name: "c", Type: schema.TextField},
		{Name: "d", Type: schema.TextField},
	}}

	d := Compare(schema.NewSchema(cur), snapshotOf(prev))
	require.Len(t, d.CollectionsToModify, 1)
	mod := d.CollectionsToModify[0]
	assert.Len(t, mod.FieldsToAdd, 2)
	assert.Len(t, mod.FieldsToRemove, 2)
	assert.Empty(t, mod.FieldsToModify)
}

func TestRenameCollapseRequiresSameType(t *testing.T) {
	prev := schema.Collection{Name: "posts", Fields: []schema.Field{{Name: "a", Type: schema.TextField}}}
	cur := schema.Collection{Name: "posts", Fields: []schema.Field{{Name: "b", Type: schema.NumberField}}}

	mod := Compare(schema.NewSchema(cur), snapshotOf(prev)).CollectionsToModify[0]
	assert.Len(t, mod.FieldsToAdd, 1)
	assert.Len(t, mod.FieldsToRemove, 1)
	assert.Empty(t, mod.FieldsToModify)
}

func TestRenameCollapseRelationTargetsMustMatch(t *testing.T) {
	prev := schema.Collection{Name: "posts", Fields: []schema.Field{
		{Name: "owner", Type: schema.RelationField, Relation: &schema.Relation{Collection: "users"}},
	}}
	cur := schema.Collection{Name: "posts", Fields: []schema.Field{
		{Name: "team", Type: schema.RelationField, Relation: &schema.Relation{Collection: "teams"}},
	}}

	mod := Compare(schema.NewSchema(cur), snapshotOf(prev)).CollectionsToModify[0]
	assert.Len(t, mod.FieldsToAdd, 1)
	assert.Len(t, mod.FieldsToRemove, 1)
	assert.Empty(t, mod.FieldsToModify)

	// same target resolved through the stored identifier collapses
	prev.Fields[0].Relation.Collection = registry.UsersCollectionID
	cur.Fields[0].Relation.Collection = "Users"
	mod = Compare(schema.NewSchema(cur), snapshotOf(prev)).CollectionsToModify[0]
	assert.Empty(t, mod.FieldsToAdd)
	assert.Empty(t, mod.FieldsToRemove)
	require.Len(t, mod.FieldsToModify, 1)
	assert.Equal(t, "owner", mod.FieldsToModify[0].Name)
}

func TestDefaultOptionsAreNotChanges(t *testing.T) {
	prev := projects()
	cur := projects()
	cur.Fields[1].Options["maxSelect"] = 1
	cur.Fields[0].Options = map[string]any{"max": 0, "pattern": ""}

	d := Compare(schema.NewSchema(cur), snapshotOf(prev))
	assert.True(t, d.IsEmpty())
}

func TestOptionChangesAreReported(t *testing.T) {
	prev := projects()
	cur := projects()
	cur.Fields[1].Options["maxSelect"] = 2
	cur.Fields[0].Options = map[string]any{"custom": "kept"}

	mod := Compare(schema.NewSchema(cur), snapshotOf(prev)).CollectionsToModify[0]
	require.Len(t, mod.FieldsToModify, 2)

	title := mod.FieldsToModify[0]
	assert.Equal(t, "title", title.Name)
	custom, ok := title.Change("custom")
	require.True(t, ok)
	assert.Nil(t, custom.Old)
	assert.Equal(t, "kept", custom.New)

	status := mod.FieldsToModify[1]
	ms, ok := status.Change("maxSelect")
	require.True(t, ok)
	assert.Nil(t, ms.Old)
	assert.Equal(t, 2, ms.New)
}

func TestTypeChangeIsDetected(t *testing.T) {
	prev := projects()
	cur := projects()
	cur.Fields[0].Type = schema.EditorField

	mod := Compare(schema.NewSchema(cur), snapshotOf(prev)).CollectionsToModify[0]
	require.Len(t, mod.FieldsToModify, 1)
	assert.True(t, mod.FieldsToModify[0].TypeChanged())
}

func TestRelationComparison(t *testing.T) {
	teams := schema.Collection{Name: "teams", ID: "pbc_teams000000", Type: schema.BaseCollection}
	prev := schema.Collection{Name: "posts", Type: schema.BaseCollection, Fields: []schema.Field{
		{Name: "team", Type: schema.RelationField, Relation: &schema.Relation{Collection: "pbc_teams000000", MaxSelect: 1}},
	}}
	cur := schema.Collection{Name: "posts", Type: schema.BaseCollection, Fields: []schema.Field{
		{Name: "team", Type: schema.RelationField, Relation: &schema.Relation{Collection: "teams"}},
	}}

	d := Compare(schema.NewSchema(cur, teams), snapshotOf(prev, teams))
	assert.True(t, d.IsEmpty(), "identifier and name of the same target are equal")

	cur.Fields[0].Relation.CascadeDelete = true
	cur.Fields[0].Relation.MaxSelect = 3
	d = Compare(schema.NewSchema(cur, teams), snapshotOf(prev, teams))
	require.Len(t, d.CollectionsToModify, 1)
	fm := d.CollectionsToModify[0].FieldsToModify[0]
	_, ok := fm.Change(PropCascadeDelete)
	assert.True(t, ok)
	ms, ok := fm.Change(PropMaxSelect)
	require.True(t, ok)
	assert.Nil(t, ms.Old)
	assert.Equal(t, 3, ms.New)
	_, ok = fm.Change(PropCollectionID)
	assert.False(t, ok)
}

func TestIndexDiffNormalizesForComparisonOnly(t *testing.T) {
	prev := projects()
	prev.Indexes = []string{"CREATE INDEX idx_title ON projects (title)", "CREATE INDEX idx_old ON projects (status)"}
	cur := projects()
	cur.Indexes = []string{"create   index IDX_TITLE on projects (title);", "CREATE UNIQUE INDEX idx_New ON projects (title)"}

	mod := Compare(schema.NewSchema(cur), snapshotOf(prev)).CollectionsToModify[0]
	assert.Equal(t, []string{"CREATE UNIQUE INDEX idx_New ON projects (title)"}, mod.IndexesToAdd)
	assert.Equal(t, []string{"CREATE INDEX idx_old ON projects (status)"}, mod.IndexesToRemove)
}

func TestRuleDiffKeepsNullAndEmptyDistinct(t *testing.T) {
	prev := projects()
	prev.Rules = map[string]*string{schema.ListRule: nil, schema.ViewRule: strp("")}
	cur := projects()
	cur.Rules = map[string]*string{schema.ListRule: strp(""), schema.ViewRule: strp("")}
	cur.Permissions = map[string]string{"create": schema.PermissionAuthenticated}

	mod := Compare(schema.NewSchema(cur), snapshotOf(prev)).CollectionsToModify[0]
	require.Len(t, mod.RuleChanges, 2)

	assert.Equal(t, schema.ListRule, mod.RuleChanges[0].Rule)
	assert.Nil(t, mod.RuleChanges[0].Old)
	require.NotNil(t, mod.RuleChanges[0].New)
	assert.Equal(t, "", *mod.RuleChanges[0].New)

	assert.Equal(t, schema.CreateRule, mod.RuleChanges[1].Rule)
	assert.Equal(t, `@request.auth.id != ""`, *mod.RuleChanges[1].New)
}

func TestManageRuleOnlyForAuth(t *testing.T) {
	prev := projects()
	cur := projects()
	cur.Rules = map[string]*string{schema.ManageRule: strp("x")}
	assert.True(t, Compare(schema.NewSchema(cur), snapshotOf(prev)).IsEmpty())

	prev.Type, cur.Type = schema.AuthCollection, schema.AuthCollection
	mod := Compare(schema.NewSchema(cur), snapshotOf(prev)).CollectionsToModify[0]
	require.Len(t, mod.RuleChanges, 1)
	assert.Equal(t, schema.ManageRule, mod.RuleChanges[0].Rule)
}

func TestCreatesAreOrderedByDependencies(t *testing.T) {
	authors := schema.Collection{Name: "zauthors"}
	articles := schema.Collection{Name: "articles", Fields: []schema.Field{
		{Name: "author", Type: schema.RelationField, Relation: &schema.Relation{Collection: "zauthors"}},
	}}

	d := Compare(schema.NewSchema(articles, authors), nil)
	require.Len(t, d.CollectionsToCreate, 2)
	assert.Equal(t, "zauthors", d.CollectionsToCreate[0].Name)
	assert.Equal(t, "articles", d.CollectionsToCreate[1].Name)

	d = Compare(schema.NewSchema(), snapshotOf(articles, authors))
	require.Len(t, d.CollectionsToDelete, 2)
	assert.Equal(t, "articles", d.CollectionsToDelete[0].Name)
}

func TestKnownIDs(t *testing.T) {
	prev := projects()
	prev.ID = "pbc_projects000"
	d := Compare(schema.NewSchema(projects()), snapshotOf(prev))

	id, ok := d.KnownID("PROJECTS")
	require.True(t, ok)
	assert.Equal(t, "pbc_projects000", id)
	assert.Equal(t, "projects", d.ResolveTarget("pbc_projects000"))
	assert.Equal(t, "users", d.ResolveTarget(registry.UsersCollectionID))
}

func TestFoldRelationOptions(t *testing.T) {
	f := FoldRelationOptions(schema.Field{
		Name:     "tags",
		Type:     schema.RelationField,
		Options:  map[string]any{"maxSelect": 3, "cascadeDelete": true, "minSelect": 1.0, "hidden": true},
		Relation: &schema.Relation{Collection: "tags"},
	})
	assert.Equal(t, &schema.Relation{Collection: "tags", CascadeDelete: true, MinSelect: 1, MaxSelect: 3}, f.Relation)
	assert.Equal(t, map[string]any{"hidden": true}, f.Options)

	f = FoldRelationOptions(schema.Field{
		Name:     "owner",
		Type:     schema.RelationField,
		Options:  map[string]any{"maxSelect": 5, "collectionId": "other"},
		Relation: &schema.Relation{Collection: "users", MaxSelect: 2},
	})
	assert.Equal(t, &schema.Relation{Collection: "users", MaxSelect: 2}, f.Relation, "relation settings win")
	assert.Nil(t, f.Options)

	sel := schema.Field{Name: "status", Type: schema.SelectField, Options: map[string]any{"maxSelect": 2}}
	assert.Equal(t, sel, FoldRelationOptions(sel))
}

func TestRelationOptionsCompareAsRelationSettings(t *testing.T) {
	tags := schema.Collection{Name: "tags", ID: "pbc_tags0000000", Type: schema.BaseCollection}
	prev := schema.Collection{Name: "posts", Type: schema.BaseCollection, Fields: []schema.Field{
		{Name: "tags", Type: schema.RelationField, Relation: &schema.Relation{Collection: "pbc_tags0000000", CascadeDelete: true, MaxSelect: 3}},
	}}
	cur := schema.Collection{Name: "posts", Type: schema.BaseCollection, Fields: []schema.Field{
		{Name: "tags", Type: schema.RelationField,
			Options:  map[string]any{"maxSelect": 3, "cascadeDelete": true},
			Relation: &schema.Relation{Collection: "tags"}},
	}}

	d := Compare(schema.NewSchema(cur, tags), snapshotOf(prev, tags))
	assert.True(t, d.IsEmpty())

	d = Compare(schema.NewSchema(cur, tags), nil)
	require.Len(t, d.CollectionsToCreate, 2)
	posts := d.CollectionsToCreate[1]
	require.Equal(t, "posts", posts.Name)
	assert.Nil(t, posts.Fields[0].Options)
	assert.Equal(t, 3, posts.Fields[0].Relation.MaxSelect)
	assert.True(t, posts.Fields[0].Relation.CascadeDelete)
	assert.NotNil(t, cur.Fields[0].Options, "input schema is left untouched")
}

func TestCollectionTypeChangeIsReported(t *testing.T) {
	prev := projects()
	cur := projects()
	cur.Type = schema.AuthCollection

	d := Compare(schema.NewSchema(cur), snapshotOf(prev))
	require.Len(t, d.CollectionsToModify, 1)
	m := d.CollectionsToModify[0]
	require.NotNil(t, m.TypeChange)
	assert.Equal(t, PropertyChange{Property: PropType, Old: "base", New: "auth"}, *m.TypeChange)
	assert.False(t, m.IsEmpty())

	prev.Type = ""
	cur.Type = schema.BaseCollection
	d = Compare(schema.NewSchema(cur), snapshotOf(prev))
	assert.True(t, d.IsEmpty(), "an empty type is base")
}

func TestSystemCollectionsAreNeverModified(t *testing.T) {
	prev := schema.Collection{Name: "_superusers", Type: schema.AuthCollection}
	cur := schema.Collection{Name: "_superusers", Type: schema.AuthCollection, Fields: []schema.Field{
		{Name: "nickname", Type: schema.TextField},
	}}

	d := Compare(schema.NewSchema(cur), snapshotOf(prev))
	assert.True(t, d.IsEmpty())
}
