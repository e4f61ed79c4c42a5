package schema

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func TestEffectiveRule(t *testing.T) {
	c := Collection{
		Name: "posts",
		Rules: map[string]*string{
			ListRule: strp(""),
			ViewRule: nil,
		},
		Permissions: map[string]string{
			"view":     PermissionPublic,
			"create":   PermissionAuthenticated,
			UpdateRule: "owner:author",
			"delete":   PermissionLocked,
		},
	}

	require.NotNil(t, c.EffectiveRule(ListRule))
	assert.Equal(t, "", *c.EffectiveRule(ListRule))

	// an explicit null rule wins over the permission
	assert.Nil(t, c.EffectiveRule(ViewRule))

	require.NotNil(t, c.EffectiveRule(CreateRule))
	assert.Equal(t, `@request.auth.id != ""`, *c.EffectiveRule(CreateRule))

	require.NotNil(t, c.EffectiveRule(UpdateRule))
	assert.Equal(t, `@request.auth.id != "" && author = @request.auth.id`, *c.EffectiveRule(UpdateRule))

	assert.Nil(t, c.EffectiveRule(DeleteRule))
	assert.Nil(t, c.EffectiveRule(ManageRule))
}

func TestRuleSlots(t *testing.T) {
	assert.Len(t, Collection{Type: BaseCollection}.RuleSlots(), 5)
	assert.Len(t, Collection{Type: AuthCollection}.RuleSlots(), 6)
}

func TestCloneIsDeep(t *testing.T) {
	c := Collection{
		Name:    "posts",
		Fields:  []Field{{Name: "tags", Type: SelectField, Options: map[string]any{"values": []any{"a"}}}},
		Indexes: []string{"CREATE INDEX idx ON posts (tags)"},
		Rules:   map[string]*string{ListRule: strp("x")},
	}
	cp := c.Clone()
	cp.Fields[0].Options["values"] = []any{"b"}
	cp.Indexes[0] = "changed"
	*cp.Rules[ListRule] = "y"

	assert.Equal(t, []any{"a"}, c.Fields[0].Options["values"])
	assert.Equal(t, "CREATE INDEX idx ON posts (tags)", c.Indexes[0])
	assert.Equal(t, "x", *c.Rules[ListRule])
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	s := NewSchema(Collection{Name: "Projects"})
	c, key, ok := s.Lookup("projects")
	require.True(t, ok)
	assert.Equal(t, "Projects", key)
	assert.Equal(t, "Projects", c.Name)
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "snapshot.json")

	snap := NewSnapshot()
	snap.Collections["posts"] = Collection{
		ID:   "pbc_abcdefghijk",
		Name: "posts",
		Type: BaseCollection,
		Fields: []Field{
			{Name: "title", Type: TextField, Required: true},
			{Name: "author", Type: RelationField, Relation: &Relation{Collection: "users", CascadeDelete: true}},
		},
		Rules: map[string]*string{ListRule: nil, ViewRule: strp("")},
	}

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, SaveSnapshot(path, snap, now))

	loaded, err := LoadSnapshot(path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, SnapshotVersion, loaded.Version)
	assert.True(t, loaded.Timestamp.Equal(now))

	posts := loaded.Collections["posts"]
	assert.Equal(t, "pbc_abcdefghijk", posts.ID)
	require.Len(t, posts.Fields, 2)
	assert.Equal(t, "users", posts.Fields[1].Relation.Collection)
	_, hasList := posts.Rules[ListRule]
	assert.True(t, hasList, "explicit null rule must survive persistence")
	assert.Nil(t, posts.Rules[ListRule])
}

func TestLoadSnapshotMissingFile(t *testing.T) {
	snap, err := LoadSnapshot(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Nil(t, snap)
}
