package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridoystarlord/pbmigrato/schema"
)

const createArtifact = `/// <reference path="../pb_data/types.d.ts" />
migrate((app) => {
  // semicolons; and braces } in comments are ignored
  const collection_posts = new Collection({
    id: "pbc_posts000000",
    name: "posts",
    type: "base",
    listRule: "",
    viewRule: '@request.auth.id != ""',
    createRule: null,
    fields: [
      {
        name: "title",
        type: "text",
        required: true,
        max: 120, /* block comment */
      },
      {
        name: "body",
        type: "editor",
        options: { convertURLs: true },
      },
      {
        name: "author",
        type: "relation",
        collectionId: "_pb_users_auth_",
        cascadeDelete: true,
        maxSelect: 1,
      },
      {
        name: "tags",
        type: "relation",
        collectionId: app.findCollectionByNameOrId("tags").id,
        maxSelect: 5
      },
      {
        name: "status",
        type: "select",
        maxSelect: 2,
        values: ["draft; maybe", "live}"]
      }
    ],
    indexes: ["CREATE INDEX idx_title ON posts (title)"],
  });
  app.save(collection_posts);
}, (app) => {
  const collection_posts = app.findCollectionByNameOrId("posts");
  app.delete(collection_posts);
});
`

func TestParseCreateCollection(t *testing.T) {
	res := Parse(createArtifact)
	require.Empty(t, res.Diagnostics)
	require.Len(t, res.CollectionsToCreate, 1)
	assert.Empty(t, res.CollectionsToDelete, "reverse block must not be read")
	assert.Empty(t, res.CollectionsToUpdate)

	c := res.CollectionsToCreate[0]
	assert.Equal(t, "pbc_posts000000", c.ID)
	assert.Equal(t, "posts", c.Name)
	assert.Equal(t, schema.BaseCollection, c.Type)
	assert.Equal(t, []string{"CREATE INDEX idx_title ON posts (title)"}, c.Indexes)

	require.Contains(t, c.Rules, schema.ListRule)
	assert.Equal(t, "", *c.Rules[schema.ListRule])
	assert.Equal(t, `@request.auth.id != ""`, *c.Rules[schema.ViewRule])
	require.Contains(t, c.Rules, schema.CreateRule)
	assert.Nil(t, c.Rules[schema.CreateRule])
	assert.NotContains(t, c.Rules, schema.UpdateRule)

	require.Len(t, c.Fields, 5)
	title := c.Fields[0]
	assert.Equal(t, "title", title.Name)
	assert.Equal(t, schema.TextField, title.Type)
	assert.True(t, title.Required)
	assert.Equal(t, 120, title.Options["max"])

	assert.Equal(t, true, c.Fields[1].Options["convertURLs"])

	author := c.Fields[2]
	require.NotNil(t, author.Relation)
	assert.Equal(t, schema.Relation{Collection: "_pb_users_auth_", CascadeDelete: true, MaxSelect: 1}, *author.Relation)
	assert.Empty(t, author.Options)

	tags := c.Fields[3]
	require.NotNil(t, tags.Relation)
	assert.Equal(t, "tags", tags.Relation.Collection)
	assert.Equal(t, 5, tags.Relation.MaxSelect)

	status := c.Fields[4]
	assert.Nil(t, status.Relation)
	assert.Equal(t, 2, status.Options["maxSelect"])
	assert.Equal(t, []any{"draft; maybe", "live}"}, status.Options["values"])
}

const updateArtifact = `migrate((app) => {
  const collection_posts = app.findCollectionByNameOrId("posts");
  collection_posts.fields.add(new Field({
    name: "views",
    type: "number",
    required: false,
    onlyInt: true
  }));
  const field_posts_title = collection_posts.fields.getByName("title");
  field_posts_title.name = "headline";
  field_posts_title.required = true;
  field_posts_title.options.max = 200;
  field_posts_title["odd-key"] = "x";
  field_posts_title.pattern = null;
  collection_posts.fields.removeByName("legacy");
  collection_posts.indexes.push("CREATE INDEX idx_views ON posts (views)");
  collection_posts.indexes.splice(collection_posts.indexes.indexOf("create index  idx_old on posts (legacy)"), 1);
  collection_posts.listRule = null;
  collection_posts.deleteRule = "@request.auth.id != \"\"";
  app.save(collection_posts);
}, (app) => {
  app.delete(app.findCollectionByNameOrId("unrelated"));
});
`

func TestParseUpdateSteps(t *testing.T) {
	res := Parse(updateArtifact)
	require.Empty(t, res.Diagnostics)
	require.Len(t, res.CollectionsToUpdate, 1)

	u := res.CollectionsToUpdate[0]
	assert.Equal(t, "posts", u.Collection)

	c := schema.Collection{
		Name: "posts",
		Type: schema.BaseCollection,
		Fields: []schema.Field{
			{Name: "title", Type: schema.TextField, Options: map[string]any{"pattern": "^a", "max": 10}},
			{Name: "legacy", Type: schema.BoolField},
		},
		Indexes: []string{"CREATE INDEX idx_old ON posts (legacy)"},
		Rules:   map[string]*string{schema.ListRule: new(string)},
	}
	require.NoError(t, u.Apply(&c))

	require.Len(t, c.Fields, 2)
	headline := c.Fields[0]
	assert.Equal(t, "headline", headline.Name)
	assert.True(t, headline.Required)
	assert.Equal(t, map[string]any{"max": 200, "odd-key": "x"}, headline.Options)

	views := c.Fields[1]
	assert.Equal(t, "views", views.Name)
	assert.Equal(t, schema.NumberField, views.Type)
	assert.Equal(t, true, views.Options["onlyInt"])

	assert.Equal(t, []string{"CREATE INDEX idx_views ON posts (views)"}, c.Indexes)
	require.Contains(t, c.Rules, schema.ListRule)
	assert.Nil(t, c.Rules[schema.ListRule])
	assert.Equal(t, `@request.auth.id != ""`, *c.Rules[schema.DeleteRule])
}

func TestParseTypeChangeReplaysInOrder(t *testing.T) {
	res := Parse(`migrate((app) => {
  const c = app.findCollectionByNameOrId("posts");
  c.fields.removeByName("score");
  c.fields.add(new Field({ name: "score", type: "number", required: true }));
  app.save(c);
}, (app) => {});`)
	require.Empty(t, res.Diagnostics)

	c := schema.Collection{Name: "posts", Fields: []schema.Field{{Name: "score", Type: schema.TextField}}}
	require.NoError(t, res.CollectionsToUpdate[0].Apply(&c))
	require.Len(t, c.Fields, 1)
	assert.Equal(t, schema.NumberField, c.Fields[0].Type)
	assert.True(t, c.Fields[0].Required)
}

func TestParseDelete(t *testing.T) {
	res := Parse(`migrate((app) => {
  const collection_archive = app.findCollectionByNameOrId("archive");
  app.delete(collection_archive);
  app.delete(app.findCollectionByNameOrId("old_stuff"));
}, (app) => {
  const collection_archive = new Collection({ name: "archive", type: "base", fields: [] });
  app.save(collection_archive);
});`)
	require.Empty(t, res.Diagnostics)
	assert.Equal(t, []string{"archive", "old_stuff"}, res.CollectionsToDelete)
	assert.Empty(t, res.CollectionsToCreate)
}

func TestParseReportsMalformedStatements(t *testing.T) {
	res := Parse(`migrate((app) => {
  const collection_a = new Collection({ name: "a", type: "base", fields: [] });
  app.save(collection_a);
  ghost.fields.removeByName("x");
  somethingWeird();
  collection_a.fields.add(new Field({ type: "text" }));
  const collection_b = new Collection({ name: "b", type: "base", fields: [] });
}, (app) => {});`)

	require.Len(t, res.Diagnostics, 3)
	assert.Contains(t, res.Diagnostics[0].Message, `unknown variable "ghost"`)
	assert.Equal(t, `ghost.fields.removeByName("x")`, res.Diagnostics[0].Statement)
	assert.Contains(t, res.Diagnostics[1].Message, "unrecognized statement")
	assert.Contains(t, res.Diagnostics[2].Message, "no name")

	require.Len(t, res.CollectionsToCreate, 2)
	assert.Equal(t, "a", res.CollectionsToCreate[0].Name)
	assert.Equal(t, "b", res.CollectionsToCreate[1].Name)
}

func TestParseWithoutMigrateCall(t *testing.T) {
	res := Parse(`console.log("hello");`)
	require.Len(t, res.Diagnostics, 1)
	assert.Contains(t, res.Diagnostics[0].Message, "no migrate() call")
}

func TestParseUnterminatedString(t *testing.T) {
	res := Parse(`migrate((app) => { const c = app.findCollectionByNameOrId("posts); }, (app) => {});`)
	require.NotEmpty(t, res.Diagnostics)
	assert.Empty(t, res.CollectionsToUpdate)
}

func TestResultApplyFoldsInSourceOrder(t *testing.T) {
	res := Parse(`migrate((app) => {
  const collection_tags = new Collection({ id: "pbc_tags0000000", name: "tags", type: "base", fields: [] });
  app.save(collection_tags);
  const collection_tags_2 = app.findCollectionByNameOrId("pbc_tags0000000");
  collection_tags_2.fields.add(new Field({ name: "label", type: "text" }));
  app.save(collection_tags_2);
  const collection_old = app.findCollectionByNameOrId("OLD");
  app.delete(collection_old);
}, (app) => {});`)
	require.Empty(t, res.Diagnostics)

	snap := schema.NewSnapshot()
	snap.Collections["old"] = schema.Collection{Name: "old", Type: schema.BaseCollection}

	errs := res.Apply(snap)
	require.Empty(t, errs)
	assert.Equal(t, []string{"tags"}, schema.Names(snap.Collections))
	tags := snap.Collections["tags"]
	require.Len(t, tags.Fields, 1)
	assert.Equal(t, "label", tags.Fields[0].Name)
}

func TestResultApplyReportsUnknownCollections(t *testing.T) {
	res := Parse(`migrate((app) => {
  const c = app.findCollectionByNameOrId("missing");
  c.listRule = "";
  app.save(c);
  app.delete(app.findCollectionByNameOrId("gone"));
}, (app) => {});`)
	require.Empty(t, res.Diagnostics)

	errs := res.Apply(schema.NewSnapshot())
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), `"missing"`)
	assert.Contains(t, errs[1].Error(), `"gone"`)
}

func TestCreatedCollectionMutatedBeforeSave(t *testing.T) {
	res := Parse(`migrate((app) => {
  const c = new Collection({ name: "notes", type: "auth", fields: [{ name: "body", type: "text" }] });
  c.manageRule = "@request.auth.id != \"\"";
  const f = c.fields.getByName("body");
  f.required = true;
  c.indexes.push("CREATE INDEX idx_body ON notes (body)");
  app.save(c);
}, (app) => {});`)
	require.Empty(t, res.Diagnostics)
	require.Len(t, res.CollectionsToCreate, 1)

	c := res.CollectionsToCreate[0]
	assert.Equal(t, schema.AuthCollection, c.Type)
	assert.True(t, c.Fields[0].Required)
	assert.Equal(t, []string{"CREATE INDEX idx_body ON notes (body)"}, c.Indexes)
	assert.Equal(t, `@request.auth.id != ""`, *c.Rules[schema.ManageRule])
	assert.Empty(t, res.CollectionsToUpdate)
}

func TestParseRepeatedKeysLastWins(t *testing.T) {
	res := Parse(`migrate((app) => {
  const collection_posts = new Collection({
    id: "pbc_posts000000",
    name: "posts",
    type: "base",
    fields: [
      {
        name: "tags",
        type: "relation",
        required: false,
        cascadeDelete: false,
        maxSelect: 1,
        collectionId: "pbc_tags0000000",
        cascadeDelete: true,
        maxSelect: 3,
      },
    ],
    type: "auth",
  });
  app.save(collection_posts);
}, (app) => {});`)

	require.Empty(t, res.Diagnostics)
	require.Len(t, res.CollectionsToCreate, 1)
	c := res.CollectionsToCreate[0]
	assert.Equal(t, schema.AuthCollection, c.Type)
	require.Len(t, c.Fields, 1)
	assert.Equal(t, &schema.Relation{Collection: "pbc_tags0000000", CascadeDelete: true, MaxSelect: 3}, c.Fields[0].Relation)
	assert.Empty(t, c.Fields[0].Options)
}
