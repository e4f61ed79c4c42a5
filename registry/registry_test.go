package registry

import (
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var idPattern = regexp.MustCompile(`^pbc_[a-z0-9]{11}$`)

func TestGenerateMatchesPattern(t *testing.T) {
	r := New()
	for i := 0; i < 50; i++ {
		id := r.Generate("projects")
		require.Regexp(t, idPattern, id)
		assert.True(t, r.Has(id))
	}
}

func TestGenerateUsersConstant(t *testing.T) {
	r := New()
	for _, name := range []string{"users", "Users", "USERS", " users "} {
		assert.Equal(t, UsersCollectionID, r.Generate(name), name)
	}
	assert.True(t, r.Has(UsersCollectionID))
}

func TestGenerateRetriesUntilUnique(t *testing.T) {
	seq := []string{"pbc_aaaaaaaaaaa", "pbc_aaaaaaaaaaa", "pbc_bbbbbbbbbbb", "pbc_ccccccccccc"}
	i := 0
	r := New(WithSource(func() string {
		id := seq[i%len(seq)]
		i++
		return id
	}))
	r.Register("pbc_bbbbbbbbbbb")

	assert.Equal(t, "pbc_aaaaaaaaaaa", r.Generate("a"))
	assert.Equal(t, "pbc_ccccccccccc", r.Generate("b"))
}

func TestRegistriesAreIndependent(t *testing.T) {
	n := 0
	src := func() string {
		n++
		return fmt.Sprintf("pbc_%011d", n%2)
	}
	a := New(WithSource(src))
	b := New(WithSource(src))

	idA := a.Generate("x")
	assert.False(t, b.Has(idA))
}
