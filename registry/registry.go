package registry

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	// UsersCollectionID is the fixed identifier of the built-in users collection.
	UsersCollectionID = "_pb_users_auth_"

	// IDPrefix is prepended to every generated collection identifier.
	IDPrefix = "pbc_"

	// IDLength is the number of random characters after the prefix.
	IDLength = 11

	idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// Registry hands out collision-free collection identifiers for one
// generation run. It is not safe for concurrent use.
type Registry struct {
	allocated map[string]bool
	source    func() string
}

// Option configures a Registry.
type Option func(*Registry)

// WithSource replaces the random identifier source. The returned value is
// used as-is, so it should already carry IDPrefix.
func WithSource(fn func() string) Option {
	return func(r *Registry) {
		r.source = fn
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		allocated: map[string]bool{},
		source:    randomID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsUsers reports whether name refers to the built-in users collection.
func IsUsers(name string) bool {
	return strings.EqualFold(strings.TrimSpace(name), "users")
}

// Generate returns a new identifier for a collection called name. The users
// collection always resolves to UsersCollectionID.
func (r *Registry) Generate(name string) string {
	if IsUsers(name) {
		r.Register(UsersCollectionID)
		return UsersCollectionID
	}

	for {
		id := r.source()
		if id == "" || r.allocated[id] {
			continue
		}
		r.allocated[id] = true
		return id
	}
}

// Register marks id as taken.
func (r *Registry) Register(id string) {
	if id == "" {
		return
	}
	r.allocated[id] = true
}

// Has reports whether id was generated or registered.
func (r *Registry) Has(id string) bool {
	return r.allocated[id]
}

func randomID() string {
	var b strings.Builder
	b.WriteString(IDPrefix)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := 0; i < IDLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms
			panic(err)
		}
		b.WriteByte(idAlphabet[n.Int64()])
	}
	return b.String()
}
