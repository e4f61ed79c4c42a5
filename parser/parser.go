// Package parser recovers schema state from migration files. Only the
// forward block is read. Literals are evaluated in a sandbox that knows a
// single host function, the collection lookup, so nothing in a migration
// file can reach the outside world.
package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ridoystarlord/pbmigrato/registry"
	"github.com/ridoystarlord/pbmigrato/schema"
)

// Diagnostic reports a statement that could not be recovered.
type Diagnostic struct {
	File      string
	Statement string
	Message   string
}

func (d Diagnostic) String() string {
	var b strings.Builder
	if d.File != "" {
		b.WriteString(d.File)
		b.WriteString(": ")
	}
	b.WriteString(d.Message)
	if d.Statement != "" {
		fmt.Fprintf(&b, " (in %q)", shorten(d.Statement))
	}
	return b.String()
}

// Result is what one migration file does to the schema.
type Result struct {
	CollectionsToCreate []schema.Collection
	// CollectionsToDelete holds the names or identifiers of deleted
	// collections.
	CollectionsToDelete []string
	CollectionsToUpdate []CollectionUpdate
	Diagnostics         []Diagnostic

	order []operation
}

type opKind int

const (
	opCreate opKind = iota
	opUpdate
	opDelete
)

// operation points into one of the Result lists, in source order.
type operation struct {
	kind  opKind
	index int
}

type bindingKind int

const (
	bindCreated bindingKind = iota
	bindFound
	bindField
)

type binding struct {
	kind  bindingKind
	index int
	// owner and field are set for field bindings. field follows renames.
	owner *binding
	field string
}

const ident = `[A-Za-z_$][\w$]*`

var (
	returnRe        = regexp.MustCompile(`^return\s+`)
	declRe          = regexp.MustCompile(`(?s)^(?:const|let|var)\s+(` + ident + `)\s*=\s*(.+)$`)
	newCollectionRe = regexp.MustCompile(`^new\s+Collection\s*\(`)
	newFieldRe      = regexp.MustCompile(`^new\s+Field\s*\(`)
	lookupRe        = regexp.MustCompile(`^app\s*\.\s*findCollectionByNameOrId\s*\(`)
	getFieldRe      = regexp.MustCompile(`^(` + ident + `)\s*\.\s*fields\s*\.\s*getByName\s*\(`)
	appCallRe       = regexp.MustCompile(`^app\s*\.\s*(save|delete)\s*\(`)
	methodRe        = regexp.MustCompile(`^(` + ident + `)\s*\.\s*(fields|indexes)\s*\.\s*(` + ident + `)\s*\(`)
	indexOfRe       = regexp.MustCompile(`^(` + ident + `)\s*\.\s*indexes\s*\.\s*indexOf\s*\(`)
	assignRe        = regexp.MustCompile(`(?s)^(` + ident + `)((?:\s*\.\s*` + ident + `|\s*\[[^\]]*\])+)\s*=([^=].*)$`)
	identRe         = regexp.MustCompile(`^` + ident + `$`)
)

type parser struct {
	res  *Result
	vars map[string]*binding
}

// Parse recovers the forward operations of one migration file. Statements
// that cannot be understood are reported as diagnostics; the rest are still
// recovered.
func Parse(src string) *Result {
	res := &Result{}

	body, err := forwardBlock(src)
	if err != nil {
		res.diagnose("", err)
		return res
	}
	body, err = stripComments(body)
	if err != nil {
		res.diagnose("", err)
		return res
	}
	stmts, err := splitTopLevel(body, ';')
	if err != nil {
		res.diagnose("", err)
		return res
	}

	p := &parser{res: res, vars: map[string]*binding{}}
	for _, stmt := range stmts {
		if err := p.statement(stmt); err != nil {
			res.diagnose(stmt, err)
		}
	}
	return res
}

func (r *Result) diagnose(stmt string, err error) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{
		Statement: strings.TrimSpace(stmt),
		Message:   err.Error(),
	})
}

func (p *parser) statement(stmt string) error {
	stmt = returnRe.ReplaceAllString(strings.TrimSpace(stmt), "")

	if m := declRe.FindStringSubmatch(stmt); m != nil {
		return p.declare(m[1], strings.TrimSpace(m[2]))
	}
	if loc := appCallRe.FindStringSubmatchIndex(stmt); loc != nil {
		arg, err := callArgs(stmt, loc[1]-1)
		if err != nil {
			return err
		}
		if stmt[loc[2]:loc[3]] == "save" {
			return p.save(strings.TrimSpace(arg))
		}
		return p.delete(strings.TrimSpace(arg))
	}
	if loc := methodRe.FindStringSubmatchIndex(stmt); loc != nil {
		args, err := callArgs(stmt, loc[1]-1)
		if err != nil {
			return err
		}
		return p.method(stmt[loc[2]:loc[3]], stmt[loc[4]:loc[5]], stmt[loc[6]:loc[7]], args)
	}
	if m := assignRe.FindStringSubmatch(stmt); m != nil {
		return p.assign(m[1], m[2], strings.TrimSpace(m[3]))
	}
	return fmt.Errorf("unrecognized statement")
}

// callArgs returns the text between the parenthesis at open and its match,
// which must end the statement.
func callArgs(stmt string, open int) (string, error) {
	end, err := matchClose(stmt, open)
	if err != nil {
		return "", err
	}
	if rest := strings.TrimSpace(stmt[end+1:]); rest != "" {
		return "", fmt.Errorf("unexpected %q after call", shorten(rest))
	}
	return stmt[open+1 : end], nil
}

func (p *parser) declare(name, rhs string) error {
	if loc := newCollectionRe.FindStringIndex(rhs); loc != nil {
		b, err := p.createInline(rhs, loc)
		if err != nil {
			return err
		}
		p.vars[name] = b
		return nil
	}

	if loc := lookupRe.FindStringIndex(rhs); loc != nil {
		arg, err := callArgs(rhs, loc[1]-1)
		if err != nil {
			return err
		}
		ref, err := evalString(arg)
		if err != nil {
			return fmt.Errorf("collection lookup: %w", err)
		}
		p.res.CollectionsToUpdate = append(p.res.CollectionsToUpdate, CollectionUpdate{Collection: ref})
		idx := len(p.res.CollectionsToUpdate) - 1
		p.res.order = append(p.res.order, operation{kind: opUpdate, index: idx})
		p.vars[name] = &binding{kind: bindFound, index: idx}
		return nil
	}

	if loc := getFieldRe.FindStringSubmatchIndex(rhs); loc != nil {
		owner, err := p.collection(rhs[loc[2]:loc[3]])
		if err != nil {
			return err
		}
		arg, err := callArgs(rhs, loc[1]-1)
		if err != nil {
			return err
		}
		field, err := evalString(arg)
		if err != nil {
			return fmt.Errorf("field lookup: %w", err)
		}
		if owner.kind == bindCreated {
			if _, ok := p.res.CollectionsToCreate[owner.index].Field(field); !ok {
				return fmt.Errorf("field %q not found", field)
			}
		}
		p.vars[name] = &binding{kind: bindField, owner: owner, field: field}
		return nil
	}

	return fmt.Errorf("unsupported declaration of %q", name)
}

func (p *parser) createInline(src string, loc []int) (*binding, error) {
	arg, err := callArgs(src, loc[1]-1)
	if err != nil {
		return nil, err
	}
	v, err := evaluate(arg)
	if err != nil {
		return nil, err
	}
	c, err := collectionFromLiteral(v)
	if err != nil {
		return nil, err
	}
	p.res.CollectionsToCreate = append(p.res.CollectionsToCreate, c)
	idx := len(p.res.CollectionsToCreate) - 1
	p.res.order = append(p.res.order, operation{kind: opCreate, index: idx})
	return &binding{kind: bindCreated, index: idx}, nil
}

func (p *parser) save(arg string) error {
	if loc := newCollectionRe.FindStringIndex(arg); loc != nil {
		_, err := p.createInline(arg, loc)
		return err
	}
	_, err := p.collection(arg)
	return err
}

func (p *parser) delete(arg string) error {
	var ref string
	if identRe.MatchString(arg) {
		b, err := p.collection(arg)
		if err != nil {
			return err
		}
		if b.kind == bindCreated {
			ref = p.res.CollectionsToCreate[b.index].Name
		} else {
			ref = p.res.CollectionsToUpdate[b.index].Collection
		}
	} else {
		v, err := evaluate(arg)
		if err != nil {
			return err
		}
		m, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("delete expects a collection")
		}
		ref, _ = asString(m["name"])
	}

	p.res.CollectionsToDelete = append(p.res.CollectionsToDelete, ref)
	p.res.order = append(p.res.order, operation{kind: opDelete, index: len(p.res.CollectionsToDelete) - 1})
	return nil
}

func (p *parser) collection(name string) (*binding, error) {
	b, ok := p.vars[name]
	if !ok {
		return nil, fmt.Errorf("unknown variable %q", name)
	}
	if b.kind == bindField {
		return nil, fmt.Errorf("%q is a field, not a collection", name)
	}
	return b, nil
}

func (p *parser) method(target, list, method, args string) error {
	b, err := p.collection(target)
	if err != nil {
		return err
	}
	parts, err := splitTopLevel(args, ',')
	if err != nil {
		return err
	}

	switch list + "." + method {
	case "fields.add":
		if len(parts) != 1 {
			return fmt.Errorf("fields.add expects one argument")
		}
		arg := parts[0]
		if loc := newFieldRe.FindStringIndex(arg); loc != nil {
			if arg, err = callArgs(arg, loc[1]-1); err != nil {
				return err
			}
		}
		v, err := evaluate(arg)
		if err != nil {
			return err
		}
		f, err := fieldFromLiteral(v)
		if err != nil {
			return err
		}
		return p.step(b, Step{Kind: StepAddField, Field: f, Name: f.Name})

	case "fields.removeByName":
		if len(parts) != 1 {
			return fmt.Errorf("fields.removeByName expects one argument")
		}
		name, err := evalString(parts[0])
		if err != nil {
			return err
		}
		return p.step(b, Step{Kind: StepRemoveField, Name: name})

	case "indexes.push":
		for _, part := range parts {
			idx, err := evalString(part)
			if err != nil {
				return err
			}
			if err := p.step(b, Step{Kind: StepAddIndex, Index: idx}); err != nil {
				return err
			}
		}
		return nil

	case "indexes.splice":
		if len(parts) != 2 {
			return fmt.Errorf("indexes.splice expects a position and a count")
		}
		if n, err := evaluate(parts[1]); err != nil || n != 1 {
			return fmt.Errorf("indexes.splice must remove exactly one index")
		}
		loc := indexOfRe.FindStringSubmatchIndex(parts[0])
		if loc == nil || parts[0][loc[2]:loc[3]] != target {
			return fmt.Errorf("indexes.splice position must come from %s.indexes.indexOf", target)
		}
		arg, err := callArgs(parts[0], loc[1]-1)
		if err != nil {
			return err
		}
		idx, err := evalString(arg)
		if err != nil {
			return err
		}
		return p.step(b, Step{Kind: StepRemoveIndex, Index: idx})
	}
	return fmt.Errorf("unsupported call %s.%s", list, method)
}

func (p *parser) assign(target, pathSrc, valueSrc string) error {
	b, ok := p.vars[target]
	if !ok {
		return fmt.Errorf("unknown variable %q", target)
	}
	path, err := parsePath(pathSrc)
	if err != nil {
		return err
	}
	value, err := evaluate(valueSrc)
	if err != nil {
		return err
	}

	if b.kind == bindField {
		s := Step{Kind: StepSetField, Name: b.field, Path: path, Value: value}
		if err := p.step(b.owner, s); err != nil {
			return err
		}
		if len(path) == 1 && path[0] == "name" {
			if name, ok := value.(string); ok {
				b.field = name
			}
		}
		return nil
	}

	if len(path) != 1 {
		return fmt.Errorf("unsupported collection property %q", strings.Join(path, "."))
	}
	if schema.IsRuleName(path[0]) {
		return p.step(b, Step{Kind: StepSetRule, Name: path[0], Value: value})
	}
	if path[0] == "indexes" {
		idx, err := stringList(value)
		if err != nil {
			return err
		}
		return p.step(b, Step{Kind: StepSetIndexes, Indexes: idx})
	}
	return p.step(b, Step{Kind: StepSetCollection, Name: path[0], Value: value})
}

// step applies s right away to a collection created in this file, or
// records it on the update of a looked-up collection.
func (p *parser) step(b *binding, s Step) error {
	if b.kind == bindCreated {
		return applyStep(&p.res.CollectionsToCreate[b.index], s)
	}
	u := &p.res.CollectionsToUpdate[b.index]
	u.Steps = append(u.Steps, s)
	return nil
}

// parsePath splits ".options.max" or `["odd-key"]` into its segments.
func parsePath(src string) ([]string, error) {
	var path []string
	rest := strings.TrimSpace(src)
	for rest != "" {
		switch rest[0] {
		case '.':
			rest = strings.TrimSpace(rest[1:])
			n := 0
			for n < len(rest) && isIdentByte(rest[n]) {
				n++
			}
			if n == 0 {
				return nil, fmt.Errorf("invalid property path %q", src)
			}
			path = append(path, rest[:n])
			rest = rest[n:]
		case '[':
			end, err := matchClose(rest, 0)
			if err != nil {
				return nil, err
			}
			key, err := evalString(rest[1:end])
			if err != nil {
				return nil, fmt.Errorf("property key: %w", err)
			}
			path = append(path, key)
			rest = rest[end+1:]
		default:
			return nil, fmt.Errorf("invalid property path %q", src)
		}
		rest = strings.TrimSpace(rest)
	}
	return path, nil
}

func evalString(src string) (string, error) {
	v, err := evaluate(src)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected a string, got %T", v)
	}
	return s, nil
}

// Apply folds the recovered operations into snap in source order. Problems
// are returned and do not stop the fold.
func (r *Result) Apply(snap *schema.Snapshot) []error {
	if snap.Collections == nil {
		snap.Collections = map[string]schema.Collection{}
	}

	var errs []error
	for _, op := range r.order {
		switch op.kind {
		case opCreate:
			c := r.CollectionsToCreate[op.index].Clone()
			if key, ok := findKey(snap, c.Name); ok {
				delete(snap.Collections, key)
			}
			snap.Collections[c.Name] = c

		case opUpdate:
			u := r.CollectionsToUpdate[op.index]
			if len(u.Steps) == 0 {
				continue
			}
			key, ok := findKey(snap, u.Collection)
			if !ok {
				errs = append(errs, fmt.Errorf("updating unknown collection %q", u.Collection))
				continue
			}
			c := snap.Collections[key].Clone()
			if c.Name == "" {
				c.Name = key
			}
			if err := u.Apply(&c); err != nil {
				errs = append(errs, err)
			}
			delete(snap.Collections, key)
			snap.Collections[c.Name] = c

		case opDelete:
			ref := r.CollectionsToDelete[op.index]
			key, ok := findKey(snap, ref)
			if !ok {
				errs = append(errs, fmt.Errorf("deleting unknown collection %q", ref))
				continue
			}
			delete(snap.Collections, key)
		}
	}
	return errs
}

// findKey resolves a name or identifier to its key in snap.
func findKey(snap *schema.Snapshot, ref string) (string, bool) {
	if _, key, ok := snap.Lookup(ref); ok {
		return key, true
	}
	for _, key := range schema.Names(snap.Collections) {
		if snap.Collections[key].ID == ref {
			return key, true
		}
	}
	if ref == registry.UsersCollectionID {
		if _, key, ok := snap.Lookup("users"); ok {
			return key, true
		}
	}
	return "", false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
