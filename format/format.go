// Package format renders Go values as JavaScript literals. Every value that
// ends up in a migration file goes through this package so that identical
// input always produces byte-identical output.
package format

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Raw is emitted verbatim, e.g. a lookup expression.
type Raw string

// Pair is one key of an Object.
type Pair struct {
	Key   string
	Value any
}

// Object is a map literal whose key order is kept as given.
type Object []Pair

// Set appends a key.
func (o *Object) Set(key string, value any) {
	*o = append(*o, Pair{Key: key, Value: value})
}

// Has reports whether o already holds key.
func (o Object) Has(key string) bool {
	for _, p := range o {
		if p.Key == key {
			return true
		}
	}
	return false
}

const indentUnit = "  "

// Literal renders v on a single line.
func Literal(v any) string {
	var b strings.Builder
	write(&b, v, "", false)
	return b.String()
}

// Indented renders v across multiple lines. prefix is the indentation of the
// line the literal starts on.
func Indented(v any, prefix string) string {
	var b strings.Builder
	write(&b, v, prefix, true)
	return b.String()
}

// Equal compares two values by their canonical rendering, so 1 and 1.0 or a
// []string and an equivalent []any are equal.
func Equal(a, b any) bool {
	return Literal(a) == Literal(b)
}

// String quotes s as a double-quoted JavaScript string.
func String(s string) string {
	var b strings.Builder
	writeString(&b, s)
	return b.String()
}

func write(b *strings.Builder, v any, prefix string, pretty bool) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case Raw:
		b.WriteString(string(val))
	case string:
		writeString(b, val)
	case *string:
		if val == nil {
			b.WriteString("null")
			return
		}
		writeString(b, *val)
	case bool:
		b.WriteString(strconv.FormatBool(val))
	case int:
		b.WriteString(strconv.Itoa(val))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case float64:
		writeFloat(b, val)
	case float32:
		writeFloat(b, float64(val))
	case Object:
		writeObject(b, val, prefix, pretty)
	case map[string]any:
		writeObject(b, sortedObject(val), prefix, pretty)
	case []any:
		writeArray(b, val, prefix, pretty)
	case []string:
		items := make([]any, len(val))
		for i, s := range val {
			items[i] = s
		}
		writeArray(b, items, prefix, pretty)
	default:
		writeReflect(b, reflect.ValueOf(v), prefix, pretty)
	}
}

func writeReflect(b *strings.Builder, rv reflect.Value, prefix string, pretty bool) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			b.WriteString("null")
			return
		}
		write(b, rv.Elem().Interface(), prefix, pretty)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		b.WriteString(strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		writeFloat(b, rv.Float())
	case reflect.String:
		writeString(b, rv.String())
	case reflect.Bool:
		b.WriteString(strconv.FormatBool(rv.Bool()))
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			b.WriteString("[]")
			return
		}
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		writeArray(b, items, prefix, pretty)
	case reflect.Map:
		obj := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			obj[fmt.Sprint(iter.Key().Interface())] = iter.Value().Interface()
		}
		writeObject(b, sortedObject(obj), prefix, pretty)
	default:
		writeString(b, fmt.Sprint(rv.Interface()))
	}
}

func sortedObject(m map[string]any) Object {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	obj := make(Object, 0, len(keys))
	for _, k := range keys {
		obj = append(obj, Pair{Key: k, Value: m[k]})
	}
	return obj
}

func writeObject(b *strings.Builder, obj Object, prefix string, pretty bool) {
	if len(obj) == 0 {
		b.WriteString("{}")
		return
	}
	inner := prefix + indentUnit
	b.WriteByte('{')
	for i, p := range obj {
		if i > 0 {
			b.WriteByte(',')
		}
		if pretty {
			b.WriteByte('\n')
			b.WriteString(inner)
		} else if i > 0 {
			b.WriteByte(' ')
		}
		writeKey(b, p.Key)
		b.WriteString(": ")
		write(b, p.Value, inner, pretty)
	}
	if pretty {
		b.WriteByte('\n')
		b.WriteString(prefix)
	}
	b.WriteByte('}')
}

func writeArray(b *strings.Builder, items []any, prefix string, pretty bool) {
	if len(items) == 0 {
		b.WriteString("[]")
		return
	}
	// scalar arrays stay on one line even in pretty mode
	if pretty && !hasComposite(items) {
		pretty = false
	}
	inner := prefix + indentUnit
	b.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			b.WriteByte(',')
		}
		if pretty {
			b.WriteByte('\n')
			b.WriteString(inner)
		} else if i > 0 {
			b.WriteByte(' ')
		}
		write(b, item, inner, pretty)
	}
	if pretty {
		b.WriteByte('\n')
		b.WriteString(prefix)
	}
	b.WriteByte(']')
}

func hasComposite(items []any) bool {
	for _, item := range items {
		switch item.(type) {
		case Object, map[string]any, []any:
			return true
		}
		rv := reflect.ValueOf(item)
		if rv.Kind() == reflect.Map || rv.Kind() == reflect.Struct {
			return true
		}
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.String {
			return true
		}
	}
	return false
}

func writeFloat(b *strings.Builder, f float64) {
	switch {
	case math.IsNaN(f) || math.IsInf(f, 0):
		b.WriteString("null")
	case f == math.Trunc(f) && math.Abs(f) < 1e15:
		b.WriteString(strconv.FormatInt(int64(f), 10))
	default:
		b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	}
}

// reserved words that cannot appear as bare map keys when the literal is read
// back by the expression evaluator
var reservedKeys = map[string]bool{
	"in": true, "not": true, "and": true, "or": true, "matches": true,
	"contains": true, "startsWith": true, "endsWith": true, "nil": true,
	"true": true, "false": true, "let": true, "if": true, "else": true,
	"null": true, "undefined": true,
}

func writeKey(b *strings.Builder, key string) {
	if isIdentifier(key) && !reservedKeys[key] {
		b.WriteString(key)
		return
	}
	writeString(b, key)
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func writeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\u2028', '\u2029':
			fmt.Fprintf(b, `\u%04x`, r)
		default:
			if r < 0x20 {
				fmt.Fprintf(b, `\u%04x`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
}
