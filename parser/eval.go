package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/ridoystarlord/pbmigrato/registry"
)

const lookupFunc = "findCollectionByNameOrId"

// evalOptions lets literals call the collection lookup. Nothing else from the
// host is reachable.
var evalOptions = []expr.Option{
	expr.Function(lookupFunc, lookupStub),
}

// lookupStub stands in for the platform lookup. It has no collections to
// search, so it echoes the reference back as both id and name.
func lookupStub(params ...any) (any, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("%s expects one argument, got %d", lookupFunc, len(params))
	}
	ref, ok := params[0].(string)
	if !ok {
		return nil, fmt.Errorf("%s expects a string, got %T", lookupFunc, params[0])
	}
	id := ref
	if registry.IsUsers(ref) {
		id = registry.UsersCollectionID
	}
	return map[string]any{"id": id, "name": ref}, nil
}

// evaluate computes the value of a JavaScript literal expression.
func evaluate(src string) (any, error) {
	code, err := rewrite(src)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("empty expression")
	}
	program, err := expr.Compile(code, evalOptions...)
	if err != nil {
		return nil, fmt.Errorf("compiling %q: %w", shorten(src), err)
	}
	out, err := expr.Run(program, map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("evaluating %q: %w", shorten(src), err)
	}
	return out, nil
}

// rewrite turns JavaScript literal syntax into the expression language:
// null and undefined become nil, the app lookup becomes a plain call,
// template strings become quoted strings, trailing commas and comments go.
// When an object repeats a key only the last occurrence is kept.
func rewrite(src string) (string, error) {
	src, err := stripComments(src)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '"' || c == '\'':
			end, err := literalEnd(src, i)
			if err != nil {
				return "", err
			}
			b.WriteString(src[i:end])
			i = end
			continue
		case c == '`':
			end, err := literalEnd(src, i)
			if err != nil {
				return "", err
			}
			body := src[i+1 : end-1]
			if strings.Contains(body, "${") {
				return "", fmt.Errorf("template string with substitutions is not a literal")
			}
			b.WriteString(strconv.Quote(strings.ReplaceAll(body, "\\`", "`")))
			i = end
			continue
		case c == ',':
			j := i + 1
			for j < len(src) && isSpace(src[j]) {
				j++
			}
			if j < len(src) && (src[j] == '}' || src[j] == ']') {
				i = j
				continue
			}
		case isIdentByte(c) && !(c >= '0' && c <= '9'):
			j := i
			for j < len(src) && isIdentByte(src[j]) {
				j++
			}
			word := src[i:j]
			switch {
			case word == "null" || word == "undefined":
				b.WriteString("nil")
			case word == "app" && strings.HasPrefix(src[j:], "."+lookupFunc):
				b.WriteString(lookupFunc)
				j += len("." + lookupFunc)
			default:
				b.WriteString(word)
			}
			i = j
			continue
		}

		b.WriteByte(c)
		i++
	}
	return dropShadowedKeys(b.String())
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func shorten(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 60 {
		return s[:57] + "..."
	}
	return s
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case nil:
		return false, true
	}
	return false, false
}

func asInt(v any) (int, bool) {
	switch val := v.(type) {
	case nil:
		return 0, true
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		if val != math.Trunc(val) {
			return 0, false
		}
		return int(val), true
	}
	return 0, false
}

// collectionRef reads a relation target. Evaluated lookups yield a map with
// the identifier.
func collectionRef(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case map[string]any:
		if id, ok := val["id"].(string); ok {
			return id, true
		}
		if name, ok := val["name"].(string); ok {
			return name, true
		}
	}
	return "", false
}
