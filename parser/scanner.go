package parser

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	errUnterminatedString  = errors.New("unterminated string literal")
	errUnterminatedComment = errors.New("unterminated block comment")
	errUnbalanced          = errors.New("unbalanced brackets")
)

// literalEnd returns the index just past the quoted literal that starts at i.
func literalEnd(src string, i int) (int, error) {
	quote := src[i]
	for j := i + 1; j < len(src); j++ {
		switch src[j] {
		case '\\':
			j++
		case quote:
			return j + 1, nil
		case '\n':
			if quote != '`' {
				return 0, fmt.Errorf("%w at offset %d", errUnterminatedString, i)
			}
		}
	}
	return 0, fmt.Errorf("%w at offset %d", errUnterminatedString, i)
}

// commentEnd returns the index just past the comment that starts at i. ok is
// false when no comment starts there.
func commentEnd(src string, i int) (end int, ok bool, err error) {
	if src[i] != '/' || i+1 >= len(src) {
		return 0, false, nil
	}
	switch src[i+1] {
	case '/':
		if nl := strings.IndexByte(src[i:], '\n'); nl >= 0 {
			return i + nl, true, nil
		}
		return len(src), true, nil
	case '*':
		if close := strings.Index(src[i+2:], "*/"); close >= 0 {
			return i + 2 + close + 2, true, nil
		}
		return 0, true, fmt.Errorf("%w at offset %d", errUnterminatedComment, i)
	}
	return 0, false, nil
}

func isOpen(c byte) bool  { return c == '(' || c == '[' || c == '{' }
func isClose(c byte) bool { return c == ')' || c == ']' || c == '}' }

// scan calls visit for every byte of src that is code, skipping string
// literals and comments. depth is the bracket nesting level the byte sits
// at; an opening bracket and its matching close share the same depth.
// Returning false from visit stops the walk.
func scan(src string, visit func(i, depth int) bool) error {
	depth := 0
	for i := 0; i < len(src); {
		c := src[i]
		if c == '"' || c == '\'' || c == '`' {
			end, err := literalEnd(src, i)
			if err != nil {
				return err
			}
			i = end
			continue
		}
		end, ok, err := commentEnd(src, i)
		if err != nil {
			return err
		}
		if ok {
			i = end
			continue
		}

		if isClose(c) {
			depth--
			if depth < 0 {
				return fmt.Errorf("%w: unexpected %q at offset %d", errUnbalanced, c, i)
			}
		}
		if !visit(i, depth) {
			return nil
		}
		if isOpen(c) {
			depth++
		}
		i++
	}
	if depth != 0 {
		return errUnbalanced
	}
	return nil
}

// stripComments removes comments and leaves string literals untouched.
func stripComments(src string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(src); {
		c := src[i]
		if c == '"' || c == '\'' || c == '`' {
			end, err := literalEnd(src, i)
			if err != nil {
				return "", err
			}
			b.WriteString(src[i:end])
			i = end
			continue
		}
		end, ok, err := commentEnd(src, i)
		if err != nil {
			return "", err
		}
		if ok {
			b.WriteByte(' ')
			i = end
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String(), nil
}

// matchClose returns the index of the bracket closing the one at open.
func matchClose(src string, open int) (int, error) {
	if open >= len(src) || !isOpen(src[open]) {
		return 0, fmt.Errorf("no opening bracket at offset %d", open)
	}
	found := -1
	err := scan(src[open:], func(i, depth int) bool {
		if i > 0 && depth == 0 && isClose(src[open+i]) {
			found = open + i
			return false
		}
		return true
	})
	if err != nil && !errors.Is(err, errUnbalanced) {
		return 0, err
	}
	if found < 0 {
		return 0, fmt.Errorf("%w: %q opened at offset %d is never closed", errUnbalanced, src[open], open)
	}
	return found, nil
}

// splitTopLevel splits src on sep wherever sep is code at depth zero. Empty
// trailing parts are dropped.
func splitTopLevel(src string, sep byte) ([]string, error) {
	var parts []string
	start := 0
	err := scan(src, func(i, depth int) bool {
		if depth == 0 && src[i] == sep {
			parts = append(parts, src[start:i])
			start = i + 1
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	parts = append(parts, src[start:])

	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// indexCode returns the first position of needle in src that is code rather
// than part of a string or comment, or -1.
func indexCode(src, needle string, from int) int {
	found := -1
	_ = scan(src, func(i, _ int) bool {
		if i >= from && strings.HasPrefix(src[i:], needle) {
			found = i
			return false
		}
		return true
	})
	return found
}

// forwardBlock returns the body of the first function passed to migrate().
func forwardBlock(src string) (string, error) {
	call := -1
	err := scan(src, func(i, depth int) bool {
		if depth == 0 && strings.HasPrefix(src[i:], "migrate") && (i == 0 || !isIdentByte(src[i-1])) {
			rest := strings.TrimLeft(src[i+len("migrate"):], " \t\r\n")
			if strings.HasPrefix(rest, "(") {
				call = len(src) - len(rest)
				return false
			}
		}
		return true
	})
	if err != nil {
		return "", err
	}
	if call < 0 {
		return "", errors.New("no migrate() call found")
	}

	end, err := matchClose(src, call)
	if err != nil {
		return "", err
	}
	args, err := splitTopLevel(src[call+1:end], ',')
	if err != nil {
		return "", err
	}
	if len(args) == 0 {
		return "", errors.New("migrate() has no forward function")
	}

	fn := args[0]
	open := indexCode(fn, "{", 0)
	if open < 0 {
		return "", errors.New("forward function has no body")
	}
	close, err := matchClose(fn, open)
	if err != nil {
		return "", err
	}
	return fn[open+1 : close], nil
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// dropShadowedKeys removes every object property that a later property of
// the same object overrides, so the last occurrence of a key wins as it does
// in JavaScript. src must be free of comments.
func dropShadowedKeys(src string) (string, error) {
	type frame struct {
		object bool
		props  []keySpan
		open   int
		key    string
	}

	var (
		stack     []*frame
		cuts      [][2]int
		expectKey bool
	)
	endProp := func(f *frame, end int) {
		if f.open >= 0 {
			f.props = append(f.props, keySpan{key: f.key, start: f.open, end: end})
			f.open = -1
		}
	}
	startKey := func(start, end int, key string) {
		if !expectKey || len(stack) == 0 {
			return
		}
		top := stack[len(stack)-1]
		if top.object && nextCode(src, end) == ':' {
			top.open, top.key = start, key
		}
	}

	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case isSpace(c):
			i++
			continue
		case c == '"' || c == '\'':
			end, err := literalEnd(src, i)
			if err != nil {
				return "", err
			}
			startKey(i, end, unquoteKey(src[i:end]))
			expectKey = false
			i = end
			continue
		case isIdentByte(c):
			j := i
			for j < len(src) && isIdentByte(src[j]) {
				j++
			}
			startKey(i, j, src[i:j])
			expectKey = false
			i = j
			continue
		case isOpen(c):
			stack = append(stack, &frame{object: c == '{', open: -1})
			expectKey = c == '{'
		case isClose(c):
			if len(stack) == 0 {
				return "", fmt.Errorf("%w: unexpected %q at offset %d", errUnbalanced, c, i)
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			endProp(top, i)
			cuts = append(cuts, shadowed(top.props)...)
			expectKey = false
		case c == ',':
			var top *frame
			if len(stack) > 0 {
				top = stack[len(stack)-1]
			}
			expectKey = top != nil && top.object
			if expectKey {
				endProp(top, i+1)
			}
		default:
			expectKey = false
		}
		i++
	}
	if len(cuts) == 0 {
		return src, nil
	}

	sort.Slice(cuts, func(i, j int) bool { return cuts[i][0] < cuts[j][0] })
	var b strings.Builder
	pos := 0
	for _, cut := range cuts {
		if cut[0] >= pos {
			b.WriteString(src[pos:cut[0]])
		}
		if cut[1] > pos {
			pos = cut[1]
		}
	}
	b.WriteString(src[pos:])
	return b.String(), nil
}

// keySpan is one property of an object literal: its key and the source
// range from the key through its trailing comma.
type keySpan struct {
	key        string
	start, end int
}

// shadowed returns the ranges of props whose key appears again later.
func shadowed(props []keySpan) [][2]int {
	last := map[string]int{}
	for i, p := range props {
		last[p.key] = i
	}
	var out [][2]int
	for i, p := range props {
		if last[p.key] != i {
			out = append(out, [2]int{p.start, p.end})
		}
	}
	return out
}

// nextCode returns the first non-space byte at or after i, or 0.
func nextCode(src string, i int) byte {
	for ; i < len(src); i++ {
		if !isSpace(src[i]) {
			return src[i]
		}
	}
	return 0
}

func unquoteKey(lit string) string {
	if lit[0] == '"' {
		if s, err := strconv.Unquote(lit); err == nil {
			return s
		}
	}
	return lit[1 : len(lit)-1]
}
