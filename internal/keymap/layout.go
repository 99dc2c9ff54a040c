package keymap

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"keycore/internal/keycode"
	"keycore/internal/layer"
)

// ErrNoLayouts is returned when the input has no [n] = LAYOUT(...) blocks.
var ErrNoLayouts = errors.New("keymap: no LAYOUT blocks found")

var (
	lineComment  = regexp.MustCompile(`//[^\n]*`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	layoutStart  = regexp.MustCompile(`\[\s*(\d+)\s*\]\s*=\s*LAYOUT\s*\(`)
)

// KeyError reports a keycode that failed to parse.
type KeyError struct {
	Layer int
	Index int
	Expr  string
	Err   error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("keymap: layer %d key %d (%s): %v", e.Layer, e.Index, e.Expr, e.Err)
}

func (e *KeyError) Unwrap() error { return e.Err }

// ParseLayouts extracts the raw keycode expressions of every LAYOUT block,
// keyed by layer number. Comments are stripped and commas nested in
// parentheses do not split.
func ParseLayouts(src string) (map[int][]string, error) {
	src = blockComment.ReplaceAllString(src, "")
	src = lineComment.ReplaceAllString(src, "")

	layouts := make(map[int][]string)
	for {
		loc := layoutStart.FindStringSubmatchIndex(src)
		if loc == nil {
			break
		}
		n, err := strconv.Atoi(src[loc[2]:loc[3]])
		if err != nil {
			return nil, fmt.Errorf("keymap: layer index: %w", err)
		}

		body, rest, ok := balanced(src[loc[1]:])
		if !ok {
			return nil, fmt.Errorf("keymap: layer %d: unbalanced parentheses", n)
		}
		if _, dup := layouts[n]; dup {
			return nil, fmt.Errorf("keymap: layer %d defined twice", n)
		}

		keys := keycode.SplitArgs(strings.Join(strings.Fields(body), " "))
		if len(keys) > 0 && keys[len(keys)-1] == "" {
			keys = keys[:len(keys)-1]
		}
		layouts[n] = keys
		src = rest
	}
	if len(layouts) == 0 {
		return nil, ErrNoLayouts
	}
	return layouts, nil
}

// balanced returns the text up to the parenthesis closing an already open
// one, and the text after it.
func balanced(s string) (body, rest string, ok bool) {
	depth := 1
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return s[:i], s[i+1:], true
			}
		}
	}
	return "", "", false
}

// ParseString builds a keymap from LAYOUT text. Layers missing from the text
// are left as KC_TRNS so they fall through to base.
func ParseString(src string) (*Keymap, error) {
	layouts, err := ParseLayouts(src)
	if err != nil {
		return nil, err
	}

	km := &Keymap{}
	for id := 1; id < layer.Count; id++ {
		for i := range km.Layers[id] {
			km.Layers[id][i] = keycode.TRNS
		}
	}

	ids := make([]int, 0, len(layouts))
	for n := range layouts {
		ids = append(ids, n)
	}
	sort.Ints(ids)

	var errs []error
	for _, n := range ids {
		if n >= layer.Count {
			errs = append(errs, fmt.Errorf("keymap: layer %d out of range", n))
			continue
		}
		exprs := layouts[n]
		if len(exprs) != KeyCount {
			errs = append(errs, fmt.Errorf("%w: layer %d has %d, want %d", ErrLayerSize, n, len(exprs), KeyCount))
			continue
		}
		codes := make([]keycode.Code, KeyCount)
		for i, expr := range exprs {
			kc, err := keycode.Parse(expr)
			if err != nil {
				errs = append(errs, &KeyError{Layer: n, Index: i, Expr: expr, Err: err})
				continue
			}
			codes[i] = kc
		}
		if err := km.SetLayer(layer.ID(n), codes); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return km, nil
}

// Parse reads LAYOUT text from r.
func Parse(r io.Reader) (*Keymap, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("keymap: read: %w", err)
	}
	return ParseString(string(b))
}
