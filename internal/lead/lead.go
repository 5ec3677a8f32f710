// Package lead decodes dialer launch parameters into a read-only lead context.
package lead

import (
	"net/url"
	"strings"
)

// Context is an immutable, ordered snapshot of lead fields. Key order follows the
// launch query so first-match lookups are deterministic. The zero value is empty.
type Context struct {
	keys   []string
	values map[string]string
}

var unfilled = map[string]struct{}{
	"null":      {},
	"undefined": {},
	"none":      {},
}

// delimiter pairs a dialer leaves around a field it could not fill
var placeholderDelims = [][2]string{
	{"--A--", "--B--"},
	{"{{", "}}"},
	{"[", "]"},
}

// Parse decodes a raw query string. It never fails: malformed pairs are skipped and
// missing data yields an empty context.
func Parse(rawQuery string) Context {
	rawQuery = strings.TrimPrefix(strings.TrimSpace(rawQuery), "?")
	ctx := Context{values: map[string]string{}}
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			continue
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			continue
		}
		ctx.add(key, value)
	}
	return ctx
}

func (c *Context) add(key, value string) {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" || !Filled(value) {
		return
	}
	if _, exists := c.values[key]; exists {
		return
	}
	c.keys = append(c.keys, key)
	c.values[key] = value
}

// Filled reports whether a trimmed value carries real data rather than an empty
// string, an unfilled sentinel or an unresolved placeholder.
func Filled(value string) bool {
	if value == "" {
		return false
	}
	if _, ok := unfilled[strings.ToLower(value)]; ok {
		return false
	}
	for _, d := range placeholderDelims {
		if len(value) >= len(d[0])+len(d[1]) && strings.HasPrefix(value, d[0]) && strings.HasSuffix(value, d[1]) {
			return false
		}
	}
	return true
}

func (c Context) Get(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Value returns the field or "" when absent.
func (c Context) Value(key string) string {
	return c.values[key]
}

// Keys returns the field names in launch order.
func (c Context) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

func (c Context) Len() int {
	return len(c.keys)
}

// Map returns a copy of the fields.
func (c Context) Map() map[string]string {
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}
