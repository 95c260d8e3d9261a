package shim

import (
	"net/url"
	"strings"
)

// Param is one key/value pair of a query string.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered query string, with URLSearchParams semantics.
type Params struct {
	entries  []Param
	fallback *Params
}

// ParseParams parses a query string; a leading "?" is ignored and "+" means space.
func ParseParams(query string) *Params {
	query = strings.TrimPrefix(query, "?")
	p := &Params{}
	if query == "" {
		return p
	}
	for _, part := range strings.Split(query, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		p.entries = append(p.entries, Param{Key: unescape(k), Value: unescape(v)})
	}
	return p
}

func unescape(s string) string {
	out, err := url.QueryUnescape(s)
	if err != nil {
		return strings.ReplaceAll(s, "+", " ")
	}
	return out
}

// Entries returns a copy of the pairs in order.
func (p *Params) Entries() []Param {
	return append([]Param(nil), p.entries...)
}

// Len returns the number of pairs.
func (p *Params) Len() int {
	return len(p.entries)
}

// Get returns the first value for key. An empty instance with a fallback
// answers from the fallback.
func (p *Params) Get(key string) (string, bool) {
	if len(p.entries) == 0 && p.fallback != nil {
		return p.fallback.Get(key)
	}
	for _, e := range p.entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// GetAll returns every value for key.
func (p *Params) GetAll(key string) []string {
	var out []string
	for _, e := range p.entries {
		if e.Key == key {
			out = append(out, e.Value)
		}
	}
	return out
}

// Has reports whether key is present.
func (p *Params) Has(key string) bool {
	for _, e := range p.entries {
		if e.Key == key {
			return true
		}
	}
	return false
}

// Append adds a pair.
func (p *Params) Append(key, value string) {
	p.entries = append(p.entries, Param{Key: key, Value: value})
}

// Set replaces every value of key with one value.
func (p *Params) Set(key, value string) {
	out := p.entries[:0]
	found := false
	for _, e := range p.entries {
		if e.Key != key {
			out = append(out, e)
			continue
		}
		if !found {
			out = append(out, Param{Key: key, Value: value})
			found = true
		}
	}
	p.entries = out
	if !found {
		p.Append(key, value)
	}
}

// String serializes the pairs in application/x-www-form-urlencoded form.
func (p *Params) String() string {
	parts := make([]string, 0, len(p.entries))
	for _, e := range p.entries {
		parts = append(parts, url.QueryEscape(e.Key)+"="+url.QueryEscape(e.Value))
	}
	return strings.Join(parts, "&")
}
