// Package message implements the HTTP message data model of spec.md §3:
// the shared Message base plus Request and Response, including the
// case-insensitive, insertion-order-preserving header and cookie
// multimaps.
package message

import (
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Header is a case-insensitive multimap preserving the insertion order
// of distinct keys, and the insertion order of repeated values for the
// same key (needed for multiple Set-Cookie lines). Lookup is
// case-insensitive; Add keeps the first-seen casing of each key for
// wire output, while Set adopts the casing it is given, matching
// spec.md §8's
// `get_header("Content-Type") == get_header("content-type")` invariant.
type Header struct {
	order   []string            // lower-cased keys, first-insertion order
	display map[string]string   // lower-cased key -> first-seen display casing
	values  map[string][]string // lower-cased key -> ordered values
}

// NewHeader creates an empty Header multimap.
func NewHeader() *Header {
	return &Header{
		display: make(map[string]string),
		values:  make(map[string][]string),
	}
}

func lower(name string) string { return strings.ToLower(name) }

// Add appends a value under name, preserving any existing values.
func (h *Header) Add(name, value string) {
	k := lower(name)
	if _, ok := h.display[k]; !ok {
		h.display[k] = name
		h.order = append(h.order, k)
	}
	h.values[k] = append(h.values[k], value)
}

// Set replaces all values under name with a single value and makes
// name's casing the key's display casing.
func (h *Header) Set(name, value string) {
	k := lower(name)
	if _, ok := h.display[k]; !ok {
		h.display[k] = name
		h.order = append(h.order, k)
	} else {
		h.display[k] = name
	}
	h.values[k] = []string{value}
}

// Get returns the first value under name, or "" if absent.
func (h *Header) Get(name string) string {
	vs := h.values[lower(name)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Values returns every value under name, in insertion order.
func (h *Header) Values(name string) []string {
	return h.values[lower(name)]
}

// Has reports whether any value is present under name.
func (h *Header) Has(name string) bool {
	_, ok := h.display[lower(name)]
	return ok
}

// Del removes all values under name.
func (h *Header) Del(name string) {
	k := lower(name)
	if _, ok := h.display[k]; !ok {
		return
	}
	delete(h.display, k)
	delete(h.values, k)
	for i, existing := range h.order {
		if existing == k {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Each calls fn once per (display-name, value) pair, iterating distinct
// keys in first-insertion order and, within each key, values in the
// order they were added.
func (h *Header) Each(fn func(name, value string)) {
	for _, k := range h.order {
		name := h.display[k]
		for _, v := range h.values[k] {
			fn(name, v)
		}
	}
}

// Clone returns a deep copy.
func (h *Header) Clone() *Header {
	out := NewHeader()
	h.Each(func(name, value string) { out.Add(name, value) })
	return out
}

// ContainsToken reports whether the comma-separated value(s) under name
// contain token, compared case-insensitively. Used for Connection:
// Upgrade / Transfer-Encoding: chunked matching (spec.md §4.3, §4.5).
// Delegates the comma-separated token scan to httpguts, the same helper
// net/http itself uses, rather than a hand-rolled splitter.
func (h *Header) ContainsToken(name, token string) bool {
	return httpguts.HeaderValuesContainsToken(h.Values(name), token)
}
