/*
prefix.go - Hierarchical type taxonomy and longest-prefix lookup

PURPOSE:
  Expense types are hierarchical codes: "FRH-H" is a child of "FRH",
  "AFM.B.2" a child of "AFM.B" which is a child of "AFM". Both '-' and '.'
  separate levels.

  Several tables are keyed by such prefixes (condition rules, accounting
  accounts, per-account auto-engagement ceilings) and all resolve the same
  way: the MOST SPECIFIC registered prefix wins, and only that one. Lookup
  walks the code's prefixes from longest to shortest and stops at the first
  hit. It never iterates over the map, so the result does not depend on map
  order.

EXAMPLE:
  t := NewPrefixTable[string]()
  t.Set("AFM", "general")
  t.Set("AFM-B", "specific")
  t.Resolve("AFM-B")   // "specific", "AFM-B", true
  t.Resolve("AFM-G")   // "general",  "AFM",   true
  t.Resolve("FRH")     // "",         "",      false
*/
package generic

import (
	"sort"
	"strings"
)

// =============================================================================
// TYPE CODE
// =============================================================================

// TypeCode is a hierarchical, separator-delimited type such as "FRH-H".
type TypeCode string

func isTypeSeparator(r rune) bool { return r == '-' || r == '.' }

// Normalize upper-cases and trims the code.
func (c TypeCode) Normalize() TypeCode {
	return TypeCode(strings.ToUpper(strings.TrimSpace(string(c))))
}

// Prefixes returns the code and each ancestor, most specific first:
// "AFM-B.2" -> ["AFM-B.2", "AFM-B", "AFM"].
func (c TypeCode) Prefixes() []TypeCode {
	s := string(c.Normalize())
	if s == "" {
		return nil
	}
	out := []TypeCode{TypeCode(s)}
	for i := len(s) - 1; i > 0; i-- {
		if isTypeSeparator(rune(s[i])) {
			out = append(out, TypeCode(s[:i]))
		}
	}
	return out
}

// Root returns the top-level ancestor ("FRH" for "FRH-H").
func (c TypeCode) Root() TypeCode {
	p := c.Prefixes()
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// IsDescendantOf reports whether c equals parent or lies below it.
func (c TypeCode) IsDescendantOf(parent TypeCode) bool {
	parent = parent.Normalize()
	for _, p := range c.Prefixes() {
		if p == parent {
			return true
		}
	}
	return false
}

// =============================================================================
// PREFIX TABLE
// =============================================================================

// PrefixTable maps type prefixes to values with longest-prefix resolution.
// Build it once, then share it read-only.
type PrefixTable[V any] struct {
	entries map[TypeCode]V
}

func NewPrefixTable[V any]() *PrefixTable[V] {
	return &PrefixTable[V]{entries: make(map[TypeCode]V)}
}

// PrefixTableOf builds a table from a plain map.
func PrefixTableOf[V any](m map[string]V) *PrefixTable[V] {
	t := NewPrefixTable[V]()
	for k, v := range m {
		t.Set(TypeCode(k), v)
	}
	return t
}

func (t *PrefixTable[V]) Set(prefix TypeCode, v V) {
	t.entries[prefix.Normalize()] = v
}

// Resolve returns the value registered for the most specific prefix of code.
func (t *PrefixTable[V]) Resolve(code TypeCode) (V, TypeCode, bool) {
	var zero V
	if t == nil {
		return zero, "", false
	}
	for _, p := range code.Prefixes() {
		if v, ok := t.entries[p]; ok {
			return v, p, true
		}
	}
	return zero, "", false
}

// Get returns the value registered for exactly prefix.
func (t *PrefixTable[V]) Get(prefix TypeCode) (V, bool) {
	v, ok := t.entries[prefix.Normalize()]
	return v, ok
}

func (t *PrefixTable[V]) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Keys returns the registered prefixes in lexical order.
func (t *PrefixTable[V]) Keys() []TypeCode {
	if t == nil {
		return nil
	}
	keys := make([]TypeCode, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
