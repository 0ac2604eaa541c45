// Package tag implements hierarchical classification tags such as
// "Regions.Areas.Town.Tavern". Tags are interned, so equality and map lookups
// cost a pointer comparison. A tag matches any of its ancestors:
// "Regions.Safe.Indoor" matches "Regions.Safe".
package tag

import (
	"errors"
	"fmt"
	"strings"
	"unique"
)

const separator = "."

var (
	// ErrInvalid is returned for empty names, empty segments or whitespace.
	ErrInvalid = errors.New("invalid tag")
	// ErrDuplicate is returned when a set is built from repeated tags.
	ErrDuplicate = errors.New("duplicate tag")
)

// Tag is an interned hierarchical name. The zero Tag is invalid and matches nothing.
type Tag struct {
	h unique.Handle[string]
}

// New parses and interns name.
func New(name string) (Tag, error) {
	if name == "" {
		return Tag{}, fmt.Errorf("empty name: %w", ErrInvalid)
	}
	if strings.ContainsAny(name, " \t\r\n") {
		return Tag{}, fmt.Errorf("%q contains whitespace: %w", name, ErrInvalid)
	}
	for _, seg := range strings.Split(name, separator) {
		if seg == "" {
			return Tag{}, fmt.Errorf("%q has an empty segment: %w", name, ErrInvalid)
		}
	}
	return Tag{h: unique.Make(name)}, nil
}

// MustNew is New for package-level constants; it panics on invalid names.
func MustNew(name string) Tag {
	t, err := New(name)
	if err != nil {
		panic(err)
	}
	return t
}

// Parse converts a list of names into tags.
func Parse(names ...string) ([]Tag, error) {
	out := make([]Tag, 0, len(names))
	for _, n := range names {
		t, err := New(n)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// IsValid reports whether t was produced by New.
func (t Tag) IsValid() bool { return t.h != unique.Handle[string]{} }

// String returns the dotted name, or "" for the zero Tag.
func (t Tag) String() string {
	if !t.IsValid() {
		return ""
	}
	return t.h.Value()
}

// Depth returns the number of segments: "A.B.C" has depth 3.
func (t Tag) Depth() int {
	if !t.IsValid() {
		return 0
	}
	return strings.Count(t.h.Value(), separator) + 1
}

// Parent returns the tag with the last segment removed, or the zero Tag for roots.
func (t Tag) Parent() Tag {
	if !t.IsValid() {
		return Tag{}
	}
	s := t.h.Value()
	i := strings.LastIndex(s, separator)
	if i < 0 {
		return Tag{}
	}
	return Tag{h: unique.Make(s[:i])}
}

// Matches reports whether t equals other or is a descendant of it.
func (t Tag) Matches(other Tag) bool {
	if !t.IsValid() || !other.IsValid() {
		return false
	}
	if t.h == other.h {
		return true
	}
	s, p := t.h.Value(), other.h.Value()
	return len(s) > len(p) && strings.HasPrefix(s, p) && s[len(p)] == '.'
}

// MatchesExact reports whether t and other are the same tag.
func (t Tag) MatchesExact(other Tag) bool {
	return t.IsValid() && t.h == other.h
}

// Compare orders tags by name; it is used for deterministic output.
func (t Tag) Compare(other Tag) int {
	return strings.Compare(t.String(), other.String())
}

// MarshalText implements encoding.TextMarshaler.
func (t Tag) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tag) UnmarshalText(b []byte) error {
	v, err := New(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
