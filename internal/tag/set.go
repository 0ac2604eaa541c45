package tag

import (
	"fmt"
	"slices"
)

// Set is an immutable, sorted collection of unique tags.
type Set struct {
	tags []Tag
}

// NewSet builds a set and rejects repeats with ErrDuplicate.
func NewSet(tags ...Tag) (Set, error) {
	out := make([]Tag, 0, len(tags))
	for _, t := range tags {
		if !t.IsValid() {
			return Set{}, fmt.Errorf("zero tag in set: %w", ErrInvalid)
		}
		if slices.Contains(out, t) {
			return Set{}, fmt.Errorf("%s: %w", t, ErrDuplicate)
		}
		out = append(out, t)
	}
	slices.SortFunc(out, Tag.Compare)
	return Set{tags: out}, nil
}

// Len returns the number of tags.
func (s Set) Len() int { return len(s.tags) }

// Slice returns a sorted copy of the tags.
func (s Set) Slice() []Tag { return slices.Clone(s.tags) }

// Strings returns the sorted tag names.
func (s Set) Strings() []string {
	out := make([]string, len(s.tags))
	for i, t := range s.tags {
		out[i] = t.String()
	}
	return out
}

// Has reports exact membership.
func (s Set) Has(t Tag) bool {
	return slices.Contains(s.tags, t)
}

// HasMatch reports whether any tag in the set matches q hierarchically.
func (s Set) HasMatch(q Tag) bool {
	for _, t := range s.tags {
		if t.Matches(q) {
			return true
		}
	}
	return false
}

// MostDetailed returns the deepest tag. Ties go to the lexically smallest name.
func (s Set) MostDetailed() Tag {
	var best Tag
	for _, t := range s.tags {
		if t.Depth() > best.Depth() {
			best = t
		}
	}
	return best
}
