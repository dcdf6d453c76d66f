// Package clinical defines the entity model for prescription validation.
package clinical

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidInput marks malformed input that must be rejected rather than turned into an alert
var ErrInvalidInput = errors.New("invalid input")

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// TagSet is an unordered, duplicate-free set of tags
type TagSet map[string]struct{}

// NewTagSet builds a set from a list of tags
func NewTagSet(tags ...string) TagSet {
	s := make(TagSet, len(tags))
	for _, t := range tags {
		s[t] = struct{}{}
	}
	return s
}

// Has reports whether the tag is in the set
func (s TagSet) Has(tag string) bool {
	_, ok := s[tag]
	return ok
}

// Intersect returns the tags present in both sets, sorted
func (s TagSet) Intersect(other TagSet) []string {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	var out []string
	for t := range small {
		if large.Has(t) {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// Slice returns the tags sorted
func (s TagSet) Slice() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a sorted array
func (s TagSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

// UnmarshalJSON decodes an array into the set
func (s *TagSet) UnmarshalJSON(data []byte) error {
	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		return err
	}
	*s = NewTagSet(tags...)
	return nil
}
