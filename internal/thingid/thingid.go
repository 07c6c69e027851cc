// Package thingid converts between platform object IDs and their ordinals.
//
// Object IDs are base-36 encoded, monotonically increasing integers. A
// fullname prefixes the ID with the object kind, e.g. "t3_abc12" for a
// submission. The feeder works purely on ordinals and uses this package to
// turn a claimed range back into fullnames for bulk fetching.
package thingid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the fullname prefix of a platform object type.
type Kind string

const (
	Comment   Kind = "t1"
	Account   Kind = "t2"
	Link      Kind = "t3"
	Message   Kind = "t4"
	Subreddit Kind = "t5"
)

// Prefix returns the kind with the trailing separator, e.g. "t3_".
func (k Kind) Prefix() string {
	return string(k) + "_"
}

// ErrEmptyID is returned when decoding an empty ID.
var ErrEmptyID = errors.New("empty id")

// Decode parses a base-36 ID into its ordinal. A fullname prefix, if
// present, is stripped first.
func Decode(id string) (int64, error) {
	if _, short, ok := strings.Cut(id, "_"); ok {
		id = short
	}
	if id == "" {
		return 0, ErrEmptyID
	}
	n, err := strconv.ParseInt(strings.ToLower(id), 36, 64)
	if err != nil {
		return 0, fmt.Errorf("decode id %q: %w", id, err)
	}
	return n, nil
}

// Encode renders an ordinal as a lowercase base-36 ID.
func Encode(n int64) string {
	return strconv.FormatInt(n, 36)
}

// Fullname returns the fullname of the object of the given kind and ordinal.
func Fullname(kind Kind, n int64) string {
	return kind.Prefix() + Encode(n)
}

// Split separates a fullname into kind and short ID. A bare ID yields an
// empty kind.
func Split(fullname string) (Kind, string) {
	kind, id, ok := strings.Cut(fullname, "_")
	if !ok {
		return "", fullname
	}
	return Kind(kind), id
}

// Range returns the fullnames for ordinals start..end inclusive.
func Range(kind Kind, start, end int64) []string {
	if end < start {
		return nil
	}
	out := make([]string, 0, end-start+1)
	for n := start; n <= end; n++ {
		out = append(out, Fullname(kind, n))
	}
	return out
}
