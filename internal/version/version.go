// Package version models semantic versions, release tags, and the release
// history derived from previously published tags.
package version

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

var (
	stableTagPattern = regexp.MustCompile(`^v(\d+)\.(\d+)\.(\d+)$`)
	betaTagPattern   = regexp.MustCompile(`^v(\d+)\.(\d+)\.(\d+)-beta\.([1-9]\d*)$`)
)

// SemanticVersion is an immutable {major, minor, patch} triple.
type SemanticVersion struct {
	Major int
	Minor int
	Patch int
}

// String renders the version without the leading v.
func (v SemanticVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0, or 1 ordering v against other.
func (v SemanticVersion) Compare(other SemanticVersion) int {
	switch {
	case v.Major != other.Major:
		return sign(v.Major - other.Major)
	case v.Minor != other.Minor:
		return sign(v.Minor - other.Minor)
	default:
		return sign(v.Patch - other.Patch)
	}
}

// Less reports whether v orders strictly before other.
func (v SemanticVersion) Less(other SemanticVersion) bool {
	return v.Compare(other) < 0
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

// Bump names a version increment.
type Bump string

const (
	BumpMajor Bump = "major"
	BumpMinor Bump = "minor"
	BumpPatch Bump = "patch"
)

// Valid reports whether b is a known bump kind.
func (b Bump) Valid() bool {
	return b == BumpMajor || b == BumpMinor || b == BumpPatch
}

// Apply returns the bumped version. Major resets minor and patch; minor
// resets patch.
func (b Bump) Apply(v SemanticVersion) SemanticVersion {
	switch b {
	case BumpMajor:
		return SemanticVersion{Major: v.Major + 1}
	case BumpMinor:
		return SemanticVersion{Major: v.Major, Minor: v.Minor + 1}
	default:
		return SemanticVersion{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}
	}
}

// Tag is a published release tag: either stable (vX.Y.Z) or beta
// (vX.Y.Z-beta.N with N >= 1, where vX.Y.Z is the base).
type Tag struct {
	Base SemanticVersion
	Beta bool
	Seq  int
}

// String renders the canonical tag form.
func (t Tag) String() string {
	if t.Beta {
		return fmt.Sprintf("v%s-beta.%d", t.Base, t.Seq)
	}
	return "v" + t.Base.String()
}

// Compare orders tags by base version, with a stable tag ranking above every
// beta of the same base and betas ordered by sequence number.
func (t Tag) Compare(other Tag) int {
	if c := t.Base.Compare(other.Base); c != 0 {
		return c
	}
	if t.Beta != other.Beta {
		if t.Beta {
			return -1
		}
		return 1
	}
	return sign(t.Seq - other.Seq)
}

// ParseStable parses a vX.Y.Z tag.
func ParseStable(tag string) (SemanticVersion, bool) {
	m := stableTagPattern.FindStringSubmatch(tag)
	if m == nil {
		return SemanticVersion{}, false
	}
	return SemanticVersion{Major: mustInt(m[1]), Minor: mustInt(m[2]), Patch: mustInt(m[3])}, true
}

// ParseBeta parses a vX.Y.Z-beta.N tag into its base version and sequence
// number.
func ParseBeta(tag string) (SemanticVersion, int, bool) {
	m := betaTagPattern.FindStringSubmatch(tag)
	if m == nil {
		return SemanticVersion{}, 0, false
	}
	base := SemanticVersion{Major: mustInt(m[1]), Minor: mustInt(m[2]), Patch: mustInt(m[3])}
	return base, mustInt(m[4]), true
}

// ParseTag parses either tag form.
func ParseTag(tag string) (Tag, bool) {
	if v, ok := ParseStable(tag); ok {
		return Tag{Base: v}, true
	}
	if base, seq, ok := ParseBeta(tag); ok {
		return Tag{Base: base, Beta: true, Seq: seq}, true
	}
	return Tag{}, false
}

// FormatStable renders v as a stable tag.
func FormatStable(v SemanticVersion) string {
	return Tag{Base: v}.String()
}

// FormatBeta renders base and seq as a beta tag.
func FormatBeta(base SemanticVersion, seq int) string {
	return Tag{Base: base, Beta: true, Seq: seq}.String()
}

// mustInt converts the digit groups the tag patterns matched.
func mustInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		panic(fmt.Sprintf("tag pattern matched non-integer %q", s))
	}
	return n
}

// History is the read-only view over previously published tags: the latest
// stable version, the latest beta base, and the highest sequence number per
// beta base. Tags not matching either grammar are excluded, not errors.
type History struct {
	latestStable   SemanticVersion
	hasStable      bool
	latestBetaBase SemanticVersion
	hasBeta        bool
	betaSeq        map[SemanticVersion]int
	tags           map[string]bool
}

// ComputeHistory reduces a list of published tag names to a History.
func ComputeHistory(tags []string) History {
	h := History{
		betaSeq: make(map[SemanticVersion]int),
		tags:    make(map[string]bool),
	}
	for _, tag := range tags {
		parsed, ok := ParseTag(tag)
		if !ok {
			continue
		}
		h.tags[parsed.String()] = true
		if parsed.Beta {
			if !h.hasBeta || h.latestBetaBase.Less(parsed.Base) {
				h.latestBetaBase = parsed.Base
				h.hasBeta = true
			}
			if parsed.Seq > h.betaSeq[parsed.Base] {
				h.betaSeq[parsed.Base] = parsed.Seq
			}
			continue
		}
		if !h.hasStable || h.latestStable.Less(parsed.Base) {
			h.latestStable = parsed.Base
			h.hasStable = true
		}
	}
	return h
}

// LatestStable returns the highest published stable version.
func (h History) LatestStable() (SemanticVersion, bool) {
	return h.latestStable, h.hasStable
}

// LatestBetaBase returns the highest base version any beta tag used.
func (h History) LatestBetaBase() (SemanticVersion, bool) {
	return h.latestBetaBase, h.hasBeta
}

// MaxBetaSeq returns the highest sequence number published for a beta base,
// zero when the base has no betas.
func (h History) MaxBetaSeq(base SemanticVersion) int {
	return h.betaSeq[base]
}

// Contains reports whether the exact tag was already published.
func (h History) Contains(tag Tag) bool {
	return h.tags[tag.String()]
}

// Tags returns every published tag, newest first.
func (h History) Tags() []Tag {
	out := make([]Tag, 0, len(h.tags))
	for raw := range h.tags {
		if t, ok := ParseTag(raw); ok {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[j].Compare(out[i]) < 0 })
	return out
}
