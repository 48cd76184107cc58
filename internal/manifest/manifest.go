// Package manifest defines the release manifest written to the distribution
// repository: a versioned JSON document recording which commit of every
// tracked repository makes up a release.
//
// The schema field guards against newer tools reading documents they do not
// understand. Documents are encoded deterministically (pins sorted by repo
// id) so equivalent releases produce byte-identical files.
package manifest

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/fyrsmithlabs/relkit/internal/config"
)

// SchemaVersion is the manifest document version this build reads and writes.
const SchemaVersion = 1

// RepoPin records one repository's exact commit within a release.
type RepoPin struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	SHA  string `json:"sha"`
	Ref  string `json:"ref,omitempty"`
}

// Manifest is the immutable record of a published release.
type Manifest struct {
	Schema    int       `json:"schema"`
	Product   string    `json:"product"`
	Channel   string    `json:"channel"`
	Tag       string    `json:"tag"`
	CreatedAt time.Time `json:"createdAt"`
	CreatedBy string    `json:"createdBy,omitempty"`
	Pins      []RepoPin `json:"pins"`

	// Assets, InstallSets, and Pages record the artifact matrix the
	// downstream workflow builds for this tag.
	Assets      []config.Asset      `json:"assets,omitempty"`
	InstallSets []config.InstallSet `json:"install_sets,omitempty"`
	Pages       bool                `json:"pages,omitempty"`
}

// New builds a manifest for a release, stamping the current time and sorting
// pins by repo id. The product contributes its configured asset matrix.
func New(product config.Product, channel, tag, createdBy string, pins []RepoPin) *Manifest {
	sorted := make([]RepoPin, len(pins))
	copy(sorted, pins)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &Manifest{
		Schema:      SchemaVersion,
		Product:     product.Name,
		Channel:     channel,
		Tag:         tag,
		CreatedAt:   time.Now().UTC(),
		CreatedBy:   createdBy,
		Pins:        sorted,
		Assets:      product.Assets,
		InstallSets: product.InstallSets,
		Pages:       product.Pages,
	}
}

// Encode renders the manifest as indented JSON with a trailing newline.
func Encode(m *Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses and validates a manifest document. Documents with an
// unsupported schema version are rejected.
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if m.Schema != SchemaVersion {
		return nil, fmt.Errorf("unsupported manifest schema %d (expected %d)", m.Schema, SchemaVersion)
	}
	if m.Tag == "" {
		return nil, fmt.Errorf("manifest has no tag")
	}
	return &m, nil
}

// Pin returns the pin for a repo id.
func (m *Manifest) Pin(id string) (RepoPin, bool) {
	for _, p := range m.Pins {
		if p.ID == id {
			return p, true
		}
	}
	return RepoPin{}, false
}

// Equivalent reports whether two manifests describe the same release:
// identical product, channel, tag, and pinned commits. Timestamps, authors,
// and pin refs are informational and do not affect equivalence.
func (m *Manifest) Equivalent(other *Manifest) bool {
	if other == nil {
		return false
	}
	if m.Product != other.Product || m.Channel != other.Channel || m.Tag != other.Tag {
		return false
	}
	if len(m.Pins) != len(other.Pins) {
		return false
	}
	for _, p := range m.Pins {
		o, ok := other.Pin(p.ID)
		if !ok || o.Slug != p.Slug || o.SHA != p.SHA {
			return false
		}
	}
	return true
}

// PathFor is the manifest's path inside the distribution repository.
func PathFor(tag string) string {
	return path.Join("releases", tag, "manifest.json")
}

// NotesPathFor is the release notes path inside the distribution repository.
func NotesPathFor(tag string) string {
	return path.Join("releases", tag, "notes.md")
}
