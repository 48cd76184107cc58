package plan

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/fyrsmithlabs/relkit/internal/config"
	"github.com/fyrsmithlabs/relkit/internal/fault"
	"github.com/fyrsmithlabs/relkit/internal/manifest"
	"github.com/fyrsmithlabs/relkit/internal/resolve"
	"github.com/fyrsmithlabs/relkit/internal/version"
)

// FileSchemaVersion is the plan file document version this build reads and
// writes.
const FileSchemaVersion = 1

var fileShaPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

type fileRepo struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	SHA  string `json:"sha"`
	Ref  string `json:"ref,omitempty"`
}

type planFile struct {
	Schema  int        `json:"schema"`
	Product string     `json:"product"`
	Channel string     `json:"channel"`
	Tag     string     `json:"tag"`
	Repos   []fileRepo `json:"repos"`
}

// WriteFile records a release plan as a versioned JSON document so the same
// release can be reproduced later with `release plan`.
func WriteFile(fs afero.Fs, path string, rp *ReleasePlan) error {
	doc := planFile{
		Schema:  FileSchemaVersion,
		Product: rp.Product,
		Channel: string(rp.Channel),
		Tag:     rp.Tag,
	}
	for _, pin := range rp.Pins {
		doc.Repos = append(doc.Repos, fileRepo{
			ID:   pin.Repo.ID,
			Slug: pin.Repo.Slug,
			SHA:  pin.SHA,
			Ref:  pin.Repo.Ref,
		})
	}
	sort.Slice(doc.Repos, func(i, j int) bool { return doc.Repos[i].ID < doc.Repos[j].ID })

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fault.Wrapf(fault.IOFailed, err, "encoding plan file")
	}
	if err := afero.WriteFile(fs, path, append(data, '\n'), 0o644); err != nil {
		return fault.Wrapf(fault.IOFailed, err, "writing plan file %s", path)
	}
	return nil
}

// ReadFile parses and validates a plan file against the current
// configuration: schema version, known product, channel/tag agreement, repo
// membership, slug match, and full 40-hex shas. Every configured repo of the
// product must be present; violations are collected into one error.
func ReadFile(fs afero.Fs, path string, cfg *config.Config) (*ReleasePlan, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fault.Wrapf(fault.IOFailed, err, "reading plan file %s", path)
	}

	var doc planFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fault.Wrapf(fault.InvalidInput, err, "plan file %s is not valid JSON", path)
	}
	if doc.Schema != FileSchemaVersion {
		return nil, fault.Newf(fault.InvalidInput, "plan file %s has unsupported schema %d (expected %d)",
			path, doc.Schema, FileSchemaVersion)
	}

	product, ok := cfg.Product(doc.Product)
	if !ok {
		return nil, fault.Newf(fault.InvalidInput, "plan file %s names unknown product %q", path, doc.Product)
	}

	channel := config.Channel(doc.Channel)
	if !channel.Valid() {
		return nil, fault.Newf(fault.InvalidInput, "plan file %s has unknown channel %q", path, doc.Channel)
	}
	tag, ok := version.ParseTag(doc.Tag)
	if !ok {
		return nil, fault.Newf(fault.InvalidInput, "plan file %s has malformed tag %q", path, doc.Tag)
	}
	if tag.Beta != (channel == config.ChannelBeta) {
		return nil, fault.Newf(fault.InvalidInput, "plan file %s tag %s does not match channel %s",
			path, doc.Tag, channel)
	}

	var problems []string
	seen := make(map[string]bool, len(doc.Repos))
	pins := make([]resolve.Pin, 0, len(product.Repos))

	for _, fr := range doc.Repos {
		repo, ok := product.Repo(fr.ID)
		if !ok {
			problems = append(problems, fmt.Sprintf("repo %q is not configured for product %s", fr.ID, product.Name))
			continue
		}
		if seen[fr.ID] {
			problems = append(problems, fmt.Sprintf("repo %q appears twice", fr.ID))
			continue
		}
		seen[fr.ID] = true
		if fr.Slug != repo.Slug {
			problems = append(problems, fmt.Sprintf("repo %q slug %q does not match configured %q", fr.ID, fr.Slug, repo.Slug))
			continue
		}
		if !fileShaPattern.MatchString(fr.SHA) {
			problems = append(problems, fmt.Sprintf("repo %q sha %q is not a 40-char hex commit", fr.ID, fr.SHA))
			continue
		}
		pins = append(pins, resolve.Pin{Repo: repo, SHA: fr.SHA})
	}

	var missing []string
	for _, repo := range product.Repos {
		if !seen[repo.ID] {
			missing = append(missing, repo.ID)
		}
	}
	if len(missing) > 0 {
		problems = append(problems, fmt.Sprintf("missing repos: %s", strings.Join(missing, ", ")))
	}
	if len(problems) > 0 {
		return nil, fault.Newf(fault.InvalidInput, "plan file %s rejected: %s",
			path, strings.Join(problems, "; "))
	}

	return &ReleasePlan{
		Product:   product.Name,
		Channel:   channel,
		Tag:       doc.Tag,
		Pins:      pins,
		SpecPath:  manifest.PathFor(doc.Tag),
		NotesPath: manifest.NotesPathFor(doc.Tag),
		Title:     fmt.Sprintf("Release %s %s", product.Name, doc.Tag),
	}, nil
}
