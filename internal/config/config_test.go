package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	cfg.Workspace.Root = t.TempDir()

	require.NoError(t, cfg.Validate())

	app, ok := cfg.Product("app")
	require.True(t, ok)
	assert.NotEmpty(t, app.Repos)
	assert.NotEmpty(t, app.Workflow)

	content, ok := cfg.Product("content")
	require.True(t, ok)
	assert.Equal(t, "app", content.GuardRepo)
	assert.True(t, content.Pages)
}

func TestValidate_DuplicateRepoID(t *testing.T) {
	cfg := Default()
	cfg.Workspace.Root = t.TempDir()
	cfg.Products[0].Repos = append(cfg.Products[0].Repos, cfg.Products[0].Repos[0])

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate repo id")
}

func TestValidate_GuardRepoMustExist(t *testing.T) {
	cfg := Default()
	cfg.Workspace.Root = t.TempDir()
	cfg.Products[1].GuardRepo = "no-such-repo"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "guard repo")
}

func TestValidate_BadSlug(t *testing.T) {
	cfg := Default()
	cfg.Workspace.Root = t.TempDir()
	cfg.Products[0].Repos[0].Slug = "not-a-slug"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner/name")
}

func TestRepoDir_OverrideAndDefault(t *testing.T) {
	cfg := Default()
	cfg.Workspace.Root = "/work"

	r, ok := cfg.FindRepo("engine")
	require.True(t, ok)
	assert.Equal(t, filepath.Join("/work", "engine"), cfg.RepoDir(r))

	r.Dir = "/elsewhere/engine"
	assert.Equal(t, "/elsewhere/engine", cfg.RepoDir(r))

	assert.Equal(t, filepath.Join("/work", "dist"), cfg.DistDir())
}

func TestRepo_SlugParts(t *testing.T) {
	r := Repo{Slug: "fyrsmithlabs/engine"}
	assert.Equal(t, "fyrsmithlabs", r.Owner())
	assert.Equal(t, "engine", r.Name())
}

func TestChannel_Valid(t *testing.T) {
	assert.True(t, ChannelStable.Valid())
	assert.True(t, ChannelBeta.Valid())
	assert.False(t, Channel("nightly").Valid())
}

func TestSecret_NeverSerializesValue(t *testing.T) {
	s := Secret("ghp_supersecret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "ghp_supersecret", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(data))

	text, err := s.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "[REDACTED]", string(text))
}

func TestSecret_EmptyStaysEmpty(t *testing.T) {
	var s Secret
	assert.Equal(t, "", s.String())
	assert.False(t, s.IsSet())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `""`, string(data))
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, "1m30s", d.Duration().String())

	err := d.UnmarshalText([]byte("-5s"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative")
}

func TestProduct_PrimaryRepo(t *testing.T) {
	p := Product{Repos: []Repo{
		{ID: "first"},
		{ID: "second", Head: true},
	}}
	repo, ok := p.PrimaryRepo()
	require.True(t, ok)
	assert.Equal(t, "second", repo.ID)

	p = Product{Repos: []Repo{{ID: "first"}, {ID: "second"}}}
	repo, ok = p.PrimaryRepo()
	require.True(t, ok)
	assert.Equal(t, "first", repo.ID)

	_, ok = Product{}.PrimaryRepo()
	assert.False(t, ok)
}
