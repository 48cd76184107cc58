package notes

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/relkit/internal/config"
	"github.com/fyrsmithlabs/relkit/internal/fault"
	"github.com/fyrsmithlabs/relkit/internal/plan"
	"github.com/fyrsmithlabs/relkit/internal/resolve"
)

const notesSHA = "0123456789abcdef0123456789abcdef01234567"

func notesPlan() *plan.ReleasePlan {
	return &plan.ReleasePlan{
		Product: "app",
		Channel: config.ChannelBeta,
		Tag:     "v1.2.0-beta.1",
		Pins: []resolve.Pin{
			{Repo: config.Repo{ID: "app", Slug: "acme/app"}, SHA: notesSHA},
		},
	}
}

func TestRender(t *testing.T) {
	t.Run("header and pin links", func(t *testing.T) {
		doc := Render(notesPlan(), Extras{})

		assert.Contains(t, doc, "# app v1.2.0-beta.1 (beta)")
		assert.Contains(t, doc, "## Pinned repositories")
		assert.Contains(t, doc, "https://github.com/acme/app/commit/"+notesSHA)
		assert.Contains(t, doc, "`01234567`")
		assert.NotContains(t, doc, "## Notes")
		assert.NotContains(t, doc, "## Attached notes")
	})

	t.Run("operator and file sections", func(t *testing.T) {
		doc := Render(notesPlan(), Extras{
			Operator: "Fixes the login regression.",
			FromFile: "Full changelog elsewhere.",
		})

		assert.Contains(t, doc, "## Notes\n\nFixes the login regression.")
		assert.Contains(t, doc, "## Attached notes\n\nFull changelog elsewhere.")
	})

	t.Run("whitespace-only extras omitted", func(t *testing.T) {
		doc := Render(notesPlan(), Extras{Operator: "  \n ", FromFile: "\t"})
		assert.NotContains(t, doc, "## Notes")
		assert.NotContains(t, doc, "## Attached notes")
	})
}

func TestLoadFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "notes.md", []byte("hello"), 0o644))

	got, err := LoadFile(fs, "notes.md")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	_, err = LoadFile(fs, "absent.md")
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.IOFailed))
}

func TestGateCleanNotes(t *testing.T) {
	doc := Render(notesPlan(), Extras{Operator: "Routine beta with two fixes."})
	require.NoError(t, Gate(doc, nil))
}

func TestGateAllowlist(t *testing.T) {
	// Plumbing check only: allowlisted patterns must not block. Specific
	// detector patterns are gitleaks' own concern and shift between releases.
	content := "demo value DEMO_PLACEHOLDER_KEY=abc123\n"
	allow := &Allowlist{Regexes: []string{`DEMO_PLACEHOLDER_KEY`}}
	require.NoError(t, Gate(content, allow))
}

func TestLoadAllowlists(t *testing.T) {
	t.Run("missing files are fine", func(t *testing.T) {
		allow, err := LoadAllowlists(t.TempDir(), "")
		require.NoError(t, err)
		assert.Empty(t, allow.Paths)
		assert.Empty(t, allow.Regexes)
	})

	t.Run("merges project and user", func(t *testing.T) {
		projectDir := t.TempDir()
		userDir := t.TempDir()
		writeToml(t, projectDir+"/"+AllowlistFileName, "[allowlist]\nregexes = ['PROJECT_KEY']\n")
		writeToml(t, userDir+"/allowlist.toml", "[allowlist]\npaths = ['docs/.*']\nregexes = ['USER_KEY']\n")

		allow, err := LoadAllowlists(projectDir, userDir+"/allowlist.toml")
		require.NoError(t, err)
		assert.Equal(t, []string{"PROJECT_KEY", "USER_KEY"}, allow.Regexes)
		assert.Equal(t, []string{"docs/.*"}, allow.Paths)
	})

	t.Run("invalid toml rejected", func(t *testing.T) {
		dir := t.TempDir()
		writeToml(t, dir+"/"+AllowlistFileName, "not [valid toml")

		_, err := LoadAllowlists(dir, "")
		require.Error(t, err)
		assert.True(t, fault.Is(err, fault.InvalidInput))
	})

	t.Run("invalid regex rejected", func(t *testing.T) {
		dir := t.TempDir()
		writeToml(t, dir+"/"+AllowlistFileName, "[allowlist]\nregexes = ['[unclosed']\n")

		_, err := LoadAllowlists(dir, "")
		require.Error(t, err)
		assert.True(t, fault.Is(err, fault.InvalidInput))
	})
}

func writeToml(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(afero.NewOsFs(), path, []byte(content), 0o644))
}
