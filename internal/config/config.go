package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Channel identifies a release channel.
type Channel string

const (
	// ChannelStable releases tags of the form vX.Y.Z.
	ChannelStable Channel = "stable"
	// ChannelBeta releases tags of the form vX.Y.Z-beta.N.
	ChannelBeta Channel = "beta"
)

// Valid reports whether c is one of the two known channels.
func (c Channel) Valid() bool {
	return c == ChannelStable || c == ChannelBeta
}

// Repo describes one tracked source repository. Static configuration; never
// mutated at runtime.
type Repo struct {
	// ID is the short unique name used in plan files and wizard prompts.
	ID string `koanf:"id" json:"id"`

	// Slug is the forge location as owner/name.
	Slug string `koanf:"slug" json:"slug"`

	// Ref is the branch released from, usually the default branch.
	Ref string `koanf:"ref" json:"ref"`

	// Check names the workflow file that must have a successful run at a
	// pinned commit. Empty means the repo is not CI-gated.
	Check string `koanf:"check" json:"check,omitempty"`

	// Head marks repos that smart resolution always pins at the remote
	// branch head instead of carrying the previous release's pin.
	Head bool `koanf:"head" json:"head,omitempty"`

	// SuggestBump marks carry-mode repos that smart resolution inspects for
	// newer green commits, emitting a non-binding suggestion when found.
	SuggestBump bool `koanf:"suggest_bump" json:"suggest_bump,omitempty"`

	// Dir overrides the local clone path. Empty means <workspace.root>/<id>.
	Dir string `koanf:"dir" json:"dir,omitempty"`
}

// Owner returns the owner half of the slug.
func (r Repo) Owner() string {
	owner, _, _ := strings.Cut(r.Slug, "/")
	return owner
}

// Name returns the repository half of the slug.
func (r Repo) Name() string {
	_, name, _ := strings.Cut(r.Slug, "/")
	return name
}

// Asset describes one distributable artifact the downstream workflow builds
// for a product.
type Asset struct {
	Name     string `koanf:"name" json:"name"`
	Platform string `koanf:"platform" json:"platform"`
	Source   string `koanf:"source" json:"source"`
}

// InstallSet groups assets installed together.
type InstallSet struct {
	ID     string   `koanf:"id" json:"id"`
	Assets []string `koanf:"assets" json:"assets"`
}

// Product is one releasable unit: an ordered set of repos pinned together
// under a single tag.
type Product struct {
	// Name is the product identifier used on the command line.
	Name string `koanf:"name"`

	// Repos are the tracked repositories, in wizard walk order.
	Repos []Repo `koanf:"repos"`

	// Workflow is the dist-repo workflow file dispatched after publish.
	Workflow string `koanf:"workflow"`

	// GuardRepo optionally names a repo id whose working copy must be clean
	// at confirm time (the content product guards the app workspace).
	GuardRepo string `koanf:"guard_repo"`

	// Assets and InstallSets describe the artifact matrix recorded in the
	// release manifest.
	Assets      []Asset      `koanf:"assets"`
	InstallSets []InstallSet `koanf:"install_sets"`

	// Pages marks products whose publish also updates hosted pages.
	Pages bool `koanf:"pages"`
}

// Repo returns the product repo with the given id.
func (p Product) Repo(id string) (Repo, bool) {
	for _, r := range p.Repos {
		if r.ID == id {
			return r, true
		}
	}
	return Repo{}, false
}

// RepoIDs returns the product's repo ids in walk order.
func (p Product) RepoIDs() []string {
	ids := make([]string, 0, len(p.Repos))
	for _, r := range p.Repos {
		ids = append(ids, r.ID)
	}
	return ids
}

// PrimaryRepo returns the repository a bare commit pick applies to: the
// head-designated repo, or the first one listed.
func (p Product) PrimaryRepo() (Repo, bool) {
	for _, r := range p.Repos {
		if r.Head {
			return r, true
		}
	}
	if len(p.Repos) == 0 {
		return Repo{}, false
	}
	return p.Repos[0], true
}

// Poll is one bounded polling policy: re-check every Interval until Deadline.
type Poll struct {
	Interval Duration `koanf:"interval"`
	Deadline Duration `koanf:"deadline"`
}

// GitHubConfig holds forge access settings.
type GitHubConfig struct {
	// Token authenticates API calls. Falls back to GITHUB_TOKEN.
	Token Secret `koanf:"token"`
}

// WorkspaceConfig locates local clones of the tracked repositories.
type WorkspaceConfig struct {
	// Root is the directory containing one clone per repo id.
	Root string `koanf:"root"`
}

// DistConfig describes the tracking repository releases publish through.
type DistConfig struct {
	// Slug is the dist repository as owner/name.
	Slug string `koanf:"slug"`

	// DefaultBranch is the branch release manifests merge into.
	DefaultBranch string `koanf:"default_branch"`

	// Dir is the local clone path. Empty means <workspace.root>/dist.
	Dir string `koanf:"dir"`

	// MergeablePoll bounds the wait for a pull request to become mergeable
	// when auto-merge is unavailable.
	MergeablePoll Poll `koanf:"mergeable_poll"`

	// MergedPoll bounds the wait for a pull request to report merged.
	MergedPoll Poll `koanf:"merged_poll"`
}

// CIConfig bounds workflow-run polling.
type CIConfig struct {
	// WatchPoll bounds the wait for a dispatched workflow run to complete.
	WatchPoll Poll `koanf:"watch_poll"`

	// LocatePoll bounds the search for the run a dispatch triggered.
	LocatePoll Poll `koanf:"locate_poll"`
}

// LogConfig controls CLI logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is console or json.
	Format string `koanf:"format"`
}

// Config is the root relkit configuration. It is loaded once in main and
// injected into every component; nothing reads configuration globally.
type Config struct {
	GitHub    GitHubConfig    `koanf:"github"`
	Workspace WorkspaceConfig `koanf:"workspace"`
	Dist      DistConfig      `koanf:"dist"`
	CI        CIConfig        `koanf:"ci"`
	Log       LogConfig       `koanf:"log"`
	Products  []Product       `koanf:"products"`
}

// Product returns the named product.
func (c *Config) Product(name string) (Product, bool) {
	for _, p := range c.Products {
		if p.Name == name {
			return p, true
		}
	}
	return Product{}, false
}

// FindRepo searches every product for the repo with the given id.
func (c *Config) FindRepo(id string) (Repo, bool) {
	for _, p := range c.Products {
		if r, ok := p.Repo(id); ok {
			return r, true
		}
	}
	return Repo{}, false
}

// RepoDir returns the local clone directory for a repo.
func (c *Config) RepoDir(r Repo) string {
	if r.Dir != "" {
		return r.Dir
	}
	return filepath.Join(c.Workspace.Root, r.ID)
}

// DistDir returns the local clone directory for the dist repository.
func (c *Config) DistDir() string {
	if c.Dist.Dir != "" {
		return c.Dist.Dir
	}
	return filepath.Join(c.Workspace.Root, "dist")
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if len(c.Products) == 0 {
		return errors.New("no products configured")
	}

	seenProducts := make(map[string]bool)
	seenRepos := make(map[string]bool)
	for _, p := range c.Products {
		if p.Name == "" {
			return errors.New("product with empty name")
		}
		if seenProducts[p.Name] {
			return fmt.Errorf("duplicate product %q", p.Name)
		}
		seenProducts[p.Name] = true

		if len(p.Repos) == 0 {
			return fmt.Errorf("product %q has no repos", p.Name)
		}
		if p.Workflow == "" {
			return fmt.Errorf("product %q has no dispatch workflow", p.Name)
		}
		for _, r := range p.Repos {
			if r.ID == "" {
				return fmt.Errorf("product %q has a repo with empty id", p.Name)
			}
			if seenRepos[r.ID] {
				return fmt.Errorf("duplicate repo id %q", r.ID)
			}
			seenRepos[r.ID] = true
			if !strings.Contains(r.Slug, "/") {
				return fmt.Errorf("repo %q slug %q is not owner/name", r.ID, r.Slug)
			}
			if r.Ref == "" {
				return fmt.Errorf("repo %q has no ref", r.ID)
			}
		}
	}

	// Guard repos may live in another product, so check after all repos are
	// known.
	for _, p := range c.Products {
		if p.GuardRepo == "" {
			continue
		}
		if _, ok := c.FindRepo(p.GuardRepo); !ok {
			return fmt.Errorf("product %q guard repo %q is not configured", p.Name, p.GuardRepo)
		}
	}

	if !strings.Contains(c.Dist.Slug, "/") {
		return fmt.Errorf("dist slug %q is not owner/name", c.Dist.Slug)
	}
	if c.Dist.DefaultBranch == "" {
		return errors.New("dist default branch is empty")
	}

	for _, pp := range []struct {
		name string
		poll Poll
	}{
		{"dist.mergeable_poll", c.Dist.MergeablePoll},
		{"dist.merged_poll", c.Dist.MergedPoll},
		{"ci.watch_poll", c.CI.WatchPoll},
		{"ci.locate_poll", c.CI.LocatePoll},
	} {
		if pp.poll.Interval.Duration() <= 0 || pp.poll.Deadline.Duration() <= 0 {
			return fmt.Errorf("%s interval and deadline must be positive", pp.name)
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}

	return nil
}

// Default returns the built-in configuration: the fyrsmithlabs product and
// repo tables plus polling policies. Load layers file and environment
// overrides on top.
func Default() *Config {
	return &Config{
		Dist: DistConfig{
			Slug:          "fyrsmithlabs/dist",
			DefaultBranch: "main",
			MergeablePoll: Poll{Interval: Duration(5 * time.Second), Deadline: Duration(15 * time.Minute)},
			MergedPoll:    Poll{Interval: Duration(5 * time.Second), Deadline: Duration(10 * time.Minute)},
		},
		CI: CIConfig{
			WatchPoll:  Poll{Interval: Duration(10 * time.Second), Deadline: Duration(30 * time.Minute)},
			LocatePoll: Poll{Interval: Duration(3 * time.Second), Deadline: Duration(45 * time.Second)},
		},
		Log: LogConfig{Level: "info", Format: "console"},
		Products: []Product{
			{
				Name:     "app",
				Workflow: "release-app.yml",
				Repos: []Repo{
					{ID: "app", Slug: "fyrsmithlabs/app", Ref: "main", Check: "ci.yml", Head: true},
					{ID: "engine", Slug: "fyrsmithlabs/engine", Ref: "main", Check: "ci.yml", SuggestBump: true},
					{ID: "launcher", Slug: "fyrsmithlabs/launcher", Ref: "main", Check: "ci.yml"},
				},
				Assets: []Asset{
					{Name: "app-linux-x86_64", Platform: "linux-x86_64", Source: "app"},
					{Name: "app-macos-arm64", Platform: "macos-arm64", Source: "app"},
					{Name: "app-windows-x86_64", Platform: "windows-x86_64", Source: "app"},
				},
				InstallSets: []InstallSet{
					{ID: "default", Assets: []string{"app-linux-x86_64", "app-macos-arm64", "app-windows-x86_64"}},
				},
			},
			{
				Name:      "content",
				Workflow:  "release-content.yml",
				GuardRepo: "app",
				Repos: []Repo{
					{ID: "content-core", Slug: "fyrsmithlabs/content-core", Ref: "main", Check: "ci.yml"},
					{ID: "content-extra", Slug: "fyrsmithlabs/content-extra", Ref: "main"},
					{ID: "translations", Slug: "fyrsmithlabs/translations", Ref: "main"},
				},
				Assets: []Asset{
					{Name: "content-bundle", Platform: "any", Source: "content-core"},
				},
				InstallSets: []InstallSet{
					{ID: "default", Assets: []string{"content-bundle"}},
				},
				Pages: true,
			},
		},
	}
}

// DefaultConfigPath returns ~/.config/relkit/config.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "relkit", "config.yaml"), nil
}

// SessionsDir returns the directory holding wizard session files,
// ~/.config/relkit/sessions.
func SessionsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "relkit", "sessions"), nil
}

// UserAllowlistPath returns the operator-wide release-notes allowlist,
// ~/.config/relkit/allowlist.toml.
func UserAllowlistPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "relkit", "allowlist.toml"), nil
}
