package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/relkit/internal/config"
	"github.com/fyrsmithlabs/relkit/internal/fault"
	"github.com/fyrsmithlabs/relkit/internal/manifest"
	"github.com/fyrsmithlabs/relkit/internal/readiness"
)

const (
	shaApp    = "aaaa456789abcdef0123456789abcdef01234567"
	shaEngine = "bbbb456789abcdef0123456789abcdef01234567"
	shaExtra  = "cccc456789abcdef0123456789abcdef01234567"
	shaNewer  = "dddd456789abcdef0123456789abcdef01234567"
)

// fakeProber serves canned readiness statuses and green verdicts per repo id.
type fakeProber struct {
	statuses map[string]readiness.Status
	green    map[string]bool
	greenErr error

	greenCalls []string
}

func (f *fakeProber) Probe(_ context.Context, repo config.Repo, ref string) readiness.Status {
	st, ok := f.statuses[repo.ID]
	if !ok {
		st = readiness.Status{Repo: repo}
	}
	if st.Ref == "" {
		if ref == "" {
			ref = repo.Ref
		}
		st.Ref = ref
	}
	return st
}

func (f *fakeProber) CommitGreen(_ context.Context, repo config.Repo, sha string) (bool, error) {
	f.greenCalls = append(f.greenCalls, fmt.Sprintf("%s@%s", repo.ID, sha))
	if f.greenErr != nil {
		return false, f.greenErr
	}
	return f.green[fmt.Sprintf("%s@%s", repo.ID, sha)], nil
}

// fakeForge serves release tags and dist-repo files.
type fakeForge struct {
	tags    []string
	tagsErr error
	files   map[string][]byte
	fileErr error
}

func (f *fakeForge) ListReleaseTags(context.Context, string) ([]string, error) {
	return f.tags, f.tagsErr
}

func (f *fakeForge) FileAt(_ context.Context, _, path, _ string) ([]byte, error) {
	if f.fileErr != nil {
		return nil, f.fileErr
	}
	data, ok := f.files[path]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func readyStatus(repo config.Repo, sha string) readiness.Status {
	green := true
	return readiness.Status{
		Repo: repo, LocalExists: true, HasUpstream: true,
		LocalHead: sha, RemoteHead: sha, CIGreen: &green,
	}
}

func redStatus(repo config.Repo, sha string) readiness.Status {
	green := false
	return readiness.Status{
		Repo: repo, LocalExists: true, HasUpstream: true,
		LocalHead: sha, RemoteHead: sha, CIGreen: &green,
	}
}

func dirtyStatus(repo config.Repo, sha string) readiness.Status {
	green := true
	return readiness.Status{
		Repo: repo, LocalExists: true, Dirty: true, HasUpstream: true,
		LocalHead: sha, RemoteHead: sha, CIGreen: &green,
	}
}

func testProduct() config.Product {
	return config.Product{
		Name: "app",
		Repos: []config.Repo{
			{ID: "app", Slug: "acme/app", Ref: "main", Check: "ci.yml", Head: true},
			{ID: "engine", Slug: "acme/engine", Ref: "main", Check: "ci.yml", SuggestBump: true},
			{ID: "extra", Slug: "acme/extra", Ref: "main"},
		},
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Dist.Slug = "acme/dist"
	cfg.Dist.DefaultBranch = "main"
	return cfg
}

func priorManifestJSON(t *testing.T, tag string) []byte {
	t.Helper()
	m := manifest.New(testProduct(), "stable", tag, "bot", []manifest.RepoPin{
		{ID: "app", Slug: "acme/app", SHA: shaApp},
		{ID: "engine", Slug: "acme/engine", SHA: shaEngine},
		{ID: "extra", Slug: "acme/extra", SHA: shaExtra},
	})
	data, err := manifest.Encode(m)
	require.NoError(t, err)
	return data
}

func newResolver(t *testing.T, prober Prober, fc Forge) *Resolver {
	t.Helper()
	r, err := NewResolver(testConfig(), prober, fc, nil)
	require.NoError(t, err)
	return r
}

func TestNewResolver(t *testing.T) {
	prober := &fakeProber{}
	fc := &fakeForge{}

	_, err := NewResolver(nil, prober, fc, nil)
	require.Error(t, err)
	_, err = NewResolver(testConfig(), nil, fc, nil)
	require.Error(t, err)
	_, err = NewResolver(testConfig(), prober, nil, nil)
	require.Error(t, err)

	r, err := NewResolver(testConfig(), prober, fc, nil)
	require.NoError(t, err)
	require.NotNil(t, r)
}

func TestResolveExplicit(t *testing.T) {
	r := newResolver(t, &fakeProber{}, &fakeForge{})
	product := testProduct()

	t.Run("all repos pinned", func(t *testing.T) {
		res, err := r.ResolveExplicit(product, map[string]string{
			"app": shaApp, "engine": shaEngine, "extra": shaExtra,
		})
		require.NoError(t, err)
		require.Len(t, res.Pins, 3)
		pin, ok := res.Pin("engine")
		require.True(t, ok)
		assert.Equal(t, shaEngine, pin.SHA)
	})

	t.Run("missing repos listed together", func(t *testing.T) {
		_, err := r.ResolveExplicit(product, map[string]string{"app": shaApp})
		require.Error(t, err)
		assert.True(t, fault.Is(err, fault.InvalidInput))
		assert.Contains(t, err.Error(), "engine")
		assert.Contains(t, err.Error(), "extra")
	})

	t.Run("malformed sha", func(t *testing.T) {
		_, err := r.ResolveExplicit(product, map[string]string{
			"app": "abc123", "engine": shaEngine, "extra": shaExtra,
		})
		require.Error(t, err)
		assert.True(t, fault.Is(err, fault.InvalidInput))
		assert.Contains(t, err.Error(), "app=abc123")
	})

	t.Run("unknown repo id", func(t *testing.T) {
		_, err := r.ResolveExplicit(product, map[string]string{
			"app": shaApp, "engine": shaEngine, "extra": shaExtra, "ghost": shaApp,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ghost")
	})
}

func TestResolveStrict(t *testing.T) {
	product := testProduct()

	t.Run("all ready", func(t *testing.T) {
		prober := &fakeProber{statuses: map[string]readiness.Status{
			"app":    readyStatus(product.Repos[0], shaApp),
			"engine": readyStatus(product.Repos[1], shaEngine),
			"extra":  readyStatus(product.Repos[2], shaExtra),
		}}
		r := newResolver(t, prober, &fakeForge{})

		res, err := r.ResolveStrict(context.Background(), product)
		require.NoError(t, err)
		require.Len(t, res.Pins, 3)
		pin, _ := res.Pin("app")
		assert.Equal(t, shaApp, pin.SHA)
	})

	t.Run("one dirty repo yields exactly one blocker and no pins", func(t *testing.T) {
		prober := &fakeProber{statuses: map[string]readiness.Status{
			"app":    readyStatus(product.Repos[0], shaApp),
			"engine": dirtyStatus(product.Repos[1], shaEngine),
			"extra":  readyStatus(product.Repos[2], shaExtra),
		}}
		r := newResolver(t, prober, &fakeForge{})

		res, err := r.ResolveStrict(context.Background(), product)
		require.Error(t, err)
		assert.Nil(t, res)

		var blocked *BlockedError
		require.ErrorAs(t, err, &blocked)
		require.Len(t, blocked.Blockers, 1)
		assert.Equal(t, "engine", blocked.Blockers[0].RepoID)
		assert.Contains(t, blocked.Blockers[0].Reason, "uncommitted")
		assert.True(t, fault.Is(err, fault.InvalidInput))
	})

	t.Run("all blockers collected", func(t *testing.T) {
		prober := &fakeProber{statuses: map[string]readiness.Status{
			"app":    dirtyStatus(product.Repos[0], shaApp),
			"engine": redStatus(product.Repos[1], shaEngine),
			"extra":  readyStatus(product.Repos[2], shaExtra),
		}}
		r := newResolver(t, prober, &fakeForge{})

		_, err := r.ResolveStrict(context.Background(), product)
		var blocked *BlockedError
		require.ErrorAs(t, err, &blocked)
		assert.Len(t, blocked.Blockers, 2)
	})

	t.Run("purely red ci maps to ci_not_green", func(t *testing.T) {
		prober := &fakeProber{statuses: map[string]readiness.Status{
			"app":    readyStatus(product.Repos[0], shaApp),
			"engine": redStatus(product.Repos[1], shaEngine),
			"extra":  readyStatus(product.Repos[2], shaExtra),
		}}
		r := newResolver(t, prober, &fakeForge{})

		_, err := r.ResolveStrict(context.Background(), product)
		require.Error(t, err)
		assert.True(t, fault.Is(err, fault.CINotGreen))
		assert.Contains(t, fault.HintOf(err), "allow-non-green")
	})
}

func TestResolveSmart(t *testing.T) {
	product := testProduct()
	ctx := context.Background()

	greenByDefault := func() map[string]bool {
		return map[string]bool{
			"engine@" + shaEngine: true,
			"extra@" + shaExtra:   true,
		}
	}

	t.Run("head repo at head, others carried", func(t *testing.T) {
		prober := &fakeProber{
			statuses: map[string]readiness.Status{"app": readyStatus(product.Repos[0], shaNewer)},
			green:    greenByDefault(),
		}
		fc := &fakeForge{
			tags:  []string{"v1.0.0"},
			files: map[string][]byte{manifest.PathFor("v1.0.0"): priorManifestJSON(t, "v1.0.0")},
		}
		r := newResolver(t, prober, fc)

		res, err := r.ResolveSmart(ctx, product, config.ChannelStable, SmartOptions{})
		require.NoError(t, err)
		require.Len(t, res.Pins, 3)

		appPin, _ := res.Pin("app")
		assert.Equal(t, shaNewer, appPin.SHA, "head repo pins at remote head")
		enginePin, _ := res.Pin("engine")
		assert.Equal(t, shaEngine, enginePin.SHA, "carried from prior manifest")
		extraPin, _ := res.Pin("extra")
		assert.Equal(t, shaExtra, extraPin.SHA)
	})

	t.Run("stale carried commit blocks naming repo and commit", func(t *testing.T) {
		green := greenByDefault()
		green["engine@"+shaEngine] = false
		prober := &fakeProber{
			statuses: map[string]readiness.Status{"app": readyStatus(product.Repos[0], shaApp)},
			green:    green,
		}
		fc := &fakeForge{
			tags:  []string{"v1.0.0"},
			files: map[string][]byte{manifest.PathFor("v1.0.0"): priorManifestJSON(t, "v1.0.0")},
		}
		r := newResolver(t, prober, fc)

		_, err := r.ResolveSmart(ctx, product, config.ChannelStable, SmartOptions{})
		require.Error(t, err)
		assert.True(t, fault.Is(err, fault.CINotGreen))

		var blocked *BlockedError
		require.ErrorAs(t, err, &blocked)
		require.Len(t, blocked.Blockers, 1)
		assert.Equal(t, "engine", blocked.Blockers[0].RepoID)
		assert.Equal(t, shaEngine, blocked.Blockers[0].Commit)
	})

	t.Run("sha override skips checks", func(t *testing.T) {
		prober := &fakeProber{
			statuses: map[string]readiness.Status{"app": readyStatus(product.Repos[0], shaApp)},
			green:    greenByDefault(),
		}
		fc := &fakeForge{
			tags:  []string{"v1.0.0"},
			files: map[string][]byte{manifest.PathFor("v1.0.0"): priorManifestJSON(t, "v1.0.0")},
		}
		r := newResolver(t, prober, fc)

		res, err := r.ResolveSmart(ctx, product, config.ChannelStable, SmartOptions{
			SHAOverrides: map[string]string{"engine": shaNewer},
		})
		require.NoError(t, err)
		pin, _ := res.Pin("engine")
		assert.Equal(t, shaNewer, pin.SHA)
		for _, call := range prober.greenCalls {
			assert.NotContains(t, call, shaNewer, "overridden sha must not be re-validated here")
		}
	})

	t.Run("ref override forces head mode", func(t *testing.T) {
		extraReady := readyStatus(product.Repos[2], shaNewer)
		extraReady.Ref = "release-candidate"
		prober := &fakeProber{
			statuses: map[string]readiness.Status{
				"app":   readyStatus(product.Repos[0], shaApp),
				"extra": extraReady,
			},
			green: greenByDefault(),
		}
		fc := &fakeForge{
			tags:  []string{"v1.0.0"},
			files: map[string][]byte{manifest.PathFor("v1.0.0"): priorManifestJSON(t, "v1.0.0")},
		}
		r := newResolver(t, prober, fc)

		res, err := r.ResolveSmart(ctx, product, config.ChannelStable, SmartOptions{
			RefOverrides: map[string]string{"extra": "release-candidate"},
		})
		require.NoError(t, err)
		pin, _ := res.Pin("extra")
		assert.Equal(t, shaNewer, pin.SHA)
	})

	t.Run("no prior release blocks carry repos", func(t *testing.T) {
		prober := &fakeProber{
			statuses: map[string]readiness.Status{"app": readyStatus(product.Repos[0], shaApp)},
		}
		r := newResolver(t, prober, &fakeForge{tags: nil})

		_, err := r.ResolveSmart(ctx, product, config.ChannelStable, SmartOptions{})
		require.Error(t, err)

		var blocked *BlockedError
		require.ErrorAs(t, err, &blocked)
		assert.Len(t, blocked.Blockers, 2, "engine and extra both need a prior release")
		assert.Contains(t, err.Error(), "no prior release")
	})

	t.Run("repo absent from prior manifest blocks", func(t *testing.T) {
		m := manifest.New(testProduct(), "stable", "v1.0.0", "bot", []manifest.RepoPin{
			{ID: "app", Slug: "acme/app", SHA: shaApp},
			{ID: "engine", Slug: "acme/engine", SHA: shaEngine},
		})
		data, err := manifest.Encode(m)
		require.NoError(t, err)

		prober := &fakeProber{
			statuses: map[string]readiness.Status{"app": readyStatus(product.Repos[0], shaApp)},
			green:    greenByDefault(),
		}
		fc := &fakeForge{
			tags:  []string{"v1.0.0"},
			files: map[string][]byte{manifest.PathFor("v1.0.0"): data},
		}
		r := newResolver(t, prober, fc)

		_, rerr := r.ResolveSmart(ctx, product, config.ChannelStable, SmartOptions{})
		require.Error(t, rerr)
		var blocked *BlockedError
		require.ErrorAs(t, rerr, &blocked)
		require.Len(t, blocked.Blockers, 1)
		assert.Equal(t, "extra", blocked.Blockers[0].RepoID)
	})

	t.Run("beta channel carries from latest beta", func(t *testing.T) {
		prober := &fakeProber{
			statuses: map[string]readiness.Status{"app": readyStatus(product.Repos[0], shaApp)},
			green:    greenByDefault(),
		}
		fc := &fakeForge{
			tags: []string{"v1.0.0", "v1.1.0-beta.1", "v1.1.0-beta.2"},
			files: map[string][]byte{
				manifest.PathFor("v1.1.0-beta.2"): priorManifestJSON(t, "v1.1.0-beta.2"),
			},
		}
		r := newResolver(t, prober, fc)

		_, err := r.ResolveSmart(ctx, product, config.ChannelBeta, SmartOptions{})
		require.NoError(t, err, "must read the beta manifest, not the stable one")
	})

	t.Run("beta channel falls back to stable history", func(t *testing.T) {
		prober := &fakeProber{
			statuses: map[string]readiness.Status{"app": readyStatus(product.Repos[0], shaApp)},
			green:    greenByDefault(),
		}
		fc := &fakeForge{
			tags:  []string{"v1.0.0"},
			files: map[string][]byte{manifest.PathFor("v1.0.0"): priorManifestJSON(t, "v1.0.0")},
		}
		r := newResolver(t, prober, fc)

		_, err := r.ResolveSmart(ctx, product, config.ChannelBeta, SmartOptions{})
		require.NoError(t, err)
	})

	t.Run("bump suggestion when newer green head exists", func(t *testing.T) {
		engineProbe := readyStatus(product.Repos[1], shaNewer)
		prober := &fakeProber{
			statuses: map[string]readiness.Status{
				"app":    readyStatus(product.Repos[0], shaApp),
				"engine": engineProbe,
			},
			green: greenByDefault(),
		}
		fc := &fakeForge{
			tags:  []string{"v1.0.0"},
			files: map[string][]byte{manifest.PathFor("v1.0.0"): priorManifestJSON(t, "v1.0.0")},
		}
		r := newResolver(t, prober, fc)

		res, err := r.ResolveSmart(ctx, product, config.ChannelStable, SmartOptions{})
		require.NoError(t, err)

		pin, _ := res.Pin("engine")
		assert.Equal(t, shaEngine, pin.SHA, "suggestion never changes the pin")

		require.NotEmpty(t, res.Suggestions)
		assert.Equal(t, "engine", res.Suggestions[0].RepoID)
		assert.Equal(t, SuggestBump, res.Suggestions[0].Kind)
		assert.Contains(t, res.Suggestions[0].Detail, readiness.Short(shaNewer))
	})

	t.Run("local issue suggestion", func(t *testing.T) {
		engineProbe := dirtyStatus(product.Repos[1], shaEngine)
		prober := &fakeProber{
			statuses: map[string]readiness.Status{
				"app":    readyStatus(product.Repos[0], shaApp),
				"engine": engineProbe,
			},
			green: greenByDefault(),
		}
		fc := &fakeForge{
			tags:  []string{"v1.0.0"},
			files: map[string][]byte{manifest.PathFor("v1.0.0"): priorManifestJSON(t, "v1.0.0")},
		}
		r := newResolver(t, prober, fc)

		res, err := r.ResolveSmart(ctx, product, config.ChannelStable, SmartOptions{})
		require.NoError(t, err)
		require.NotEmpty(t, res.Suggestions)
		assert.Equal(t, SuggestLocalIssue, res.Suggestions[0].Kind)
	})

	t.Run("unknown override ids rejected", func(t *testing.T) {
		r := newResolver(t, &fakeProber{}, &fakeForge{})

		_, err := r.ResolveSmart(ctx, product, config.ChannelStable, SmartOptions{
			SHAOverrides: map[string]string{"ghost": shaApp},
		})
		require.Error(t, err)
		assert.True(t, fault.Is(err, fault.InvalidInput))
		assert.Contains(t, err.Error(), "ghost")
	})

	t.Run("green query error propagates", func(t *testing.T) {
		prober := &fakeProber{
			statuses: map[string]readiness.Status{"app": readyStatus(product.Repos[0], shaApp)},
			greenErr: errors.New("api down"),
		}
		fc := &fakeForge{
			tags:  []string{"v1.0.0"},
			files: map[string][]byte{manifest.PathFor("v1.0.0"): priorManifestJSON(t, "v1.0.0")},
		}
		r := newResolver(t, prober, fc)

		_, err := r.ResolveSmart(ctx, product, config.ChannelStable, SmartOptions{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api down")
	})
}

func TestBlockedErrorMessage(t *testing.T) {
	err := &BlockedError{Blockers: []Blocker{
		{RepoID: "app", Reason: "dirty tree", Commit: shaApp},
		{RepoID: "engine", Reason: "no prior release"},
	}}
	msg := err.Error()
	assert.Contains(t, msg, "2 repo(s) blocked")
	assert.Contains(t, msg, "app@"+shaApp[:8])
	assert.True(t, strings.Contains(msg, "engine: no prior release"))
}
