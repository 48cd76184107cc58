package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/relkit/internal/config"
	"github.com/fyrsmithlabs/relkit/internal/fault"
)

const defaultGraphQLURL = "https://api.github.com/graphql"

// validSHA matches a full 40-character lowercase hex commit sha.
var validSHA = regexp.MustCompile(`^[0-9a-f]{40}$`)

// githubClient implements Client against the GitHub REST API, plus the one
// GraphQL mutation REST does not expose (enabling auto-merge).
type githubClient struct {
	gh         *github.Client
	httpClient *http.Client
	graphqlURL string
	limiter    *rate.Limiter
	retry      RetryConfig
	logger     *zap.Logger
}

// NewGitHubClient creates an authenticated GitHub API client. The token is
// required; a nil logger defaults to a no-op logger.
func NewGitHubClient(ctx context.Context, token config.Secret, logger *zap.Logger) (Client, error) {
	if !token.IsSet() {
		return nil, fault.New(fault.AuthMissing, "github token is not set").
			WithHint("set RELKIT_GITHUB_TOKEN or GITHUB_TOKEN")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	tc := oauth2.NewClient(ctx, ts)

	return &githubClient{
		gh:         github.NewClient(tc),
		httpClient: tc,
		graphqlURL: defaultGraphQLURL,
		limiter:    rate.NewLimiter(rate.Limit(8), 8),
		retry:      DefaultRetryConfig(),
		logger:     logger.Named("forge"),
	}, nil
}

// call runs one API operation through the rate limiter and retry policy,
// then classifies any terminal failure.
func (c *githubClient) call(ctx context.Context, op string, fn func() (*github.Response, error)) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	resp, err := retryOperation(ctx, c.retry, c.logger, fn)
	if err != nil {
		return classify(op, resp, err)
	}
	return nil
}

// classify maps a terminal API failure to the fault kind the operator acts
// on. 404s become ErrNotFound so callers can treat absence as a value.
func classify(op string, resp *github.Response, err error) error {
	switch statusCode(resp) {
	case http.StatusUnauthorized:
		return fault.Wrapf(fault.AuthInvalid, err, "%s: token rejected", op).
			WithHint("refresh RELKIT_GITHUB_TOKEN; the forge returned 401")
	case http.StatusForbidden:
		return fault.Wrapf(fault.PermissionDenied, err, "%s: forbidden", op)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	default:
		return fault.Wrapf(fault.NetworkFailed, err, "%s", op)
	}
}

func splitSlug(slug string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(slug, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fault.Newf(fault.InvalidInput, "repository slug %q is not owner/name", slug)
	}
	return owner, name, nil
}

func (c *githubClient) AuthenticatedUser(ctx context.Context) (string, error) {
	var user *github.User
	err := c.call(ctx, "get authenticated user", func() (*github.Response, error) {
		var resp *github.Response
		var err error
		user, resp, err = c.gh.Users.Get(ctx, "")
		return resp, err
	})
	if err != nil {
		return "", err
	}
	if user == nil || user.Login == nil {
		return "", fmt.Errorf("get authenticated user: response missing login")
	}
	return user.GetLogin(), nil
}

func (c *githubClient) PermissionLevel(ctx context.Context, slug, user string) (string, error) {
	owner, name, err := splitSlug(slug)
	if err != nil {
		return "", err
	}
	var level *github.RepositoryPermissionLevel
	err = c.call(ctx, fmt.Sprintf("get permission on %s", slug), func() (*github.Response, error) {
		var resp *github.Response
		var err error
		level, resp, err = c.gh.Repositories.GetPermissionLevel(ctx, owner, name, user)
		return resp, err
	})
	if err != nil {
		return "", err
	}
	if level == nil || level.Permission == nil {
		return "", fmt.Errorf("get permission on %s: response missing permission", slug)
	}
	return level.GetPermission(), nil
}

func (c *githubClient) BranchHead(ctx context.Context, slug, ref string) (string, error) {
	owner, name, err := splitSlug(slug)
	if err != nil {
		return "", err
	}
	var branch *github.Branch
	err = c.call(ctx, fmt.Sprintf("get branch %s@%s", slug, ref), func() (*github.Response, error) {
		var resp *github.Response
		var err error
		branch, resp, err = c.gh.Repositories.GetBranch(ctx, owner, name, ref, 2)
		return resp, err
	})
	if err != nil {
		return "", err
	}
	sha := branch.GetCommit().GetSHA()
	if !validSHA.MatchString(sha) {
		return "", fmt.Errorf("get branch %s@%s: response carries malformed head sha %q", slug, ref, sha)
	}
	return sha, nil
}

func (c *githubClient) ListCommits(ctx context.Context, slug, ref string, limit int) ([]Commit, error) {
	owner, name, err := splitSlug(slug)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 30
	}
	var raw []*github.RepositoryCommit
	err = c.call(ctx, fmt.Sprintf("list commits %s@%s", slug, ref), func() (*github.Response, error) {
		var resp *github.Response
		var err error
		raw, resp, err = c.gh.Repositories.ListCommits(ctx, owner, name, &github.CommitsListOptions{
			SHA:         ref,
			ListOptions: github.ListOptions{PerPage: limit},
		})
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	commits := make([]Commit, 0, len(raw))
	for _, rc := range raw {
		sha := rc.GetSHA()
		if !validSHA.MatchString(sha) {
			return nil, fmt.Errorf("list commits %s@%s: response carries malformed sha %q", slug, ref, sha)
		}
		commits = append(commits, Commit{SHA: sha, Message: rc.GetCommit().GetMessage()})
	}
	return commits, nil
}

func (c *githubClient) FileAt(ctx context.Context, slug, path, ref string) ([]byte, error) {
	owner, name, err := splitSlug(slug)
	if err != nil {
		return nil, err
	}
	var file *github.RepositoryContent
	err = c.call(ctx, fmt.Sprintf("get %s:%s@%s", slug, path, ref), func() (*github.Response, error) {
		var resp *github.Response
		var err error
		file, _, resp, err = c.gh.Repositories.GetContents(ctx, owner, name, path,
			&github.RepositoryContentGetOptions{Ref: ref})
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, fmt.Errorf("get %s:%s@%s: path is not a file", slug, path, ref)
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("get %s:%s@%s: decoding content: %w", slug, path, ref, err)
	}
	return []byte(content), nil
}

func (c *githubClient) ListReleaseTags(ctx context.Context, slug string) ([]string, error) {
	owner, name, err := splitSlug(slug)
	if err != nil {
		return nil, err
	}

	var tags []string
	opts := &github.ListOptions{PerPage: 100}
	for {
		var releases []*github.RepositoryRelease
		var nextPage int
		err := c.call(ctx, fmt.Sprintf("list releases of %s", slug), func() (*github.Response, error) {
			var resp *github.Response
			var err error
			releases, resp, err = c.gh.Repositories.ListReleases(ctx, owner, name, opts)
			if err == nil && resp != nil {
				nextPage = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		for _, rel := range releases {
			if tag := rel.GetTagName(); tag != "" {
				tags = append(tags, tag)
			}
		}
		if nextPage == 0 {
			return tags, nil
		}
		opts.Page = nextPage
	}
}

func (c *githubClient) ListWorkflowRuns(ctx context.Context, slug, workflowFile string, f RunFilter) ([]WorkflowRun, error) {
	owner, name, err := splitSlug(slug)
	if err != nil {
		return nil, err
	}
	perPage := f.PerPage
	if perPage <= 0 || perPage > 100 {
		perPage = 30
	}
	var raw *github.WorkflowRuns
	err = c.call(ctx, fmt.Sprintf("list runs of %s in %s", workflowFile, slug), func() (*github.Response, error) {
		var resp *github.Response
		var err error
		raw, resp, err = c.gh.Actions.ListWorkflowRunsByFileName(ctx, owner, name, workflowFile,
			&github.ListWorkflowRunsOptions{
				Branch:      f.Branch,
				Event:       f.Event,
				Status:      f.Status,
				HeadSHA:     f.HeadSHA,
				ListOptions: github.ListOptions{PerPage: perPage},
			})
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	runs := make([]WorkflowRun, 0, len(raw.WorkflowRuns))
	for _, wr := range raw.WorkflowRuns {
		run, err := mapRun(wr)
		if err != nil {
			return nil, fmt.Errorf("list runs of %s in %s: %w", workflowFile, slug, err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (c *githubClient) GetWorkflowRun(ctx context.Context, slug string, runID int64) (WorkflowRun, error) {
	owner, name, err := splitSlug(slug)
	if err != nil {
		return WorkflowRun{}, err
	}
	var raw *github.WorkflowRun
	err = c.call(ctx, fmt.Sprintf("get run %d in %s", runID, slug), func() (*github.Response, error) {
		var resp *github.Response
		var err error
		raw, resp, err = c.gh.Actions.GetWorkflowRunByID(ctx, owner, name, runID)
		return resp, err
	})
	if err != nil {
		return WorkflowRun{}, err
	}
	run, err := mapRun(raw)
	if err != nil {
		return WorkflowRun{}, fmt.Errorf("get run %d in %s: %w", runID, slug, err)
	}
	return run, nil
}

func (c *githubClient) DispatchWorkflow(ctx context.Context, slug, workflowFile, ref string, inputs map[string]any) error {
	owner, name, err := splitSlug(slug)
	if err != nil {
		return err
	}
	return c.call(ctx, fmt.Sprintf("dispatch %s in %s", workflowFile, slug), func() (*github.Response, error) {
		return c.gh.Actions.CreateWorkflowDispatchEventByFileName(ctx, owner, name, workflowFile,
			github.CreateWorkflowDispatchEventRequest{Ref: ref, Inputs: inputs})
	})
}

func (c *githubClient) CreatePull(ctx context.Context, slug string, p NewPull) (PullRequest, error) {
	owner, name, err := splitSlug(slug)
	if err != nil {
		return PullRequest{}, err
	}
	var raw *github.PullRequest
	err = c.call(ctx, fmt.Sprintf("create pull request in %s", slug), func() (*github.Response, error) {
		var resp *github.Response
		var err error
		raw, resp, err = c.gh.PullRequests.Create(ctx, owner, name, &github.NewPullRequest{
			Title: github.String(p.Title),
			Body:  github.String(p.Body),
			Head:  github.String(p.Head),
			Base:  github.String(p.Base),
		})
		return resp, err
	})
	if err != nil {
		return PullRequest{}, err
	}
	pr, err := mapPull(raw)
	if err != nil {
		return PullRequest{}, fmt.Errorf("create pull request in %s: %w", slug, err)
	}
	return pr, nil
}

func (c *githubClient) GetPull(ctx context.Context, slug string, number int) (PullRequest, error) {
	owner, name, err := splitSlug(slug)
	if err != nil {
		return PullRequest{}, err
	}
	var raw *github.PullRequest
	err = c.call(ctx, fmt.Sprintf("get pull request %s#%d", slug, number), func() (*github.Response, error) {
		var resp *github.Response
		var err error
		raw, resp, err = c.gh.PullRequests.Get(ctx, owner, name, number)
		return resp, err
	})
	if err != nil {
		return PullRequest{}, err
	}
	pr, err := mapPull(raw)
	if err != nil {
		return PullRequest{}, fmt.Errorf("get pull request %s#%d: %w", slug, number, err)
	}
	return pr, nil
}

func (c *githubClient) MergePull(ctx context.Context, slug string, number int) error {
	owner, name, err := splitSlug(slug)
	if err != nil {
		return err
	}
	var result *github.PullRequestMergeResult
	err = c.call(ctx, fmt.Sprintf("merge pull request %s#%d", slug, number), func() (*github.Response, error) {
		var resp *github.Response
		var err error
		result, resp, err = c.gh.PullRequests.Merge(ctx, owner, name, number, "",
			&github.PullRequestOptions{MergeMethod: "squash"})
		return resp, err
	})
	if err != nil {
		return err
	}
	if !result.GetMerged() {
		return fmt.Errorf("merge pull request %s#%d: forge reported not merged: %s", slug, number, result.GetMessage())
	}
	return nil
}

const enableAutoMergeMutation = `mutation($id: ID!) {
  enablePullRequestAutoMerge(input: {pullRequestId: $id, mergeMethod: SQUASH}) {
    clientMutationId
  }
}`

func (c *githubClient) EnableAutoMerge(ctx context.Context, prNodeID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("enable auto-merge: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"query":     enableAutoMergeMutation,
		"variables": map[string]any{"id": prNodeID},
	})
	if err != nil {
		return fmt.Errorf("enable auto-merge: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("enable auto-merge: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fault.Wrap(fault.NetworkFailed, err, "enable auto-merge")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fault.Wrap(fault.NetworkFailed, err, "enable auto-merge: reading response")
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fault.New(fault.AuthInvalid, "enable auto-merge: token rejected")
	case resp.StatusCode != http.StatusOK:
		return fault.Newf(fault.NetworkFailed, "enable auto-merge: status %d", resp.StatusCode)
	}

	var out struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return fault.Wrap(fault.NetworkFailed, err, "enable auto-merge: malformed response")
	}
	for _, gqlErr := range out.Errors {
		msg := strings.ToLower(gqlErr.Message)
		// "not allowed" covers repositories with auto-merge disabled;
		// "clean status" means the pull request is already mergeable, where
		// the direct-merge fallback is the right path too.
		if strings.Contains(msg, "not allowed") || strings.Contains(msg, "clean status") {
			return fmt.Errorf("enable auto-merge: %s: %w", gqlErr.Message, ErrAutoMergeDisabled)
		}
	}
	if len(out.Errors) > 0 {
		return fault.Newf(fault.NetworkFailed, "enable auto-merge: %s", out.Errors[0].Message)
	}
	return nil
}

// mapRun validates and converts a workflow run payload.
func mapRun(wr *github.WorkflowRun) (WorkflowRun, error) {
	if wr == nil || wr.ID == nil {
		return WorkflowRun{}, fmt.Errorf("workflow run payload missing id")
	}
	title := wr.GetDisplayTitle()
	if title == "" {
		title = wr.GetName()
	}
	return WorkflowRun{
		ID:         wr.GetID(),
		Title:      title,
		Event:      wr.GetEvent(),
		Status:     wr.GetStatus(),
		Conclusion: wr.GetConclusion(),
		HeadSHA:    wr.GetHeadSHA(),
		URL:        wr.GetHTMLURL(),
	}, nil
}

// mapPull validates and converts a pull request payload.
func mapPull(pr *github.PullRequest) (PullRequest, error) {
	if pr == nil || pr.Number == nil {
		return PullRequest{}, fmt.Errorf("pull request payload missing number")
	}
	if pr.NodeID == nil {
		return PullRequest{}, fmt.Errorf("pull request payload missing node id")
	}
	return PullRequest{
		Number:         pr.GetNumber(),
		NodeID:         pr.GetNodeID(),
		URL:            pr.GetHTMLURL(),
		State:          pr.GetState(),
		Merged:         pr.GetMerged(),
		Mergeable:      pr.Mergeable,
		MergeableState: pr.GetMergeableState(),
	}, nil
}
