// Package forge is relkit's boundary to the hosted git forge (GitHub or a
// compatible API). Every component consumes the Client interface so tests can
// substitute fakes; the production implementation wraps go-github with
// client-side rate limiting and bounded retries.
//
// Responses are treated as untrusted: required fields are checked before a
// value crosses the boundary, and malformed payloads become explicit errors.
package forge

import (
	"context"
	"errors"
)

// ErrNotFound marks a 404 from the forge: a missing file, branch, pull
// request, or run. Callers decide whether absence is an error.
var ErrNotFound = errors.New("not found on forge")

// ErrAutoMergeDisabled marks a forge that rejected an auto-merge request for
// the repository, triggering the poll-then-direct-merge fallback.
var ErrAutoMergeDisabled = errors.New("auto-merge is not allowed for this repository")

// Commit is one commit on a branch.
type Commit struct {
	SHA     string
	Message string
}

// WorkflowRun is one run of a workflow file.
type WorkflowRun struct {
	ID         int64
	Title      string
	Event      string
	Status     string
	Conclusion string
	HeadSHA    string
	URL        string
}

// Succeeded reports a completed run with a success conclusion.
func (r WorkflowRun) Succeeded() bool {
	return r.Status == "completed" && r.Conclusion == "success"
}

// Done reports whether the run has finished, regardless of outcome.
func (r WorkflowRun) Done() bool {
	return r.Status == "completed"
}

// RunFilter narrows workflow-run listings.
type RunFilter struct {
	Branch  string
	Event   string
	Status  string
	HeadSHA string
	PerPage int
}

// NewPull describes a pull request to open.
type NewPull struct {
	Title string
	Body  string
	Head  string
	Base  string
}

// PullRequest is the forge's view of a pull request.
type PullRequest struct {
	Number         int
	NodeID         string
	URL            string
	State          string
	Merged         bool
	Mergeable      *bool
	MergeableState string
}

// Client is the forge API surface relkit consumes.
type Client interface {
	// AuthenticatedUser returns the login of the token's user.
	AuthenticatedUser(ctx context.Context) (string, error)

	// PermissionLevel returns the user's permission on a repo: admin,
	// write, read, or none.
	PermissionLevel(ctx context.Context, slug, user string) (string, error)

	// BranchHead returns the head commit sha of a branch.
	BranchHead(ctx context.Context, slug, ref string) (string, error)

	// ListCommits returns up to limit commits reachable from ref, newest
	// first.
	ListCommits(ctx context.Context, slug, ref string, limit int) ([]Commit, error)

	// FileAt returns a file's content at a ref. Missing files return
	// ErrNotFound.
	FileAt(ctx context.Context, slug, path, ref string) ([]byte, error)

	// ListReleaseTags returns the tag names of all published releases.
	ListReleaseTags(ctx context.Context, slug string) ([]string, error)

	// ListWorkflowRuns lists runs of a workflow file, newest first.
	ListWorkflowRuns(ctx context.Context, slug, workflowFile string, f RunFilter) ([]WorkflowRun, error)

	// GetWorkflowRun fetches one run by id.
	GetWorkflowRun(ctx context.Context, slug string, runID int64) (WorkflowRun, error)

	// DispatchWorkflow triggers a workflow_dispatch event.
	DispatchWorkflow(ctx context.Context, slug, workflowFile, ref string, inputs map[string]any) error

	// CreatePull opens a pull request.
	CreatePull(ctx context.Context, slug string, p NewPull) (PullRequest, error)

	// GetPull fetches a pull request by number.
	GetPull(ctx context.Context, slug string, number int) (PullRequest, error)

	// MergePull merges a pull request with the squash method.
	MergePull(ctx context.Context, slug string, number int) error

	// EnableAutoMerge asks the forge to merge the pull request once checks
	// pass. Returns ErrAutoMergeDisabled when the repository forbids it.
	EnableAutoMerge(ctx context.Context, prNodeID string) error
}
