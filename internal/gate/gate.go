// Package gate decides whether a pipeline run is short-circuited by the
// skip label on its pull request.
package gate

import (
	"context"
	"fmt"
)

// SkipLabel is the pull-request label that activates the fast path.
const SkipLabel = "skip-ci"

// LabelFetcher returns the set of label names on pull request pullID of repoID.
type LabelFetcher func(ctx context.Context, repoID, pullID string) (map[string]struct{}, error)

// Input carries the gate's preconditions. Empty strings mean absent.
type Input struct {
	HasCredentials bool
	RepoID         string
	PullID         string
}

// Decision is the gate outcome. Skip is only ever true when Checked is true.
// Missing names the absent inputs when the gate could not be evaluated.
type Decision struct {
	Checked bool
	Skip    bool
	Missing []string
}

// String renders the decision for logs and reports.
func (d Decision) String() string {
	switch {
	case !d.Checked:
		return "not checked"
	case d.Skip:
		return "skip"
	default:
		return "run"
	}
}

// FetchError is returned when the label source could not be queried.
// The run must fail rather than pick a skip policy.
type FetchError struct {
	RepoID string
	PullID string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching labels for %s#%s: %v", e.RepoID, e.PullID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Evaluate runs the gate. When any input is absent it returns an unchecked,
// non-skipping decision without calling fetch; the caller surfaces the
// warning. Otherwise fetch is called exactly once.
func Evaluate(ctx context.Context, in Input, fetch LabelFetcher) (Decision, error) {
	var missing []string
	if !in.HasCredentials {
		missing = append(missing, "credentials")
	}
	if in.RepoID == "" {
		missing = append(missing, "repository")
	}
	if in.PullID == "" {
		missing = append(missing, "pull request")
	}
	if len(missing) > 0 {
		return Decision{Missing: missing}, nil
	}

	labels, err := fetch(ctx, in.RepoID, in.PullID)
	if err != nil {
		return Decision{}, &FetchError{RepoID: in.RepoID, PullID: in.PullID, Err: err}
	}

	_, skip := labels[SkipLabel]
	return Decision{Checked: true, Skip: skip}, nil
}
