package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/fraware/self-healing-ci/internal/failurereport"
)

// HTTPSourceAdapter is a reference implementation of
// failurereport.SourceAdapter against a generic source-forge RPC endpoint
// (workflow logs, job logs, diff, changed files, environment, failed
// tests). The source-forge adapter itself is out of scope (§1 Non-goals);
// this exists only to demonstrate the interface has a concrete shape, the
// same opaque-RPC-endpoint treatment rpcclient.go gives the four analyzer
// collaborators.
type HTTPSourceAdapter struct {
	rpc *RPCClient
}

var _ failurereport.SourceAdapter = (*HTTPSourceAdapter)(nil)

func NewHTTPSourceAdapter(rpc *RPCClient) *HTTPSourceAdapter {
	return &HTTPSourceAdapter{rpc: rpc}
}

func (a *HTTPSourceAdapter) getText(ctx context.Context, path string, query url.Values) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	if err := a.getJSON(ctx, path, query, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

func (a *HTTPSourceAdapter) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	full := a.rpc.baseURL + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return fmt.Errorf("build source adapter request: %w", err)
	}
	resp, err := a.rpc.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("source adapter request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("source adapter returned status %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *HTTPSourceAdapter) WorkflowLogs(ctx context.Context, repository, runID string) (string, error) {
	return a.getText(ctx, "/v1/workflow-logs", url.Values{"repository": {repository}, "runId": {runID}})
}

func (a *HTTPSourceAdapter) JobLogs(ctx context.Context, repository, runID string) (string, error) {
	return a.getText(ctx, "/v1/job-logs", url.Values{"repository": {repository}, "runId": {runID}})
}

func (a *HTTPSourceAdapter) DiffAgainstMergeBase(ctx context.Context, repository, headSHA string) (string, error) {
	return a.getText(ctx, "/v1/diff", url.Values{"repository": {repository}, "headSha": {headSHA}})
}

func (a *HTTPSourceAdapter) ChangedFiles(ctx context.Context, repository, headSHA string) ([]string, error) {
	var out struct {
		Files []string `json:"files"`
	}
	err := a.getJSON(ctx, "/v1/changed-files", url.Values{"repository": {repository}, "headSha": {headSHA}}, &out)
	return out.Files, err
}

func (a *HTTPSourceAdapter) TestOutput(ctx context.Context, repository, runID string) (string, error) {
	return a.getText(ctx, "/v1/test-output", url.Values{"repository": {repository}, "runId": {runID}})
}

func (a *HTTPSourceAdapter) Environment(ctx context.Context, repository, runID string) (map[string]string, error) {
	var out struct {
		Environment map[string]string `json:"environment"`
	}
	err := a.getJSON(ctx, "/v1/environment", url.Values{"repository": {repository}, "runId": {runID}}, &out)
	return out.Environment, err
}

func (a *HTTPSourceAdapter) FailedTests(ctx context.Context, repository, runID string) ([]string, error) {
	var out struct {
		FailedTests []string `json:"failedTests"`
	}
	err := a.getJSON(ctx, "/v1/failed-tests", url.Values{"repository": {repository}, "runId": {runID}}, &out)
	return out.FailedTests, err
}
