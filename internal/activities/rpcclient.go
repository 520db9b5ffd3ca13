package activities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

// RPCClient is the shared JSON-over-HTTP transport for the Patcher,
// TestRunner, Prover, and Merger collaborators: each is an opaque RPC
// endpoint per §1, so a single thin client handles request marshaling,
// response decoding, and status-code-based error classification, and each
// collaborator's own type below only supplies its endpoint path.
type RPCClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewRPCClient builds a client against baseURL using httpClient (pass
// nil to use http.DefaultClient).
func NewRPCClient(baseURL string, httpClient *http.Client) *RPCClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RPCClient{httpClient: httpClient, baseURL: baseURL}
}

func (c *RPCClient) call(ctx context.Context, path string, req, resp any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return selfheal.New(selfheal.KindInternal, "failed to marshal request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return selfheal.New(selfheal.KindInternal, "failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return selfheal.New(selfheal.KindTransient, "rpc call failed", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return selfheal.New(selfheal.KindTransient, "failed to read rpc response", err)
	}

	if err := classifyStatus(httpResp.StatusCode, respBody); err != nil {
		return err
	}

	if err := json.Unmarshal(respBody, resp); err != nil {
		return selfheal.New(selfheal.KindInvalidInput, "rpc response was not valid JSON", err)
	}
	return nil
}

func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 429:
		return selfheal.New(selfheal.KindRateLimited, "rpc rate limited", fmt.Errorf("status %d: %s", status, body))
	case status >= 500:
		return selfheal.New(selfheal.KindTransient, "rpc server error", fmt.Errorf("status %d: %s", status, body))
	case status == 400 || status == 422:
		return selfheal.New(selfheal.KindInvalidInput, "rpc rejected request", fmt.Errorf("status %d: %s", status, body))
	default:
		return selfheal.New(selfheal.KindInternal, "unexpected rpc status", fmt.Errorf("status %d: %s", status, body))
	}
}

// HTTPPatcher is the reference Patcher client.
type HTTPPatcher struct{ rpc *RPCClient }

func NewHTTPPatcher(rpc *RPCClient) *HTTPPatcher { return &HTTPPatcher{rpc: rpc} }

func (p *HTTPPatcher) Patch(ctx context.Context, req selfheal.PatcherRequest) (selfheal.PatcherResponse, error) {
	var resp selfheal.PatcherResponse
	if err := p.rpc.call(ctx, "/v1/patch", req, &resp); err != nil {
		return selfheal.PatcherResponse{}, err
	}
	if !resp.Success && len(resp.CompilationErrors) > 0 {
		return resp, selfheal.New(selfheal.KindCompilationFailed, "patch failed to compile", nil)
	}
	return resp, nil
}

// HTTPTestRunner is the reference TestRunner client.
type HTTPTestRunner struct{ rpc *RPCClient }

func NewHTTPTestRunner(rpc *RPCClient) *HTTPTestRunner { return &HTTPTestRunner{rpc: rpc} }

func (t *HTTPTestRunner) RunTests(ctx context.Context, req selfheal.TestRunnerRequest) (selfheal.TestRunnerResponse, error) {
	var resp selfheal.TestRunnerResponse
	if err := t.rpc.call(ctx, "/v1/test", req, &resp); err != nil {
		return selfheal.TestRunnerResponse{}, err
	}
	return resp, nil
}

// HTTPProver is the reference Prover client.
type HTTPProver struct{ rpc *RPCClient }

func NewHTTPProver(rpc *RPCClient) *HTTPProver { return &HTTPProver{rpc: rpc} }

func (p *HTTPProver) Prove(ctx context.Context, req selfheal.ProverRequest) (selfheal.ProverResponse, error) {
	var resp selfheal.ProverResponse
	if err := p.rpc.call(ctx, "/v1/prove", req, &resp); err != nil {
		return selfheal.ProverResponse{}, err
	}
	return resp, nil
}

// HTTPMerger is the reference Merger client.
type HTTPMerger struct{ rpc *RPCClient }

func NewHTTPMerger(rpc *RPCClient) *HTTPMerger { return &HTTPMerger{rpc: rpc} }

func (m *HTTPMerger) Merge(ctx context.Context, req selfheal.MergerRequest) (selfheal.MergerResponse, error) {
	var resp selfheal.MergerResponse
	if err := m.rpc.call(ctx, "/v1/merge", req, &resp); err != nil {
		return selfheal.MergerResponse{}, err
	}
	if !resp.Merged && resp.Reason != "" {
		return resp, selfheal.New(selfheal.KindMergeBlocked, resp.Reason, nil)
	}
	return resp, nil
}

// HTTPDiagnoser is a non-LLM reference Diagnoser client, for deployments
// that front their own root-cause model behind a conventional RPC endpoint
// instead of calling Anthropic directly. AnthropicDiagnoser remains the
// diagnoser the specification treats as "LLM-backed" (§1); this exists so
// main wiring has a fallback when no Anthropic API key is configured.
type HTTPDiagnoser struct{ rpc *RPCClient }

func NewHTTPDiagnoser(rpc *RPCClient) *HTTPDiagnoser { return &HTTPDiagnoser{rpc: rpc} }

func (d *HTTPDiagnoser) Diagnose(ctx context.Context, req selfheal.DiagnoserRequest) (selfheal.DiagnoserResponse, error) {
	var resp selfheal.DiagnoserResponse
	if err := d.rpc.call(ctx, "/v1/diagnose", req, &resp); err != nil {
		return selfheal.DiagnoserResponse{}, err
	}
	if err := ValidateDiagnoserResponse(resp); err != nil {
		return resp, err
	}
	return resp, nil
}
