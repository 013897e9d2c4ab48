package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/beastmode/internal/ir"
)

// DefaultGitHubAPI is the public GitHub REST endpoint.
const DefaultGitHubAPI = "https://api.github.com"

// GitHubConfig configures a GitHub Actions backend.
type GitHubConfig struct {
	// BaseURL overrides the API endpoint (GitHub Enterprise, tests).
	BaseURL string

	Owner string
	Repo  string

	// Ref is the branch or tag the workflow runs on. Defaults to "main".
	Ref string

	Token string

	// RatePerSecond throttles dispatches client-side. Zero disables it.
	RatePerSecond float64

	// Timeout bounds each HTTP request. Defaults to 30s.
	Timeout time.Duration
}

// GitHub triggers workflows through the workflow_dispatch REST API:
//
//	POST /repos/{owner}/{repo}/actions/workflows/{id}.yml/dispatches
//
// A 204 response is the backend's acknowledgement. The API does not return
// the run it created, so a best-effort lookup of the newest dispatch run
// fills in RunRef.
type GitHub struct {
	cfg     GitHubConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewGitHub creates a GitHub backend.
func NewGitHub(cfg GitHubConfig) *GitHub {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGitHubAPI
	}
	if cfg.Ref == "" {
		cfg.Ref = "main"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	g := &GitHub{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RatePerSecond > 0 {
		burst := max(1, int(cfg.RatePerSecond))
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return g
}

type dispatchRequest struct {
	Ref    string            `json:"ref"`
	Inputs map[string]string `json:"inputs,omitempty"`
}

// Trigger dispatches workflowID with inputs. Inputs are sent as strings,
// which is the only form workflow_dispatch accepts.
func (g *GitHub) Trigger(ctx context.Context, workflowID string, inputs ir.Inputs) (RunRef, error) {
	fail := func(class Class, status int, err error) (RunRef, error) {
		return RunRef{}, &Error{Class: class, WorkflowID: workflowID, StatusCode: status, Err: err}
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fail(NotDelivered, 0, fmt.Errorf("waiting for rate limiter: %w", err))
		}
	}

	body, err := json.Marshal(dispatchRequest{Ref: g.cfg.Ref, Inputs: inputs.Strings()})
	if err != nil {
		return fail(Rejected, 0, err)
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s/actions/workflows/%s/dispatches",
		g.cfg.BaseURL, url.PathEscape(g.cfg.Owner), url.PathEscape(g.cfg.Repo), url.PathEscape(workflowFile(workflowID)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fail(Rejected, 0, err)
	}
	g.headers(req)
	req.Header.Set("Content-Type", "application/json")

	dispatchedAt := time.Now().UTC()
	resp, err := g.client.Do(req)
	if err != nil {
		if notSent(err) {
			return fail(NotDelivered, 0, err)
		}
		return fail(Ambiguous, 0, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK:
		// acknowledged
	case resp.StatusCode == http.StatusTooManyRequests:
		// Throttled requests are refused before any work is queued.
		return fail(NotDelivered, resp.StatusCode, responseError(resp))
	case resp.StatusCode >= 500:
		return fail(Ambiguous, resp.StatusCode, responseError(resp))
	default:
		return fail(Rejected, resp.StatusCode, responseError(resp))
	}

	slog.Info("workflow dispatched", "workflow_id", workflowID, "ref", g.cfg.Ref)

	ref, err := g.latestRun(ctx, workflowID, dispatchedAt)
	if err != nil {
		// The dispatch is acknowledged; a missing run URL is not a failure.
		slog.Debug("run lookup failed", "workflow_id", workflowID, "error", err)
	}
	return ref, nil
}

type runsResponse struct {
	WorkflowRuns []struct {
		ID        int64     `json:"id"`
		HTMLURL   string    `json:"html_url"`
		CreatedAt time.Time `json:"created_at"`
	} `json:"workflow_runs"`
}

// latestRun returns the newest workflow_dispatch run created no earlier
// than since (with a small allowance for clock skew).
func (g *GitHub) latestRun(ctx context.Context, workflowID string, since time.Time) (RunRef, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/actions/workflows/%s/runs?event=workflow_dispatch&per_page=1",
		g.cfg.BaseURL, url.PathEscape(g.cfg.Owner), url.PathEscape(g.cfg.Repo), url.PathEscape(workflowFile(workflowID)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return RunRef{}, err
	}
	g.headers(req)

	resp, err := g.client.Do(req)
	if err != nil {
		return RunRef{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return RunRef{}, responseError(resp)
	}

	var runs runsResponse
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		return RunRef{}, fmt.Errorf("decoding runs: %w", err)
	}
	if len(runs.WorkflowRuns) == 0 {
		return RunRef{}, fmt.Errorf("no runs yet")
	}
	run := runs.WorkflowRuns[0]
	if !run.CreatedAt.IsZero() && run.CreatedAt.Before(since.Add(-time.Minute)) {
		return RunRef{}, fmt.Errorf("newest run %d predates the dispatch", run.ID)
	}
	return RunRef{ID: strconv.FormatInt(run.ID, 10), URL: run.HTMLURL}, nil
}

func (g *GitHub) headers(req *http.Request) {
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if g.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	}
}

// workflowFile maps a catalog id to its workflow file name.
func workflowFile(id string) string {
	return id + ".yml"
}

// responseError reads a bounded amount of the response body into an error.
func responseError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Message != "" {
		return fmt.Errorf("%s", payload.Message)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		return fmt.Errorf("%s", bytes.TrimSpace(data))
	}
	return fmt.Errorf("%s", http.StatusText(resp.StatusCode))
}
