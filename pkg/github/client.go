// Package github implements a read-only client for the GitHub REST API,
// covering the repository content operations the module tools need: readme,
// tree listing, file content and version tag resolution.
//
// Requests carry a bearer token via the transport when one is configured.
// A local token-bucket guard caps the request rate below GitHub's published
// limits; the resilient caller adds caching, the shared budget and retry on
// top.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/errors"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/resilient"
)

const (
	// DefaultBaseURL is the GitHub.com API endpoint.
	DefaultBaseURL = "https://api.github.com"

	// apiVersion pins the REST API version header.
	apiVersion = "2022-11-28"

	// userAgent identifies this client to GitHub.
	userAgent = "tim-mcp"

	// acceptRaw asks content endpoints for the raw file body instead of
	// the base64 JSON envelope.
	acceptRaw = "application/vnd.github.raw+json"

	// acceptJSON is the standard REST media type.
	acceptJSON = "application/vnd.github+json"

	// maxResponseBytes bounds a single response read. Tree listings of
	// large repositories are the biggest payloads we handle.
	maxResponseBytes = 20 << 20
)

// Config configures a GitHub Client.
type Config struct {
	// BaseURL defaults to DefaultBaseURL. Override for GHES.
	BaseURL string

	// HTTPClient should carry the auth transport; defaults to a plain
	// client with a 30 second timeout (unauthenticated).
	HTTPClient *http.Client

	// Caller wraps every GitHub read. Required.
	Caller *resilient.Caller
}

// Client reads repository content from the GitHub REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	caller     *resilient.Caller

	// rateLimiter caps the local request rate well below GitHub's
	// 5,000 requests/hour so one busy instance never trips the remote
	// side before the sliding-window budget does.
	rateLimiter *rate.Limiter
}

// NewClient creates a GitHub client from the config.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Caller == nil {
		return nil, errors.NewInvalidArgumentError("resilient caller is required", nil)
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:     baseURL,
		httpClient:  httpClient,
		caller:      cfg.Caller,
		rateLimiter: rate.NewLimiter(10, 20),
	}, nil
}

// TreeEntry is one object in a git tree listing.
type TreeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
	Size int64  `json:"size,omitempty"`
	SHA  string `json:"sha"`
}

type treeResponse struct {
	SHA       string      `json:"sha"`
	Tree      []TreeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

// GetReadme returns the raw readme of a repository at the given ref. An
// empty ref means the default branch.
func (c *Client) GetReadme(ctx context.Context, owner, repo, ref string) (string, error) {
	if owner == "" || repo == "" {
		return "", errors.NewInvalidArgumentError("owner and repo are required", nil)
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s/readme",
		c.baseURL, url.PathEscape(owner), url.PathEscape(repo))
	if ref != "" {
		endpoint += "?ref=" + url.QueryEscape(ref)
	}

	body, err := c.caller.Do(ctx, endpoint+"#raw", c.fetch(endpoint, acceptRaw))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// GetTree lists the repository tree at the given ref. With recursive set,
// the listing covers the whole repository in one call.
func (c *Client) GetTree(ctx context.Context, owner, repo, ref string, recursive bool) ([]TreeEntry, error) {
	if owner == "" || repo == "" {
		return nil, errors.NewInvalidArgumentError("owner and repo are required", nil)
	}
	if ref == "" {
		ref = "HEAD"
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s",
		c.baseURL, url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(ref))
	if recursive {
		endpoint += "?recursive=1"
	}

	body, err := c.caller.Do(ctx, endpoint, c.fetch(endpoint, acceptJSON))
	if err != nil {
		return nil, err
	}

	var result treeResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, errors.NewTransientTransportError("malformed tree response", err)
	}
	return result.Tree, nil
}

// GetFileContent returns the raw content of one file at the given ref.
func (c *Client) GetFileContent(ctx context.Context, owner, repo, path, ref string) (string, error) {
	if owner == "" || repo == "" || path == "" {
		return "", errors.NewInvalidArgumentError("owner, repo and path are required", nil)
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		c.baseURL, url.PathEscape(owner), url.PathEscape(repo), escapePath(path))
	if ref != "" {
		endpoint += "?ref=" + url.QueryEscape(ref)
	}

	body, err := c.caller.Do(ctx, endpoint+"#raw", c.fetch(endpoint, acceptRaw))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// ResolveVersionRef maps a registry module version like "1.2.3" to the git
// tag the repository actually uses, trying the bare version and the
// v-prefixed form. Returns an empty ref (default branch) when neither tag
// exists.
func (c *Client) ResolveVersionRef(ctx context.Context, owner, repo, version string) (string, error) {
	if version == "" {
		return "", nil
	}

	for _, tag := range []string{"v" + version, version} {
		endpoint := fmt.Sprintf("%s/repos/%s/%s/git/ref/%s",
			c.baseURL, url.PathEscape(owner), url.PathEscape(repo),
			escapePath("tags/"+tag))

		_, err := c.caller.Do(ctx, endpoint, c.fetch(endpoint, acceptJSON))
		if err == nil {
			return tag, nil
		}
		if !errors.IsPermanentRemote(err) {
			return "", err
		}
	}
	return "", nil
}

// fetch returns the operation that performs one GET against the endpoint,
// classifying failures for the retry layer.
func (c *Client) fetch(endpoint, accept string) resilient.Operation {
	return func(ctx context.Context) ([]byte, error) {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, errors.NewInternalError("rate limit wait failed", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, errors.NewInternalError("building github request", err)
		}
		req.Header.Set("Accept", accept)
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("X-GitHub-Api-Version", apiVersion)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, errors.NewTransientTransportError(
				fmt.Sprintf("github request to %s failed", endpoint), err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, errors.NewTransientTransportError("reading github response", err)
		}

		return classifyResponse(resp, body, endpoint)
	}
}

// classifyResponse maps a GitHub response to the error taxonomy. GitHub
// signals a spent quota as 403 with X-RateLimit-Remaining: 0 as well as the
// newer 429, so both are treated as rate limits.
func classifyResponse(resp *http.Response, body []byte, endpoint string) ([]byte, error) {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.NewPermanentRemoteError(
			fmt.Sprintf("github resource not found: %s", endpoint), nil)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errors.NewPermanentRemoteError("github rejected credentials", nil)
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return nil, errors.NewRateLimitError("github rate limit exceeded",
			rateLimitReset(resp.Header, time.Now()))
	case resp.StatusCode == http.StatusForbidden:
		return nil, errors.NewPermanentRemoteError(
			fmt.Sprintf("github access forbidden: %s", endpoint), nil)
	case resp.StatusCode >= 500:
		return nil, errors.NewTransientTransportError(
			fmt.Sprintf("github returned %d", resp.StatusCode), nil)
	default:
		return nil, errors.NewPermanentRemoteError(
			fmt.Sprintf("github returned %d: %s", resp.StatusCode, string(body)), nil)
	}
}

// rateLimitReset extracts the quota reset time from X-RateLimit-Reset (unix
// seconds) or Retry-After (delta seconds), whichever is present. Falls back
// to one minute out.
func rateLimitReset(h http.Header, now time.Time) time.Time {
	if raw := h.Get("X-RateLimit-Reset"); raw != "" {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil && unix > 0 {
			return time.Unix(unix, 0)
		}
	}
	if raw := h.Get("Retry-After"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
			return now.Add(time.Duration(secs) * time.Second)
		}
	}
	return now.Add(time.Minute)
}

// escapePath escapes each segment of a repository path while keeping the
// separators intact.
func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// ParseRepoURL extracts owner and repo from a GitHub repository URL the way
// registry source fields report them, e.g.
// "https://github.com/terraform-ibm-modules/terraform-ibm-vpc".
func ParseRepoURL(source string) (owner, repo string, err error) {
	u, err := url.Parse(source)
	if err != nil {
		return "", "", errors.NewInvalidArgumentError(
			fmt.Sprintf("invalid repository url %q", source), err)
	}
	if !strings.HasSuffix(u.Host, "github.com") {
		return "", "", errors.NewInvalidArgumentError(
			fmt.Sprintf("not a github repository url: %q", source), nil)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.NewInvalidArgumentError(
			fmt.Sprintf("repository url %q missing owner or repo", source), nil)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}
