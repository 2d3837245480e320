// Package registry implements a client for the public Terraform Registry
// module API (v1). All reads go through a resilient caller so responses are
// cached and the outbound budget is enforced in one place.
package registry

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

	"github.com/tidwall/gjson"

	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/errors"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/resilient"
)

const (
	// DefaultBaseURL is the public Terraform Registry endpoint.
	DefaultBaseURL = "https://registry.terraform.io"

	// DefaultSearchLimit applies when the caller does not specify one.
	DefaultSearchLimit = 10

	// maxSearchLimit is the registry's own per-page ceiling.
	maxSearchLimit = 100

	// maxResponseBytes guards against pathological payloads.
	maxResponseBytes = 10 << 20
)

// Config configures a registry Client.
type Config struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string

	// Namespace scopes searches to one publisher when non-empty.
	Namespace string

	// HTTPClient defaults to a client with a 30 second timeout.
	HTTPClient *http.Client

	// Caller wraps every registry read. Required.
	Caller *resilient.Caller
}

// Client reads module metadata from the Terraform Registry.
type Client struct {
	baseURL    string
	namespace  string
	httpClient *http.Client
	caller     *resilient.Caller
}

// NewClient creates a registry client from the config.
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
		baseURL:    baseURL,
		namespace:  cfg.Namespace,
		httpClient: httpClient,
		caller:     cfg.Caller,
	}, nil
}

// SearchModules queries the registry's module search endpoint. A limit of
// zero uses DefaultSearchLimit; limits above the registry's page ceiling are
// clamped to it. An empty namespace falls back to the client's configured
// default namespace, if any.
func (c *Client) SearchModules(ctx context.Context, query, namespace string, limit int) ([]Module, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.NewInvalidArgumentError("search query must not be empty", nil)
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	if namespace == "" {
		namespace = c.namespace
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))
	if namespace != "" {
		params.Set("namespace", namespace)
	}
	endpoint := fmt.Sprintf("%s/v1/modules/search?%s", c.baseURL, params.Encode())

	body, err := c.caller.Do(ctx, endpoint, c.fetch(endpoint))
	if err != nil {
		return nil, err
	}

	var result SearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, errors.NewTransientTransportError("malformed search response", err)
	}
	return result.Modules, nil
}

// GetModule fetches the full record for one module version. An empty version
// resolves to the latest published version.
func (c *Client) GetModule(ctx context.Context, namespace, name, provider, version string) (*ModuleDetails, error) {
	if namespace == "" || name == "" || provider == "" {
		return nil, errors.NewInvalidArgumentError("namespace, name and provider are required", nil)
	}

	endpoint := fmt.Sprintf("%s/v1/modules/%s/%s/%s",
		c.baseURL, url.PathEscape(namespace), url.PathEscape(name), url.PathEscape(provider))
	if version != "" {
		endpoint += "/" + url.PathEscape(version)
	}

	body, err := c.caller.Do(ctx, endpoint, c.fetch(endpoint))
	if err != nil {
		return nil, err
	}

	var details ModuleDetails
	if err := json.Unmarshal(body, &details); err != nil {
		return nil, errors.NewTransientTransportError("malformed module response", err)
	}
	return &details, nil
}

// GetModuleVersions lists the published versions of a module, newest last,
// in the order the registry reports them.
func (c *Client) GetModuleVersions(ctx context.Context, namespace, name, provider string) ([]string, error) {
	if namespace == "" || name == "" || provider == "" {
		return nil, errors.NewInvalidArgumentError("namespace, name and provider are required", nil)
	}

	endpoint := fmt.Sprintf("%s/v1/modules/%s/%s/%s/versions",
		c.baseURL, url.PathEscape(namespace), url.PathEscape(name), url.PathEscape(provider))

	body, err := c.caller.Do(ctx, endpoint, c.fetch(endpoint))
	if err != nil {
		return nil, err
	}

	// The versions payload nests each version under modules[0]; gjson is
	// lighter than modelling the whole envelope.
	entries := gjson.GetBytes(body, "modules.0.versions.#.version")
	if !entries.Exists() {
		return nil, errors.NewTransientTransportError("malformed versions response", nil)
	}
	versions := make([]string, 0, len(entries.Array()))
	for _, v := range entries.Array() {
		versions = append(versions, v.String())
	}
	return versions, nil
}

// fetch returns the operation that performs one GET against the endpoint,
// classifying failures for the retry layer.
func (c *Client) fetch(endpoint string) resilient.Operation {
	return func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, errors.NewInternalError("building registry request", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, errors.NewTransientTransportError(
				fmt.Sprintf("registry request to %s failed", endpoint), err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, errors.NewTransientTransportError("reading registry response", err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode == http.StatusNotFound:
			return nil, errors.NewPermanentRemoteError(
				fmt.Sprintf("registry resource not found: %s", endpoint), nil)
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, errors.NewRateLimitError("registry rate limit exceeded",
				retryAfterFromHeader(resp.Header, time.Now()))
		case resp.StatusCode >= 500:
			return nil, errors.NewTransientTransportError(
				fmt.Sprintf("registry returned %d", resp.StatusCode), nil)
		default:
			return nil, errors.NewPermanentRemoteError(
				fmt.Sprintf("registry returned %d", resp.StatusCode), nil)
		}
	}
}

// retryAfterFromHeader converts a Retry-After header into an absolute time.
// Falls back to one minute out when the header is absent or unparseable.
func retryAfterFromHeader(h http.Header, now time.Time) time.Time {
	if raw := h.Get("Retry-After"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
			return now.Add(time.Duration(secs) * time.Second)
		}
		if at, err := http.ParseTime(raw); err == nil {
			return at
		}
	}
	return now.Add(time.Minute)
}
