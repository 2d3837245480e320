// Package tools implements the MCP tool surface: Terraform module discovery
// backed by the registry client and repository content backed by the GitHub
// client. Handlers are thin: parse arguments, fetch through the resilient
// client layer, render markdown.
package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/errors"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/github"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/registry"
)

// Handler holds the clients behind the tool surface.
type Handler struct {
	registry *registry.Client
	github   *github.Client
}

// NewHandler creates a tool handler from the two domain clients.
func NewHandler(registryClient *registry.Client, githubClient *github.Client) (*Handler, error) {
	if registryClient == nil || githubClient == nil {
		return nil, errors.NewInvalidArgumentError("registry and github clients are required", nil)
	}
	return &Handler{registry: registryClient, github: githubClient}, nil
}

// RegisterTools registers all module tools on the MCP server.
func RegisterTools(s *server.MCPServer, h *Handler) {
	s.AddTool(mcp.Tool{
		Name:        "search_modules",
		Description: "Search the Terraform Registry for modules matching a query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query, e.g. 'vpc' or 'kubernetes'",
				},
				"namespace": map[string]interface{}{
					"type":        "string",
					"description": "Restrict results to one registry namespace, e.g. 'terraform-ibm-modules'",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results (default 10)",
				},
			},
			Required: []string{"query"},
		},
	}, h.searchModules)

	s.AddTool(mcp.Tool{
		Name:        "get_module_details",
		Description: "Get inputs, outputs, resources and versions for a Terraform Registry module",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"module_id": map[string]interface{}{
					"type":        "string",
					"description": "Module identifier as namespace/name/provider, e.g. 'terraform-ibm-modules/vpc/ibm'",
				},
				"version": map[string]interface{}{
					"type":        "string",
					"description": "Module version; omit for the latest",
				},
			},
			Required: []string{"module_id"},
		},
	}, h.getModuleDetails)

	s.AddTool(mcp.Tool{
		Name:        "list_content",
		Description: "List the source repository contents of a Terraform Registry module",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"module_id": map[string]interface{}{
					"type":        "string",
					"description": "Module identifier as namespace/name/provider",
				},
				"version": map[string]interface{}{
					"type":        "string",
					"description": "Module version; omit for the latest",
				},
			},
			Required: []string{"module_id"},
		},
	}, h.listContent)

	s.AddTool(mcp.Tool{
		Name:        "get_content",
		Description: "Fetch a file from a Terraform Registry module's source repository",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"module_id": map[string]interface{}{
					"type":        "string",
					"description": "Module identifier as namespace/name/provider",
				},
				"path": map[string]interface{}{
					"type":        "string",
					"description": "File path within the repository; omit for the README",
				},
				"version": map[string]interface{}{
					"type":        "string",
					"description": "Module version; omit for the latest",
				},
			},
			Required: []string{"module_id"},
		},
	}, h.getContent)
}

// parseModuleID splits "namespace/name/provider" into its parts.
func parseModuleID(id string) (namespace, name, provider string, err error) {
	parts := strings.Split(strings.Trim(id, "/"), "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", errors.NewInvalidArgumentError(
			fmt.Sprintf("module_id must be namespace/name/provider, got %q", id), nil)
	}
	return parts[0], parts[1], parts[2], nil
}

func (h *Handler) searchModules(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		Query     string `json:"query"`
		Namespace string `json:"namespace,omitempty"`
		Limit     int    `json:"limit,omitempty"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}

	modules, err := h.registry.SearchModules(ctx, args.Query, args.Namespace, args.Limit)
	if err != nil {
		return toolError("Module search failed", err), nil
	}
	return mcp.NewToolResultText(formatSearchResults(args.Query, modules)), nil
}

func (h *Handler) getModuleDetails(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		ModuleID string `json:"module_id"`
		Version  string `json:"version,omitempty"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}

	namespace, name, provider, err := parseModuleID(args.ModuleID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	details, err := h.registry.GetModule(ctx, namespace, name, provider, args.Version)
	if err != nil {
		return toolError("Fetching module details failed", err), nil
	}
	return mcp.NewToolResultText(formatModuleDetails(details)), nil
}

func (h *Handler) listContent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		ModuleID string `json:"module_id"`
		Version  string `json:"version,omitempty"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}

	owner, repo, ref, err := h.resolveSource(ctx, args.ModuleID, args.Version)
	if err != nil {
		return toolError("Resolving module source failed", err), nil
	}

	tree, err := h.github.GetTree(ctx, owner, repo, ref, true)
	if err != nil {
		return toolError("Listing repository contents failed", err), nil
	}
	return mcp.NewToolResultText(formatTree(owner, repo, ref, tree)), nil
}

func (h *Handler) getContent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		ModuleID string `json:"module_id"`
		Path     string `json:"path,omitempty"`
		Version  string `json:"version,omitempty"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}

	owner, repo, ref, err := h.resolveSource(ctx, args.ModuleID, args.Version)
	if err != nil {
		return toolError("Resolving module source failed", err), nil
	}

	var content string
	if args.Path == "" {
		content, err = h.github.GetReadme(ctx, owner, repo, ref)
	} else {
		content, err = h.github.GetFileContent(ctx, owner, repo, args.Path, ref)
	}
	if err != nil {
		return toolError("Fetching file content failed", err), nil
	}
	return mcp.NewToolResultText(formatFileContent(owner, repo, ref, args.Path, content)), nil
}

// resolveSource maps a module ID and version to the GitHub coordinates of
// its source: the registry record carries the repository URL, and the
// version is resolved to the tag the repository actually uses.
func (h *Handler) resolveSource(ctx context.Context, moduleID, version string) (owner, repo, ref string, err error) {
	namespace, name, provider, err := parseModuleID(moduleID)
	if err != nil {
		return "", "", "", err
	}

	details, err := h.registry.GetModule(ctx, namespace, name, provider, version)
	if err != nil {
		return "", "", "", err
	}

	owner, repo, err = github.ParseRepoURL(details.Source)
	if err != nil {
		return "", "", "", err
	}

	resolved := version
	if resolved == "" {
		resolved = details.Version
	}
	ref, err = h.github.ResolveVersionRef(ctx, owner, repo, resolved)
	if err != nil {
		return "", "", "", err
	}
	return owner, repo, ref, nil
}

// toolError renders an error for the MCP client, surfacing the retry hint
// for rate limits.
func toolError(message string, err error) *mcp.CallToolResult {
	if errors.IsRateLimitExceeded(err) {
		if at := errors.RetryAfterOf(err); !at.IsZero() {
			return mcp.NewToolResultError(
				fmt.Sprintf("%s: rate limited, retry after %s", message, at.UTC().Format("15:04:05 MST")))
		}
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", message, err))
}
