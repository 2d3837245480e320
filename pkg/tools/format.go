package tools

import (
	"fmt"
	"sort"
	"strings"

	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/github"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/registry"
)

func formatSearchResults(query string, modules []registry.Module) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Module search results for %q\n\n", query)
	if len(modules) == 0 {
		b.WriteString("No modules found.\n")
		return b.String()
	}

	for _, m := range modules {
		fmt.Fprintf(&b, "## %s/%s/%s\n\n", m.Namespace, m.Name, m.Provider)
		if m.Description != "" {
			fmt.Fprintf(&b, "%s\n\n", m.Description)
		}
		fmt.Fprintf(&b, "- Latest version: %s\n", m.Version)
		fmt.Fprintf(&b, "- Downloads: %d\n", m.Downloads)
		if m.Verified {
			b.WriteString("- Verified: yes\n")
		}
		if m.Source != "" {
			fmt.Fprintf(&b, "- Source: %s\n", m.Source)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatModuleDetails(d *registry.ModuleDetails) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s/%s/%s %s\n\n", d.Namespace, d.Name, d.Provider, d.Version)
	if d.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", d.Description)
	}
	if d.Source != "" {
		fmt.Fprintf(&b, "Source: %s\n\n", d.Source)
	}

	if len(d.Root.Inputs) > 0 {
		b.WriteString("## Inputs\n\n")
		b.WriteString("| Name | Type | Required | Description |\n")
		b.WriteString("|------|------|----------|-------------|\n")
		for _, in := range d.Root.Inputs {
			required := "no"
			if in.Required {
				required = "yes"
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
				in.Name, in.Type, required, sanitizeCell(in.Description))
		}
		b.WriteString("\n")
	}

	if len(d.Root.Outputs) > 0 {
		b.WriteString("## Outputs\n\n")
		for _, out := range d.Root.Outputs {
			fmt.Fprintf(&b, "- `%s`", out.Name)
			if out.Description != "" {
				fmt.Fprintf(&b, ": %s", out.Description)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(d.Root.Dependencies) > 0 {
		b.WriteString("## Dependencies\n\n")
		for _, dep := range d.Root.Dependencies {
			fmt.Fprintf(&b, "- %s (%s)\n", dep.Name, dep.Source)
		}
		b.WriteString("\n")
	}

	if len(d.Root.Resources) > 0 {
		b.WriteString("## Resources\n\n")
		for _, r := range d.Root.Resources {
			fmt.Fprintf(&b, "- %s.%s\n", r.Type, r.Name)
		}
		b.WriteString("\n")
	}

	if len(d.Submodules) > 0 {
		b.WriteString("## Submodules\n\n")
		for _, s := range d.Submodules {
			fmt.Fprintf(&b, "- %s\n", s.Path)
		}
		b.WriteString("\n")
	}

	if len(d.Examples) > 0 {
		b.WriteString("## Examples\n\n")
		for _, e := range d.Examples {
			fmt.Fprintf(&b, "- %s\n", e.Path)
		}
		b.WriteString("\n")
	}

	if len(d.Versions) > 0 {
		b.WriteString("## Versions\n\n")
		fmt.Fprintf(&b, "%s\n", strings.Join(d.Versions, ", "))
	}
	return b.String()
}

func formatTree(owner, repo, ref string, tree []github.TreeEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Contents of %s/%s%s\n\n", owner, repo, refSuffix(ref))

	var root, examples, submodules, other []string
	for _, entry := range tree {
		if entry.Type != "blob" {
			continue
		}
		switch {
		case strings.HasPrefix(entry.Path, "examples/"):
			examples = append(examples, entry.Path)
		case strings.HasPrefix(entry.Path, "modules/"):
			submodules = append(submodules, entry.Path)
		case !strings.Contains(entry.Path, "/"):
			root = append(root, entry.Path)
		default:
			other = append(other, entry.Path)
		}
	}

	writeSection := func(title string, paths []string) {
		if len(paths) == 0 {
			return
		}
		sort.Strings(paths)
		fmt.Fprintf(&b, "## %s\n\n", title)
		for _, p := range paths {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("\n")
	}

	writeSection("Root", root)
	writeSection("Examples", examples)
	writeSection("Submodules", submodules)
	writeSection("Other", other)

	if len(root)+len(examples)+len(submodules)+len(other) == 0 {
		b.WriteString("Repository is empty.\n")
	}
	return b.String()
}

func formatFileContent(owner, repo, ref, path, content string) string {
	if path == "" {
		path = "README"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s/%s: %s%s\n\n", owner, repo, path, refSuffix(ref))

	if strings.HasSuffix(path, ".md") || path == "README" {
		b.WriteString(content)
		if !strings.HasSuffix(content, "\n") {
			b.WriteString("\n")
		}
		return b.String()
	}

	lang := ""
	if strings.HasSuffix(path, ".tf") || strings.HasSuffix(path, ".tfvars") {
		lang = "hcl"
	}
	fmt.Fprintf(&b, "```%s\n%s", lang, content)
	if !strings.HasSuffix(content, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```\n")
	return b.String()
}

func refSuffix(ref string) string {
	if ref == "" {
		return ""
	}
	return fmt.Sprintf(" (at %s)", ref)
}

// sanitizeCell keeps multi-line descriptions from breaking markdown tables.
func sanitizeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", "\\|")
}
