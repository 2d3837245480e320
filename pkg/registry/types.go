package registry

import "time"

// Module is one result from a registry module search.
type Module struct {
	ID          string    `json:"id"`
	Namespace   string    `json:"namespace"`
	Name        string    `json:"name"`
	Provider    string    `json:"provider"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
	Downloads   int       `json:"downloads"`
	Verified    bool      `json:"verified"`
}

// SearchResponse is the registry's module search payload.
type SearchResponse struct {
	Modules []Module `json:"modules"`
}

// ModuleInput is one input variable of a module.
type ModuleInput struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     string `json:"default"`
	Required    bool   `json:"required"`
}

// ModuleOutput is one output value of a module.
type ModuleOutput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ModuleResource is one managed resource declared by a module.
type ModuleResource struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ModuleDependency is one module-to-module dependency.
type ModuleDependency struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

// ModulePart describes the root module, a submodule or an example: the
// registry serves all three with the same shape.
type ModulePart struct {
	Path         string             `json:"path"`
	Name         string             `json:"name"`
	Readme       string             `json:"readme"`
	Empty        bool               `json:"empty"`
	Inputs       []ModuleInput      `json:"inputs"`
	Outputs      []ModuleOutput     `json:"outputs"`
	Dependencies []ModuleDependency `json:"dependencies"`
	Resources    []ModuleResource   `json:"resources"`
}

// ModuleDetails is the full registry record for one module version.
type ModuleDetails struct {
	Module

	Root       ModulePart   `json:"root"`
	Submodules []ModulePart `json:"submodules"`
	Examples   []ModulePart `json:"examples"`
	Versions   []string     `json:"versions"`
}
