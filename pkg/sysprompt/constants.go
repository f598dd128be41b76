// Package sysprompt assembles the model-visible system prompt from
// embedded templates: a persona section per {mode, tier}, core
// mandates, tool descriptions filtered by mode and model capability,
// active skills, sanity checks for the small tiers, project rules, and
// the focused-files listing. Build is pure: the same inputs always
// produce byte-identical output.
package sysprompt

import "embed"

// TemplateFS contains the embedded template files for system prompts.
//
//go:embed templates/*.tmpl templates/personas/*.tmpl templates/tiers/*.tmpl
var TemplateFS embed.FS

const (
	// ProductName is the name of the product used in prompts.
	ProductName = "ollm"

	// ProjectRulesFile is the workspace-relative path whose content is
	// appended to the prompt as project rules.
	ProjectRulesFile = ".ollm/ollm.md"

	// SystemTemplate is the path to the main system prompt template.
	SystemTemplate = "templates/system.tmpl"

	// ShellTool is the identifier for the shell command execution tool.
	ShellTool = "shell"
	// ReadFileTool is the identifier for the file read tool.
	ReadFileTool = "read_file"
	// WriteFileTool is the identifier for the file write tool.
	WriteFileTool = "write_file"
	// EditFileTool is the identifier for the file edit tool.
	EditFileTool = "edit_file"
	// GrepTool is the identifier for the content search tool.
	GrepTool = "grep"
	// GlobTool is the identifier for the file matching tool.
	GlobTool = "glob"
	// WebSearchTool is the identifier for the web search tool.
	WebSearchTool = "web_search"
	// WebFetchTool is the identifier for the web fetch tool.
	WebFetchTool = "web_fetch"
)
