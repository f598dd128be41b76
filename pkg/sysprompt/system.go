package sysprompt

import (
	"os"
	"path/filepath"

	"github.com/ollm-run/ollmcore/pkg/tokencount"
	"github.com/ollm-run/ollmcore/pkg/types"
)

// Build renders the canonical system prompt for the given mode and
// tier. allowedTools must already be filtered (see FilterTools);
// toolCalling mirrors the model's capability flag and, when false,
// omits the tool section entirely. The second return value is the
// prompt's token cost under the surrogate counter.
//
// Build is pure: same inputs produce byte-identical output.
func Build(
	mode types.Mode,
	tier types.Tier,
	allowedTools []ToolDescriptor,
	toolCalling bool,
	skills []SkillTemplate,
	focusedFiles []string,
	projectRules string,
) (string, int, error) {
	ctx := &PromptContext{
		Mode:         mode,
		Tier:         tier,
		Tools:        allowedTools,
		ToolCalling:  toolCalling,
		Skills:       skills,
		FocusedFiles: focusedFiles,
		ProjectRules: projectRules,
	}

	prompt, err := defaultRenderer.RenderSystemPrompt(ctx)
	if err != nil {
		return "", 0, err
	}
	return prompt, tokencount.CountText(prompt), nil
}

// LoadProjectRules reads the workspace's project rules file, returning
// an empty string when the file is absent.
func LoadProjectRules(workspaceDir string) string {
	content, err := os.ReadFile(filepath.Join(workspaceDir, ProjectRulesFile))
	if err != nil {
		return ""
	}
	return string(content)
}
