package sysprompt

import (
	"fmt"

	"github.com/ollm-run/ollmcore/pkg/types"
)

// ToolDescriptor is the prompt-facing description of one registered
// tool, as sent to the model alongside the request.
type ToolDescriptor struct {
	ID          string
	Description string
	WriteClass  bool // mutates the host (file writes, shell)
}

// SkillTemplate is one active knowledge template injected into the prompt.
type SkillTemplate struct {
	Name    string
	Content string
}

// PromptContext carries everything a single Build call renders from.
type PromptContext struct {
	Mode         types.Mode
	Tier         types.Tier
	Tools        []ToolDescriptor
	ToolCalling  bool // model capability flag; false omits the tool section
	Skills       []SkillTemplate
	FocusedFiles []string
	ProjectRules string
}

// PersonaTemplate returns the template path for this context's mode.
func (c *PromptContext) PersonaTemplate() string {
	return fmt.Sprintf("templates/personas/%s.tmpl", c.Mode)
}

// TierTemplate returns the template path for this context's tier fragment.
func (c *PromptContext) TierTemplate() string {
	return fmt.Sprintf("templates/tiers/tier%d.tmpl", int(c.Tier))
}

// SanityChecks reports whether the sanity-check section applies: the
// two smallest tiers get extra guardrails against drift.
func (c *PromptContext) SanityChecks() bool {
	return c.Tier == types.TierMinimal || c.Tier == types.TierBasic
}

func (c *PromptContext) hasTools() bool {
	return c.ToolCalling && len(c.Tools) > 0
}

func (c *PromptContext) hasSkills() bool { return len(c.Skills) > 0 }

func (c *PromptContext) hasFocusedFiles() bool { return len(c.FocusedFiles) > 0 }

func (c *PromptContext) hasProjectRules() bool { return c.ProjectRules != "" }
