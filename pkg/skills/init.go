package skills

import (
	"context"

	"github.com/spf13/viper"

	"github.com/ollm-run/ollmcore/pkg/logger"
)

// Initialize discovers and configures skills based on configuration and CLI flags.
// It respects the --no-skills flag (bound to no_skills in viper) and the
// skills.enabled / skills.allowed settings.
// Returns the discovered skills and whether skills are enabled.
func Initialize(ctx context.Context) (map[string]*Skill, bool) {
	// Check if disabled via CLI flag (--no-skills sets no_skills to true)
	noSkillsFlag := viper.GetBool("no_skills")

	// skills.enabled defaults to true when unset
	enabled := (!viper.IsSet("skills.enabled") || viper.GetBool("skills.enabled")) && !noSkillsFlag
	if !enabled {
		return nil, false
	}

	discovery, err := NewDiscovery()
	if err != nil {
		logger.G(ctx).WithError(err).Debug("Failed to create skill discovery")
		return nil, false
	}

	allSkills, err := discovery.DiscoverSkills()
	if err != nil {
		logger.G(ctx).WithError(err).Debug("Failed to discover skills")
		return nil, false
	}

	if allowed := viper.GetStringSlice("skills.allowed"); len(allowed) > 0 {
		allSkills = FilterByAllowlist(allSkills, allowed)
	}

	return allSkills, true
}
