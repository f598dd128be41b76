package hooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollm-run/ollmcore/pkg/types"
)

func TestRegistryAssignsIDs(t *testing.T) {
	registry := NewRegistry()
	hook := registry.Register(types.Hook{Name: "audit", Event: types.EventBeforeTool, Command: "/usr/bin/audit"})
	assert.NotEmpty(t, hook.ID)
	assert.NotZero(t, hook.RegisteredAt)
}

func TestHooksForOrdersBySourcePriority(t *testing.T) {
	registry := NewRegistry()
	registry.Register(types.Hook{Name: "ext", Event: types.EventBeforeTool, Source: types.HookSourceExtension})
	registry.Register(types.Hook{Name: "ws", Event: types.EventBeforeTool, Source: types.HookSourceWorkspace})
	registry.Register(types.Hook{Name: "builtin", Event: types.EventBeforeTool, Source: types.HookSourceBuiltin})
	registry.Register(types.Hook{Name: "dl", Event: types.EventBeforeTool, Source: types.HookSourceDownloaded})
	registry.Register(types.Hook{Name: "user", Event: types.EventBeforeTool, Source: types.HookSourceUser})

	hooks := registry.HooksFor(types.EventBeforeTool)
	var names []string
	for _, h := range hooks {
		names = append(names, h.Name)
	}
	assert.Equal(t, []string{"builtin", "user", "ws", "dl", "ext"}, names)
}

func TestHooksForBreaksTiesByRegistrationOrder(t *testing.T) {
	registry := NewRegistry()
	registry.Register(types.Hook{Name: "first", Event: types.EventAfterTool, Source: types.HookSourceUser})
	registry.Register(types.Hook{Name: "second", Event: types.EventAfterTool, Source: types.HookSourceUser})
	registry.Register(types.Hook{Name: "third", Event: types.EventAfterTool, Source: types.HookSourceUser})

	hooks := registry.HooksFor(types.EventAfterTool)
	require.Len(t, hooks, 3)
	assert.Equal(t, "first", hooks[0].Name)
	assert.Equal(t, "third", hooks[2].Name)
}

func TestHooksForSeparatesEvents(t *testing.T) {
	registry := NewRegistry()
	registry.Register(types.Hook{Name: "before", Event: types.EventBeforeTool, Source: types.HookSourceUser})
	registry.Register(types.Hook{Name: "after", Event: types.EventAfterTool, Source: types.HookSourceUser})

	assert.Len(t, registry.HooksFor(types.EventBeforeTool), 1)
	assert.Len(t, registry.HooksFor(types.EventAfterTool), 1)
	assert.Empty(t, registry.HooksFor(types.EventSessionStart))
	assert.True(t, registry.HasHooks(types.EventBeforeTool))
	assert.False(t, registry.HasHooks(types.EventBeforeModel))
}

func TestValidateCommandRejectsMetaCharacters(t *testing.T) {
	bad := []string{
		"/bin/echo;rm",
		"/bin/echo|cat",
		"/bin/echo$(id)",
		"/bin/echo`id`",
		"/bin/echo&",
		"/bin/echo>out",
	}
	for _, cmd := range bad {
		err := ValidateCommand(types.Hook{Command: cmd})
		assert.Error(t, err, cmd)
	}
}

func TestValidateCommandRejectsMetaCharactersInArgs(t *testing.T) {
	err := ValidateCommand(types.Hook{Command: "/bin/echo", Args: []string{"$(whoami)"}})
	assert.Error(t, err)
}

func TestValidateCommandWhitelist(t *testing.T) {
	for _, cmd := range []string{"node", "python", "python3", "bash", "sh", "npx", "uvx"} {
		assert.NoError(t, ValidateCommand(types.Hook{Command: cmd}), cmd)
	}
	assert.NoError(t, ValidateCommand(types.Hook{Command: "/usr/local/bin/custom-hook"}))
	assert.Error(t, ValidateCommand(types.Hook{Command: "perl"}))
	assert.Error(t, ValidateCommand(types.Hook{Command: "relative/path"}))
	assert.Error(t, ValidateCommand(types.Hook{Command: ""}))
}

func TestValidateCommandAggregatesViolations(t *testing.T) {
	err := ValidateCommand(types.Hook{Command: "evil;cmd", Args: []string{"`id`"}})
	require.Error(t, err)
	// Both the command and the argument violations are reported.
	assert.Contains(t, err.Error(), "forbidden character")
	assert.Contains(t, err.Error(), "must be an absolute path")
}
