//go:build unix

package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollm-run/ollmcore/pkg/eventbus"
	"github.com/ollm-run/ollmcore/pkg/ollmerr"
	"github.com/ollm-run/ollmcore/pkg/trust"
	"github.com/ollm-run/ollmcore/pkg/types"
)

// writeScript drops an executable shell script into dir and returns its path.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/bash\n"+body), 0o755))
	return path
}

func newTestRunner(t *testing.T, registry *Registry, opts ...RunnerOption) (*Runner, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	runner := NewRunner(registry, trust.New(true), bus, opts...)
	return runner, bus
}

func TestDispatchParsesOutput(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "ok.sh", `echo '{"continue": true, "systemMessage": "all good", "data": {"k": "v"}}'`)

	registry := NewRegistry()
	registry.Register(types.Hook{Name: "ok", Event: types.EventBeforeTool, Command: script, Source: types.HookSourceUser, SourcePath: script})

	runner, _ := newTestRunner(t, registry)
	outcome := runner.Dispatch(context.Background(), types.EventBeforeTool, map[string]string{"tool": "shell"})

	require.Len(t, outcome.Results, 1)
	assert.NoError(t, outcome.Results[0].Err)
	assert.False(t, outcome.Aborted)
	assert.Equal(t, []string{"all good"}, outcome.SystemMessages)
	assert.Equal(t, "v", outcome.Data["k"])
}

func TestDispatchReceivesInputOnStdin(t *testing.T) {
	dir := t.TempDir()
	// The hook echoes back the event it was given on stdin.
	script := writeScript(t, dir, "echoer.sh",
		`input=$(cat)
event=$(printf '%s' "$input" | sed 's/.*"event":"\([^"]*\)".*/\1/')
printf '{"continue": true, "data": {"got": "%s"}}' "$event"`)

	registry := NewRegistry()
	registry.Register(types.Hook{Name: "echoer", Event: types.EventAfterModel, Command: script, Source: types.HookSourceUser, SourcePath: script})

	runner, _ := newTestRunner(t, registry)
	outcome := runner.Dispatch(context.Background(), types.EventAfterModel, nil)

	require.Len(t, outcome.Results, 1)
	require.NoError(t, outcome.Results[0].Err)
	assert.Equal(t, "after_model", outcome.Data["got"])
}

func TestAbortStopsDispatch(t *testing.T) {
	dir := t.TempDir()
	stopper := writeScript(t, dir, "stopper.sh", `echo '{"continue": false, "systemMessage": "stop"}'`)
	never := writeScript(t, dir, "never.sh", `echo '{"continue": true, "systemMessage": "ran anyway"}'`)

	registry := NewRegistry()
	registry.Register(types.Hook{Name: "stopper", Event: types.EventBeforeTool, Command: stopper, Source: types.HookSourceUser, SourcePath: stopper})
	registry.Register(types.Hook{Name: "never", Event: types.EventBeforeTool, Command: never, Source: types.HookSourceUser, SourcePath: never})

	runner, _ := newTestRunner(t, registry)
	outcome := runner.Dispatch(context.Background(), types.EventBeforeTool, nil)

	assert.True(t, outcome.Aborted)
	assert.Equal(t, []string{"stop"}, outcome.SystemMessages)
	require.Len(t, outcome.Results, 1)
	assert.Equal(t, "stopper", outcome.Results[0].Hook.Name)
}

func TestApprovalDriftSkipsHook(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "h.sh", `echo '{"continue": true}'`)

	registry := NewRegistry()
	hook := registry.Register(types.Hook{Name: "h", Event: types.EventBeforeTool, Command: script, Source: types.HookSourceWorkspace, SourcePath: script})

	trustStore := trust.New(false)
	content, err := os.ReadFile(script)
	require.NoError(t, err)
	trustStore.Approve(hook, trust.HashFor(hook, content), "user", time.Now())

	// Overwrite with different content of the same length.
	original, err := os.ReadFile(script)
	require.NoError(t, err)
	mutated := append([]byte{}, original...)
	mutated[len(mutated)-2] = '#'
	require.NoError(t, os.WriteFile(script, mutated, 0o755))

	bus := eventbus.New()
	runner := NewRunner(registry, trustStore, bus)
	outcome := runner.Dispatch(context.Background(), types.EventBeforeTool, nil)

	require.Len(t, outcome.Results, 1)
	result := outcome.Results[0]
	assert.True(t, ollmerr.Is(result.Err, ollmerr.HookNotApproved))
	assert.True(t, result.Output.Continue)
	require.NotNil(t, result.Output.Error)
	assert.Contains(t, *result.Output.Error, "not approved")
	assert.False(t, outcome.Aborted)
}

func TestApprovalCallbackGrantsAndRecords(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "dl.sh", `echo '{"continue": true}'`)

	registry := NewRegistry()
	registry.Register(types.Hook{Name: "dl", Event: types.EventBeforeTool, Command: script, Source: types.HookSourceDownloaded, SourcePath: script})

	trustStore := trust.New(false)
	prompted := 0
	bus := eventbus.New()
	runner := NewRunner(registry, trustStore, bus, WithApproval(func(hook types.Hook, hash string) bool {
		prompted++
		return true
	}))

	outcome := runner.Dispatch(context.Background(), types.EventBeforeTool, nil)
	require.Len(t, outcome.Results, 1)
	assert.NoError(t, outcome.Results[0].Err)
	assert.Equal(t, 1, prompted)

	// Second dispatch reuses the stored approval without prompting.
	runner.Dispatch(context.Background(), types.EventBeforeTool, nil)
	assert.Equal(t, 1, prompted)
}

func TestTimeoutSynthesisesOutput(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "slow.sh", `sleep 10; echo '{"continue": true}'`)

	registry := NewRegistry()
	registry.Register(types.Hook{Name: "slow", Event: types.EventBeforeTool, Command: script, Source: types.HookSourceUser, SourcePath: script})

	runner, _ := newTestRunner(t, registry, WithTimeout(200*time.Millisecond))
	start := time.Now()
	outcome := runner.Dispatch(context.Background(), types.EventBeforeTool, nil)
	assert.Less(t, time.Since(start), 5*time.Second)

	require.Len(t, outcome.Results, 1)
	result := outcome.Results[0]
	assert.True(t, ollmerr.Is(result.Err, ollmerr.HookTimedOut))
	assert.True(t, result.Output.Continue)
	require.NotNil(t, result.Output.Error)
	assert.Contains(t, *result.Output.Error, "timed out")
}

func TestOutputCapKillsProcess(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "noisy.sh", `yes x || true`)

	registry := NewRegistry()
	registry.Register(types.Hook{Name: "noisy", Event: types.EventBeforeTool, Command: script, Source: types.HookSourceUser, SourcePath: script})

	runner, _ := newTestRunner(t, registry, WithOutputCap(4096), WithTimeout(5*time.Second))
	outcome := runner.Dispatch(context.Background(), types.EventBeforeTool, nil)

	require.Len(t, outcome.Results, 1)
	result := outcome.Results[0]
	assert.True(t, ollmerr.Is(result.Err, ollmerr.HookOutputExceeded))
	require.NotNil(t, result.Output.Error)
	assert.Contains(t, *result.Output.Error, "exceeded")
}

func TestInvalidOutputSynthesised(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"empty":    `true`,
		"not json": `echo "plain text"`,
		"two docs": `echo '{"continue": true}'; echo '{"continue": false}'`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			script := writeScript(t, dir, name+".sh", body)
			registry := NewRegistry()
			registry.Register(types.Hook{Name: name, Event: types.EventBeforeTool, Command: script, Source: types.HookSourceUser, SourcePath: script})

			runner, _ := newTestRunner(t, registry)
			outcome := runner.Dispatch(context.Background(), types.EventBeforeTool, nil)

			require.Len(t, outcome.Results, 1)
			result := outcome.Results[0]
			assert.True(t, ollmerr.Is(result.Err, ollmerr.HookInvalidOutput))
			assert.True(t, result.Output.Continue)
			assert.False(t, outcome.Aborted)
		})
	}
}

func TestDataMergesLeftToRight(t *testing.T) {
	dir := t.TempDir()
	first := writeScript(t, dir, "first.sh", `echo '{"continue": true, "data": {"a": 1, "b": "first"}}'`)
	second := writeScript(t, dir, "second.sh", `echo '{"continue": true, "data": {"b": "second", "c": 3}}'`)

	registry := NewRegistry()
	registry.Register(types.Hook{Name: "first", Event: types.EventAfterTool, Command: first, Source: types.HookSourceUser, SourcePath: first})
	registry.Register(types.Hook{Name: "second", Event: types.EventAfterTool, Command: second, Source: types.HookSourceUser, SourcePath: second})

	runner, _ := newTestRunner(t, registry)
	outcome := runner.Dispatch(context.Background(), types.EventAfterTool, nil)

	assert.Equal(t, "second", outcome.Data["b"])
	assert.Equal(t, float64(3), outcome.Data["c"])
}

func TestHookExecutedEmittedOnBus(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "ok.sh", `echo '{"continue": true}'`)

	registry := NewRegistry()
	registry.Register(types.Hook{Name: "ok", Event: types.EventBeforeTool, Command: script, Source: types.HookSourceUser, SourcePath: script})

	runner, bus := newTestRunner(t, registry)
	runner.Dispatch(context.Background(), types.EventBeforeTool, nil)

	entry, ok := bus.WaitFor(EventHookExecuted, time.Second)
	require.True(t, ok)
	result, ok := entry.Data.(types.HookRunResult)
	require.True(t, ok)
	assert.Equal(t, "ok", result.Hook.Name)
}

func TestDeterministicOutputOrder(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry()
	for _, name := range []string{"one", "two", "three"} {
		script := writeScript(t, dir, name+".sh", `echo '{"continue": true, "systemMessage": "`+name+`"}'`)
		registry.Register(types.Hook{Name: name, Event: types.EventBeforeAgent, Command: script, Source: types.HookSourceUser, SourcePath: script})
	}

	runner, _ := newTestRunner(t, registry)
	for i := 0; i < 3; i++ {
		outcome := runner.Dispatch(context.Background(), types.EventBeforeAgent, nil)
		assert.Equal(t, []string{"one", "two", "three"}, outcome.SystemMessages)
	}
}
