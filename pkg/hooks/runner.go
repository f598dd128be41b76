package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ollm-run/ollmcore/pkg/eventbus"
	"github.com/ollm-run/ollmcore/pkg/logger"
	"github.com/ollm-run/ollmcore/pkg/ollmerr"
	"github.com/ollm-run/ollmcore/pkg/osutil"
	"github.com/ollm-run/ollmcore/pkg/trust"
	"github.com/ollm-run/ollmcore/pkg/types"
)

// EventHookExecuted is emitted on the bus after every hook run.
const EventHookExecuted = "hook_executed"

// ApprovalFunc is the caller-supplied prompt invoked when a hook
// requires an approval it does not have. Returning true records a new
// approval for the presented hash and proceeds.
type ApprovalFunc func(hook types.Hook, hash string) bool

// Runner executes the hooks registered for a lifecycle event
// sequentially, under trust checks, a per-hook timeout, and a combined
// stdout+stderr output cap.
type Runner struct {
	registry  *Registry
	trust     *trust.Store
	bus       *eventbus.Bus
	approve   ApprovalFunc
	timeout   time.Duration
	outputCap int64
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTimeout overrides the default per-hook execution timeout.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.timeout = d }
}

// WithOutputCap overrides the default combined output cap in bytes.
func WithOutputCap(n int64) RunnerOption {
	return func(r *Runner) { r.outputCap = n }
}

// WithApproval installs the approval prompt callback.
func WithApproval(fn ApprovalFunc) RunnerOption {
	return func(r *Runner) { r.approve = fn }
}

// NewRunner creates a Runner over a registry, trust store, and event bus.
func NewRunner(registry *Registry, trustStore *trust.Store, bus *eventbus.Bus, opts ...RunnerOption) *Runner {
	r := &Runner{
		registry:  registry,
		trust:     trustStore,
		bus:       bus,
		timeout:   DefaultTimeout,
		outputCap: DefaultOutputCap,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dispatch runs every hook registered for event in order, feeding each
// the same JSON input document. A hook returning continue=false stops
// dispatch and marks the aggregated outcome aborted. System messages
// accumulate in execution order; data objects merge left to right with
// later keys overwriting earlier ones. Individual hook failures are
// never fatal: they surface as synthesised outputs on the result list.
func (r *Runner) Dispatch(ctx context.Context, event types.HookEvent, data interface{}) types.AggregatedHookOutcome {
	outcome := types.AggregatedHookOutcome{Data: make(map[string]interface{})}

	hooks := r.registry.HooksFor(event)
	if len(hooks) == 0 {
		return outcome
	}

	input, err := json.Marshal(types.HookInput{Event: event, Data: data})
	if err != nil {
		logger.G(ctx).WithError(err).WithField("event", event).Warn("failed to marshal hook input")
		return outcome
	}

	for _, hook := range hooks {
		result := r.runOne(ctx, hook, input)
		outcome.Results = append(outcome.Results, result)
		if r.bus != nil {
			r.bus.Emit(EventHookExecuted, result)
		}

		if result.Output.SystemMessage != nil && *result.Output.SystemMessage != "" {
			outcome.SystemMessages = append(outcome.SystemMessages, *result.Output.SystemMessage)
		}
		for k, v := range result.Output.Data {
			outcome.Data[k] = v
		}
		if !result.Output.Continue {
			outcome.Aborted = true
			break
		}
	}

	return outcome
}

// runOne executes a single hook: trust check, command validation, then
// the spawn with timeout and output cap. Every failure mode synthesises
// a continue=true output so dispatch proceeds.
func (r *Runner) runOne(ctx context.Context, hook types.Hook, input []byte) types.HookRunResult {
	var scriptContent []byte
	if hook.SourcePath != "" {
		content, err := os.ReadFile(hook.SourcePath)
		if err != nil {
			return synthesized(hook, ollmerr.Wrap(ollmerr.HookNotApproved, err, "hook script unreadable"))
		}
		scriptContent = content
	}

	if err := r.trust.Authorize(hook, scriptContent); err != nil {
		hash := trust.HashFor(hook, scriptContent)
		if r.approve == nil || !r.approve(hook, hash) {
			return synthesized(hook, err)
		}
		r.trust.Approve(hook, hash, "user", time.Now())
	}

	if err := ValidateCommand(hook); err != nil {
		return synthesized(hook, ollmerr.Wrap(ollmerr.HookNotApproved, err, "hook command rejected"))
	}

	return r.spawn(ctx, hook, input)
}

func (r *Runner) spawn(ctx context.Context, hook types.Hook, input []byte) types.HookRunResult {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, hook.Command, hook.Args...)
	osutil.SetProcessGroup(cmd)
	osutil.SetProcessGroupKill(cmd)
	cmd.Stdin = bytes.NewReader(input)

	limiter := &outputLimiter{remaining: r.outputCap, cancel: cancel}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = limiter.tee(&stdout)
	cmd.Stderr = limiter.tee(&stderr)

	runErr := cmd.Run()

	switch {
	case limiter.tripped():
		return synthesized(hook, ollmerr.New(ollmerr.HookOutputExceeded,
			"hook "+hook.Name+" exceeded output cap"))
	case runCtx.Err() == context.DeadlineExceeded:
		return synthesized(hook, ollmerr.New(ollmerr.HookTimedOut,
			"hook "+hook.Name+" timed out after "+r.timeout.String()))
	case ctx.Err() == context.Canceled:
		return synthesized(hook, ollmerr.New(ollmerr.HookTimedOut, "cancelled"))
	case runErr != nil:
		return synthesized(hook, ollmerr.Wrap(ollmerr.HookInvalidOutput, runErr,
			"hook "+hook.Name+" failed: "+stderr.String()))
	}

	return parseOutput(hook, stdout.Bytes())
}

// parseOutput decodes the single JSON document a hook must emit.
// Absent, non-JSON, or structurally invalid output synthesises a
// continue=true result instead of failing the run.
func parseOutput(hook types.Hook, stdout []byte) types.HookRunResult {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return synthesized(hook, ollmerr.New(ollmerr.HookInvalidOutput, "hook produced no output"))
	}

	var output types.HookOutput
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	if err := decoder.Decode(&output); err != nil {
		return synthesized(hook, ollmerr.Wrap(ollmerr.HookInvalidOutput, err, "invalid hook output"))
	}
	if decoder.More() {
		return synthesized(hook, ollmerr.New(ollmerr.HookInvalidOutput, "hook produced more than one JSON document"))
	}

	return types.HookRunResult{Hook: hook, Output: output}
}

// synthesized builds the non-fatal substitute output for a failed hook
// run: continue=true with the failure recorded on the error field.
func synthesized(hook types.Hook, err error) types.HookRunResult {
	msg := err.Error()
	return types.HookRunResult{
		Hook:   hook,
		Output: types.HookOutput{Continue: true, Error: &msg},
		Err:    err,
	}
}

// outputLimiter enforces a shared byte budget across a hook's stdout
// and stderr, killing the process once the budget is exhausted.
type outputLimiter struct {
	mu        sync.Mutex
	remaining int64
	exceeded  bool
	cancel    context.CancelFunc
}

func (l *outputLimiter) tee(buf *bytes.Buffer) *limitedWriter {
	return &limitedWriter{limiter: l, buf: buf}
}

func (l *outputLimiter) tripped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exceeded
}

type limitedWriter struct {
	limiter *outputLimiter
	buf     *bytes.Buffer
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	l := w.limiter
	l.mu.Lock()
	if l.exceeded {
		l.mu.Unlock()
		return 0, errors.New("output cap exceeded")
	}
	l.remaining -= int64(len(p))
	if l.remaining < 0 {
		l.exceeded = true
		l.mu.Unlock()
		l.cancel()
		return 0, errors.New("output cap exceeded")
	}
	l.mu.Unlock()
	return w.buf.Write(p)
}
